// Package valkey publishes changed tag values to a Valkey/Redis server and
// optionally services write-back requests delivered over a pub/sub channel.
package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/renej-github/etherip/cip"
	"github.com/renej-github/etherip/config"
	"github.com/renej-github/etherip/logging"
)

// WriteHandler issues a write_tag call for a write-back request.
type WriteHandler func(plcName, tagName string, value *cip.Value) error

// TagTypeLookup returns the CIP type code for a tag, or 0 if unknown.
type TagTypeLookup func(plcName, tagName string) uint16

// TagMessage is the JSON structure stored at <namespace>:<plc>:<tag> and
// published on the changes channel, matching the scan publisher shape:
// {"plc":, "tag":, "type":, "value":, "ts":}.
type TagMessage struct {
	PLC       string      `json:"plc"`
	Tag       string      `json:"tag"`
	Type      string      `json:"type"`
	Value     interface{} `json:"value"`
	Timestamp string      `json:"ts"`
}

// WriteRequest is the JSON structure expected on the write-back channel.
type WriteRequest struct {
	PLC   string      `json:"plc"`
	Tag   string      `json:"tag"`
	Value interface{} `json:"value"`
}

// WriteResponse is published on the write-response channel after a
// write-back request is handled.
type WriteResponse struct {
	PLC       string `json:"plc"`
	Tag       string `json:"tag"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"ts"`
}

// Publisher connects to one Valkey/Redis server. It SETs a key per tag,
// publishes the same payload on a pub/sub channel, and, if write-back is
// enabled, subscribes to a request channel carrying {plc, tag, value}.
type Publisher struct {
	namespace string
	config    *config.ValkeyConfig
	client    *redis.Client

	mu      sync.RWMutex
	running bool

	writeHandler  WriteHandler
	tagTypeLookup TagTypeLookup

	stopChan chan struct{}
	wg       sync.WaitGroup

	// publishResponseHook lets tests observe a write-back outcome without a
	// live server connection. Defaults to p.publishWriteResponse.
	publishResponseHook func(plcName, tagName string, err error)
}

// NewPublisher creates a Publisher for one server. namespace prefixes every
// key and channel, isolating multiple gateway instances sharing a server.
func NewPublisher(namespace string, cfg *config.ValkeyConfig) *Publisher {
	return &Publisher{
		namespace: namespace,
		config:    cfg,
		stopChan:  make(chan struct{}),
	}
}

// Name returns the publisher's configured name.
func (p *Publisher) Name() string { return p.config.Name }

// IsRunning reports whether the server connection is up.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// SetWriteHandler sets the callback used to service write-back requests.
func (p *Publisher) SetWriteHandler(h WriteHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeHandler = h
}

// SetTagTypeLookup sets the callback used to resolve a tag's CIP type when
// decoding a write-back request's JSON value.
func (p *Publisher) SetTagTypeLookup(lookup TagTypeLookup) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tagTypeLookup = lookup
}

// Start connects to the server and, if write-back is enabled, starts the
// request-channel subscriber.
func (p *Publisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	opts := &redis.Options{
		Addr:         p.config.Address,
		Password:     p.config.Password,
		DB:           p.config.Database,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
	if p.config.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	logging.DebugLog("valkey", "connecting to %s", p.config.Address)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("connecting to valkey at %s: %w", p.config.Address, err)
	}
	logging.DebugLog("valkey", "connected to %s", p.config.Address)

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		client.Close()
		return nil
	}
	p.client = client
	p.running = true
	p.stopChan = make(chan struct{})
	p.mu.Unlock()

	if p.config.EnableWriteback {
		p.wg.Add(1)
		go p.writebackListener()
	}
	return nil
}

// Stop disconnects from the server and stops the write-back listener.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running || p.client == nil {
		p.mu.Unlock()
		return
	}
	p.running = false
	client := p.client
	p.client = nil
	stopCh := p.stopChan
	p.mu.Unlock()

	close(stopCh)
	done := make(chan struct{})
	go func() { p.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		logging.DebugLog("valkey", "timeout waiting for write-back listener to stop")
	}
	client.Close()
}

func (p *Publisher) key(plcName, tagName string) string {
	return fmt.Sprintf("%s:%s:%s", p.namespace, plcName, tagName)
}

func (p *Publisher) changesChannel() string {
	return fmt.Sprintf("%s:changes", p.namespace)
}

func (p *Publisher) writeChannel() string {
	return fmt.Sprintf("%s:write", p.namespace)
}

func (p *Publisher) writeResponseChannel() string {
	return fmt.Sprintf("%s:write:response", p.namespace)
}

// Publish implements scan.Publisher: it is called once per tag whose
// encoded bytes changed on the most recent scan tick.
func (p *Publisher) Publish(plcName, tagName string, value *cip.Value) {
	p.mu.RLock()
	running := p.running
	client := p.client
	p.mu.RUnlock()
	if !running || client == nil {
		return
	}

	jsonVal, err := value.Any(0)
	if err != nil {
		logging.DebugLog("valkey", "%s/%s: %v", plcName, tagName, err)
		return
	}
	msg := TagMessage{
		PLC:       plcName,
		Tag:       tagName,
		Type:      cip.TypeName(value.Type),
		Value:     jsonVal,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := p.key(plcName, tagName)
	if p.config.KeyTTL > 0 {
		err = client.Set(ctx, key, data, p.config.KeyTTL).Err()
	} else {
		err = client.Set(ctx, key, data, 0).Err()
	}
	if err != nil {
		logging.DebugLog("valkey", "set %s failed: %v", key, err)
		return
	}
	client.Publish(ctx, p.changesChannel(), data)
}

func (p *Publisher) writebackListener() {
	defer p.wg.Done()

	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()

	sub := client.Subscribe(context.Background(), p.writeChannel())
	defer sub.Close()
	msgCh := sub.Channel()

	for {
		select {
		case <-p.stopChan:
			return
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			p.handleWriteMessage(msg.Payload)
		}
	}
}

func (p *Publisher) handleWriteMessage(payload string) {
	var req WriteRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		logging.DebugLog("valkey", "write request JSON error: %v", err)
		return
	}

	p.mu.RLock()
	lookup := p.tagTypeLookup
	handler := p.writeHandler
	p.mu.RUnlock()

	var typeCode uint16
	if lookup != nil {
		typeCode = lookup(req.PLC, req.Tag)
	}
	if typeCode == 0 {
		p.respond(req.PLC, req.Tag, fmt.Errorf("unknown tag type for %s/%s", req.PLC, req.Tag))
		return
	}

	value, err := cip.ValueFromJSON(typeCode, req.Value)
	if err != nil {
		p.respond(req.PLC, req.Tag, err)
		return
	}
	if handler == nil {
		p.respond(req.PLC, req.Tag, fmt.Errorf("no write handler configured"))
		return
	}
	p.respond(req.PLC, req.Tag, handler(req.PLC, req.Tag, value))
}

func (p *Publisher) respond(plcName, tagName string, err error) {
	if p.publishResponseHook != nil {
		p.publishResponseHook(plcName, tagName, err)
		return
	}
	p.publishWriteResponse(plcName, tagName, err)
}

func (p *Publisher) publishWriteResponse(plcName, tagName string, err error) {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil {
		return
	}
	resp := WriteResponse{PLC: plcName, Tag: tagName, Success: err == nil, Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if err != nil {
		resp.Error = err.Error()
	}
	data, merr := json.Marshal(resp)
	if merr != nil {
		return
	}
	client.Publish(context.Background(), p.writeResponseChannel(), data)
}
