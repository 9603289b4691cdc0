// Package mqtt publishes changed tag values to an MQTT broker and
// optionally accepts write-back requests over a subscribed topic.
package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/renej-github/etherip/cip"
	"github.com/renej-github/etherip/config"
	"github.com/renej-github/etherip/logging"
)

// writeJob is a pending write-back request queued from an MQTT message.
type writeJob struct {
	plcName string
	tagName string
	raw     interface{}
	typeReq uint16
}

// MaxWriteWorkers bounds the write-back worker pool per publisher.
const MaxWriteWorkers = 5

// MaxWriteQueueSize bounds pending write-back jobs per publisher.
const MaxWriteQueueSize = 100

// WriteHandler issues a write_tag call for a write-back request.
type WriteHandler func(plcName, tagName string, value *cip.Value) error

// TagTypeLookup returns the CIP type code for a tag, or 0 if unknown.
type TagTypeLookup func(plcName, tagName string) uint16

// Publisher connects to a single MQTT broker and publishes tag values
// under <RootTopic>/<plc>/tags/<tag>, matching SPEC_FULL's scan publisher
// shape: {"plc":, "tag":, "type":, "value":, "ts":}.
type Publisher struct {
	config *config.MQTTConfig
	client pahomqtt.Client

	mu      sync.RWMutex
	running bool

	writeHandler  WriteHandler
	tagTypeLookup TagTypeLookup
	plcNames      []string

	writeQueue chan writeJob
	wg         sync.WaitGroup
	stopChan   chan struct{}

	// publishWriteResponseHook lets tests observe the write-back outcome
	// without a live broker connection. Defaults to p.publishWriteResponse.
	publishWriteResponseHook func(plcName, tagName string, err error)
}

// TagMessage is the JSON structure published to MQTT on a tag change.
type TagMessage struct {
	PLC       string      `json:"plc"`
	Tag       string      `json:"tag"`
	Type      string      `json:"type"`
	Value     interface{} `json:"value"`
	Timestamp string      `json:"ts"`
}

// WriteRequest is the JSON structure for an incoming write-back request.
type WriteRequest struct {
	PLC   string      `json:"plc"`
	Tag   string      `json:"tag"`
	Value interface{} `json:"value"`
}

// WriteResponse is published after a write-back request is handled.
type WriteResponse struct {
	PLC       string `json:"plc"`
	Tag       string `json:"tag"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"ts"`
}

// NewPublisher creates a Publisher for one broker.
func NewPublisher(cfg *config.MQTTConfig) *Publisher {
	return &Publisher{
		config:     cfg,
		writeQueue: make(chan writeJob, MaxWriteQueueSize),
		stopChan:   make(chan struct{}),
	}
}

// Name returns the publisher's configured name.
func (p *Publisher) Name() string { return p.config.Name }

// IsRunning reports whether the broker connection is up.
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

// SetTagTypeLookup sets the callback used to resolve a tag's CIP type
// when decoding a write-back request's JSON value.
func (p *Publisher) SetTagTypeLookup(lookup TagTypeLookup) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tagTypeLookup = lookup
}

// SetPLCNames sets the PLC names this publisher accepts write-back
// requests for.
func (p *Publisher) SetPLCNames(names []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plcNames = names
}

// Start connects to the broker, starts the write-back workers, and
// subscribes to a write-back topic for each name given to SetPLCNames.
func (p *Publisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	opts := pahomqtt.NewClientOptions()
	if p.config.UseTLS {
		opts.AddBroker(fmt.Sprintf("ssl://%s:%d", p.config.Broker, p.config.Port))
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	} else {
		opts.AddBroker(fmt.Sprintf("tcp://%s:%d", p.config.Broker, p.config.Port))
	}
	opts.SetClientID(p.config.ClientID)
	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	client := pahomqtt.NewClient(opts)
	logging.DebugLog("mqtt", "connecting to %s:%d", p.config.Broker, p.config.Port)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connect timeout")
	}
	if token.Error() != nil {
		return token.Error()
	}
	logging.DebugLog("mqtt", "connected to %s:%d", p.config.Broker, p.config.Port)

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		client.Disconnect(100)
		return nil
	}
	p.client = client
	p.running = true
	p.mu.Unlock()

	p.startWriteWorkers()
	p.subscribeWriteTopics()
	return nil
}

func (p *Publisher) startWriteWorkers() {
	for i := 0; i < MaxWriteWorkers; i++ {
		p.wg.Add(1)
		go p.writeWorker()
	}
}

func (p *Publisher) writeWorker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopChan:
			return
		case job, ok := <-p.writeQueue:
			if !ok {
				return
			}
			p.handleWriteJob(job)
		}
	}
}

func (p *Publisher) handleWriteJob(job writeJob) {
	p.mu.RLock()
	handler := p.writeHandler
	p.mu.RUnlock()

	var writeErr error
	if handler == nil {
		writeErr = fmt.Errorf("no write handler configured")
	} else {
		value, err := cip.ValueFromJSON(job.typeReq, job.raw)
		if err != nil {
			writeErr = err
		} else {
			writeErr = handler(job.plcName, job.tagName, value)
		}
	}
	if p.publishWriteResponseHook != nil {
		p.publishWriteResponseHook(job.plcName, job.tagName, writeErr)
		return
	}
	p.publishWriteResponse(job.plcName, job.tagName, writeErr)
}

// Stop disconnects from the broker and stops write workers.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running || p.client == nil {
		p.mu.Unlock()
		return
	}
	p.running = false
	client := p.client
	p.client = nil
	oldStop := p.stopChan
	p.stopChan = make(chan struct{})
	p.writeQueue = make(chan writeJob, MaxWriteQueueSize)
	p.mu.Unlock()

	close(oldStop)
	done := make(chan struct{})
	go func() { p.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		logging.DebugLog("mqtt", "timeout waiting for write workers to stop")
	}
	client.Disconnect(500)
}

func (p *Publisher) topic(plcName, tagName string) string {
	return fmt.Sprintf("%s/%s/tags/%s", p.config.RootTopic, plcName, tagName)
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
		logging.DebugLog("mqtt", "%s/%s: %v", plcName, tagName, err)
		return
	}
	msg := TagMessage{
		PLC:       plcName,
		Tag:       tagName,
		Type:      cip.TypeName(value.Type),
		Value:     jsonVal,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	token := client.Publish(p.topic(plcName, tagName), 1, true, payload)
	if !token.WaitTimeout(2 * time.Second) {
		logging.DebugLog("mqtt", "publish timeout for %s/%s", plcName, tagName)
	}
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
	payload, merr := json.Marshal(resp)
	if merr != nil {
		return
	}
	client.Publish(fmt.Sprintf("%s/%s/write/response", p.config.RootTopic, plcName), 1, false, payload)
}

func (p *Publisher) subscribeWriteTopics() {
	p.mu.RLock()
	client := p.client
	plcNames := p.plcNames
	p.mu.RUnlock()
	if client == nil || len(plcNames) == 0 {
		return
	}
	for _, plcName := range plcNames {
		topic := fmt.Sprintf("%s/%s/write", p.config.RootTopic, plcName)
		token := client.Subscribe(topic, 1, p.handleWriteMessage)
		if !token.WaitTimeout(2*time.Second) || token.Error() != nil {
			logging.DebugLog("mqtt", "subscribe failed for %s: %v", topic, token.Error())
			continue
		}
		logging.DebugLog("mqtt", "subscribed to %s", topic)
	}
}

func (p *Publisher) handleWriteMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	var req WriteRequest
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		logging.DebugLog("mqtt", "write request JSON error: %v", err)
		return
	}

	p.mu.RLock()
	lookup := p.tagTypeLookup
	p.mu.RUnlock()
	var typeCode uint16
	if lookup != nil {
		typeCode = lookup(req.PLC, req.Tag)
	}
	if typeCode == 0 {
		p.publishWriteResponse(req.PLC, req.Tag, fmt.Errorf("unknown tag type for %s/%s", req.PLC, req.Tag))
		return
	}

	job := writeJob{plcName: req.PLC, tagName: req.Tag, raw: req.Value, typeReq: typeCode}
	select {
	case p.writeQueue <- job:
	default:
		logging.DebugLog("mqtt", "write queue full, rejecting %s/%s", req.PLC, req.Tag)
		go p.publishWriteResponse(req.PLC, req.Tag, fmt.Errorf("write queue full"))
	}
}
