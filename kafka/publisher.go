// Package kafka publishes changed tag values to a Kafka topic via
// segmentio/kafka-go, partitioned by a "<plc>.<tag>" message key.
package kafka

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/renej-github/etherip/cip"
	"github.com/renej-github/etherip/config"
	"github.com/renej-github/etherip/logging"
)

// ConnectionStatus is the state of a Publisher's connection to its cluster.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// TagMessage is the JSON structure produced to the topic on a tag change,
// matching the scan publisher shape: {"plc":, "tag":, "type":, "value":, "ts":}.
type TagMessage struct {
	PLC       string      `json:"plc"`
	Tag       string      `json:"tag"`
	Type      string      `json:"type"`
	Value     interface{} `json:"value"`
	Timestamp string      `json:"ts"`
}

// Publisher connects to one Kafka cluster and produces tag changes to a
// single configured topic, keyed by "<plc>.<tag>" for per-tag ordering.
type Publisher struct {
	config *config.KafkaConfig

	mu      sync.RWMutex
	status  ConnectionStatus
	lastErr error
	writer  *kafkago.Writer
}

// NewPublisher creates a Publisher for one cluster.
func NewPublisher(cfg *config.KafkaConfig) *Publisher {
	return &Publisher{config: cfg, status: StatusDisconnected}
}

// Name returns the publisher's configured name.
func (p *Publisher) Name() string { return p.config.Name }

// Status returns the current connection status.
func (p *Publisher) Status() ConnectionStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// IsRunning reports whether the publisher is connected.
func (p *Publisher) IsRunning() bool { return p.Status() == StatusConnected }

// Start verifies connectivity to the cluster and opens a writer for the
// configured topic.
func (p *Publisher) Start() error {
	p.mu.Lock()
	if p.status == StatusConnected {
		p.mu.Unlock()
		return nil
	}
	p.status = StatusConnecting
	p.mu.Unlock()

	dialer := p.dialer()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", p.config.Brokers[0])
	if err != nil {
		p.mu.Lock()
		p.status = StatusError
		p.lastErr = fmt.Errorf("connecting to %s: %w", p.config.Brokers[0], err)
		p.mu.Unlock()
		return p.lastErr
	}
	conn.Close()

	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(p.config.Brokers...),
		Topic:        p.config.Topic,
		Balancer:     &kafkago.Hash{},
		Transport:    p.transport(),
		RequiredAcks: kafkago.RequiredAcks(p.config.RequiredAcks),
		MaxAttempts:  p.config.MaxRetries,
		BatchTimeout: 10 * time.Millisecond,
	}

	p.mu.Lock()
	p.writer = writer
	p.status = StatusConnected
	p.lastErr = nil
	p.mu.Unlock()

	logging.DebugLog("kafka", "%s: connected, producing to %q", p.config.Name, p.config.Topic)
	return nil
}

// Stop closes the writer and disconnects.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer != nil {
		p.writer.Close()
		p.writer = nil
	}
	p.status = StatusDisconnected
	p.lastErr = nil
}

// Publish implements scan.Publisher: it is called once per tag whose
// encoded bytes changed on the most recent scan tick.
func (p *Publisher) Publish(plcName, tagName string, value *cip.Value) {
	p.mu.RLock()
	writer := p.writer
	running := p.status == StatusConnected
	p.mu.RUnlock()
	if !running || writer == nil {
		return
	}

	jsonVal, err := value.Any(0)
	if err != nil {
		logging.DebugLog("kafka", "%s/%s: %v", plcName, tagName, err)
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

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	key := []byte(fmt.Sprintf("%s.%s", plcName, tagName))
	if err := writer.WriteMessages(ctx, kafkago.Message{Key: key, Value: payload, Time: time.Now()}); err != nil {
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
		logging.DebugLog("kafka", "produce to %q failed: %v", p.config.Topic, err)
	}
}

func (p *Publisher) tlsConfig() *tls.Config {
	if !p.config.UseTLS {
		return nil
	}
	return &tls.Config{InsecureSkipVerify: p.config.TLSSkipVerify}
}

func (p *Publisher) dialer() *kafkago.Dialer {
	d := &kafkago.Dialer{Timeout: 10 * time.Second, DualStack: true}
	if tlsCfg := p.tlsConfig(); tlsCfg != nil {
		d.TLS = tlsCfg
	}
	if m := p.saslMechanism(); m != nil {
		d.SASLMechanism = m
	}
	return d
}

func (p *Publisher) transport() *kafkago.Transport {
	t := &kafkago.Transport{DialTimeout: 10 * time.Second}
	if tlsCfg := p.tlsConfig(); tlsCfg != nil {
		t.TLS = tlsCfg
	}
	if m := p.saslMechanism(); m != nil {
		t.SASL = m
	}
	return t
}

func (p *Publisher) saslMechanism() sasl.Mechanism {
	if p.config.Username == "" {
		return nil
	}
	switch p.config.SASLMechanism {
	case "PLAIN":
		return plain.Mechanism{Username: p.config.Username, Password: p.config.Password}
	case "SCRAM-SHA-256":
		m, _ := scram.Mechanism(scram.SHA256, p.config.Username, p.config.Password)
		return m
	case "SCRAM-SHA-512":
		m, _ := scram.Mechanism(scram.SHA512, p.config.Username, p.config.Password)
		return m
	default:
		return nil
	}
}
