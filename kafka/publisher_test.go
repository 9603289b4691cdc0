package kafka

import (
	"encoding/json"
	"testing"

	"github.com/renej-github/etherip/config"
)

func TestNewPublisher(t *testing.T) {
	cfg := &config.KafkaConfig{Name: "plant1", Brokers: []string{"localhost:9092"}, Topic: "tags"}
	p := NewPublisher(cfg)
	if p.Name() != "plant1" {
		t.Errorf("Name() = %q, want plant1", p.Name())
	}
	if p.IsRunning() {
		t.Error("new publisher should not be running")
	}
	if got, want := p.Status().String(), "disconnected"; got != want {
		t.Errorf("Status() = %q, want %q", got, want)
	}
}

func TestTagMessageJSON(t *testing.T) {
	msg := TagMessage{PLC: "plc1", Tag: "Counter", Type: "DINT", Value: float64(42), Timestamp: "2026-08-06T00:00:00Z"}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var round TagMessage
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if round.PLC != msg.PLC || round.Tag != msg.Tag || round.Type != msg.Type {
		t.Errorf("round-trip mismatch: got %+v, want %+v", round, msg)
	}
}

func TestSASLMechanismSelection(t *testing.T) {
	cases := []struct {
		mechanism string
		wantNil   bool
	}{
		{"", true},
		{"PLAIN", false},
		{"SCRAM-SHA-256", false},
		{"SCRAM-SHA-512", false},
		{"bogus", true},
	}
	for _, tc := range cases {
		cfg := &config.KafkaConfig{Username: "user", Password: "pass", SASLMechanism: tc.mechanism}
		p := NewPublisher(cfg)
		got := p.saslMechanism()
		if tc.wantNil && got != nil {
			t.Errorf("mechanism %q: expected nil, got %v", tc.mechanism, got)
		}
		if !tc.wantNil && got == nil {
			t.Errorf("mechanism %q: expected non-nil", tc.mechanism)
		}
	}
}

func TestSASLMechanismRequiresUsername(t *testing.T) {
	p := NewPublisher(&config.KafkaConfig{SASLMechanism: "PLAIN"})
	if p.saslMechanism() != nil {
		t.Error("expected nil mechanism when no username is configured")
	}
}
