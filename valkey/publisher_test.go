package valkey

import (
	"encoding/json"
	"testing"

	"github.com/renej-github/etherip/cip"
	"github.com/renej-github/etherip/config"
)

func TestNewPublisher(t *testing.T) {
	cfg := &config.ValkeyConfig{Name: "plant1", Address: "localhost:6379"}
	p := NewPublisher("etherip", cfg)
	if p.Name() != "plant1" {
		t.Errorf("Name() = %q, want plant1", p.Name())
	}
	if p.IsRunning() {
		t.Error("new publisher should not be running")
	}
}

func TestKeyAndChannels(t *testing.T) {
	p := NewPublisher("etherip", &config.ValkeyConfig{})
	if got, want := p.key("plc1", "Counter"), "etherip:plc1:Counter"; got != want {
		t.Errorf("key() = %q, want %q", got, want)
	}
	if got, want := p.changesChannel(), "etherip:changes"; got != want {
		t.Errorf("changesChannel() = %q, want %q", got, want)
	}
	if got, want := p.writeChannel(), "etherip:write"; got != want {
		t.Errorf("writeChannel() = %q, want %q", got, want)
	}
	if got, want := p.writeResponseChannel(), "etherip:write:response"; got != want {
		t.Errorf("writeResponseChannel() = %q, want %q", got, want)
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

func TestHandleWriteMessageNoHandler(t *testing.T) {
	p := NewPublisher("etherip", &config.ValkeyConfig{})
	p.SetTagTypeLookup(func(plcName, tagName string) uint16 { return cip.TypeDINT })

	var gotErr error
	p.publishResponseHook = func(plcName, tagName string, err error) { gotErr = err }

	payload, _ := json.Marshal(WriteRequest{PLC: "plc1", Tag: "Counter", Value: float64(1)})
	p.handleWriteMessage(string(payload))
	if gotErr == nil {
		t.Error("expected an error when no write handler is configured")
	}
}

func TestHandleWriteMessageCallsHandler(t *testing.T) {
	p := NewPublisher("etherip", &config.ValkeyConfig{})
	p.SetTagTypeLookup(func(plcName, tagName string) uint16 { return cip.TypeDINT })

	var gotPLC, gotTag string
	var gotValue *cip.Value
	p.SetWriteHandler(func(plcName, tagName string, value *cip.Value) error {
		gotPLC, gotTag, gotValue = plcName, tagName, value
		return nil
	})
	var gotErr error
	p.publishResponseHook = func(plcName, tagName string, err error) { gotErr = err }

	payload, _ := json.Marshal(WriteRequest{PLC: "plc1", Tag: "Counter", Value: float64(7)})
	p.handleWriteMessage(string(payload))

	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if gotPLC != "plc1" || gotTag != "Counter" {
		t.Fatalf("got plc=%q tag=%q", gotPLC, gotTag)
	}
	n, err := gotValue.Int(0)
	if err != nil || n != 7 {
		t.Fatalf("got value %v (err %v), want 7", n, err)
	}
}

func TestHandleWriteMessageUnknownType(t *testing.T) {
	p := NewPublisher("etherip", &config.ValkeyConfig{})

	var gotErr error
	p.publishResponseHook = func(plcName, tagName string, err error) { gotErr = err }

	payload, _ := json.Marshal(WriteRequest{PLC: "plc1", Tag: "Mystery", Value: float64(1)})
	p.handleWriteMessage(string(payload))
	if gotErr == nil {
		t.Error("expected an error for an unresolved tag type")
	}
}
