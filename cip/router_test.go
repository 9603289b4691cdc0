package cip

import (
	"bytes"
	"testing"
)

// stubLeaf is a minimal Layer for exercising MessageRouter in isolation.
type stubLeaf struct {
	encoded []byte
	decoded []byte
}

func (s *stubLeaf) RequestSize() int                    { return len(s.encoded) }
func (s *stubLeaf) Encode(out []byte) ([]byte, error)   { return append(out, s.encoded...), nil }
func (s *stubLeaf) ResponseSize(buf []byte) (int, bool) { return len(buf), true }
func (s *stubLeaf) Decode(buf []byte) error             { s.decoded = append([]byte(nil), buf...); return nil }

func TestMessageRouterEncodeDecodeRoundTrip(t *testing.T) {
	leaf := &stubLeaf{encoded: []byte{0xAA, 0xBB}}
	path, _ := EPath().Class(0x01).Instance(1).Attribute(1).Build()
	m := &MessageRouter{Service: SvcGetAttributeSingle, Path: path, Child: leaf}

	out, err := m.Encode(nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := append([]byte{SvcGetAttributeSingle, path.WordLen()}, path...)
	want = append(want, 0xAA, 0xBB)
	if !bytes.Equal(out, want) {
		t.Errorf("Encode = % X, want % X", out, want)
	}

	// Build a success reply: reply service, reserved, status=0, extCount=0, body.
	reply := []byte{SvcGetAttributeSingle | 0x80, 0x00, StatusSuccess, 0x00, 0x01, 0x00}
	if err := m.Decode(reply); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(leaf.decoded, []byte{0x01, 0x00}) {
		t.Errorf("child received % X, want 01 00", leaf.decoded)
	}
}

func TestMessageRouterRejectsMismatchedReplyService(t *testing.T) {
	m := &MessageRouter{Service: SvcReadTag, Child: &stubLeaf{}}
	// Reply service here is SvcWriteTag|0x80, not SvcReadTag|0x80 — a
	// framing violation per the "request_service | 0x80" invariant.
	reply := []byte{SvcWriteTag | 0x80, 0x00, StatusSuccess, 0x00}
	err := m.Decode(reply)
	if err == nil {
		t.Fatal("expected an error for mismatched reply service")
	}
	if !IsKind(err, KindFraming) {
		t.Errorf("error kind = %v, want framing", err)
	}
}

func TestMessageRouterDecodePropagatesProtocolStatus(t *testing.T) {
	m := &MessageRouter{Service: SvcReadTag, Child: &stubLeaf{}}
	reply := []byte{SvcReadTag | 0x80, 0x00, StatusObjectNotExist, 0x00}
	err := m.Decode(reply)
	if err == nil {
		t.Fatal("expected a protocol_status error")
	}
	if !IsKind(err, KindProtocolStatus) {
		t.Errorf("error kind = %v, want protocol_status", err)
	}
}

func TestMessageRouterDecodeExtendedStatus(t *testing.T) {
	m := &MessageRouter{Service: SvcReadTag, Child: &stubLeaf{}}
	// General status 0xFF (general error), one extended status word = tag
	// not found (0x2104), little-endian.
	reply := []byte{SvcReadTag | 0x80, 0x00, StatusGeneralError, 0x01, 0x04, 0x21}
	err := m.Decode(reply)
	cipErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if len(cipErr.Extended) != 1 || cipErr.Extended[0] != ExtStatusTagNotFound {
		t.Errorf("Extended = %v, want [0x2104]", cipErr.Extended)
	}
}

func TestMessageRouterDecodeRejectsTruncatedHeader(t *testing.T) {
	m := &MessageRouter{Service: SvcReadTag, Child: &stubLeaf{}}
	if err := m.Decode([]byte{0x01, 0x02}); err == nil {
		t.Fatal("expected error for a reply shorter than the fixed 4-byte header")
	}
}

func TestMessageRouterDecodeRejectsTruncatedExtendedStatus(t *testing.T) {
	m := &MessageRouter{Service: SvcReadTag, Child: &stubLeaf{}}
	// extCount=2 (4 bytes of extended status expected) but only 0 supplied.
	reply := []byte{SvcReadTag | 0x80, 0x00, StatusGeneralError, 0x02}
	if err := m.Decode(reply); err == nil {
		t.Fatal("expected error for truncated extended status words")
	}
}
