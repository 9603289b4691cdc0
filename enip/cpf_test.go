package enip

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/renej-github/etherip/cip"
)

func TestParseItemsRoundTrip(t *testing.T) {
	raw := make([]byte, 0)
	raw = binary.LittleEndian.AppendUint16(raw, 2) // item count
	raw = append(raw, Item{TypeID: CpfAddressNullID}.bytes()...)
	raw = append(raw, Item{TypeID: CpfUnconnectedMessageID, Data: []byte{0xAA, 0xBB, 0xCC}}.bytes()...)

	items, err := ParseItems(raw)
	if err != nil {
		t.Fatalf("ParseItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].TypeID != CpfAddressNullID || len(items[0].Data) != 0 {
		t.Errorf("item 0 = %+v, want null address item", items[0])
	}
	if items[1].TypeID != CpfUnconnectedMessageID || !bytes.Equal(items[1].Data, []byte{0xAA, 0xBB, 0xCC}) {
		t.Errorf("item 1 = %+v, want unconnected message with AA BB CC", items[1])
	}
}

func TestParseItemsRejectsTruncatedList(t *testing.T) {
	if _, err := ParseItems([]byte{0x01, 0x00}); err == nil {
		t.Fatal("expected error for an item list with a declared item but no item bytes")
	}
}

func TestParseItemsRejectsTruncatedData(t *testing.T) {
	raw := make([]byte, 0)
	raw = binary.LittleEndian.AppendUint16(raw, 1)
	raw = binary.LittleEndian.AppendUint16(raw, CpfAddressNullID)
	raw = binary.LittleEndian.AppendUint16(raw, 5) // claims 5 data bytes, supplies 0
	if _, err := ParseItems(raw); err == nil {
		t.Fatal("expected error for an item whose declared length exceeds available bytes")
	}
}

// stubCIPLayer is a minimal cip.Layer used to exercise SendRRData framing in
// isolation from the real CIP stack.
type stubCIPLayer struct {
	encoded []byte
	decoded []byte
}

func (s *stubCIPLayer) RequestSize() int                    { return len(s.encoded) }
func (s *stubCIPLayer) Encode(out []byte) ([]byte, error)   { return append(out, s.encoded...), nil }
func (s *stubCIPLayer) ResponseSize(buf []byte) (int, bool) { return len(buf), true }
func (s *stubCIPLayer) Decode(buf []byte) error             { s.decoded = append([]byte(nil), buf...); return nil }

func TestSendRRDataEncodeDecodeRoundTrip(t *testing.T) {
	leaf := &stubCIPLayer{encoded: []byte{0x01, 0x02, 0x03}}
	s := &SendRRData{Child: leaf}

	out, err := s.Encode(nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	want := make([]byte, 0)
	want = binary.LittleEndian.AppendUint32(want, 0) // interface handle
	want = binary.LittleEndian.AppendUint16(want, 0) // timeout
	want = binary.LittleEndian.AppendUint16(want, 2) // item count
	want = append(want, Item{TypeID: CpfAddressNullID}.bytes()...)
	want = append(want, Item{TypeID: CpfUnconnectedMessageID, Data: leaf.encoded}.bytes()...)
	if !bytes.Equal(out, want) {
		t.Errorf("SendRRData.Encode = % X, want % X", out, want)
	}

	// Decode a response carrying the same two-item shape back.
	replyLeaf := &stubCIPLayer{}
	s2 := &SendRRData{Child: replyLeaf}
	resp := make([]byte, 0)
	resp = binary.LittleEndian.AppendUint32(resp, 0)
	resp = binary.LittleEndian.AppendUint16(resp, 0)
	resp = binary.LittleEndian.AppendUint16(resp, 2)
	resp = append(resp, Item{TypeID: CpfAddressNullID}.bytes()...)
	resp = append(resp, Item{TypeID: CpfUnconnectedMessageID, Data: []byte{0xDE, 0xAD}}.bytes()...)
	if err := s2.Decode(resp); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(replyLeaf.decoded, []byte{0xDE, 0xAD}) {
		t.Errorf("child received % X, want DE AD", replyLeaf.decoded)
	}
}

// TestReadDINTFullStackEncode exercises scenario 3: building the full
// Encap/SendRRData/UnconnectedSend/MessageRouter/ReadData stack for a
// symbolic DINT tag read and decoding a canned controller reply.
func TestReadDINTFullStackEncode(t *testing.T) {
	path, err := cip.EPath().Symbol("Counter").Build()
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	readBody := &cip.ReadDataBody{Elements: 1}
	leaf := &cip.MessageRouter{Service: cip.SvcReadTag, Path: path, Child: readBody}
	routed := cip.WrapUnconnectedSend(0, leaf)
	sendRR := &SendRRData{Child: routed}
	encap := &Encapsulation{Command: CmdSendRRData, Session: 0x01020304, Child: sendRR}

	out, err := encap.Encode(nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(out) != encap.RequestSize() {
		t.Errorf("encoded length %d != RequestSize() %d", len(out), encap.RequestSize())
	}
	if len(out) < headerSize {
		t.Fatalf("encoded frame shorter than the encapsulation header")
	}

	// Build a canned reply: DINT value 0x11223344, wrapped through the same
	// layer hierarchy. The outer UnconnectedSend reply (service 0x52|0x80)
	// carries its own success framing, and the embedded ReadTag reply
	// (service 0x4C|0x80) follows immediately as its body.
	embeddedReply := []byte{cip.SvcReadTag | 0x80, 0x00, cip.StatusSuccess, 0x00}
	embeddedReply = binary.LittleEndian.AppendUint16(embeddedReply, cip.TypeDINT)
	embeddedReply = binary.LittleEndian.AppendUint32(embeddedReply, 0x11223344)

	readReply := []byte{cip.SvcUnconnectedSend | 0x80, 0x00, cip.StatusSuccess, 0x00}
	readReply = append(readReply, embeddedReply...)

	body := make([]byte, 0)
	body = binary.LittleEndian.AppendUint32(body, 0) // interface handle
	body = binary.LittleEndian.AppendUint16(body, 0) // timeout
	body = binary.LittleEndian.AppendUint16(body, 2) // item count
	body = append(body, Item{TypeID: CpfAddressNullID}.bytes()...)
	body = append(body, Item{TypeID: CpfUnconnectedMessageID, Data: readReply}.bytes()...)

	resp := make([]byte, 0, headerSize+len(body))
	resp = binary.LittleEndian.AppendUint16(resp, CmdSendRRData)
	resp = binary.LittleEndian.AppendUint16(resp, uint16(len(body)))
	resp = binary.LittleEndian.AppendUint32(resp, encap.Session)
	resp = binary.LittleEndian.AppendUint32(resp, 0)
	resp = append(resp, encap.Context[:]...)
	resp = binary.LittleEndian.AppendUint32(resp, 0)
	resp = append(resp, body...)

	if err := encap.Decode(resp); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if readBody.Value == nil {
		t.Fatal("expected a decoded Value")
	}
	n, err := readBody.Value.Int(0)
	if err != nil {
		t.Fatalf("Int: %v", err)
	}
	if n != 0x11223344 {
		t.Errorf("decoded value = %#x, want 0x11223344", n)
	}
}

// TestWriteREALFullStackEncode exercises scenario 4: writing REAL tag
// "Setpoint" = 3.5 and decoding the empty-body success reply.
func TestWriteREALFullStackEncode(t *testing.T) {
	value, err := cip.NewValue(cip.TypeREAL, 1)
	if err != nil {
		t.Fatalf("NewValue: %v", err)
	}
	if err := value.SetFloat(0, 3.5); err != nil {
		t.Fatalf("SetFloat: %v", err)
	}
	if !bytes.Equal(value.Encode(), []byte{0x00, 0x00, 0x60, 0x40}) {
		t.Fatalf("REAL 3.5 encoded as % X, want 00 00 60 40", value.Encode())
	}

	path, _ := cip.EPath().Symbol("Setpoint").Build()
	writeBody := &cip.WriteDataBody{Value: value}
	leaf := &cip.MessageRouter{Service: cip.SvcWriteTag, Path: path, Child: writeBody}
	routed := cip.WrapUnconnectedSend(0, leaf)
	sendRR := &SendRRData{Child: routed}
	encap := &Encapsulation{Command: CmdSendRRData, Child: sendRR}

	if _, err := encap.Encode(nil); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	embeddedWriteReply := []byte{cip.SvcWriteTag | 0x80, 0x00, cip.StatusSuccess, 0x00}
	writeReply := []byte{cip.SvcUnconnectedSend | 0x80, 0x00, cip.StatusSuccess, 0x00}
	writeReply = append(writeReply, embeddedWriteReply...)
	body := make([]byte, 0)
	body = binary.LittleEndian.AppendUint32(body, 0) // interface handle
	body = binary.LittleEndian.AppendUint16(body, 0) // timeout
	body = binary.LittleEndian.AppendUint16(body, 2) // item count
	body = append(body, Item{TypeID: CpfAddressNullID}.bytes()...)
	body = append(body, Item{TypeID: CpfUnconnectedMessageID, Data: writeReply}.bytes()...)

	resp := make([]byte, 0, headerSize+len(body))
	resp = binary.LittleEndian.AppendUint16(resp, CmdSendRRData)
	resp = binary.LittleEndian.AppendUint16(resp, uint16(len(body)))
	resp = binary.LittleEndian.AppendUint32(resp, encap.Session)
	resp = binary.LittleEndian.AppendUint32(resp, 0)
	resp = append(resp, encap.Context[:]...)
	resp = binary.LittleEndian.AppendUint32(resp, 0)
	resp = append(resp, body...)

	if err := encap.Decode(resp); err != nil {
		t.Fatalf("Decode: %v", err)
	}
}
