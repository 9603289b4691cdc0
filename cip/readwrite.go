package cip

import "encoding/binary"

// ReadDataBody is the CIP_ReadData (0x4C) service body. The request carries
// only the element count; the response is the type code followed by the
// raw element bytes, decoded into a *Value.
type ReadDataBody struct {
	Elements uint16
	Value    *Value
}

func (r *ReadDataBody) RequestSize() int { return 2 }

func (r *ReadDataBody) Encode(out []byte) ([]byte, error) {
	return binary.LittleEndian.AppendUint16(out, r.Elements), nil
}

func (r *ReadDataBody) ResponseSize(buf []byte) (int, bool) {
	return len(buf), true
}

func (r *ReadDataBody) Decode(buf []byte) error {
	if len(buf) == 0 {
		r.Value = nil
		return nil
	}
	if len(buf) < 2 {
		return newErr(KindFraming, "CIP_ReadData response shorter than the type code field")
	}
	typeCode := binary.LittleEndian.Uint16(buf[0:2])
	v, err := Decode(typeCode, buf[2:])
	if err != nil {
		return err
	}
	r.Value = v
	return nil
}

// WriteDataBody is the CIP_WriteData (0x4D) service body: type code,
// element count, then the raw payload. The response body is empty on
// success.
type WriteDataBody struct {
	Value *Value
}

func (w *WriteDataBody) RequestSize() int {
	return 2 + 2 + len(w.Value.Raw)
}

func (w *WriteDataBody) Encode(out []byte) ([]byte, error) {
	out = binary.LittleEndian.AppendUint16(out, w.Value.Type)
	out = binary.LittleEndian.AppendUint16(out, uint16(w.Value.Elements))
	return append(out, w.Value.Raw...), nil
}

func (w *WriteDataBody) ResponseSize(buf []byte) (int, bool) {
	return len(buf), true
}

func (w *WriteDataBody) Decode(buf []byte) error {
	return nil
}

// GetAttributeSingleBody is the CIP Get_Attribute_Single (0x0E) service
// body: an empty request, and a response whose decoding depends on the
// attribute's declared shape (u16, u32, two-byte revision, or a
// length-prefixed ASCII string) — the Identity object does not carry a
// uniform attribute encoding, so each accessor decodes exactly what the
// attribute is documented to contain rather than assuming a generic u16.
type GetAttributeSingleBody struct {
	Raw []byte
}

func (g *GetAttributeSingleBody) RequestSize() int { return 0 }

func (g *GetAttributeSingleBody) Encode(out []byte) ([]byte, error) { return out, nil }

func (g *GetAttributeSingleBody) ResponseSize(buf []byte) (int, bool) { return len(buf), true }

func (g *GetAttributeSingleBody) Decode(buf []byte) error {
	g.Raw = append([]byte(nil), buf...)
	return nil
}

// AttrUint16 decodes a little-endian u16 attribute value (vendor ID,
// device type).
func (g *GetAttributeSingleBody) AttrUint16() (uint16, error) {
	if len(g.Raw) < 2 {
		return 0, newErr(KindFraming, "attribute response too short for u16")
	}
	return binary.LittleEndian.Uint16(g.Raw[0:2]), nil
}

// AttrUint32 decodes a little-endian u32 attribute value (serial number).
func (g *GetAttributeSingleBody) AttrUint32() (uint32, error) {
	if len(g.Raw) < 4 {
		return 0, newErr(KindFraming, "attribute response too short for u32")
	}
	return binary.LittleEndian.Uint32(g.Raw[0:4]), nil
}

// AttrRevision decodes the Identity object's two-byte major.minor
// revision attribute.
func (g *GetAttributeSingleBody) AttrRevision() (major, minor byte, err error) {
	if len(g.Raw) < 2 {
		return 0, 0, newErr(KindFraming, "attribute response too short for revision")
	}
	return g.Raw[0], g.Raw[1], nil
}

// AttrString decodes a u8-length-prefixed ASCII string attribute (product
// name).
func (g *GetAttributeSingleBody) AttrString() (string, error) {
	if len(g.Raw) < 1 {
		return "", newErr(KindFraming, "attribute response too short for string length")
	}
	n := int(g.Raw[0])
	if len(g.Raw) < 1+n {
		return "", newErr(KindFraming, "attribute response truncated before declared string length")
	}
	return string(g.Raw[1 : 1+n]), nil
}

// IdentityPath builds the path to an attribute on the Identity object
// (class 0x01, instance 1).
func IdentityPath(attr byte) EPath_t {
	p, _ := EPath().Class(0x01).Instance(1).Attribute(attr).Build()
	return p
}

// MultiRequestBody is the CIP_MultiRequest (0x0A) service body, addressed
// to the MessageRouter object (class 0x02, instance 1): a batch of
// sub-requests, each framed and decoded independently.
type MultiRequestBody struct {
	Requests  []MultiServiceRequest
	Responses []MultiServiceResponse
}

func (m *MultiRequestBody) RequestSize() int {
	n := 2 + len(m.Requests)*2
	for _, r := range m.Requests {
		n += 2 + len(r.Path) + len(r.Data)
	}
	return n
}

func (m *MultiRequestBody) Encode(out []byte) ([]byte, error) {
	body, err := BuildMultipleServiceRequest(m.Requests)
	if err != nil {
		return nil, wrapErr(KindArgument, "building multiple service packet", err)
	}
	return append(out, body...), nil
}

func (m *MultiRequestBody) ResponseSize(buf []byte) (int, bool) { return len(buf), true }

func (m *MultiRequestBody) Decode(buf []byte) error {
	responses, err := ParseMultipleServiceResponse(buf)
	if err != nil {
		return wrapErr(KindFraming, "parsing multiple service packet response", err)
	}
	m.Responses = responses
	return nil
}

// MultiRequestPath is the CIP path of the MessageRouter object that a
// CIP_MultiRequest is addressed to (class 0x02, instance 1).
func MultiRequestPath() EPath_t {
	p, _ := EPath().Class(0x02).Instance(1).Build()
	return p
}
