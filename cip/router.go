package cip

import "encoding/binary"

// MessageRouter frames a CIP service request: service byte, path word
// length, path bytes, then the body contributed by Child. On decode it
// validates the reply service (request service with the high bit set),
// extracts general and extended status, and propagates either to the
// child (for further decoding) or as a protocol_status error.
//
// This same framing is reused both for "plain" CIP requests addressed
// directly at an object (ReadTag, WriteTag, Get_Attribute_Single) and for
// UnconnectedSend itself, which is just another CIP service (0x52)
// addressed at the Connection Manager.
type MessageRouter struct {
	Service byte
	Path    EPath_t
	Child   Layer

	// Populated by Decode.
	Status   byte
	Extended []uint16
}

func (m *MessageRouter) RequestSize() int {
	n := 2 + len(m.Path)
	if m.Child != nil {
		n += m.Child.RequestSize()
	}
	return n
}

func (m *MessageRouter) Encode(out []byte) ([]byte, error) {
	out = append(out, m.Service, m.Path.WordLen())
	out = append(out, m.Path...)
	if m.Child != nil {
		return m.Child.Encode(out)
	}
	return out, nil
}

func (m *MessageRouter) ResponseSize(buf []byte) (int, bool) {
	if len(buf) < 4 {
		return 0, false
	}
	extCount := int(buf[3])
	need := 4 + extCount*2
	if len(buf) < need {
		return 0, false
	}
	return len(buf), true
}

func (m *MessageRouter) Decode(buf []byte) error {
	if len(buf) < 4 {
		return newErr(KindFraming, "MessageRouter response shorter than the fixed header")
	}
	replyService := buf[0]
	status := buf[2]
	extCount := int(buf[3])
	need := 4 + extCount*2
	if len(buf) < need {
		return newErr(KindFraming, "MessageRouter response truncated before extended status words")
	}
	if replyService != m.Service|0x80 {
		return newErr(KindFraming, "MessageRouter reply service does not match request service | 0x80")
	}
	extended := make([]uint16, extCount)
	for i := 0; i < extCount; i++ {
		extended[i] = binary.LittleEndian.Uint16(buf[4+i*2 : 6+i*2])
	}
	m.Status = status
	m.Extended = extended

	rest := buf[need:]
	if status != StatusSuccess && status != StatusEmbeddedFailure {
		return StatusError(m.Service, status, extended)
	}
	if m.Child != nil {
		return m.Child.Decode(rest)
	}
	return nil
}
