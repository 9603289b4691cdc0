package enip

import (
	"encoding/binary"

	"github.com/renej-github/etherip/cip"
)

// Common Packet Format item type IDs used by this client.
const (
	CpfAddressNullID          uint16 = 0x0000
	CpfUnconnectedMessageID   uint16 = 0x00B2
	CpfListServicesRespID     uint16 = 0x0100
)

// Item is one entry in a Common Packet Format item list.
type Item struct {
	TypeID uint16
	Data   []byte
}

func (it Item) bytes() []byte {
	out := binary.LittleEndian.AppendUint16(nil, it.TypeID)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(it.Data)))
	return append(out, it.Data...)
}

// ParseItems parses a raw Common Packet Format item list (item count
// followed by that many type/length/data items).
func ParseItems(raw []byte) ([]Item, error) {
	if len(raw) < 2 {
		return nil, &cip.Error{Kind: cip.KindFraming, Detail: "CPF item list too short for the item count"}
	}
	count := binary.LittleEndian.Uint16(raw[0:2])
	raw = raw[2:]

	items := make([]Item, 0, count)
	for i := uint16(0); i < count; i++ {
		if len(raw) < 4 {
			return nil, &cip.Error{Kind: cip.KindFraming, Detail: "CPF item header truncated"}
		}
		typeID := binary.LittleEndian.Uint16(raw[0:2])
		length := binary.LittleEndian.Uint16(raw[2:4])
		need := 4 + int(length)
		if len(raw) < need {
			return nil, &cip.Error{Kind: cip.KindFraming, Detail: "CPF item data truncated"}
		}
		items = append(items, Item{TypeID: typeID, Data: append([]byte(nil), raw[4:need]...)})
		raw = raw[need:]
	}
	return items, nil
}

// SendRRData is the SendRRData command body: a 6-byte envelope followed by
// a two-item Common Packet Format list — a null address item and a data
// item carrying Child's encoded bytes — the CIP request stack of
// UnconnectedSend wrapping MessageRouter wrapping the leaf service body.
type SendRRData struct {
	Child cip.Layer

	// ResponseData is the data item payload from the response, set by
	// Decode before delegating to Child.
	ResponseData []byte
}

func (s *SendRRData) RequestSize() int {
	return 4 + 2 + 2 + 4 + 4 + s.Child.RequestSize()
}

func (s *SendRRData) Encode(out []byte) ([]byte, error) {
	out = binary.LittleEndian.AppendUint32(out, 0) // interface handle
	out = binary.LittleEndian.AppendUint16(out, 0) // timeout

	childOut, err := s.Child.Encode(nil)
	if err != nil {
		return nil, err
	}

	out = binary.LittleEndian.AppendUint16(out, 2) // item count
	out = append(out, Item{TypeID: CpfAddressNullID}.bytes()...)
	out = append(out, Item{TypeID: CpfUnconnectedMessageID, Data: childOut}.bytes()...)
	return out, nil
}

func (s *SendRRData) ResponseSize(buf []byte) (int, bool) { return len(buf), true }

func (s *SendRRData) Decode(buf []byte) error {
	if len(buf) < 6 {
		return &cip.Error{Kind: cip.KindFraming, Detail: "SendRRData response shorter than the 6-byte envelope"}
	}
	items, err := ParseItems(buf[6:])
	if err != nil {
		return err
	}
	if len(items) < 2 {
		return &cip.Error{Kind: cip.KindFraming, Detail: "SendRRData response did not carry an address and a data item"}
	}
	s.ResponseData = items[1].Data
	if s.Child != nil {
		return s.Child.Decode(s.ResponseData)
	}
	return nil
}
