// Package enip implements the EtherNet/IP encapsulation protocol: the
// 24-byte header framing, Common Packet Format item lists, session
// register/unregister, and the TCP transport that carries CIP requests to
// port 0xAF12.
package enip

import (
	"encoding/binary"

	"github.com/renej-github/etherip/cip"
)

// Encapsulation commands this client issues or recognizes in a response.
const (
	CmdNop              uint16 = 0x0000
	CmdListServices     uint16 = 0x0004
	CmdRegisterSession  uint16 = 0x0065
	CmdUnregisterSession uint16 = 0x0066
	CmdSendRRData       uint16 = 0x006F
	CmdSendUnitData     uint16 = 0x0070
)

const headerSize = 24

// Encapsulation is the outermost layer of every ENIP transaction: a
// 24-byte little-endian header, command/session/status/context/options,
// followed by the command's body (carried via Child, or Data for leaf
// commands with no CIP child layer).
type Encapsulation struct {
	Command uint16
	Session uint32
	Context [8]byte
	Options uint32

	// Child carries a CIP layer stack (used for SendRRData). Data carries
	// a raw body for leaf ENIP commands (ListServices, RegisterSession,
	// UnregisterSession) that have no CIP layer of their own. At most one
	// of the two is set.
	Child cip.Layer
	Data  []byte

	// Status is populated by Decode; a non-zero value is also surfaced as
	// the returned error.
	Status uint32
}

func (e *Encapsulation) bodyRequestSize() int {
	if e.Child != nil {
		return e.Child.RequestSize()
	}
	return len(e.Data)
}

func (e *Encapsulation) RequestSize() int { return headerSize + e.bodyRequestSize() }

func (e *Encapsulation) Encode(out []byte) ([]byte, error) {
	length := e.bodyRequestSize()
	out = binary.LittleEndian.AppendUint16(out, e.Command)
	out = binary.LittleEndian.AppendUint16(out, uint16(length))
	out = binary.LittleEndian.AppendUint32(out, e.Session)
	out = binary.LittleEndian.AppendUint32(out, 0) // status is always 0 on request
	out = append(out, e.Context[:]...)
	out = binary.LittleEndian.AppendUint32(out, e.Options)
	if e.Child != nil {
		return e.Child.Encode(out)
	}
	return append(out, e.Data...), nil
}

// ResponseSize resolves the total frame size from the length field at
// offset 2-3, which requires at least 4 bytes to be buffered.
func (e *Encapsulation) ResponseSize(buf []byte) (int, bool) {
	if len(buf) < 4 {
		return 0, false
	}
	length := binary.LittleEndian.Uint16(buf[2:4])
	return headerSize + int(length), true
}

func (e *Encapsulation) Decode(buf []byte) error {
	if len(buf) < headerSize {
		return &cip.Error{Kind: cip.KindFraming, Detail: "encapsulation response shorter than the 24-byte header"}
	}
	command := binary.LittleEndian.Uint16(buf[0:2])
	length := binary.LittleEndian.Uint16(buf[2:4])
	session := binary.LittleEndian.Uint32(buf[4:8])
	status := binary.LittleEndian.Uint32(buf[8:12])
	var context [8]byte
	copy(context[:], buf[12:20])

	if int(length) != len(buf)-headerSize {
		return &cip.Error{Kind: cip.KindFraming, Detail: "encapsulation length field does not match the bytes following the header"}
	}
	if command != e.Command {
		return &cip.Error{Kind: cip.KindFraming, Detail: "encapsulation response command does not match the request"}
	}
	if context != e.Context {
		return &cip.Error{Kind: cip.KindFraming, Detail: "encapsulation response sender context does not match the request"}
	}
	e.Status = status
	if status != 0 {
		return &cip.Error{Kind: cip.KindProtocolStatus, Detail: "encapsulation status non-zero", Status: byte(status)}
	}
	// Session is 0 on some leaf responses (e.g. ListServices); otherwise
	// it must match what the request carried once registered.
	if session != 0 {
		if e.Session != 0 && session != e.Session {
			return &cip.Error{Kind: cip.KindFraming, Detail: "encapsulation response session does not match the request"}
		}
		e.Session = session
	}

	body := buf[headerSize:]
	if e.Child != nil {
		return e.Child.Decode(body)
	}
	e.Data = append([]byte(nil), body...)
	return nil
}
