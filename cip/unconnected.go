package cip

import "encoding/binary"

// ConnectionManagerPath is the fixed CIP path of the Connection Manager
// object ([Class 0x06, Instance 1]) that UnconnectedSend is addressed to.
func ConnectionManagerPath() EPath_t {
	p, _ := EPath().Class(0x06).Instance(1).Build()
	return p
}

const (
	defaultPriorityTicks byte = 0x06
	defaultTimeoutTicks  byte = 0x9A
)

// UnconnectedSendBody is the body of the CIP UnconnectedSend service
// (0x52): priority/timeout ticks, the embedded CIP message, and a route
// path that carries it across the backplane to the controller in the
// configured slot.
//
// It has no header of its own to strip on decode: per the CIP spec, an
// UnconnectedSend response is the embedded service's own MessageRouter
// reply, already unwrapped by the enclosing MessageRouter layer (reply
// service 0xD2). Decode therefore delegates straight to Embedded.
type UnconnectedSendBody struct {
	Slot     byte
	Embedded Layer
}

func (u *UnconnectedSendBody) routePath() []byte {
	return []byte{0x01, u.Slot}
}

func (u *UnconnectedSendBody) RequestSize() int {
	embeddedLen := u.Embedded.RequestSize()
	pad := 0
	if embeddedLen%2 != 0 {
		pad = 1
	}
	route := u.routePath()
	return 2 + 2 + embeddedLen + pad + 1 + len(route)
}

func (u *UnconnectedSendBody) Encode(out []byte) ([]byte, error) {
	embeddedLen := u.Embedded.RequestSize()
	out = append(out, defaultPriorityTicks, defaultTimeoutTicks)
	out = binary.LittleEndian.AppendUint16(out, uint16(embeddedLen))

	var err error
	out, err = u.Embedded.Encode(out)
	if err != nil {
		return nil, err
	}
	if embeddedLen%2 != 0 {
		out = append(out, 0x00)
	}
	route := u.routePath()
	out = append(out, byte(len(route)/2))
	out = append(out, route...)
	return out, nil
}

func (u *UnconnectedSendBody) ResponseSize(buf []byte) (int, bool) {
	return u.Embedded.ResponseSize(buf)
}

func (u *UnconnectedSendBody) Decode(buf []byte) error {
	return u.Embedded.Decode(buf)
}

// WrapUnconnectedSend builds the full MessageRouter(0x52, ConnectionManager)
// frame that carries embedded as its routed payload to the given backplane
// slot.
func WrapUnconnectedSend(slot byte, embedded Layer) *MessageRouter {
	return &MessageRouter{
		Service: SvcUnconnectedSend,
		Path:    ConnectionManagerPath(),
		Child:   &UnconnectedSendBody{Slot: slot, Embedded: embedded},
	}
}
