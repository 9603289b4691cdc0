package enip

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/renej-github/etherip/cip"
)

// ListServices sends the ListServices (0x0004) command and returns the
// name advertised by the first service item. It does not require a
// registered session.
func ListServices(conn *Connection, ctx [8]byte) (string, error) {
	encap := &Encapsulation{Command: CmdListServices, Context: ctx}
	if err := conn.Execute(encap); err != nil {
		return "", err
	}
	items, err := ParseItems(encap.Data)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", &cip.Error{Kind: cip.KindUnsupportedService, Detail: "ListServices returned no service items"}
	}
	name, err := parseServiceName(items[0].Data)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(strings.ToLower(name), "comm") {
		return "", &cip.Error{Kind: cip.KindUnsupportedService, Detail: "first advertised service is not a Communications service: " + name}
	}
	return name, nil
}

func parseServiceName(data []byte) (string, error) {
	if len(data) < 4 {
		return "", &cip.Error{Kind: cip.KindFraming, Detail: "ListServices service item shorter than version+flags"}
	}
	name := data[4:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return string(name), nil
}

// RegisterSession sends RegisterSession (0x0065) and returns the session
// handle allocated by the controller.
func RegisterSession(conn *Connection, ctx [8]byte) (uint32, error) {
	body := binary.LittleEndian.AppendUint16(nil, 1) // protocol version
	body = binary.LittleEndian.AppendUint16(body, 0) // options flags
	encap := &Encapsulation{Command: CmdRegisterSession, Context: ctx, Data: body}
	if err := conn.Execute(encap); err != nil {
		return 0, err
	}
	if encap.Session == 0 {
		return 0, &cip.Error{Kind: cip.KindFraming, Detail: "RegisterSession did not allocate a session handle"}
	}
	conn.SetSession(encap.Session)
	return encap.Session, nil
}

// UnregisterSession sends UnregisterSession (0x0066). Per spec the
// controller may close the socket immediately after acknowledging this,
// so the caller MUST NOT attempt to read a response — this issues the
// write only.
func UnregisterSession(conn *Connection, ctx [8]byte, session uint32) error {
	encap := &Encapsulation{Command: CmdUnregisterSession, Session: session, Context: ctx}
	buf, err := encap.Encode(make([]byte, 0, encap.RequestSize()))
	if err != nil {
		return err
	}
	return conn.writeRaw(buf)
}
