// Package client implements the session facade and tag-level operations:
// connect, read, write, read_many/write_many, device_info, close. It is
// the only package most callers need — everything underneath (enip, cip)
// is composed here into the programmatic surface.
package client

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/renej-github/etherip/cip"
	"github.com/renej-github/etherip/enip"
	"github.com/renej-github/etherip/logging"
)

// Options configures Connect; zero values select the documented defaults.
type Options struct {
	Port       uint16
	Timeout    time.Duration
	BufferSize int
}

// DeviceInfo is the Identity object summary read during Connect.
type DeviceInfo struct {
	Vendor       uint16
	DeviceType   uint16
	RevisionMajor byte
	RevisionMinor byte
	Serial       uint32
	Name         string
}

// TagResult pairs a tag name with its read_many/write_many outcome. Err is
// non-nil only for that tag's sub-response; a batch-level error (returned
// separately) means the MultiRequest framing itself failed.
type TagResult struct {
	Name  string
	Value *cip.Value
	Err   error
}

// Session is a connected facade over one PLC. Not safe for concurrent use:
// the underlying Connection owns a single shared receive buffer.
type Session struct {
	conn    *enip.Connection
	slot    byte
	ctxSeq  atomic.Uint64
	info    DeviceInfo
	closed  bool
}

func (s *Session) nextContext() [8]byte {
	return enip.NewContext(s.ctxSeq.Add(1))
}

// Open connects to address:port, performs ListServices + RegisterSession,
// and reads the Identity object to populate DeviceInfo.
func Open(address string, slot byte, opts Options) (*Session, error) {
	port := opts.Port
	if port == 0 {
		port = enip.DefaultPort
	}
	conn, err := enip.Dial(fmt.Sprintf("%s:%d", address, port), opts.Timeout, opts.BufferSize)
	if err != nil {
		return nil, err
	}

	s := &Session{conn: conn, slot: slot}

	if _, err := enip.ListServices(conn, s.nextContext()); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := enip.RegisterSession(conn, s.nextContext()); err != nil {
		conn.Close()
		return nil, err
	}
	if err := s.readDeviceInfo(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// readAttr reads one Identity object attribute. Identity is answered by
// the EtherNet/IP adapter itself rather than forwarded to the backplane
// CPU, so this goes out unrouted — no UnconnectedSend hop.
func (s *Session) readAttr(attr byte) (*cip.GetAttributeSingleBody, error) {
	body := &cip.GetAttributeSingleBody{}
	leaf := &cip.MessageRouter{Service: cip.SvcGetAttributeSingle, Path: cip.IdentityPath(attr), Child: body}
	if err := s.conn.Execute(s.frameDirect(leaf)); err != nil {
		return nil, err
	}
	return body, nil
}

func (s *Session) readDeviceInfo() error {
	vendorAttr, err := s.readAttr(1)
	if err != nil {
		return err
	}
	vendor, err := vendorAttr.AttrUint16()
	if err != nil {
		return err
	}

	typeAttr, err := s.readAttr(2)
	if err != nil {
		return err
	}
	devType, err := typeAttr.AttrUint16()
	if err != nil {
		return err
	}

	revAttr, err := s.readAttr(4)
	if err != nil {
		return err
	}
	major, minor, err := revAttr.AttrRevision()
	if err != nil {
		return err
	}

	serialAttr, err := s.readAttr(6)
	if err != nil {
		return err
	}
	serial, err := serialAttr.AttrUint32()
	if err != nil {
		return err
	}

	nameAttr, err := s.readAttr(7)
	if err != nil {
		return err
	}
	name, err := nameAttr.AttrString()
	if err != nil {
		return err
	}

	s.info = DeviceInfo{Vendor: vendor, DeviceType: devType, RevisionMajor: major, RevisionMinor: minor, Serial: serial, Name: name}
	return nil
}

// DeviceInfo returns the Identity summary read during Connect.
func (s *Session) DeviceInfo() DeviceInfo { return s.info }

// frame wraps a leaf CIP layer in the full Encapsulation/SendRRData/
// UnconnectedSend stack for this session's registered session and slot.
// Used for every request addressed to the backplane CPU (ReadTag,
// WriteTag, MultiRequest).
func (s *Session) frame(leaf cip.Layer) *enip.Encapsulation {
	routed := cip.WrapUnconnectedSend(s.slot, leaf)
	sendRR := &enip.SendRRData{Child: routed}
	return &enip.Encapsulation{Command: enip.CmdSendRRData, Session: s.conn.Session(), Context: s.nextContext(), Child: sendRR}
}

// frameDirect wraps a leaf CIP layer directly in Encapsulation/SendRRData
// with no UnconnectedSend hop. The Identity object is answered by the
// EtherNet/IP adapter itself, not forwarded across the backplane, so
// Get_Attribute_Single requests skip the routing layer entirely.
func (s *Session) frameDirect(leaf cip.Layer) *enip.Encapsulation {
	sendRR := &enip.SendRRData{Child: leaf}
	return &enip.Encapsulation{Command: enip.CmdSendRRData, Session: s.conn.Session(), Context: s.nextContext(), Child: sendRR}
}

// Read performs CIP_ReadData for one tag with the given element count.
func (s *Session) Read(tag string, elements int) (*cip.Value, error) {
	if s.closed {
		return nil, &cip.Error{Kind: cip.KindNotConnected, Detail: "session is closed"}
	}
	if elements < 1 {
		return nil, &cip.Error{Kind: cip.KindArgument, Detail: "element count must be >= 1"}
	}
	path, err := cip.EPath().Symbol(tag).Build()
	if err != nil {
		return nil, &cip.Error{Kind: cip.KindArgument, Detail: "invalid tag path", Cause: err}
	}
	body := &cip.ReadDataBody{Elements: uint16(elements)}
	leaf := &cip.MessageRouter{Service: cip.SvcReadTag, Path: path, Child: body}
	if err := s.conn.Execute(s.frame(leaf)); err != nil {
		return nil, err
	}
	return body.Value, nil
}

// Write performs CIP_WriteData for one tag.
func (s *Session) Write(tag string, value *cip.Value) error {
	if s.closed {
		return &cip.Error{Kind: cip.KindNotConnected, Detail: "session is closed"}
	}
	path, err := cip.EPath().Symbol(tag).Build()
	if err != nil {
		return &cip.Error{Kind: cip.KindArgument, Detail: "invalid tag path", Cause: err}
	}
	body := &cip.WriteDataBody{Value: value}
	leaf := &cip.MessageRouter{Service: cip.SvcWriteTag, Path: path, Child: body}
	return s.conn.Execute(s.frame(leaf))
}

// ReadMany batches reads for multiple tags into one CIP_MultiRequest and
// decodes every sub-response, in request order.
func (s *Session) ReadMany(tags []string) ([]TagResult, error) {
	if s.closed {
		return nil, &cip.Error{Kind: cip.KindNotConnected, Detail: "session is closed"}
	}
	if len(tags) == 0 {
		return nil, &cip.Error{Kind: cip.KindArgument, Detail: "read_many requires at least one tag"}
	}
	requests := make([]cip.MultiServiceRequest, len(tags))
	for i, tag := range tags {
		path, err := cip.EPath().Symbol(tag).Build()
		if err != nil {
			return nil, &cip.Error{Kind: cip.KindArgument, Detail: "invalid tag path: " + tag, Cause: err}
		}
		requests[i] = cip.MultiServiceRequest{
			Service: cip.SvcReadTag,
			Path:    path,
			Data:    binary.LittleEndian.AppendUint16(nil, 1), // one element
		}
	}
	multi := &cip.MultiRequestBody{Requests: requests}
	leaf := &cip.MessageRouter{Service: cip.SvcMultipleServicePacket, Path: cip.MultiRequestPath(), Child: multi}
	if err := s.conn.Execute(s.frame(leaf)); err != nil {
		return nil, err
	}

	results := make([]TagResult, len(tags))
	for i, tag := range tags {
		results[i].Name = tag
		if i >= len(multi.Responses) {
			results[i].Err = &cip.Error{Kind: cip.KindFraming, Detail: "multi-request response missing a sub-response for " + tag}
			continue
		}
		resp := multi.Responses[i]
		if resp.Status != cip.StatusSuccess {
			ext := make([]uint16, 0, len(resp.ExtStatus)/2)
			for j := 0; j+1 < len(resp.ExtStatus); j += 2 {
				ext = append(ext, binary.LittleEndian.Uint16(resp.ExtStatus[j:j+2]))
			}
			results[i].Err = cip.StatusError(cip.SvcReadTag, resp.Status, ext)
			continue
		}
		if len(resp.Data) < 2 {
			results[i].Err = &cip.Error{Kind: cip.KindFraming, Detail: "read sub-response missing type code for " + tag}
			continue
		}
		v, err := cip.Decode(binary.LittleEndian.Uint16(resp.Data[0:2]), resp.Data[2:])
		if err != nil {
			results[i].Err = err
			continue
		}
		results[i].Value = v
	}
	return results, nil
}

// WriteMany batches writes for multiple tags into one CIP_MultiRequest.
// tags and values must be equal length.
func (s *Session) WriteMany(tags []string, values []*cip.Value) ([]TagResult, error) {
	if s.closed {
		return nil, &cip.Error{Kind: cip.KindNotConnected, Detail: "session is closed"}
	}
	if len(tags) != len(values) {
		return nil, &cip.Error{Kind: cip.KindArgument, Detail: "write_many requires equal-length tag and value slices"}
	}
	if len(tags) == 0 {
		return nil, &cip.Error{Kind: cip.KindArgument, Detail: "write_many requires at least one tag"}
	}
	requests := make([]cip.MultiServiceRequest, len(tags))
	for i, tag := range tags {
		path, err := cip.EPath().Symbol(tag).Build()
		if err != nil {
			return nil, &cip.Error{Kind: cip.KindArgument, Detail: "invalid tag path: " + tag, Cause: err}
		}
		data := make([]byte, 0, 4+len(values[i].Raw))
		data = binary.LittleEndian.AppendUint16(data, values[i].Type)
		data = binary.LittleEndian.AppendUint16(data, uint16(values[i].Elements))
		data = append(data, values[i].Raw...)
		requests[i] = cip.MultiServiceRequest{Service: cip.SvcWriteTag, Path: path, Data: data}
	}
	multi := &cip.MultiRequestBody{Requests: requests}
	leaf := &cip.MessageRouter{Service: cip.SvcMultipleServicePacket, Path: cip.MultiRequestPath(), Child: multi}
	if err := s.conn.Execute(s.frame(leaf)); err != nil {
		return nil, err
	}

	results := make([]TagResult, len(tags))
	for i, tag := range tags {
		results[i].Name = tag
		if i >= len(multi.Responses) {
			results[i].Err = &cip.Error{Kind: cip.KindFraming, Detail: "multi-request response missing a sub-response for " + tag}
			continue
		}
		if resp := multi.Responses[i]; resp.Status != cip.StatusSuccess {
			results[i].Err = cip.StatusError(cip.SvcWriteTag, resp.Status, nil)
		}
	}
	return results, nil
}

// Close unregisters the session (best effort) and closes the socket.
// Idempotent; always releases the socket even if unregister fails.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if session := s.conn.Session(); session != 0 {
		if err := enip.UnregisterSession(s.conn, s.nextContext(), session); err != nil {
			// Best effort: log and continue so the socket is always closed.
			logging.DebugLog("client", "unregister session 0x%08X failed: %v", session, err)
		}
	}
	return s.conn.Close()
}
