package cip

import (
	"encoding/binary"
	"fmt"
)

// MultiServiceRequest is one request bundled into a Multiple Service
// Packet call.
type MultiServiceRequest struct {
	Service byte
	Path    EPath_t
	Data    []byte
}

const maxBundledRequests = 200

// BuildMultipleServiceRequest encodes a batch of requests as a single
// Multiple Service Packet (service 0x0A) body: a request count, an
// offset table locating each encoded request within the body, and the
// requests themselves back to back. Offsets are measured from the start
// of this body, not from the CIP message as a whole.
func BuildMultipleServiceRequest(requests []MultiServiceRequest) ([]byte, error) {
	if len(requests) == 0 {
		return nil, fmt.Errorf("cip: multiple service packet needs at least one request")
	}
	if len(requests) > maxBundledRequests {
		return nil, fmt.Errorf("cip: %d bundled requests exceeds the %d-request limit", len(requests), maxBundledRequests)
	}

	encoded := make([][]byte, len(requests))
	for i, req := range requests {
		buf := make([]byte, 0, 2+len(req.Path)+len(req.Data))
		buf = append(buf, req.Service, req.Path.WordLen())
		buf = append(buf, req.Path...)
		buf = append(buf, req.Data...)
		encoded[i] = buf
	}

	tableSize := 2 + 2*len(requests)
	offset := uint16(tableSize)
	offsets := make([]uint16, len(encoded))
	for i, enc := range encoded {
		offsets[i] = offset
		offset += uint16(len(enc))
	}

	out := binary.LittleEndian.AppendUint16(make([]byte, 0, offset), uint16(len(requests)))
	for _, off := range offsets {
		out = binary.LittleEndian.AppendUint16(out, off)
	}
	for _, enc := range encoded {
		out = append(out, enc...)
	}
	return out, nil
}

// MultiServiceResponse is one reply unbundled from a Multiple Service
// Packet response.
type MultiServiceResponse struct {
	Service   byte   // reply service, original request's service | 0x80
	Status    byte   // general status
	ExtStatus []byte // extended status words, raw little-endian bytes
	Data      []byte
}

// multiReplyHeaderLen is the fixed prefix of every bundled reply: reply
// service, a reserved byte, general status, and the extended-status word
// count.
const multiReplyHeaderLen = 4

// ParseMultipleServiceResponse unpacks a Multiple Service Packet reply
// body into its per-request responses, in request order. A response
// slot that falls outside the data or is too short to carry a header is
// left as its zero value rather than failing the whole batch — callers
// distinguish that case by checking Service == 0.
func ParseMultipleServiceResponse(data []byte) ([]MultiServiceResponse, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("cip: multiple service reply shorter than its count field (%d bytes)", len(data))
	}

	count := binary.LittleEndian.Uint16(data[0:2])
	if count == 0 {
		return nil, nil
	}

	tableEnd := 2 + int(count)*2
	if len(data) < tableEnd {
		return nil, fmt.Errorf("cip: multiple service reply too short for a %d-entry offset table", count)
	}

	offsets := make([]int, count)
	for i := range offsets {
		offsets[i] = int(binary.LittleEndian.Uint16(data[2+2*i : 4+2*i]))
	}

	out := make([]MultiServiceResponse, count)
	for i, start := range offsets {
		end := len(data)
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		if start < 0 || start >= end || end > len(data) {
			continue
		}

		slot := data[start:end]
		if len(slot) < multiReplyHeaderLen {
			continue
		}

		r := MultiServiceResponse{Service: slot[0], Status: slot[2]}
		extWords := int(slot[3])
		extEnd := multiReplyHeaderLen + extWords*2
		if extWords > 0 && len(slot) >= extEnd {
			r.ExtStatus = slot[multiReplyHeaderLen:extEnd]
		}
		if extEnd < len(slot) {
			r.Data = slot[extEnd:]
		}
		out[i] = r
	}
	return out, nil
}
