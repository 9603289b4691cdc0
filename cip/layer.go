package cip

// Layer is the uniform contract every protocol layer in the encapsulation
// and CIP stack implements: it contributes its own header on encode and
// consumes its own header on decode, delegating the body to a child Layer.
//
// A container layer (Encapsulation, SendRRData, UnconnectedSend,
// MessageRouter) holds exactly one child implementing this same interface;
// a leaf body (ReadData, WriteData, MultiRequest) treats RequestSize/
// Encode/ResponseSize/Decode as operating on an empty child.
type Layer interface {
	// RequestSize returns the number of bytes this layer contributes on
	// send, excluding whatever its child contributes.
	RequestSize() int

	// Encode appends this layer's header (and its child's encoding, if
	// any) to out and returns the result.
	Encode(out []byte) ([]byte, error)

	// ResponseSize inspects the bytes already buffered and reports the
	// total number of bytes needed before Decode can run. ok is false
	// when not enough bytes are buffered yet to even compute the total
	// (e.g. a header field that hasn't fully arrived); the caller should
	// keep reading and try again.
	ResponseSize(buf []byte) (total int, ok bool)

	// Decode consumes this layer's header from buf and hands the
	// remainder to its child's Decode.
	Decode(buf []byte) error
}

// NopLayer is the default adapter: zero request size, no-op encode,
// ResponseSize always resolved to 0, empty decode. The leaf bodies in this
// package implement the four methods themselves rather than embedding it.
type NopLayer struct{}

func (NopLayer) RequestSize() int                          { return 0 }
func (NopLayer) Encode(out []byte) ([]byte, error)          { return out, nil }
func (NopLayer) ResponseSize(buf []byte) (int, bool)        { return 0, true }
func (NopLayer) Decode(buf []byte) error                    { return nil }
