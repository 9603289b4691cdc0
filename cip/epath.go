package cip

import (
	"encoding/binary"
	"fmt"
)

// EPath_t is an encoded CIP path: a sequence of segments addressing a
// class, instance, attribute, or symbolic tag.
type EPath_t []byte

// WordLen reports the path's length in 16-bit words, as carried in the
// path-size byte of a MessageRouter request.
func (p EPath_t) WordLen() byte {
	return byte(len(p) / 2)
}

type segmentKind byte
type logicalRole byte
type logicalWidth byte

const (
	segmentPort       segmentKind = 0b000
	segmentLogical    segmentKind = 0b001
	segmentNetwork    segmentKind = 0b010
	segmentSymbolic   segmentKind = 0b011
	segmentDataConstr segmentKind = 0b101
	segmentDataElem   segmentKind = 0b110
)

const (
	roleClass           logicalRole = 0b000
	roleInstance        logicalRole = 0b001
	roleMember          logicalRole = 0b010
	roleConnectionPoint logicalRole = 0b011
	roleAttribute       logicalRole = 0b100
	roleSpecial         logicalRole = 0b101
	roleService         logicalRole = 0b110
)

const (
	width8  logicalWidth = 0b00
	width16 logicalWidth = 0b01
	width32 logicalWidth = 0b10
)

// builder assembles a CIP path one segment at a time. The first encoding
// error short-circuits every later call, so a caller can chain
// Class/Instance/Attribute/Symbol freely and check the error once, in
// Build.
type builder struct {
	segments EPath_t
	padded   bool
	err      error
}

// EPath starts a new padded path. Padding (a filler byte before 16- and
// 32-bit logical values, and after an odd-length symbolic segment) is
// what every request on the wire uses; there is no unpadded mode exposed
// here because nothing in this client needs one.
func EPath() *builder {
	return &builder{padded: true}
}

func (b *builder) append(seg EPath_t, err error) *builder {
	if b.err != nil {
		return b
	}
	if err != nil {
		b.err = err
		return b
	}
	b.segments = append(b.segments, seg...)
	return b
}

func (b *builder) Class(id byte) *builder {
	return b.append(encodeLogicalSegment(roleClass, width8, []byte{id}, b.padded))
}

func (b *builder) Instance(id byte) *builder {
	return b.append(encodeLogicalSegment(roleInstance, width8, []byte{id}, b.padded))
}

func (b *builder) Instance16(id uint16) *builder {
	return b.append(encodeLogicalSegment(roleInstance, width16, binary.LittleEndian.AppendUint16(nil, id), b.padded))
}

func (b *builder) Instance32(id uint32) *builder {
	return b.append(encodeLogicalSegment(roleInstance, width32, binary.LittleEndian.AppendUint32(nil, id), b.padded))
}

func (b *builder) Attribute(id byte) *builder {
	return b.append(encodeLogicalSegment(roleAttribute, width8, []byte{id}, b.padded))
}

// Symbol appends one or more symbolic segments for a tag reference such
// as "Program:MainProgram.Counter" or "Recipe[3].Name". Dots separate
// segments; colons do not (they belong to program-scoped tag names);
// a bracketed index becomes its own member segment following the
// symbolic name it indexes.
func (b *builder) Symbol(tag string) *builder {
	for _, tok := range tagTokens(tag) {
		if tok.isIndex {
			b = b.append(encodeMemberSegment(tok.index))
		} else {
			b = b.append(encodeSymbolicSegment([]byte(tok.name)))
		}
	}
	return b
}

// Build finalizes the path, applying the trailing pad byte a padded path
// needs when its total length is odd.
func (b *builder) Build() (EPath_t, error) {
	if b.err != nil {
		return nil, b.err
	}
	out := append(EPath_t{}, b.segments...)
	if b.padded && len(out)%2 != 0 {
		out = append(out, 0x00)
	}
	return out, nil
}

// encodeLogicalSegment packs a class/instance/attribute/etc. reference
// into one logical segment. ODVA 1.4 requires a pad byte ahead of a 16-
// or 32-bit value in a padded path so the segment stays word-aligned;
// 8-bit values and the two fixed one-byte special/service forms need none.
func encodeLogicalSegment(role logicalRole, width logicalWidth, value []byte, padded bool) (EPath_t, error) {
	switch role {
	case roleSpecial:
		return append(EPath_t{0x34}, value...), nil
	case roleService:
		return append(EPath_t{0x38}, value...), nil
	}

	wantLen := map[logicalWidth]int{width8: 1, width16: 2, width32: 4}[width]
	if wantLen == 0 {
		return nil, fmt.Errorf("cip: unsupported logical segment width %v", width)
	}
	if len(value) != wantLen {
		return nil, fmt.Errorf("cip: logical segment value is %d bytes, want %d", len(value), wantLen)
	}

	head := byte(segmentLogical)<<5 | byte(role)<<2 | byte(width)
	out := EPath_t{head}
	if padded && width != width8 {
		out = append(out, 0x00)
	}
	return append(out, value...), nil
}

// pathToken is one piece of a parsed tag reference: either a symbolic
// name or a bracketed array index.
type pathToken struct {
	name    string
	index   uint32
	isIndex bool
}

// tagTokens splits a tag reference like "Line1.Recipe[2].Name" into the
// symbolic-name and array-index tokens that make it up. A colon never
// splits a token, since "Program:MainProgram" names one program-scoped
// tag, not two segments.
func tagTokens(tag string) []pathToken {
	var toks []pathToken
	name := ""
	flush := func() {
		if name != "" {
			toks = append(toks, pathToken{name: name})
			name = ""
		}
	}

	for i := 0; i < len(tag); i++ {
		switch tag[i] {
		case '.':
			flush()
		case '[':
			flush()
			end := i + 1
			for end < len(tag) && tag[end] != ']' {
				end++
			}
			if end > i+1 {
				toks = append(toks, pathToken{index: parseUint(tag[i+1 : end]), isIndex: true})
			}
			i = end
		case ']':
			// consumed by the matching '[' above
		default:
			name += string(tag[i])
		}
	}
	flush()
	return toks
}

func parseUint(s string) uint32 {
	var n uint32
	for _, c := range s {
		if c < '0' || c > '9' {
			continue
		}
		n = n*10 + uint32(c-'0')
	}
	return n
}

// encodeMemberSegment builds the element/member segment for an array
// index, widening to 16- or 32-bit (with the usual pad byte) once the
// index no longer fits in a byte.
func encodeMemberSegment(index uint32) (EPath_t, error) {
	switch {
	case index <= 0xFF:
		return EPath_t{0x28, byte(index)}, nil
	case index <= 0xFFFF:
		return EPath_t{0x29, 0x00, byte(index), byte(index >> 8)}, nil
	default:
		return EPath_t{0x2A, 0x00, byte(index), byte(index >> 8), byte(index >> 16), byte(index >> 24)}, nil
	}
}

// encodeSymbolicSegment builds an ANSI extended symbolic segment: a type
// byte, a length byte, the ASCII name, and a trailing pad byte if that
// leaves the segment at an odd length.
func encodeSymbolicSegment(name []byte) (EPath_t, error) {
	if len(name) == 0 {
		return nil, fmt.Errorf("cip: empty symbolic segment")
	}
	if len(name) > 255 {
		return nil, fmt.Errorf("cip: symbolic segment %q exceeds 255 bytes", name)
	}
	out := append(EPath_t{0x91, byte(len(name))}, name...)
	if len(out)%2 != 0 {
		out = append(out, 0x00)
	}
	return out, nil
}
