package cip

import (
	"bytes"
	"testing"
)

func TestIdentityPathAttribute1(t *testing.T) {
	// Class 0x01 instance 1 attribute 1, all 8-bit logical segments: this is
	// the path used by the vendor-ID read in the Identity scenario.
	want := []byte{0x20, 0x01, 0x24, 0x01, 0x30, 0x01}
	got := IdentityPath(1)
	if !bytes.Equal([]byte(got), want) {
		t.Errorf("IdentityPath(1) = % X, want % X", []byte(got), want)
	}
}

func TestMultiRequestPath(t *testing.T) {
	// Class 0x02 instance 1, the MessageRouter object that a
	// Multiple Service Packet is addressed to.
	want := []byte{0x20, 0x02, 0x24, 0x01}
	got := MultiRequestPath()
	if !bytes.Equal([]byte(got), want) {
		t.Errorf("MultiRequestPath() = % X, want % X", []byte(got), want)
	}
}

func TestSymbolPathSimpleTag(t *testing.T) {
	p, err := EPath().Symbol("Counter").Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// 0x91, length=7, "Counter" (7 bytes) = 9 bytes, + 1 pad byte = 10 total.
	want := append([]byte{0x91, 7}, []byte("Counter")...)
	want = append(want, 0x00)
	if !bytes.Equal([]byte(p), want) {
		t.Errorf("Symbol(Counter) = % X, want % X", []byte(p), want)
	}
}

func TestSymbolPathOddLengthIsPadded(t *testing.T) {
	p, err := EPath().Symbol("Tag").Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(p)%2 != 0 {
		t.Fatalf("symbolic segment length %d is not word-aligned", len(p))
	}
	// 0x91, length=3, "Tag" (3 bytes) + 1 pad byte = 6 total.
	want := []byte{0x91, 3, 'T', 'a', 'g', 0x00}
	if !bytes.Equal([]byte(p), want) {
		t.Errorf("Symbol(Tag) = % X, want % X", []byte(p), want)
	}
}

func TestSymbolPathDottedProgramTag(t *testing.T) {
	p, err := EPath().Symbol("Program:MainProgram.Counter").Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// "Program:MainProgram" is one segment (colon is not a separator);
	// "Counter" is a second segment after the dot.
	wantFirst := append([]byte{0x91, byte(len("Program:MainProgram"))}, []byte("Program:MainProgram")...)
	if !bytes.HasPrefix([]byte(p), wantFirst) {
		t.Errorf("Symbol(Program:MainProgram.Counter) does not start with the first segment; got % X", []byte(p))
	}
	if !bytes.Contains([]byte(p), []byte("Counter")) {
		t.Errorf("Symbol(Program:MainProgram.Counter) missing Counter segment; got % X", []byte(p))
	}
}

func TestSymbolPathArrayIndex(t *testing.T) {
	p, err := EPath().Symbol("MyArray[5]").Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// "MyArray" symbolic segment then an 8-bit member segment for index 5.
	if !bytes.Contains([]byte(p), []byte{0x28, 5}) {
		t.Errorf("Symbol(MyArray[5]) missing member segment 0x28 0x05; got % X", []byte(p))
	}
}

func TestPathBuilderWordLen(t *testing.T) {
	p, err := EPath().Class(0x01).Instance(1).Attribute(1).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := p.WordLen(); got != byte(len(p)/2) {
		t.Errorf("WordLen() = %d, want %d", got, len(p)/2)
	}
}

func TestSymbolEmptyTagIsNoop(t *testing.T) {
	// An empty tag produces no parts at all; the builder should not panic,
	// and the resulting path should be empty.
	p, err := EPath().Symbol("").Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(p) != 0 {
		t.Errorf("Symbol(\"\") = % X, want empty", []byte(p))
	}
}
