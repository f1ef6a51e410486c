package pccc

import (
	"bytes"
	"testing"
)

func TestBuildReadRequest(t *testing.T) {
	addr := mustParse(t, "N7:0")
	pre := msgPreamble(0x0001, 0xDEADBEEF)

	got := buildReadRequest(pre, 0x0001, addr)
	want := []byte{
		// Execute-PCCC service, path to the PCCC object, requester ID
		0x4B, 0x02, 0x20, 0x67, 0x24, 0x01, 0x07, 0x01, 0x00, 0xEF, 0xBE, 0xAD, 0xDE,
		// CMD, STS, TNS, FNC
		0x0F, 0x00, 0x01, 0x00, 0xA2,
		// byte size, file number, type code, element, position
		0x02, 0x07, 0x89, 0x00, 0x00,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("read request =\n% X\nwant\n% X", got, want)
	}
}

func TestBuildReadRequestMultiElement(t *testing.T) {
	addr := mustParse(t, "F8:2{4}")
	got := buildReadRequest(msgPreamble(0x0001, 0x12345678), 0x00AB, addr)

	// byte size = 4 * 4 for floats, type code 0x8A.
	tail := got[len(got)-5:]
	want := []byte{0x10, 0x08, 0x8A, 0x02, 0x00}
	if !bytes.Equal(tail, want) {
		t.Errorf("request tail = % X, want % X", tail, want)
	}
}

func TestBuildReadRequestIOPosition(t *testing.T) {
	addr := mustParse(t, "I:1.2")
	got := buildReadRequest(msgPreamble(0x0001, 0x12345678), 0x0001, addr)

	// I/O addresses are file 0 and carry the word position on the wire.
	tail := got[len(got)-5:]
	want := []byte{0x02, 0x00, 0x8C, 0x01, 0x02}
	if !bytes.Equal(tail, want) {
		t.Errorf("request tail = % X, want % X", tail, want)
	}
}

// The byte-size field describes the addressed elements even when a bit
// write carries a 4-byte mask/value payload.
func TestBuildWriteRequestBit(t *testing.T) {
	addr := mustParse(t, "B3/20")
	packed, err := PackValue(addr, true)
	if err != nil {
		t.Fatalf("PackValue: %v", err)
	}

	got := buildWriteRequest(msgPreamble(0x0001, 0x12345678), 0x0002, addr, packed)
	tail := got[len(got)-9:]
	want := []byte{
		0x02,       // byte size: one 2-byte element
		0x03, 0x85, // file 3, type B
		0x01, 0x00, // element 1, position 0
		0x10, 0x00, 0x10, 0x00, // mask and value, bit 4
	}
	if !bytes.Equal(tail, want) {
		t.Errorf("write tail = % X, want % X", tail, want)
	}
	if got[17] != fncProtectedTypedWrite {
		t.Errorf("FNC = 0x%02X, want 0x%02X", got[17], fncProtectedTypedWrite)
	}
}

func TestBuildDiagnosticStatusRequest(t *testing.T) {
	got := buildDiagnosticStatusRequest(msgPreamble(0x0001, 0x12345678), 0x0007)
	tail := got[len(got)-5:]
	want := []byte{0x06, 0x00, 0x07, 0x00, 0x03}
	if !bytes.Equal(tail, want) {
		t.Errorf("diagnostic tail = % X, want % X", tail, want)
	}
}

func TestBuildDirectoryChunkRequestOffsets(t *testing.T) {
	pre := msgPreamble(0x0001, 0x12345678)

	tests := []struct {
		offset int
		want   []byte
	}{
		{0, []byte{0x00, 0x00}},
		{40, []byte{0x00, 0x28}},
		{255, []byte{0x00, 0xFF}},
		{256, []byte{0xFF, 0x00, 0x01}},
		{1000, []byte{0xFF, 0xE8, 0x03}},
	}
	for _, tc := range tests {
		got := buildDirectoryChunkRequest(pre, 1, 0x50, 0x01, tc.offset)
		tail := got[len(got)-len(tc.want):]
		if !bytes.Equal(tail, tc.want) {
			t.Errorf("offset %d encoding = % X, want % X", tc.offset, tail, tc.want)
		}
	}
}

func TestRequestStatus(t *testing.T) {
	if err := RequestStatus(makeReply(0x00, nil)); err != nil {
		t.Errorf("status 0x00: %v, want nil", err)
	}

	err := RequestStatus(makeReply(0x70, nil))
	se, ok := err.(*StatusError)
	if !ok {
		t.Fatalf("status 0x70: %T, want *StatusError", err)
	}
	if se.Code != 0x70 || se.Message != "Processor is in Program mode" {
		t.Errorf("status 0x70 = %+v", se)
	}

	// Unknown codes map to a generic message.
	err = RequestStatus(makeReply(0x42, nil))
	if se, ok := err.(*StatusError); !ok || se.Message != "Unknown Status" {
		t.Errorf("status 0x42 = %v, want Unknown Status", err)
	}

	// A frame too short to carry a status byte is also unknown.
	if err := RequestStatus([]byte{0x01, 0x02}); err == nil {
		t.Error("short frame: want error")
	}
}
