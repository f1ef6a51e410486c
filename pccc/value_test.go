package pccc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func mustParse(t *testing.T, address string) *TagAddress {
	t.Helper()
	ta, err := ParseTag(address)
	if err != nil {
		t.Fatalf("ParseTag(%q): %v", address, err)
	}
	return ta
}

func TestPackUnpackRoundTrip(t *testing.T) {
	tests := []struct {
		address string
		value   interface{}
	}{
		{"N7:0", int16(0)},
		{"N7:0", int16(-1)},
		{"N7:0", int16(32767)},
		{"L9:0", int32(-70000)},
		{"L9:0", int32(2147483647)},
		{"F8:0", float32(3.14)},
		{"F8:0", float32(-0.5)},
		{"ST9:0", "HELLO WORLD"},
		{"ST9:0", ""},
	}

	for _, tc := range tests {
		t.Run(tc.address, func(t *testing.T) {
			addr := mustParse(t, tc.address)
			packed, err := PackValue(addr, tc.value)
			if err != nil {
				t.Fatalf("PackValue(%v): %v", tc.value, err)
			}
			if want := addr.FileType.DataSize(); len(packed) != want {
				t.Fatalf("packed length = %d, want %d", len(packed), want)
			}
			got, err := UnpackReply(addr, packed)
			if err != nil {
				t.Fatalf("UnpackReply: %v", err)
			}
			if got != tc.value {
				t.Errorf("round trip = %v (%T), want %v (%T)", got, got, tc.value, tc.value)
			}
		})
	}
}

func TestUnpackMultiElement(t *testing.T) {
	addr := mustParse(t, "N7:0{3}")

	data := []byte{}
	for _, v := range []int16{100, -200, 300} {
		data = binary.LittleEndian.AppendUint16(data, uint16(v))
	}

	got, err := UnpackReply(addr, data)
	if err != nil {
		t.Fatalf("UnpackReply: %v", err)
	}
	values, ok := got.([]interface{})
	if !ok {
		t.Fatalf("UnpackReply returned %T, want slice", got)
	}
	want := []int16{100, -200, 300}
	if len(values) != len(want) {
		t.Fatalf("got %d values, want %d", len(values), len(want))
	}
	for i, v := range want {
		if values[i] != v {
			t.Errorf("values[%d] = %v, want %v", i, values[i], v)
		}
	}
}

func TestUnpackBadPayload(t *testing.T) {
	addr := mustParse(t, "N7:0")
	for _, data := range [][]byte{nil, {}, {0x01}, {0x01, 0x02, 0x03}} {
		if _, err := UnpackReply(addr, data); !errors.Is(err, ErrPacking) {
			t.Errorf("UnpackReply(%v) error = %v, want ErrPacking", data, err)
		}
	}
}

func TestUnpackTimerCounterSubElements(t *testing.T) {
	// 6-byte timer structure: control, PRE, ACC words.
	data := []byte{0x00, 0xA0, 0xE8, 0x03, 0x2C, 0x01} // PRE=1000, ACC=300

	pre := mustParse(t, "T4:0.PRE")
	if got, err := UnpackReply(pre, data); err != nil || got != int16(1000) {
		t.Errorf("PRE = %v, %v; want 1000", got, err)
	}

	acc := mustParse(t, "T4:0.ACC")
	if got, err := UnpackReply(acc, data); err != nil || got != int16(300) {
		t.Errorf("ACC = %v, %v; want 300", got, err)
	}

	// DN is bit 13 of the control word.
	dn := mustParse(t, "T4:0.DN")
	if got, err := UnpackReply(dn, []byte{0x00, 0x20}); err != nil || got != true {
		t.Errorf("DN = %v, %v; want true", got, err)
	}
	if got, err := UnpackReply(dn, []byte{0x00, 0x00}); err != nil || got != false {
		t.Errorf("DN = %v, %v; want false", got, err)
	}
}

// The mask half of a bit write is always the single addressed bit; the
// value half carries the bit for set, zero for clear.
func TestPackBitWrite(t *testing.T) {
	for bit := 0; bit < 16; bit++ {
		addr := &TagAddress{
			Tag: "B3:0", FileType: FileBinary, FileNumber: 3,
			SubElement: bit, AddressField: 3, ElementCount: 1,
		}
		mask := uint16(1) << uint(bit)

		set, err := PackValue(addr, true)
		if err != nil {
			t.Fatalf("PackValue(true) bit %d: %v", bit, err)
		}
		wantSet := binary.LittleEndian.AppendUint16(binary.LittleEndian.AppendUint16(nil, mask), mask)
		if !bytes.Equal(set, wantSet) {
			t.Errorf("bit %d set = % X, want % X", bit, set, wantSet)
		}

		clear, err := PackValue(addr, false)
		if err != nil {
			t.Fatalf("PackValue(false) bit %d: %v", bit, err)
		}
		wantClear := binary.LittleEndian.AppendUint16(binary.LittleEndian.AppendUint16(nil, mask), 0)
		if !bytes.Equal(clear, wantClear) {
			t.Errorf("bit %d clear = % X, want % X", bit, clear, wantClear)
		}
	}
}

// Writing a bit then unpacking the value half as a read reply must
// round trip the boolean.
func TestBitWriteReadRoundTrip(t *testing.T) {
	addr := mustParse(t, "B3/20")
	for _, v := range []bool{true, false} {
		packed, err := PackValue(addr, v)
		if err != nil {
			t.Fatalf("PackValue(%v): %v", v, err)
		}
		got, err := UnpackReply(addr, packed[2:4])
		if err != nil {
			t.Fatalf("UnpackReply: %v", err)
		}
		if got != v {
			t.Errorf("round trip = %v, want %v", got, v)
		}
	}
}

// PRE/ACC writes overwrite the whole word under a 0xFFFF mask.
func TestPackTimerPresetWrite(t *testing.T) {
	addr := mustParse(t, "T4:0.PRE")
	packed, err := PackValue(addr, int16(500))
	if err != nil {
		t.Fatalf("PackValue: %v", err)
	}
	want := []byte{0xFF, 0xFF, 0xF4, 0x01}
	if !bytes.Equal(packed, want) {
		t.Errorf("packed = % X, want % X", packed, want)
	}
}

func TestPackMultiElementArity(t *testing.T) {
	addr := mustParse(t, "N7:0{3}")

	// Shorter than the requested count is an error.
	if _, err := PackValue(addr, []int16{1, 2}); !errors.Is(err, ErrPacking) {
		t.Errorf("short slice error = %v, want ErrPacking", err)
	}

	// Non-sequence is an error.
	if _, err := PackValue(addr, int16(1)); !errors.Is(err, ErrPacking) {
		t.Errorf("scalar error = %v, want ErrPacking", err)
	}

	// Longer slices are truncated to the count.
	packed, err := PackValue(addr, []int16{1, 2, 3, 4, 5})
	if err != nil {
		t.Fatalf("PackValue: %v", err)
	}
	if len(packed) != 6 {
		t.Errorf("packed length = %d, want 6", len(packed))
	}
}

func TestPackRejectsBadValues(t *testing.T) {
	tests := []struct {
		address string
		value   interface{}
	}{
		{"N7:0", int(40000)},     // out of word range
		{"N7:0", 1.5},            // fractional
		{"N7:0", "not a number"}, // wrong type
		{"F8:0", "oops"},
		{"ST9:0", 12},
	}
	for _, tc := range tests {
		if _, err := PackValue(mustParse(t, tc.address), tc.value); !errors.Is(err, ErrPacking) {
			t.Errorf("PackValue(%s, %v) error = %v, want ErrPacking", tc.address, tc.value, err)
		}
	}
}

// JSON-decoded numbers arrive as float64 and must pack without casts.
func TestPackAcceptsJSONNumbers(t *testing.T) {
	packed, err := PackValue(mustParse(t, "N7:0"), float64(42))
	if err != nil {
		t.Fatalf("PackValue: %v", err)
	}
	if want := []byte{0x2A, 0x00}; !bytes.Equal(packed, want) {
		t.Errorf("packed = % X, want % X", packed, want)
	}
}
