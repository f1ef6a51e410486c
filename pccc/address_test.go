package pccc

import (
	"errors"
	"testing"
)

func TestParseTag(t *testing.T) {
	tests := []struct {
		address string
		want    TagAddress
	}{
		{"N7:0", TagAddress{Tag: "N7:0", FileType: FileInteger, FileNumber: 7, ElementNumber: 0, SubElement: -1, AddressField: 2, ElementCount: 1}},
		{"N7:12{10}", TagAddress{Tag: "N7:12", FileType: FileInteger, FileNumber: 7, ElementNumber: 12, SubElement: -1, AddressField: 2, ElementCount: 10}},
		{"F8:2", TagAddress{Tag: "F8:2", FileType: FileFloat, FileNumber: 8, ElementNumber: 2, SubElement: -1, AddressField: 2, ElementCount: 1}},
		{"L9:1", TagAddress{Tag: "L9:1", FileType: FileLong, FileNumber: 9, ElementNumber: 1, SubElement: -1, AddressField: 2, ElementCount: 1}},
		{"B3:5/12", TagAddress{Tag: "B3:5/12", FileType: FileBinary, FileNumber: 3, ElementNumber: 5, SubElement: 12, AddressField: 3, ElementCount: 1}},
		{"n7:0", TagAddress{Tag: "n7:0", FileType: FileInteger, FileNumber: 7, ElementNumber: 0, SubElement: -1, AddressField: 2, ElementCount: 1}},
		{"T4:0.ACC", TagAddress{Tag: "T4:0.ACC", FileType: FileTimer, FileNumber: 4, ElementNumber: 0, SubElement: 2, AddressField: 3, ElementCount: 1}},
		{"T4:0.PRE", TagAddress{Tag: "T4:0.PRE", FileType: FileTimer, FileNumber: 4, ElementNumber: 0, SubElement: 1, AddressField: 3, ElementCount: 1}},
		{"T4:3.DN", TagAddress{Tag: "T4:3.DN", FileType: FileTimer, FileNumber: 4, ElementNumber: 3, SubElement: 13, AddressField: 3, ElementCount: 1}},
		{"C5:1.CU", TagAddress{Tag: "C5:1.CU", FileType: FileCounter, FileNumber: 5, ElementNumber: 1, SubElement: 15, AddressField: 3, ElementCount: 1}},
		{"I:1.0", TagAddress{Tag: "I:1.0", FileType: FileInput, FileNumber: 0, ElementNumber: 1, PosNumber: 0, SubElement: -1, AddressField: 2, ElementCount: 1}},
		{"O:3.1/2", TagAddress{Tag: "O:3.1/2", FileType: FileOutput, FileNumber: 0, ElementNumber: 3, PosNumber: 1, SubElement: 2, AddressField: 3, ElementCount: 1}},
		{"ST9:0", TagAddress{Tag: "ST9:0", FileType: FileString, FileNumber: 9, ElementNumber: 0, SubElement: -1, AddressField: 2, ElementCount: 1}},
		{"ST9:0{2}", TagAddress{Tag: "ST9:0", FileType: FileString, FileNumber: 9, ElementNumber: 0, SubElement: -1, AddressField: 2, ElementCount: 2}},
		// string counts are limited to 1 or 2; a {3} token is not part
		// of the match and is ignored
		{"ST9:0{3}", TagAddress{Tag: "ST9:0", FileType: FileString, FileNumber: 9, ElementNumber: 0, SubElement: -1, AddressField: 2, ElementCount: 1}},
		{"A10:5{20}", TagAddress{Tag: "A10:5", FileType: FileASCII, FileNumber: 10, ElementNumber: 5, SubElement: -1, AddressField: 2, ElementCount: 20}},
		{"S:1", TagAddress{Tag: "S:1", FileType: FileStatus, FileNumber: 2, ElementNumber: 1, SubElement: -1, AddressField: 2, ElementCount: 1}},
		{"S:1/15", TagAddress{Tag: "S:1/15", FileType: FileStatus, FileNumber: 2, ElementNumber: 1, SubElement: 15, AddressField: 3, ElementCount: 1}},
		// 20 = 1*16 + 4
		{"B3/20", TagAddress{Tag: "B3/20", FileType: FileBinary, FileNumber: 3, ElementNumber: 1, SubElement: 4, AddressField: 3, ElementCount: 1}},
		{"B3/0", TagAddress{Tag: "B3/0", FileType: FileBinary, FileNumber: 3, ElementNumber: 0, SubElement: 0, AddressField: 3, ElementCount: 1}},
		{"B3/4095", TagAddress{Tag: "B3/4095", FileType: FileBinary, FileNumber: 3, ElementNumber: 255, SubElement: 15, AddressField: 3, ElementCount: 1}},
	}

	for _, tc := range tests {
		t.Run(tc.address, func(t *testing.T) {
			got, err := ParseTag(tc.address)
			if err != nil {
				t.Fatalf("ParseTag(%q): %v", tc.address, err)
			}
			if *got != tc.want {
				t.Errorf("ParseTag(%q) = %+v, want %+v", tc.address, *got, tc.want)
			}
		})
	}
}

func TestParseTagRejects(t *testing.T) {
	bad := []string{
		"",
		"hello",
		"N:0",       // missing file number
		"N256:0",    // file number out of range
		"N7:300",    // element out of range
		"N7:0/16",   // bit out of range
		"N7:0{0}",   // zero count
		"T0:0.ACC",  // timer file 0 out of range
		"T4:0.XYZ",  // unknown named field
		"B3/4096",   // bit offset out of range
		"I:300.0",   // element out of range
		"S:1/16",    // bit out of range
		"Q2:0",      // no such file class
	}

	for _, address := range bad {
		t.Run(address, func(t *testing.T) {
			got, err := ParseTag(address)
			if err == nil {
				t.Fatalf("ParseTag(%q) = %+v, want error", address, got)
			}
			if !errors.Is(err, ErrAddressSyntax) {
				t.Errorf("ParseTag(%q) error = %v, want ErrAddressSyntax", address, err)
			}
		})
	}
}

// The request size field is one byte, so DataSize*ElementCount above
// 255 must be rejected up front instead of wrapping on the wire.
func TestParseTagRequestSizeCap(t *testing.T) {
	ok := []string{
		"N7:0{127}",  // 254 bytes
		"L9:0{63}",   // 252 bytes
		"F8:0{63}",   // 252 bytes
		"A10:5{127}", // 254 bytes
		"ST9:0{2}",   // 168 bytes
	}
	for _, address := range ok {
		if _, err := ParseTag(address); err != nil {
			t.Errorf("ParseTag(%q): %v", address, err)
		}
	}

	bad := []string{
		"N7:0{128}",  // 256 bytes
		"L9:0{64}",   // 256 bytes
		"F8:0{64}",   // 256 bytes
		"A10:5{200}", // 400 bytes
		"B3:0{130}",  // 260 bytes
	}
	for _, address := range bad {
		t.Run(address, func(t *testing.T) {
			got, err := ParseTag(address)
			if err == nil {
				t.Fatalf("ParseTag(%q) = %+v, want error", address, got)
			}
			if !errors.Is(err, ErrAddressSyntax) {
				t.Errorf("ParseTag(%q) error = %v, want ErrAddressSyntax", address, err)
			}
		})
	}
}

// The canonical tag string must parse back to the same address, with
// the count reset to the default since the count token is stripped.
func TestParseTagCanonicalIdempotent(t *testing.T) {
	for _, address := range []string{"N7:0", "N7:0{10}", "B3/20{4}", "T4:0.ACC", "O:3.1/2", "ST9:0{2}"} {
		first, err := ParseTag(address)
		if err != nil {
			t.Fatalf("ParseTag(%q): %v", address, err)
		}
		second, err := ParseTag(first.Tag)
		if err != nil {
			t.Fatalf("ParseTag(%q): %v", first.Tag, err)
		}
		if second.Tag != first.Tag {
			t.Errorf("canonical tag not stable: %q -> %q", first.Tag, second.Tag)
		}
		first.ElementCount = 1
		if *second != *first {
			t.Errorf("re-parse of %q = %+v, want %+v", first.Tag, *second, *first)
		}
	}
}

// An address that matches a rule's pattern but fails its bounds must
// fall through to later rules rather than failing outright.
func TestParseTagBoundsFallThrough(t *testing.T) {
	// B3:400/2 fails the word-file rule on the element bound, but the
	// trailing "3:400" never matches the absolute-bit rule either, so
	// the whole parse fails cleanly.
	if got, err := ParseTag("B3:400/2"); err == nil {
		t.Fatalf("ParseTag(B3:400/2) = %+v, want error", got)
	}
}
