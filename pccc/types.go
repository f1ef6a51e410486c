// Package pccc implements the PCCC command set spoken by SLC-500 and
// MicroLogix processors, tunneled over CIP Execute-PCCC on an
// EtherNet/IP connected session.
package pccc

import "errors"

// Sentinel errors. Both are detected before any request is transmitted.
var (
	ErrAddressSyntax = errors.New("invalid data table address")
	ErrPacking       = errors.New("unable to pack value")
)

// FileType identifies an SLC data table file class (N7, B3, T4, ...).
type FileType string

const (
	FileInteger FileType = "N"
	FileBinary  FileType = "B"
	FileTimer   FileType = "T"
	FileCounter FileType = "C"
	FileStatus  FileType = "S"
	FileFloat   FileType = "F"
	FileString  FileType = "ST"
	FileASCII   FileType = "A"
	FileOutput  FileType = "O"
	FileInput   FileType = "I"
	FileLong    FileType = "L"
)

// Protocol file-type codes used in request bodies and File 0 rows.
var fileTypeCodes = map[FileType]byte{
	FileStatus:  0x84,
	FileBinary:  0x85,
	FileTimer:   0x86,
	FileCounter: 0x87,
	FileInteger: 0x89,
	FileFloat:   0x8A,
	FileOutput:  0x8B,
	FileInput:   0x8C,
	FileString:  0x8D,
	FileASCII:   0x8E,
	FileLong:    0x91,
}

// Element widths in bytes.
var fileDataSizes = map[FileType]int{
	FileInteger: 2,
	FileBinary:  2,
	FileTimer:   2,
	FileCounter: 2,
	FileStatus:  2,
	FileASCII:   2,
	FileOutput:  2,
	FileInput:   2,
	FileFloat:   4,
	FileLong:    4,
	FileString:  84,
}

// Code returns the wire code for the file type, or 0 for an unknown type.
func (ft FileType) Code() byte {
	return fileTypeCodes[ft]
}

// DataSize returns the element width in bytes, or 0 for an unknown type.
func (ft FileType) DataSize() int {
	return fileDataSizes[ft]
}

// FileTypeFromCode resolves a File 0 row code back to a file type.
func FileTypeFromCode(code byte) (FileType, bool) {
	for ft, c := range fileTypeCodes {
		if c == code {
			return ft, true
		}
	}
	return "", false
}

// Named timer/counter fields resolved to their bit index within the
// control word. PRE and ACC are whole-word sub-elements, not bits.
var ctFieldBits = map[string]int{
	"PRE": 1,
	"ACC": 2,
	"EN":  15,
	"TT":  14,
	"DN":  13,
	"CU":  15,
	"CD":  14,
	"OV":  12,
	"UN":  11,
	"UA":  10,
}

const (
	subPRE = 1
	subACC = 2
)

// TagAddress is the structured form of a data table address string.
// It is produced once per call by ParseTag and never mutated.
type TagAddress struct {
	Tag           string // canonical address with any count suffix stripped
	FileType      FileType
	FileNumber    int
	ElementNumber int
	PosNumber     int // word position within an I/O element
	SubElement    int // bit index or named T/C field code, -1 when absent
	AddressField  int // 2 = whole-word access, 3 = single-bit access
	ElementCount  int
}

// IsIO reports whether the address targets the fixed input/output files.
func (a *TagAddress) IsIO() bool {
	return a.FileType == FileInput || a.FileType == FileOutput
}

// requestPos returns the position byte sent on the wire. The parsed
// sub-element is only used to interpret the reply, never transmitted.
func (a *TagAddress) requestPos() byte {
	if a.IsIO() {
		return byte(a.PosNumber)
	}
	return 0
}
