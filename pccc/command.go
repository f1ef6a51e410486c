package pccc

import (
	"encoding/binary"
	"fmt"
)

// Wire constants. These are protocol facts and must match the
// installed controller base exactly.
const (
	svcExecutePCCC byte = 0x4B

	cmdTypedRW    byte = 0x0F
	cmdDiagnostic byte = 0x06

	fncProtectedTypedRead  byte = 0xA2
	fncProtectedTypedWrite byte = 0xAA
	fncReadDirectorySize   byte = 0xA1
	fncDiagnosticStatus    byte = 0x03

	// Offsets into the raw reply frame (encapsulation header included).
	StatusOffset = 58
	ReplyStart   = 61

	// Largest directory chunk the controller will return in one read.
	maxDirectoryChunk = 0x50

	// The read/write request size field is a single byte, so the
	// addressed data can never exceed this many bytes per request.
	maxRequestBytes = 0xFF
)

// StatusError is a non-zero status byte reported by the controller.
type StatusError struct {
	Code    byte
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("controller status 0x%02X: %s", e.Code, e.Message)
}

// Fixed PCCC remote status code table.
var statusMessages = map[byte]string{
	0x10: "Illegal command or format",
	0x20: "Host has a problem and will not communicate",
	0x30: "Remote node host is missing, disconnected, or shut down",
	0x40: "Host could not complete function due to hardware fault",
	0x50: "Addressing problem or memory protect rungs",
	0x60: "Function not allowed due to command protection selection",
	0x70: "Processor is in Program mode",
	0x80: "Compatibility mode file missing or communication zone problem",
	0x90: "Remote node cannot buffer command",
	0xA0: "Wait ACK (1775-KA buffer full)",
	0xB0: "Remote node problem due to download",
	0xC0: "Wait ACK (1775-KA buffer full)",
	0xF0: "Error code in the EXT STS byte",
}

// RequestStatus inspects the status byte of a raw reply frame. A nil
// return means the controller accepted the request.
func RequestStatus(raw []byte) error {
	if len(raw) <= StatusOffset {
		return &StatusError{Code: 0xFF, Message: "Unknown Status"}
	}
	code := raw[StatusOffset]
	if code == 0 {
		return nil
	}
	msg, ok := statusMessages[code]
	if !ok {
		msg = "Unknown Status"
	}
	return &StatusError{Code: code, Message: msg}
}

// ReplyData returns the payload portion of a raw reply frame.
func ReplyData(raw []byte) []byte {
	if len(raw) <= ReplyStart {
		return nil
	}
	return raw[ReplyStart:]
}

// msgPreamble builds the Execute-PCCC service header: service, path to
// the PCCC object, then the requester ID block carrying the session's
// vendor ID and serial number.
func msgPreamble(vendorID uint16, serial uint32) []byte {
	out := make([]byte, 0, 13)
	out = append(out, svcExecutePCCC, 0x02, 0x20, 0x67, 0x24, 0x01, 0x07)
	out = binary.LittleEndian.AppendUint16(out, vendorID)
	return binary.LittleEndian.AppendUint32(out, serial)
}

// commandHeader appends CMD, STS, TNS and FNC after the preamble.
func commandHeader(preamble []byte, cmd, fnc byte, tns uint16) []byte {
	out := append([]byte{}, preamble...)
	out = append(out, cmd, 0x00)
	out = binary.LittleEndian.AppendUint16(out, tns)
	return append(out, fnc)
}

// buildReadRequest encodes a protected typed logical read of the
// addressed element(s).
func buildReadRequest(preamble []byte, tns uint16, addr *TagAddress) []byte {
	out := commandHeader(preamble, cmdTypedRW, fncProtectedTypedRead, tns)
	out = append(out, byte(addr.FileType.DataSize()*addr.ElementCount))
	out = append(out, byte(addr.FileNumber), addr.FileType.Code())
	return append(out, byte(addr.ElementNumber), addr.requestPos())
}

// buildWriteRequest encodes a protected typed logical write. The
// byte-size field always describes the addressed elements; bit writes
// carry a 4-byte mask/value payload behind a 2-byte size, exactly as
// the controllers expect.
func buildWriteRequest(preamble []byte, tns uint16, addr *TagAddress, packed []byte) []byte {
	out := commandHeader(preamble, cmdTypedRW, fncProtectedTypedWrite, tns)
	out = append(out, byte(addr.FileType.DataSize()*addr.ElementCount))
	out = append(out, byte(addr.FileNumber), addr.FileType.Code())
	out = append(out, byte(addr.ElementNumber), addr.requestPos())
	return append(out, packed...)
}

// buildDiagnosticStatusRequest encodes the processor-type query.
func buildDiagnosticStatusRequest(preamble []byte, tns uint16) []byte {
	return commandHeader(preamble, cmdDiagnostic, fncDiagnosticStatus, tns)
}

// buildDirectorySizeRequest asks for the byte length of File 0. The
// type and element codes vary by processor model.
func buildDirectorySizeRequest(preamble []byte, tns uint16, typeCode, elemCode byte) []byte {
	out := commandHeader(preamble, cmdTypedRW, fncReadDirectorySize, tns)
	return append(out, 0x04, 0x00, typeCode, elemCode)
}

// buildDirectoryChunkRequest reads a slice of File 0 at a word offset.
// Offsets below 256 are encoded as a zero marker plus one byte; larger
// offsets as a 0xFF marker plus a little-endian word. The controller
// uses the marker to select the field width.
func buildDirectoryChunkRequest(preamble []byte, tns uint16, size byte, typeCode byte, offset int) []byte {
	out := commandHeader(preamble, cmdTypedRW, fncProtectedTypedRead, tns)
	out = append(out, size, 0x00, typeCode)
	if offset < 256 {
		return append(out, 0x00, byte(offset))
	}
	out = append(out, 0xFF)
	return binary.LittleEndian.AppendUint16(out, uint16(offset))
}
