package pccc

import (
	"encoding/binary"
	"fmt"

	"slclink/logging"
)

// FileInfo describes one data file discovered in the controller's
// File 0 directory.
type FileInfo struct {
	Elements int `json:"elements"`
	Length   int `json:"length"`
}

// directoryCodes returns the (file type code, element code) pair used
// by the directory size query for the given processor catalog string.
// Only an exact "5/02" answers to a different pair; every other model,
// the MicroLogix lines included, takes the common SLC 5/03+ codes.
func directoryCodes(processorType string) (typeCode, elemCode byte) {
	if processorType == "5/02" {
		return 0x00, 0x23
	}
	return 0x01, 0x23
}

// directoryLayout returns where the per-file table starts inside the
// assembled File 0 buffer and how many bytes separate its rows.
func directoryLayout(processorType string) (startOffset, rowSize int) {
	switch prefix(processorType, 4) {
	case "5/02", "1761":
		return 93, 8
	case "1762", "1763", "1764":
		return 103, 10
	}
	return 79, 10
}

func prefix(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}

// Rows carrying this code mark a deleted or reserved file slot. The
// slot still occupies a file number, so the index must advance past it.
const skippedSlotMarker = 0x81

// GetFileDirectory retrieves and parses the controller's File 0,
// returning a map keyed by synthesized file name ("N7", "B3", ...).
// Unlike Read and Write, any failed sub-query is a hard error: partial
// directory data is discarded.
func (c *Client) GetFileDirectory() (map[string]FileInfo, error) {
	if c == nil || c.m == nil {
		return nil, fmt.Errorf("GetFileDirectory: no transport")
	}

	processorType, err := c.GetProcessorType()
	if err != nil {
		return nil, fmt.Errorf("GetFileDirectory: %w", err)
	}

	typeCode, elemCode := directoryCodes(processorType)

	size, err := c.directorySize(typeCode, elemCode)
	if err != nil {
		return nil, fmt.Errorf("GetFileDirectory: %w", err)
	}
	logging.DebugLog("PCCC", "DIRECTORY %s: File 0 is %d bytes", processorType, size)

	file0, err := c.readFile0(typeCode, size)
	if err != nil {
		return nil, fmt.Errorf("GetFileDirectory: %w", err)
	}

	return parseFile0(processorType, file0), nil
}

// directorySize queries the total byte length of File 0.
func (c *Client) directorySize(typeCode, elemCode byte) (int, error) {
	req := buildDirectorySizeRequest(c.preamble(), c.m.NextTNS(), typeCode, elemCode)
	raw, err := c.m.SendUnitData(req)
	if err != nil {
		return 0, fmt.Errorf("directory size query: %w", err)
	}
	if err := RequestStatus(raw); err != nil {
		return 0, fmt.Errorf("directory size query: %w", err)
	}

	payload := ReplyData(raw)
	if len(payload) < 2 {
		return 0, fmt.Errorf("directory size query: short payload: %d bytes", len(payload))
	}
	return int(binary.LittleEndian.Uint16(payload[:2])), nil
}

// readFile0 reads File 0 in chunks of up to 0x50 bytes. The read
// offset is counted in words, so each chunk advances it by half the
// returned byte count.
func (c *Client) readFile0(typeCode byte, size int) ([]byte, error) {
	file0 := make([]byte, 0, size)
	offset := 0

	for len(file0) < size {
		chunk := size - len(file0)
		if chunk > maxDirectoryChunk {
			chunk = maxDirectoryChunk
		}

		req := buildDirectoryChunkRequest(c.preamble(), c.m.NextTNS(), byte(chunk), typeCode, offset)
		raw, err := c.m.SendUnitData(req)
		if err != nil {
			return nil, fmt.Errorf("File 0 read at word %d: %w", offset, err)
		}
		if err := RequestStatus(raw); err != nil {
			return nil, fmt.Errorf("File 0 read at word %d: %w", offset, err)
		}

		data := ReplyData(raw)
		if len(data) == 0 {
			return nil, fmt.Errorf("File 0 read at word %d: empty chunk", offset)
		}
		file0 = append(file0, data...)
		offset += len(data) / 2
	}
	return file0, nil
}

// parseFile0 walks the per-file table inside the assembled buffer. Each
// row holds a 1-byte type code and a 2-byte length; the synthesized
// file index advances for every known type and for skipped slots so
// numbering stays aligned with the controller's own across gaps.
func parseFile0(processorType string, data []byte) map[string]FileInfo {
	startOffset, rowSize := directoryLayout(processorType)

	dir := make(map[string]FileInfo)
	index := 0
	for pos := startOffset; pos+3 <= len(data); pos += rowSize {
		code := data[pos]
		if ft, ok := FileTypeFromCode(code); ok {
			length := int(binary.LittleEndian.Uint16(data[pos+1 : pos+3]))
			dir[fmt.Sprintf("%s%d", ft, index)] = FileInfo{
				Elements: length / ft.DataSize(),
				Length:   length,
			}
			index++
		} else if code == skippedSlotMarker {
			index++
		}
	}
	return dir
}
