package driver

import "slclink/config"

// TagValue is a unified wrapper that holds one polled tag value.
// It stores the pre-computed Go value and type information for display.
type TagValue struct {
	Name     string      // Tag name or data table address
	FileType string      // Data table file type ("N", "F", "B", ...)
	Family   string      // PLC family ("slc500", "micrologix", "plc5")
	Value    interface{} // Pre-computed Go value
	Count    int         // Number of elements (1 for scalar, >1 for array)
	Error    error       // Per-tag error (nil if successful)
}

// TagRequest represents a read request.
type TagRequest struct {
	Name string // Data table address
}

// FileEntry describes one data table file discovered from the
// processor's file directory.
type FileEntry struct {
	Name     string // File name, e.g. "N7" or "ST12"
	FileType string // Type letter(s)
	Elements int    // Number of elements in the file
	Length   int    // File length in bytes
	Writable bool   // Whether elements of this file accept writes
}

// DeviceInfo contains information about the connected PLC.
type DeviceInfo struct {
	Family      config.PLCFamily // PLC family
	Vendor      string           // Vendor name
	Model       string           // Processor catalog string
	Description string           // Additional description
}
