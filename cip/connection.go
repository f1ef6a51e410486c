// Package cip implements the small slice of CIP needed to run PCCC
// over a connected EtherNet/IP session: logical EPaths and the
// Connection Manager Forward Open / Forward Close services.
package cip

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"
)

// Connection Manager services.
const (
	SvcForwardOpen  byte = 0x54
	SvcForwardClose byte = 0x4E

	ClassConnectionManager byte = 0x06
	InstanceConnManager    byte = 0x01
)

// Connection represents an established CIP connection.
type Connection struct {
	OTConnID     uint32 // Originator -> Target connection ID
	TOConnID     uint32 // Target -> Originator connection ID
	SerialNumber uint16 // Connection serial number (for Forward Close)
	VendorID     uint16 // Originator vendor ID
	OrigSerial   uint32 // Originator serial number

	seq uint32 // Atomic sequence counter (low 16 bits used)
}

// NextSequence returns the next sequence number for connected messaging.
func (c *Connection) NextSequence() uint16 {
	return uint16(atomic.AddUint32(&c.seq, 1))
}

// WrapConnected prefixes a 16-bit sequence number to the CIP payload.
func (c *Connection) WrapConnected(cipPayload []byte) []byte {
	s := c.NextSequence()
	out := make([]byte, 2+len(cipPayload))
	binary.LittleEndian.PutUint16(out[0:2], s)
	copy(out[2:], cipPayload)
	return out
}

// UnwrapConnected extracts the sequence and CIP response payload.
func (c *Connection) UnwrapConnected(raw []byte) (seq uint16, cipPayload []byte, err error) {
	if len(raw) < 2 {
		return 0, nil, fmt.Errorf("connected data too short: %d bytes", len(raw))
	}
	seq = binary.LittleEndian.Uint16(raw[0:2])
	return seq, raw[2:], nil
}

// ForwardOpenConfig contains parameters for establishing a connection.
type ForwardOpenConfig struct {
	OTConnectionTimeout time.Duration
	TOConnectionTimeout time.Duration

	// Max packet sizes. SLC and MicroLogix processors only speak the
	// standard Forward Open, so sizes must stay at or below 511.
	OTConnectionSize uint16
	TOConnectionSize uint16

	// Route to the target plus the message router path.
	ConnectionPath []byte

	VendorID         uint16
	OriginatorSerial uint32
}

// DefaultForwardOpenConfig returns sensible defaults for an SLC-class
// target.
func DefaultForwardOpenConfig() ForwardOpenConfig {
	return ForwardOpenConfig{
		OTConnectionTimeout: 8 * time.Second,
		TOConnectionTimeout: 8 * time.Second,
		OTConnectionSize:    504,
		TOConnectionSize:    504,
		VendorID:            0x0001, // Rockwell
		OriginatorSerial:    rand.Uint32(),
	}
}

// BuildForwardOpenRequest builds a standard Forward Open (0x54) CIP
// request. Returns the request data to wrap in CPF for SendRRData,
// plus the connection serial number needed later for Forward Close.
func BuildForwardOpenRequest(cfg ForwardOpenConfig) ([]byte, uint16, error) {
	if cfg.OTConnectionSize > 511 || cfg.TOConnectionSize > 511 {
		return nil, 0, fmt.Errorf("ForwardOpen: connection size over 511 bytes not supported")
	}

	connSerial := uint16(rand.Intn(65000))

	// Timing and parameter constants follow the values the installed
	// tooling has always sent: priority 0x0A, timeout ticks 0x0E,
	// ~2.1 second RPIs, parameter base 0x4200, transport class 3.
	const (
		otRPI          = uint32(0x00201234)
		toRPI          = uint32(0x00204001)
		connParamsBase = uint16(0x4200)
	)

	otParams := connParamsBase | cfg.OTConnectionSize
	toParams := connParamsBase | cfg.TOConnectionSize

	data := make([]byte, 0, 40+len(cfg.ConnectionPath))

	// Service and the 2-word path to the Connection Manager.
	data = append(data, SvcForwardOpen, 0x02, 0x20, ClassConnectionManager, 0x24, InstanceConnManager)

	// Priority/tick time and timeout ticks.
	data = append(data, 0x0A, 0x0E)

	// O->T connection ID (placeholder, target assigns) and T->O ID.
	data = binary.LittleEndian.AppendUint32(data, 0x20000002)
	data = binary.LittleEndian.AppendUint32(data, uint32(rand.Intn(65000)))

	// Connection serial, originator vendor and serial.
	data = binary.LittleEndian.AppendUint16(data, connSerial)
	data = binary.LittleEndian.AppendUint16(data, cfg.VendorID)
	data = binary.LittleEndian.AppendUint32(data, cfg.OriginatorSerial)

	// Timeout multiplier plus three reserved bytes.
	data = binary.LittleEndian.AppendUint32(data, 0x03)

	// O->T then T->O RPI and network connection parameters.
	data = binary.LittleEndian.AppendUint32(data, otRPI)
	data = binary.LittleEndian.AppendUint16(data, otParams)
	data = binary.LittleEndian.AppendUint32(data, toRPI)
	data = binary.LittleEndian.AppendUint16(data, toParams)

	// Transport class 3, application trigger.
	data = append(data, 0xA3)

	// Connection path, word-sized.
	path := cfg.ConnectionPath
	if len(path)%2 != 0 {
		path = append(append([]byte{}, path...), 0x00)
	}
	data = append(data, byte(len(path)/2))
	data = append(data, path...)

	return data, connSerial, nil
}

// ForwardOpenResponse contains the parsed success response.
type ForwardOpenResponse struct {
	OTConnectionID   uint32
	TOConnectionID   uint32
	ConnectionSerial uint16
	VendorID         uint16
	OriginatorSerial uint32
	OTRPI            uint32
	TORPI            uint32
}

// ParseForwardOpenResponse parses the response data that follows the
// CIP service/status header.
func ParseForwardOpenResponse(data []byte) (*ForwardOpenResponse, error) {
	if len(data) < 26 {
		return nil, fmt.Errorf("Forward Open response too short: %d bytes", len(data))
	}

	return &ForwardOpenResponse{
		OTConnectionID:   binary.LittleEndian.Uint32(data[0:4]),
		TOConnectionID:   binary.LittleEndian.Uint32(data[4:8]),
		ConnectionSerial: binary.LittleEndian.Uint16(data[8:10]),
		VendorID:         binary.LittleEndian.Uint16(data[10:12]),
		OriginatorSerial: binary.LittleEndian.Uint32(data[12:16]),
		OTRPI:            binary.LittleEndian.Uint32(data[16:20]),
		TORPI:            binary.LittleEndian.Uint32(data[20:24]),
	}, nil
}

// BuildForwardCloseRequest builds a Forward Close (0x4E) CIP request
// for an established connection.
func BuildForwardCloseRequest(conn *Connection, connectionPath []byte) ([]byte, error) {
	if conn == nil {
		return nil, fmt.Errorf("ForwardClose: nil connection")
	}

	cmPath, err := EPath().Class(ClassConnectionManager).Instance(InstanceConnManager).Build()
	if err != nil {
		return nil, fmt.Errorf("ForwardClose: %w", err)
	}

	data := make([]byte, 0, 16+len(connectionPath))

	// Priority/tick time and timeout ticks.
	data = append(data, 0x0A, 0x01)

	data = binary.LittleEndian.AppendUint16(data, conn.SerialNumber)
	data = binary.LittleEndian.AppendUint16(data, conn.VendorID)
	data = binary.LittleEndian.AppendUint32(data, conn.OrigSerial)

	pathSizeWords := byte(len(connectionPath) / 2)
	if len(connectionPath)%2 != 0 {
		pathSizeWords++
	}
	data = append(data, pathSizeWords)
	data = append(data, 0x00) // reserved

	data = append(data, connectionPath...)
	if len(connectionPath)%2 != 0 {
		data = append(data, 0x00)
	}

	reqData := make([]byte, 0, 2+len(cmPath)+len(data))
	reqData = append(reqData, SvcForwardClose)
	reqData = append(reqData, cmPath.WordLen())
	reqData = append(reqData, cmPath...)
	reqData = append(reqData, data...)

	return reqData, nil
}
