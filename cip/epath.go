package cip

import (
	"encoding/binary"
	"fmt"
)

type LogicalType byte
type LogicalFormat byte
type SegmentType byte

const (
	CipPortSegment    SegmentType = 0b000
	CipLogicalSegment SegmentType = 0b001

	CipLogicalTypeClassId     LogicalType = 0b000
	CipLogicalTypeInstanceId  LogicalType = 0b001
	CipLogicalTypeAttributeId LogicalType = 0b100

	CipLogicalFormat8bit  LogicalFormat = 0b00
	CipLogicalFormat16bit LogicalFormat = 0b01
	CipLogicalFormat32bit LogicalFormat = 0b10
)

// EPath_t is an encoded path used in CIP requests.
type EPath_t []byte

func (p *EPath_t) WordLen() byte {
	return byte(len([]byte(*p)) / 2)
}

// PathBuilder assembles an EPath fluently. Errors are collected and
// reported once at Build.
type PathBuilder struct {
	err    error
	epath  EPath_t
	padded bool
}

// EPath starts a padded path, the form used inside explicit messages.
func EPath() *PathBuilder {
	return &PathBuilder{padded: true}
}

func (b *PathBuilder) add(p EPath_t, err error) *PathBuilder {
	if b.err != nil {
		return b
	}
	if err != nil {
		b.err = err
		return b
	}
	b.epath = append(b.epath, p...)
	return b
}

func (b *PathBuilder) Class(id byte) *PathBuilder {
	return b.add(logicalSegment(CipLogicalTypeClassId, CipLogicalFormat8bit, []byte{id}, b.padded))
}

func (b *PathBuilder) Instance(id byte) *PathBuilder {
	return b.add(logicalSegment(CipLogicalTypeInstanceId, CipLogicalFormat8bit, []byte{id}, b.padded))
}

func (b *PathBuilder) Instance16(id uint16) *PathBuilder {
	return b.add(logicalSegment(CipLogicalTypeInstanceId, CipLogicalFormat16bit, binary.LittleEndian.AppendUint16(nil, id), b.padded))
}

func (b *PathBuilder) Attribute(id byte) *PathBuilder {
	return b.add(logicalSegment(CipLogicalTypeAttributeId, CipLogicalFormat8bit, []byte{id}, b.padded))
}

func (b *PathBuilder) Build() (EPath_t, error) {
	if b.err != nil {
		return nil, b.err
	}

	// Return a copy so the builder can keep appending safely.
	out := append(EPath_t{}, b.epath...)

	if b.padded && len(out)%2 != 0 {
		out = append(out, 0x00)
	}
	return out, b.err
}

// logicalSegment encodes one logical segment. Padded 16- and 32-bit
// formats require an internal pad byte before the value per ODVA 1.4,
// so padding must be decided at creation time.
func logicalSegment(logicalType LogicalType, logicalFormat LogicalFormat, value []byte, padded bool) (EPath_t, error) {
	switch logicalFormat {
	case CipLogicalFormat8bit:
		if len(value) != 1 {
			return nil, fmt.Errorf("LogicalSegment: 8-bit format requires 1 byte, got %d", len(value))
		}
	case CipLogicalFormat16bit:
		if len(value) != 2 {
			return nil, fmt.Errorf("LogicalSegment: 16-bit format requires 2 bytes, got %d", len(value))
		}
	case CipLogicalFormat32bit:
		if len(value) != 4 {
			return nil, fmt.Errorf("LogicalSegment: 32-bit format requires 4 bytes, got %d", len(value))
		}
	default:
		return nil, fmt.Errorf("LogicalSegment: unsupported logical format %v", logicalFormat)
	}

	capHint := 1 + len(value)
	if padded && logicalFormat != CipLogicalFormat8bit {
		capHint++
	}
	out := make([]byte, 1, capHint)

	out[0] |= byte(CipLogicalSegment&0b111) << 5
	out[0] |= (byte(logicalType) & 0b111) << 2
	out[0] |= byte(logicalFormat) & 0b11

	if padded && logicalFormat != CipLogicalFormat8bit {
		out = append(out, 0x00)
	}

	out = append(out, value...)

	return EPath_t(out), nil
}
