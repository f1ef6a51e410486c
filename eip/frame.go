package eip

// Encapsulation and Common Packet Format codecs per ODVA v1.4.

import (
	"encoding/binary"
	"fmt"
)

// EipEncap is the 24-byte encapsulation header plus payload.
type EipEncap struct {
	command       uint16
	length        uint16
	sessionHandle uint32
	status        uint32
	context       [8]byte
	options       uint32
	data          []byte
}

// Bytes serializes the frame. For a received frame this reconstructs
// the exact wire bytes, which is what SendUnitDataRaw hands up to the
// protocol layer.
func (m *EipEncap) Bytes() []byte {
	buf := make([]byte, 0, 24+len(m.data))
	buf = binary.LittleEndian.AppendUint16(buf, m.command)
	buf = binary.LittleEndian.AppendUint16(buf, m.length)
	buf = binary.LittleEndian.AppendUint32(buf, m.sessionHandle)
	buf = binary.LittleEndian.AppendUint32(buf, m.status)
	buf = append(buf, m.context[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, m.options)
	return append(buf, m.data...)
}

// EipCommandData is the interface-handle/timeout wrapper that carries
// a common packet inside SendRRData and SendUnitData.
type EipCommandData struct {
	interfaceHandle uint32
	timeout         uint16
	packet          []byte
}

func (r *EipCommandData) Bytes() []byte {
	raw := binary.LittleEndian.AppendUint32(nil, r.interfaceHandle)
	raw = binary.LittleEndian.AppendUint16(raw, r.timeout)
	return append(raw, r.packet...)
}

func ParseEipCommandData(raw []byte) (*EipCommandData, error) {
	if len(raw) < 8 {
		return nil, fmt.Errorf("ParseCommandData:  Raw bytes too short: Minimum 8, got %d", len(raw))
	}

	return &EipCommandData{
		interfaceHandle: binary.LittleEndian.Uint32(raw[:4]),
		timeout:         binary.LittleEndian.Uint16(raw[4:6]),
		packet:          raw[6:],
	}, nil
}

// Common Packet item type IDs.
const (
	CpfAddressNullId              uint16 = 0x00
	CpfAddressConnectionId        uint16 = 0xA1
	CpfConnectedTransportPacketId uint16 = 0xB1
	CpfUnconnectedMessageId       uint16 = 0xB2
	CpfSequencedAddressId         uint16 = 0x8002
)

// EipCommonPacket is an item-count-prefixed list of address and data
// items.
type EipCommonPacket struct {
	Items []EipCommonPacketItem
}

type EipCommonPacketItem struct {
	TypeId uint16
	Length uint16
	Data   []byte
}

func (p *EipCommonPacket) Bytes() []byte {
	raw := binary.LittleEndian.AppendUint16(nil, uint16(len(p.Items)))
	for _, item := range p.Items {
		raw = append(raw, item.Bytes()...)
	}
	return raw
}

func (item *EipCommonPacketItem) Bytes() []byte {
	raw := binary.LittleEndian.AppendUint16(nil, item.TypeId)
	raw = binary.LittleEndian.AppendUint16(raw, item.Length)
	return append(raw, item.Data...)
}

// ParseEipCommonPacket decodes an item list from a raw byte stream.
func ParseEipCommonPacket(raw []byte) (*EipCommonPacket, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("ParseEipCommonPacket: Raw bytes too short: Minimum 2, got %d", len(raw))
	}

	itemCount := binary.LittleEndian.Uint16(raw[:2])
	raw = raw[2:]

	if itemCount > 0 && len(raw) == 0 {
		return nil, fmt.Errorf("ParseEipCommonPacket: Item count is nonzero but no bytes remain.")
	}

	var items []EipCommonPacketItem
	for i := uint16(0); i < itemCount; i++ {
		if len(raw) < 4 {
			return nil, fmt.Errorf("ParseEipCommonPacket: truncated item header at item %d: have %d bytes", i, len(raw))
		}

		typeId := binary.LittleEndian.Uint16(raw[:2])
		length := binary.LittleEndian.Uint16(raw[2:4])

		need := int(4 + length)
		if len(raw) < need {
			return nil, fmt.Errorf("ParseEipCommonPacket: insufficient data for item %d: need %d bytes, have %d", i, need, len(raw))
		}

		items = append(items, EipCommonPacketItem{TypeId: typeId, Length: length, Data: raw[4:need]})
		raw = raw[need:]
	}

	return &EipCommonPacket{Items: items}, nil
}
