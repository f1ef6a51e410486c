package eip

import (
	"bytes"
	"testing"
)

// A received frame serialized back out must reproduce the wire bytes
// exactly; the PCCC layer depends on fixed offsets from the frame
// start.
func TestEncapBytesRoundTrip(t *testing.T) {
	m := EipEncap{
		command:       SendUnitDataCmd,
		length:        6,
		sessionHandle: 0xDEADBEEF,
		status:        0,
		context:       [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
		options:       0,
		data:          []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
	}

	raw := m.Bytes()
	if len(raw) != 30 {
		t.Fatalf("frame length = %d, want 30", len(raw))
	}
	if raw[0] != 0x70 || raw[1] != 0x00 {
		t.Errorf("command bytes = % X", raw[:2])
	}
	if !bytes.Equal(raw[24:], m.data) {
		t.Errorf("payload = % X", raw[24:])
	}
}

func TestCommonPacketRoundTrip(t *testing.T) {
	p := EipCommonPacket{
		Items: []EipCommonPacketItem{
			{TypeId: CpfAddressConnectionId, Length: 4, Data: []byte{0x01, 0x02, 0x03, 0x04}},
			{TypeId: CpfConnectedTransportPacketId, Length: 3, Data: []byte{0xAA, 0xBB, 0xCC}},
		},
	}

	parsed, err := ParseEipCommonPacket(p.Bytes())
	if err != nil {
		t.Fatalf("ParseEipCommonPacket: %v", err)
	}
	if len(parsed.Items) != 2 {
		t.Fatalf("got %d items, want 2", len(parsed.Items))
	}
	for i := range p.Items {
		if parsed.Items[i].TypeId != p.Items[i].TypeId {
			t.Errorf("item %d type = 0x%X", i, parsed.Items[i].TypeId)
		}
		if !bytes.Equal(parsed.Items[i].Data, p.Items[i].Data) {
			t.Errorf("item %d data = % X", i, parsed.Items[i].Data)
		}
	}
}

func TestCommonPacketParseErrors(t *testing.T) {
	cases := [][]byte{
		{},
		{0x01},
		{0x01, 0x00},             // one item promised, nothing follows
		{0x01, 0x00, 0xB2, 0x00}, // truncated item header
		{0x01, 0x00, 0xB2, 0x00, 0x05, 0x00, 0x01}, // short item data
	}
	for _, raw := range cases {
		if _, err := ParseEipCommonPacket(raw); err == nil {
			t.Errorf("ParseEipCommonPacket(% X): want error", raw)
		}
	}
}
