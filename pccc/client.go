package pccc

import (
	"fmt"
	"strings"

	"slclink/logging"
)

// Messenger is the transport collaborator the driver runs over: submit
// an opaque payload as connected unit data and get the raw reply frame
// back, plus the per-connection session identity and sequence counter.
type Messenger interface {
	SendUnitData(payload []byte) ([]byte, error)
	NextTNS() uint16
	VendorID() uint16
	SerialNumber() uint32
}

// Tag is the per-address result of a read or write. Error is nil on
// success; controller-reported failures never cross the API as a
// returned error.
type Tag struct {
	Name     string
	Value    interface{}
	FileType FileType
	Error    error
}

// WritePair couples one address with the value to write to it.
type WritePair struct {
	Address string
	Value   interface{}
}

// Client drives the PCCC command set over a Messenger. Requests are
// strictly sequential; the messenger serializes concurrent callers.
type Client struct {
	m Messenger
}

// NewClient wraps an existing transport. Use Dial to get a client over
// a real EtherNet/IP connection.
func NewClient(m Messenger) *Client {
	return &Client{m: m}
}

func (c *Client) preamble() []byte {
	return msgPreamble(c.m.VendorID(), c.m.SerialNumber())
}

// Close releases the underlying transport if it owns one.
func (c *Client) Close() error {
	if c == nil || c.m == nil {
		return nil
	}
	if closer, ok := c.m.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Read reads one or more data table addresses, one round trip each,
// returning results in input order. A malformed address fails the whole
// call before any request is transmitted.
func (c *Client) Read(addresses ...string) ([]*Tag, error) {
	if c == nil || c.m == nil {
		return nil, fmt.Errorf("Read: no transport")
	}

	parsed := make([]*TagAddress, len(addresses))
	for i, a := range addresses {
		ta, err := ParseTag(a)
		if err != nil {
			return nil, fmt.Errorf("Read: %w", err)
		}
		parsed[i] = ta
	}

	tags := make([]*Tag, 0, len(parsed))
	for _, addr := range parsed {
		tag, err := c.readOne(addr)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// readOne performs a single round trip. Transport failures propagate
// as errors; controller status failures come back inside the tag.
func (c *Client) readOne(addr *TagAddress) (*Tag, error) {
	tag := &Tag{Name: addr.Tag, FileType: addr.FileType}

	req := buildReadRequest(c.preamble(), c.m.NextTNS(), addr)
	raw, err := c.m.SendUnitData(req)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", addr.Tag, err)
	}
	if err := RequestStatus(raw); err != nil {
		logging.DebugLog("PCCC", "READ %s: %v", addr.Tag, err)
		tag.Error = err
		return tag, nil
	}

	value, err := UnpackReply(addr, ReplyData(raw))
	if err != nil {
		tag.Error = err
		return tag, nil
	}
	tag.Value = value
	return tag, nil
}

// Write writes one or more address/value pairs, one round trip each.
// Address and packing errors fail the whole call before any request is
// transmitted; controller status errors come back as failed tags.
func (c *Client) Write(pairs ...WritePair) ([]*Tag, error) {
	if c == nil || c.m == nil {
		return nil, fmt.Errorf("Write: no transport")
	}

	type pendingWrite struct {
		addr   *TagAddress
		value  interface{}
		packed []byte
	}

	pending := make([]pendingWrite, len(pairs))
	for i, p := range pairs {
		addr, err := ParseTag(p.Address)
		if err != nil {
			return nil, fmt.Errorf("Write: %w", err)
		}
		packed, err := PackValue(addr, p.Value)
		if err != nil {
			return nil, fmt.Errorf("Write %s: %w", addr.Tag, err)
		}
		pending[i] = pendingWrite{addr: addr, value: p.Value, packed: packed}
	}

	tags := make([]*Tag, 0, len(pending))
	for _, w := range pending {
		tag := &Tag{Name: w.addr.Tag, FileType: w.addr.FileType}

		req := buildWriteRequest(c.preamble(), c.m.NextTNS(), w.addr, w.packed)
		raw, err := c.m.SendUnitData(req)
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", w.addr.Tag, err)
		}
		if err := RequestStatus(raw); err != nil {
			logging.DebugLog("PCCC", "WRITE %s: %v", w.addr.Tag, err)
			tag.Error = err
		} else {
			tag.Value = w.value
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// GetProcessorType queries the controller's catalog string, for
// example "1747-L551" or "1763-L16BWA".
func (c *Client) GetProcessorType() (string, error) {
	if c == nil || c.m == nil {
		return "", fmt.Errorf("GetProcessorType: no transport")
	}

	req := buildDiagnosticStatusRequest(c.preamble(), c.m.NextTNS())
	raw, err := c.m.SendUnitData(req)
	if err != nil {
		return "", fmt.Errorf("GetProcessorType: %w", err)
	}
	if err := RequestStatus(raw); err != nil {
		return "", fmt.Errorf("GetProcessorType: %w", err)
	}

	payload := ReplyData(raw)
	if len(payload) < 16 {
		return "", fmt.Errorf("GetProcessorType: diagnostic payload too short: %d bytes", len(payload))
	}
	return strings.TrimSpace(string(payload[5:16])), nil
}
