package pccc

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"slclink/cip"
	"slclink/eip"
	"slclink/logging"
)

// Path from the end of the route to the message router object the
// Execute-PCCC service lives behind.
var messageRouterPath = []byte{0x20, 0x02, 0x24, 0x01}

// defaultRoutePath crosses the backplane to slot 0, which covers the
// common single-rack SLC and the MicroLogix Ethernet units.
var defaultRoutePath = []byte{0x01, 0x00}

// Connection is a connected EtherNet/IP session to one processor. It
// registers a session, forward-opens to the message router and then
// satisfies the Messenger contract for the PCCC client.
type Connection struct {
	ec   *eip.EipClient
	conn *cip.Connection

	addr     string
	route    []byte
	timeout  time.Duration
	vendorID uint16
	serial   uint32
	tns      uint32
}

// Option adjusts connection parameters before dialing.
type Option func(*Connection)

// WithTimeout sets the TCP dial and per-transaction deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Connection) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRoutePath replaces the default backplane/slot-0 route.
func WithRoutePath(route []byte) Option {
	return func(c *Connection) {
		if len(route) > 0 {
			c.route = route
		}
	}
}

// WithSlot routes across the backplane to the given processor slot.
func WithSlot(slot byte) Option {
	return func(c *Connection) {
		c.route = []byte{0x01, slot}
	}
}

// ParseRoutePath parses a comma-separated route like "1,0" into raw
// path bytes. An empty string yields the default route.
func ParseRoutePath(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return append([]byte{}, defaultRoutePath...), nil
	}
	parts := strings.Split(s, ",")
	route := make([]byte, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			return nil, fmt.Errorf("ParseRoutePath: bad segment %q in %q", p, s)
		}
		route = append(route, byte(n))
	}
	return route, nil
}

// Connect dials the processor at address (host or host:port), registers
// an EtherNet/IP session and forward-opens a connected session to the
// message router.
func Connect(address string, opts ...Option) (*Connection, error) {
	c := &Connection{
		addr:     address,
		route:    append([]byte{}, defaultRoutePath...),
		timeout:  5 * time.Second,
		vendorID: 0x0001,
		serial:   rand.Uint32(),
	}
	for _, opt := range opts {
		opt(c)
	}

	host, port := splitHostPort(address)
	c.ec = eip.NewEipClientWithPort(host, port)
	_ = c.ec.SetTimeout(c.timeout)

	if err := c.ec.Connect(); err != nil {
		return nil, fmt.Errorf("Connect: %w", err)
	}

	if err := c.forwardOpen(); err != nil {
		_ = c.ec.Disconnect()
		return nil, fmt.Errorf("Connect: %w", err)
	}

	logging.DebugLog("PCCC", "CONNECT %s: connected session established (O->T 0x%08X)", address, c.conn.OTConnID)
	return c, nil
}

// Dial connects and returns a ready PCCC client in one step.
func Dial(address string, opts ...Option) (*Client, error) {
	conn, err := Connect(address, opts...)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

func splitHostPort(address string) (string, uint16) {
	host, portStr, found := strings.Cut(address, ":")
	if !found {
		return address, 44818
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return address, 44818
	}
	return host, uint16(port)
}

// connectionPath is the full forward-open path: route segments followed
// by the message router class/instance.
func (c *Connection) connectionPath() []byte {
	return append(append([]byte{}, c.route...), messageRouterPath...)
}

// forwardOpen negotiates the connected session. These processors do
// not support large packets, so only the standard Forward Open is used.
func (c *Connection) forwardOpen() error {
	cfg := cip.ForwardOpenConfig{
		OTConnectionTimeout: c.timeout,
		TOConnectionTimeout: c.timeout,
		OTConnectionSize:    504,
		TOConnectionSize:    504,
		ConnectionPath:      c.connectionPath(),
		VendorID:            c.vendorID,
		OriginatorSerial:    c.serial,
	}

	reqData, connSerial, err := cip.BuildForwardOpenRequest(cfg)
	if err != nil {
		return fmt.Errorf("ForwardOpen: %w", err)
	}

	resp, err := c.sendUnconnected(reqData)
	if err != nil {
		return fmt.Errorf("ForwardOpen: %w", err)
	}
	if len(resp) < 4 {
		return fmt.Errorf("ForwardOpen: short CIP response: %d bytes", len(resp))
	}
	if status := resp[2]; status != 0 {
		return fmt.Errorf("ForwardOpen: CIP status 0x%02X", status)
	}

	fo, err := cip.ParseForwardOpenResponse(resp[4:])
	if err != nil {
		return fmt.Errorf("ForwardOpen: %w", err)
	}

	c.conn = &cip.Connection{
		OTConnID:     fo.OTConnectionID,
		TOConnID:     fo.TOConnectionID,
		SerialNumber: connSerial,
		VendorID:     c.vendorID,
		OrigSerial:   c.serial,
	}
	return nil
}

// sendUnconnected submits a CIP request via SendRRData and returns the
// CIP response bytes from the unconnected data item.
func (c *Connection) sendUnconnected(cipRequest []byte) ([]byte, error) {
	packet := eip.EipCommonPacket{
		Items: []eip.EipCommonPacketItem{
			{TypeId: eip.CpfAddressNullId, Length: 0},
			{TypeId: eip.CpfUnconnectedMessageId, Length: uint16(len(cipRequest)), Data: cipRequest},
		},
	}
	resp, err := c.ec.SendRRData(packet)
	if err != nil {
		return nil, err
	}
	for _, item := range resp.Items {
		if item.TypeId == eip.CpfUnconnectedMessageId {
			return item.Data, nil
		}
	}
	return nil, fmt.Errorf("no unconnected data item in response")
}

// SendUnitData sends one PCCC payload over the connected session and
// returns the raw reply frame, encapsulation header included, so the
// fixed status and payload offsets of the command layer apply directly.
func (c *Connection) SendUnitData(payload []byte) ([]byte, error) {
	if c == nil || c.conn == nil {
		return nil, fmt.Errorf("SendUnitData: not connected")
	}

	packet := eip.EipCommonPacket{
		Items: []eip.EipCommonPacketItem{
			{
				TypeId: eip.CpfAddressConnectionId,
				Length: 4,
				Data:   binary.LittleEndian.AppendUint32(nil, c.conn.OTConnID),
			},
			{
				TypeId: eip.CpfConnectedTransportPacketId,
				Length: uint16(2 + len(payload)),
				Data:   c.conn.WrapConnected(payload),
			},
		},
	}

	return c.ec.SendUnitDataRaw(packet)
}

// NextTNS returns the next PCCC transaction sequence number.
func (c *Connection) NextTNS() uint16 {
	return uint16(atomic.AddUint32(&c.tns, 1))
}

// VendorID returns the originator vendor ID carried in the preamble.
func (c *Connection) VendorID() uint16 {
	return c.vendorID
}

// SerialNumber returns the originator serial carried in the preamble.
func (c *Connection) SerialNumber() uint32 {
	return c.serial
}

// Addr returns the address the connection was dialed with.
func (c *Connection) Addr() string {
	if c == nil {
		return ""
	}
	return c.addr
}

// IsConnected reports whether the underlying session is open.
func (c *Connection) IsConnected() bool {
	return c != nil && c.ec.IsConnected()
}

// Keepalive sends an EtherNet/IP NOP to keep the TCP session alive.
func (c *Connection) Keepalive() error {
	if c == nil {
		return fmt.Errorf("Keepalive: not connected")
	}
	return c.ec.SendNop()
}

// Close forward-closes the connected session (best effort) and tears
// down the EtherNet/IP session.
func (c *Connection) Close() error {
	if c == nil {
		return nil
	}
	if c.conn != nil {
		if req, err := cip.BuildForwardCloseRequest(c.conn, c.connectionPath()); err == nil {
			_, _ = c.sendUnconnected(req)
		}
		c.conn = nil
	}
	return c.ec.Disconnect()
}
