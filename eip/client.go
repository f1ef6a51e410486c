// Package eip implements the EtherNet/IP encapsulation layer: session
// registration, unconnected (SendRRData) and connected (SendUnitData)
// explicit messaging over TCP.
package eip

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"slclink/logging"
)

// Encapsulation commands.
const (
	NOP               uint16 = 0x00
	RegisterSession   uint16 = 0x65
	UnRegisterSession uint16 = 0x66
	SendRRDataCmd     uint16 = 0x6F
	SendUnitDataCmd   uint16 = 0x70
)

// EipClient holds one TCP connection and its registered session.
// All transactions are serialized on the internal mutex, so a single
// client is safe to share across goroutines.
type EipClient struct {
	ipAddr  string
	port    uint16
	conn    net.Conn
	session uint32
	timeout time.Duration
	mu      sync.Mutex
}

// NewEipClient targets the default EtherNet/IP port 44818.
func NewEipClient(ipaddr string) *EipClient {
	return NewEipClientWithPort(ipaddr, 44818)
}

// NewEipClientWithPort allows a custom port.
func NewEipClientWithPort(ipaddr string, port uint16) *EipClient {
	return &EipClient{
		ipAddr:  ipaddr,
		port:    port,
		timeout: time.Second * 5,
	}
}

func (e *EipClient) GetAddr() string {
	if e == nil {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ipAddr
}

func (e *EipClient) GetTimeout() time.Duration {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeout
}

func (e *EipClient) GetSession() uint32 {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

func (e *EipClient) SetTimeout(dur time.Duration) error {
	if e == nil {
		return fmt.Errorf("SetTimeout: nil client")
	}
	e.mu.Lock()
	e.timeout = dur
	e.mu.Unlock()
	return nil
}

func (e *EipClient) IsConnected() bool {
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil
}

// Connect dials the target and registers a session.
func (e *EipClient) Connect() error {
	if e == nil {
		return fmt.Errorf("Connect: Received nil client.")
	}

	e.mu.Lock()
	connString := e.ipAddr + ":" + strconv.Itoa(int(e.port))
	timeout := e.timeout
	e.mu.Unlock()

	logging.DebugConnect("EIP", connString)

	d := net.Dialer{Timeout: timeout}
	conn, err := d.Dial("tcp", connString)
	if err != nil {
		logging.DebugConnectError("EIP", connString, err)
		return fmt.Errorf("Failed in Connect: %w", err)
	}

	logging.DebugLog("EIP", "TCP connection established to %s", connString)

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(30 * time.Second)
	}

	var oldConn net.Conn

	e.mu.Lock()
	oldConn = e.conn
	oldSession := e.session

	e.conn = conn
	e.session = 0

	session, err := e.registerSession()
	if err != nil {
		e.conn = oldConn
		e.session = oldSession
		e.mu.Unlock()
		_ = conn.Close()
		logging.DebugError("EIP", "RegisterSession", err)
		return fmt.Errorf("Connect: failed to register session. %w", err)
	}

	e.session = session
	e.mu.Unlock()

	logging.DebugConnectSuccess("EIP", connString, fmt.Sprintf("session=0x%08X", session))

	if oldConn != nil {
		_ = oldConn.Close()
	}
	return nil
}

// Disconnect unregisters the session (best effort) and closes the
// socket. Nil clients are a no-operation.
func (e *EipClient) Disconnect() error {
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		e.session = 0
		return nil
	}

	logging.DebugDisconnect("EIP", e.ipAddr, "client disconnect requested")

	if e.session != 0 {
		e.unRegisterSession()
		return nil
	}

	err := e.conn.Close()
	e.conn = nil
	e.session = 0

	return err
}

func (e *EipClient) registerSession() (uint32, error) {
	if e == nil || e.conn == nil {
		return 0, fmt.Errorf("RegisterSession: not connected.")
	}

	msg := EipEncap{
		command: RegisterSession,
		length:  4,
		data:    []byte{1, 0, 0, 0}, // protocol version 1, options 0
	}

	resp, err := e.transactEncap(msg)
	if err != nil {
		return 0, fmt.Errorf("RegisterSession: failed transaction: %w", err)
	}

	if resp.status != 0 {
		return 0, fmt.Errorf("Failed at RegisterSession(): Encap returned status not 0: 0x%08x", resp.status)
	}
	if resp.sessionHandle == 0 {
		return 0, fmt.Errorf("Failed at RegisterSession(): Got session_handle=0")
	}

	return resp.sessionHandle, nil
}

// unRegisterSession sends the 0x66 teardown and closes the socket.
// Errors are returned but rarely actionable; the peer may already be
// gone.
func (e *EipClient) unRegisterSession() (err error) {
	if e == nil || e.conn == nil {
		return nil
	}
	if e.session == 0 {
		return nil
	}

	msg := EipEncap{
		command:       UnRegisterSession,
		sessionHandle: e.session,
		data:          []byte{},
	}

	_ = e.conn.SetWriteDeadline(time.Now().Add(e.timeout))
	defer e.conn.SetWriteDeadline(time.Time{})

	err = e.sendEncap(msg)

	e.session = 0
	e.conn.Close()
	e.conn = nil

	return err
}

// transactEncap performs one send/receive pair under deadlines. The
// caller must hold the mutex.
func (e *EipClient) transactEncap(msg EipEncap) (*EipEncap, error) {
	if e == nil {
		return nil, fmt.Errorf("transactEncap: received nil client.")
	}
	if e.conn == nil {
		return nil, fmt.Errorf("transactEncap: not connected.")
	}

	_ = e.conn.SetWriteDeadline(time.Now().Add(e.timeout))
	defer e.conn.SetWriteDeadline(time.Time{})
	if err := e.sendEncap(msg); err != nil {
		return nil, fmt.Errorf("transactEncap: failed to send message.  %w", err)
	}

	_ = e.conn.SetReadDeadline(time.Now().Add(e.timeout))
	defer e.conn.SetReadDeadline(time.Time{})
	resp, err := e.recvEncap()
	if err != nil {
		return nil, fmt.Errorf("transactEncap: failed to read response.  %w", err)
	}

	return resp, nil
}

func (e *EipClient) sendEncap(msg EipEncap) error {
	if e == nil || e.conn == nil {
		return fmt.Errorf("sendEncap: not connected")
	}
	data := msg.Bytes()
	logging.DebugTX("EIP", data)
	_, err := e.conn.Write(data)
	if err != nil {
		logging.DebugError("EIP", "sendEncap write", err)
	}
	return err
}

func (e *EipClient) recvEncap() (*EipEncap, error) {
	if e == nil || e.conn == nil {
		return nil, fmt.Errorf("recvEncap: not connected")
	}
	header := make([]byte, 24)
	_, err := io.ReadFull(e.conn, header)
	if err != nil {
		logging.DebugError("EIP", "recvEncap read header", err)
		return nil, fmt.Errorf("recvEncap: Error reading Encap header. %w", err)
	}

	payloadLength := binary.LittleEndian.Uint16(header[2:4])
	sessionHandle := binary.LittleEndian.Uint32(header[4:8])

	if payloadLength > 65511 {
		logging.DebugLog("EIP", "RX excessive payload length: %d", payloadLength)
		return nil, fmt.Errorf("recvEncap: Payload excessive.  Payload Length: %d", payloadLength)
	}
	// Session 0 in a response is always valid; otherwise it must match.
	if sessionHandle != 0 && e.session != 0 && sessionHandle != e.session {
		logging.DebugLog("EIP", "RX session mismatch: expected 0x%08X, got 0x%08X", e.session, sessionHandle)
		return nil, fmt.Errorf("recvEncap: Session mismatch in response.  Need %d, Got %d", e.session, sessionHandle)
	}

	payload := make([]byte, payloadLength)
	_, err = io.ReadFull(e.conn, payload)
	if err != nil {
		logging.DebugError("EIP", "recvEncap read payload", err)
		return nil, fmt.Errorf("recvEncap: Failed to read payload. %w", err)
	}

	fullPacket := append(header, payload...)
	logging.DebugRX("EIP", fullPacket)

	var ctx [8]byte
	copy(ctx[:], header[12:20])

	return &EipEncap{
		command:       binary.LittleEndian.Uint16(header[:2]),
		length:        binary.LittleEndian.Uint16(header[2:4]),
		sessionHandle: binary.LittleEndian.Uint32(header[4:8]),
		status:        binary.LittleEndian.Uint32(header[8:12]),
		context:       ctx,
		options:       binary.LittleEndian.Uint32(header[20:24]),
		data:          payload,
	}, nil
}

// SendRRData sends an unconnected explicit message and returns the
// parsed common packet from the response.
func (e *EipClient) SendRRData(packet EipCommonPacket) (*EipCommonPacket, error) {
	if e == nil {
		return nil, fmt.Errorf("SendRRData: Received nil client.")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		return nil, fmt.Errorf("SendRRData: not connected.  Did you call Connect()?")
	}
	if e.session == 0 {
		return nil, fmt.Errorf("SendRRData: session_handle is 0 (did you call RegisterSession?)")
	}

	resp, err := e.transactCommandData(SendRRDataCmd, packet)
	if err != nil {
		return nil, fmt.Errorf("SendRRData: %w", err)
	}

	cdata, err := ParseEipCommandData(resp.data)
	if err != nil {
		return nil, fmt.Errorf("SendRRData: ParseCommandData failed.  %w", err)
	}

	cpacket, err := ParseEipCommonPacket(cdata.packet)
	if err != nil {
		return nil, fmt.Errorf("SendRRData: ParseCommonPacket failed.  %w", err)
	}

	return cpacket, nil
}

// SendUnitDataRaw sends a connected explicit message and returns the
// complete raw response frame, encapsulation header included. The PCCC
// layer parses replies at fixed offsets from the frame start, so the
// header must be preserved.
func (e *EipClient) SendUnitDataRaw(packet EipCommonPacket) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("SendUnitDataRaw: nil client")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		return nil, fmt.Errorf("SendUnitDataRaw: not connected")
	}
	if e.session == 0 {
		return nil, fmt.Errorf("SendUnitDataRaw: no session")
	}

	resp, err := e.transactCommandData(SendUnitDataCmd, packet)
	if err != nil {
		return nil, fmt.Errorf("SendUnitDataRaw: %w", err)
	}

	return resp.Bytes(), nil
}

// transactCommandData wraps a common packet in the interface-handle
// header and the encapsulation envelope, transacts it, and checks the
// encapsulation status. The caller must hold the mutex.
func (e *EipClient) transactCommandData(command uint16, packet EipCommonPacket) (*EipEncap, error) {
	packetBytes := packet.Bytes()
	if len(packetBytes) == 0 {
		return nil, fmt.Errorf("empty common packet")
	}

	cmd := EipCommandData{packet: packetBytes}
	cmdBytes := cmd.Bytes()

	req := EipEncap{
		command:       command,
		length:        uint16(len(cmdBytes)),
		sessionHandle: e.session,
		data:          cmdBytes,
	}

	resp, err := e.transactEncap(req)
	if err != nil {
		return nil, err
	}
	if resp.status != 0 {
		return nil, fmt.Errorf("encapsulation status=0x%08x", resp.status)
	}
	return resp, nil
}

// SendNop fires the EIP No-Op command (0x00). There is no reply; a
// write failure is the only signal the connection has died.
func (e *EipClient) SendNop() error {
	if e == nil {
		return fmt.Errorf("Nop: Received nil EipClient.")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		return fmt.Errorf("Nop: Connection is nil.   Did you call Connect()?")
	}

	msg := EipEncap{
		command:       NOP,
		sessionHandle: e.session,
	}

	_ = e.conn.SetWriteDeadline(time.Now().Add(e.timeout))
	defer e.conn.SetWriteDeadline(time.Time{})

	if err := e.sendEncap(msg); err != nil {
		return fmt.Errorf("SendNop: failed to transmit message.  %w", err)
	}

	return nil
}
