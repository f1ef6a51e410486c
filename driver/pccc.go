package driver

import (
	"fmt"
	"sort"
	"strings"

	"slclink/config"
	"slclink/pccc"
)

// PCCCAdapter wraps pccc.Client to implement the Driver interface for
// SLC-500, MicroLogix and PLC-5 processors.
type PCCCAdapter struct {
	client *pccc.Client
	conn   *pccc.Connection
	config *config.PLCConfig
}

// NewPCCCAdapter creates a new PCCCAdapter from configuration.
// The connection is not established until Connect() is called.
func NewPCCCAdapter(cfg *config.PLCConfig) (*PCCCAdapter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return &PCCCAdapter{config: cfg}, nil
}

// Connect establishes the connected EtherNet/IP session.
func (a *PCCCAdapter) Connect() error {
	opts := []pccc.Option{
		pccc.WithTimeout(a.config.GetTimeout()),
	}

	if a.config.Route != "" {
		route, err := pccc.ParseRoutePath(a.config.Route)
		if err != nil {
			return fmt.Errorf("pccc connect: %w", err)
		}
		opts = append(opts, pccc.WithRoutePath(route))
	}

	conn, err := pccc.Connect(a.config.Address, opts...)
	if err != nil {
		return fmt.Errorf("pccc connect: %w", err)
	}

	a.conn = conn
	a.client = pccc.NewClient(conn)
	return nil
}

// Close releases the connection.
func (a *PCCCAdapter) Close() error {
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
		a.client = nil
	}
	return nil
}

// IsConnected returns true if connected to the PLC.
func (a *PCCCAdapter) IsConnected() bool {
	return a.conn != nil && a.conn.IsConnected()
}

// Family returns the PLC family.
func (a *PCCCAdapter) Family() config.PLCFamily {
	return a.config.GetFamily()
}

// ConnectionMode returns a description of the connection mode.
func (a *PCCCAdapter) ConnectionMode() string {
	if a.conn == nil {
		return "Not connected"
	}
	return "EtherNet/IP connected (PCCC)"
}

// GetDeviceInfo returns information about the connected PLC.
func (a *PCCCAdapter) GetDeviceInfo() (*DeviceInfo, error) {
	if a.client == nil {
		return nil, fmt.Errorf("not connected")
	}

	model, err := a.client.GetProcessorType()
	if err != nil {
		return nil, err
	}

	return &DeviceInfo{
		Family:      a.Family(),
		Vendor:      "Allen-Bradley",
		Model:       model,
		Description: "PCCC data table processor",
	}, nil
}

// SupportsDiscovery returns true: the file directory in File 0 can be
// walked on all supported processors.
func (a *PCCCAdapter) SupportsDiscovery() bool {
	return true
}

// AllFiles reads the processor's file directory and returns the data
// table files, sorted by name.
func (a *PCCCAdapter) AllFiles() ([]FileEntry, error) {
	if a.client == nil {
		return nil, fmt.Errorf("not connected")
	}

	dir, err := a.client.GetFileDirectory()
	if err != nil {
		return nil, err
	}

	result := make([]FileEntry, 0, len(dir))
	for name, info := range dir {
		ft := fileTypeOf(name)
		result = append(result, FileEntry{
			Name:     name,
			FileType: ft,
			Elements: info.Elements,
			Length:   info.Length,
			Writable: isWritableFileType(ft),
		})
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// fileTypeOf extracts the leading type letters from a file name like
// "N7" or "ST12".
func fileTypeOf(name string) string {
	i := 0
	for i < len(name) && (name[i] < '0' || name[i] > '9') {
		i++
	}
	return strings.ToUpper(name[:i])
}

// isWritableFileType reports whether a file type accepts writes from
// the gateway. Inputs and the status file stay read-only.
func isWritableFileType(ft string) bool {
	switch ft {
	case "I", "O", "S":
		return false
	}
	return true
}

// Read reads tag values from the PLC.
func (a *PCCCAdapter) Read(requests []TagRequest) ([]*TagValue, error) {
	if a.client == nil {
		return nil, fmt.Errorf("not connected")
	}

	names := make([]string, len(requests))
	for i, req := range requests {
		names[i] = req.Name
	}

	tags, err := a.client.Read(names...)
	if err != nil {
		return nil, err
	}

	family := string(a.Family())
	result := make([]*TagValue, len(tags))
	for i, t := range tags {
		if t == nil {
			result[i] = &TagValue{
				Name:   names[i],
				Family: family,
				Error:  fmt.Errorf("nil response"),
			}
			continue
		}

		count := 1
		if arr, ok := t.Value.([]interface{}); ok {
			count = len(arr)
		}

		result[i] = &TagValue{
			Name:     t.Name,
			FileType: string(t.FileType),
			Family:   family,
			Value:    t.Value,
			Count:    count,
			Error:    t.Error,
		}
	}

	return result, nil
}

// Write writes a value to a data table address.
func (a *PCCCAdapter) Write(tag string, value interface{}) error {
	if a.client == nil {
		return fmt.Errorf("not connected")
	}

	tags, err := a.client.Write(pccc.WritePair{Address: tag, Value: value})
	if err != nil {
		return err
	}
	for _, t := range tags {
		if t != nil && t.Error != nil {
			return t.Error
		}
	}
	return nil
}

// Keepalive sends a keepalive message to maintain the connection.
func (a *PCCCAdapter) Keepalive() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Keepalive()
}

// IsConnectionError returns true if the error indicates a connection problem.
func (a *PCCCAdapter) IsConnectionError(err error) bool {
	return IsLikelyConnectionError(err)
}

// Client returns the underlying pccc.Client for advanced operations.
func (a *PCCCAdapter) Client() *pccc.Client {
	return a.client
}
