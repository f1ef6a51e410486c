package driver

import "slclink/config"

// Driver is the unified interface the gateway uses to talk to a PLC.
// Each processor family has an adapter that implements this interface.
type Driver interface {
	// Connection management
	Connect() error
	Close() error
	IsConnected() bool

	// Identification
	Family() config.PLCFamily
	ConnectionMode() string
	GetDeviceInfo() (*DeviceInfo, error)

	// Data table discovery (not all families support this)
	SupportsDiscovery() bool
	AllFiles() ([]FileEntry, error)

	// Read/Write operations
	Read(requests []TagRequest) ([]*TagValue, error)
	Write(tag string, value interface{}) error

	// Maintenance
	Keepalive() error
	IsConnectionError(err error) bool
}
