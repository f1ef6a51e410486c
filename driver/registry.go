package driver

import (
	"fmt"

	"slclink/config"
)

// Create creates a Driver for the given PLC configuration.
// The connection is not established until Connect() is called on the returned driver.
func Create(cfg *config.PLCConfig) (Driver, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	switch cfg.GetFamily() {
	case config.FamilySLC500, config.FamilyMicroLogix, config.FamilyPLC5:
		return NewPCCCAdapter(cfg)
	default:
		// Default to SLC-500 for unknown families
		return NewPCCCAdapter(cfg)
	}
}
