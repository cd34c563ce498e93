package meshnode

import (
	"errors"
	"time"

	"github.com/meshfleet/meshd/pkg/meshnode"
)

var (
	ErrEmptyLocalDeviceID = errors.New("meshnode: local device id must not be empty")
	ErrEmptyHostnamePrefix = errors.New("meshnode: hostname prefix must not be empty")
)

func validateConfig(c meshnode.Config) error {
	if c.LocalDeviceID == "" {
		return ErrEmptyLocalDeviceID
	}
	if c.HostnamePrefix == "" {
		return ErrEmptyHostnamePrefix
	}
	return nil
}

func applyConfigDefaults(c meshnode.Config) meshnode.Config {
	out := c
	if out.LocalDeviceType == "" {
		out.LocalDeviceType = "generic"
	}
	if out.AnnounceInterval <= 0 {
		out.AnnounceInterval = 30 * time.Second
	}
	if out.DiscoveryWarmup <= 0 {
		out.DiscoveryWarmup = time.Second
	}
	return out
}
