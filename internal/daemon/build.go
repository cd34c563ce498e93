// Package daemon assembles a runnable mesh node from a flat set of options,
// shared between the meshd daemon and meshctl's "dev" foreground mode.
package daemon

import (
	"fmt"
	"time"

	"github.com/meshfleet/meshd/internal/controlapi"
	"github.com/meshfleet/meshd/internal/devicetable"
	"github.com/meshfleet/meshd/internal/election"
	"github.com/meshfleet/meshd/internal/meshnode"
	"github.com/meshfleet/meshd/internal/overlay"
	"github.com/meshfleet/meshd/internal/transport"
	"github.com/meshfleet/meshd/internal/wire"

	busimpl "github.com/meshfleet/meshd/internal/bus"
	meshnodepkg "github.com/meshfleet/meshd/pkg/meshnode"
)

// Options configures a node build. It carries no timers: every component
// runs with its own default durations. OverlayBinary, HostnamePrefix and
// NodeID must be set; Build fails when any of them is empty.
type Options struct {
	NodeID         string
	DeviceType     string
	DeviceName     string
	HostnamePrefix string
	StateDir       string
	AuthKey        string
	StaticPath     string
	OverlayBinary  string
	ControlAddr    string
	UserDesignated bool
}

// Result is everything Build assembles: the running node's dependencies,
// its message bus (the entry point for application pub/sub), and its
// control API server.
type Result struct {
	Node    *meshnode.Node
	Bus     *busimpl.Bus
	Control *controlapi.Server
}

// Build wires the overlay client, transport pool, device table, election
// coordinator, and message bus into a meshnode.Node, plus a control API
// server for it. The overlay/transport wiring cycle is resolved here: the
// Pool is built first and handed to ProcessClient as its overlay.Listener,
// then wired back onto the Pool with SetOverlayClient.
func Build(opts Options) (Result, error) {
	overlayConfig := &overlay.Config{BinaryPath: opts.OverlayBinary}
	overlayConfig.SetDefaults()
	if err := overlayConfig.Validate(); err != nil {
		return Result{}, fmt.Errorf("overlay config: %w", err)
	}

	transportConfig := &transport.Config{}
	transportConfig.SetDefaults()

	codec := wire.NewFrameCodec()
	pool := transport.NewPool(codec, transportConfig)

	overlayClient, err := overlay.NewProcessClient(overlayConfig, pool)
	if err != nil {
		return Result{}, fmt.Errorf("overlay client: %w", err)
	}
	pool.SetOverlayClient(overlayClient)

	tableConfig := devicetable.Config{Prefix: opts.HostnamePrefix}.SetDefaults()
	if err := tableConfig.Validate(); err != nil {
		return Result{}, fmt.Errorf("device table config: %w", err)
	}
	table := devicetable.New(tableConfig)

	electionConfig := election.Config{}.SetDefaults()
	coordinator := election.New(electionConfig, opts.NodeID, opts.UserDesignated, time.Now().UTC())

	nodeConfig := meshnodepkg.Config{
		StateDir:              opts.StateDir,
		AuthKey:               opts.AuthKey,
		StaticPath:            opts.StaticPath,
		HostnamePrefix:        opts.HostnamePrefix,
		LocalDeviceID:         opts.NodeID,
		LocalDeviceType:       opts.DeviceType,
		LocalDeviceName:       opts.DeviceName,
		UserDesignatedPrimary: opts.UserDesignated,
	}
	node, err := meshnode.New(nodeConfig, pool, table, coordinator)
	if err != nil {
		return Result{}, fmt.Errorf("mesh node: %w", err)
	}

	bus := busimpl.New()
	bus.SetRouter(node)
	node.SetListener(bus)

	controlSrv, err := controlapi.NewServer(node, controlapi.Config{
		Addr:     opts.ControlAddr,
		StateDir: opts.StateDir,
	})
	if err != nil {
		return Result{}, fmt.Errorf("control api: %w", err)
	}

	return Result{Node: node, Bus: bus, Control: controlSrv}, nil
}
