package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meshfleet/meshd/internal/controlapi"
	"github.com/meshfleet/meshd/internal/daemon"
	"github.com/meshfleet/meshd/internal/meshnode"
)

const (
	appName    = "meshd"
	appVersion = "0.1.0"
)

func main() {
	var (
		nodeID         = flag.String("node-id", defaultNodeID(), "Unique device identifier")
		deviceType     = flag.String("device-type", "generic", "Device type recorded in the mesh's device table")
		deviceName     = flag.String("device-name", "", "Human-friendly device name")
		hostnamePrefix = flag.String("hostname-prefix", "meshfleet", "Overlay hostname prefix used to recognize this fleet's peers")
		stateDir       = flag.String("state-dir", "/var/lib/meshd", "Sidecar and control-token state directory")
		authKey        = flag.String("auth-key", "", "Overlay network auth key")
		staticPath     = flag.String("static-path", "", "Static overlay endpoint, bypassing coordination if set")
		binaryPath     = flag.String("overlay-binary", "meshd-overlay-sidecar", "Path to the overlay sidecar executable")
		controlAddr    = flag.String("control-addr", "127.0.0.1:7655", "Listen address for the local control API")
		userDesignated = flag.Bool("primary", false, "Designate this device as the preferred primary")
		showVersion    = flag.Bool("version", false, "Show version and exit")
		showHealth     = flag.Bool("health", false, "Print health status and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", appName, appVersion)
		os.Exit(0)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("starting %s v%s", appName, appVersion)
	log.Printf("node id: %s", *nodeID)
	log.Printf("hostname prefix: %s", *hostnamePrefix)

	result, err := daemon.Build(daemon.Options{
		NodeID:         *nodeID,
		DeviceType:     *deviceType,
		DeviceName:     *deviceName,
		HostnamePrefix: *hostnamePrefix,
		StateDir:       *stateDir,
		AuthKey:        *authKey,
		StaticPath:     *staticPath,
		OverlayBinary:  *binaryPath,
		ControlAddr:    *controlAddr,
		UserDesignated: *userDesignated,
	})
	if err != nil {
		log.Fatalf("failed to build mesh node: %v", err)
	}
	node, controlSrv := result.Node, result.Control
	defer func() {
		log.Printf("closing mesh node")
		if err := node.Close(); err != nil {
			log.Printf("error closing node: %v", err)
		}
	}()

	if *showHealth {
		printHealth(node)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Printf("starting mesh node")
	if err := node.Start(ctx); err != nil {
		log.Fatalf("failed to start mesh node: %v", err)
	}

	if _, err := controlSrv.IssueToken(); err != nil {
		log.Printf("warning: could not issue control token: %v", err)
	} else {
		log.Printf("control token written to %s/%s", *stateDir, controlapi.TokenFileName)
	}

	go func() {
		if err := controlSrv.Start(); err != nil {
			log.Printf("control api stopped: %v", err)
		}
	}()

	setupGracefulShutdown(cancel, node, controlSrv)

	h := node.Health()
	log.Printf("mesh node %s started, role=%s connectedDevices=%d", *nodeID, h.Role, h.ConnectedDevices)
	log.Printf("use Ctrl+C to shut down gracefully")

	<-ctx.Done()
	log.Printf("%s node %s stopped", appName, *nodeID)
}

func defaultNodeID() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "meshd-node-1"
	}
	return hostname
}

func setupGracefulShutdown(cancel context.CancelFunc, node *meshnode.Node, controlSrv *controlapi.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		sig := <-sigChan
		log.Printf("received signal %v, shutting down gracefully", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := controlSrv.Stop(shutdownCtx); err != nil {
			log.Printf("error stopping control api: %v", err)
		}
		if err := node.Stop(shutdownCtx); err != nil {
			log.Printf("error during graceful stop: %v", err)
		}
		cancel()
	}()
}

func printHealth(node *meshnode.Node) {
	h := node.Health()
	fmt.Printf("meshd health status:\n")
	fmt.Printf("  running: %v\n", h.Running)
	fmt.Printf("  role: %s\n", h.Role)
	fmt.Printf("  primary: %s (known=%v)\n", h.PrimaryID, h.HasPrimary)
	fmt.Printf("  connected devices: %d\n", h.ConnectedDevices)
}
