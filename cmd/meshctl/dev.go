package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meshfleet/meshd/internal/daemon"
)

func newDevCommand() *cobra.Command {
	var (
		name           string
		prefix         string
		sidecar        string
		devAuthKey     string
		deviceType     string
		devControlAddr string
	)

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Bring up a node in the foreground",
		Long:  "dev brings up a mesh node in the foreground for local development, printing its logs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				hostname, err := os.Hostname()
				if err != nil {
					hostname = "meshd-dev-node"
				}
				name = hostname
			}

			fmt.Printf("bringing up dev node %s (prefix=%s type=%s)\n", name, prefix, deviceType)

			result, err := daemon.Build(daemon.Options{
				NodeID:         name,
				DeviceType:     deviceType,
				HostnamePrefix: prefix,
				StateDir:       stateDir,
				AuthKey:        devAuthKey,
				OverlayBinary:  sidecar,
				ControlAddr:    devControlAddr,
			})
			if err != nil {
				return fmt.Errorf("build node: %w", err)
			}
			node, controlSrv := result.Node, result.Control
			defer node.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := node.Start(ctx); err != nil {
				return fmt.Errorf("start node: %w", err)
			}
			defer node.Stop(context.Background())

			go func() {
				if err := controlSrv.Start(); err != nil {
					fmt.Fprintf(os.Stderr, "control api stopped: %v\n", err)
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			fmt.Printf("node %s running, control api on %s, Ctrl+C to stop\n", name, devControlAddr)

			select {
			case <-sigCh:
				fmt.Println("shutting down")
			case <-ctx.Done():
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			_ = controlSrv.Stop(stopCtx)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Device id (defaults to hostname)")
	cmd.Flags().StringVar(&prefix, "prefix", "meshfleet", "Overlay hostname prefix")
	cmd.Flags().StringVar(&sidecar, "sidecar", "meshd-overlay-sidecar", "Path to the overlay sidecar executable")
	cmd.Flags().StringVar(&devAuthKey, "auth-key", "", "Overlay network auth key")
	cmd.Flags().StringVar(&deviceType, "type", "generic", "Device type")
	cmd.Flags().StringVar(&devControlAddr, "control-addr", "127.0.0.1:7655", "Listen address for the local control API")

	return cmd
}
