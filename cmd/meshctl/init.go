package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// nodeConfigFile is the config.json scaffolded by init and read back by
// status. meshd itself takes every one of these as a flag; this file only
// remembers the choices between invocations.
type nodeConfigFile struct {
	DeviceID       string `json:"deviceId"`
	DeviceType     string `json:"deviceType"`
	DeviceName     string `json:"deviceName,omitempty"`
	HostnamePrefix string `json:"hostnamePrefix"`
}

const configFileName = "config.json"

func newInitCommand() *cobra.Command {
	var (
		deviceID       string
		deviceType     string
		deviceName     string
		hostnamePrefix string
	)

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Scaffold a config and state directory for a node",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := stateDir
			if len(args) == 1 {
				dir = args[0]
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create state dir: %w", err)
			}

			if deviceID == "" {
				hostname, err := os.Hostname()
				if err != nil {
					hostname = "meshd-node-1"
				}
				deviceID = hostname
			}
			if hostnamePrefix == "" {
				hostnamePrefix = "meshfleet"
			}
			if deviceType == "" {
				deviceType = "generic"
			}

			cfg := nodeConfigFile{
				DeviceID:       deviceID,
				DeviceType:     deviceType,
				DeviceName:     deviceName,
				HostnamePrefix: hostnamePrefix,
			}
			raw, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}

			path := filepath.Join(dir, configFileName)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}
			if err := os.WriteFile(path, raw, 0o644); err != nil {
				return fmt.Errorf("write config: %w", err)
			}

			fmt.Printf("initialized node state in %s\n", dir)
			fmt.Printf("  device id: %s\n", cfg.DeviceID)
			fmt.Printf("  device type: %s\n", cfg.DeviceType)
			fmt.Printf("  hostname prefix: %s\n", cfg.HostnamePrefix)
			return nil
		},
	}

	cmd.Flags().StringVar(&deviceID, "name", "", "Device id (defaults to hostname)")
	cmd.Flags().StringVar(&deviceType, "type", "generic", "Device type")
	cmd.Flags().StringVar(&deviceName, "display-name", "", "Human-friendly device name")
	cmd.Flags().StringVar(&hostnamePrefix, "prefix", "meshfleet", "Overlay hostname prefix")

	return cmd
}

func loadNodeConfig(dir string) (nodeConfigFile, error) {
	raw, err := os.ReadFile(filepath.Join(dir, configFileName))
	if err != nil {
		return nodeConfigFile{}, err
	}
	var cfg nodeConfigFile
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nodeConfigFile{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
