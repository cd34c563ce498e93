package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [dir]",
		Short: "Print configuration presence for a node's state directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := stateDir
			if len(args) == 1 {
				dir = args[0]
			}

			fmt.Printf("state directory: %s\n", dir)

			cfg, err := loadNodeConfig(dir)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("  config.json: not found (run 'meshctl init' first)")
				} else {
					fmt.Printf("  config.json: error: %v\n", err)
				}
			} else {
				fmt.Println("  config.json: present")
				fmt.Printf("    device id: %s\n", cfg.DeviceID)
				fmt.Printf("    device type: %s\n", cfg.DeviceType)
				fmt.Printf("    hostname prefix: %s\n", cfg.HostnamePrefix)
			}

			tokenPath := filepath.Join(dir, "control.token")
			if _, err := os.Stat(tokenPath); err == nil {
				fmt.Println("  control.token: present (node has run at least once)")
			} else {
				fmt.Println("  control.token: not found (node has not started yet)")
			}

			return nil
		},
	}
	return cmd
}
