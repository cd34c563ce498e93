package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/meshfleet/meshd/internal/controlapi"
)

func newHealthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running node's health via its control API",
		RunE:  runHealth,
	}
	return cmd
}

func runHealth(cmd *cobra.Command, args []string) error {
	token, err := os.ReadFile(effectiveTokenFile())
	if err != nil {
		return fmt.Errorf("read control token (run the node first): %w", err)
	}

	conn, err := grpc.NewClient(controlAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial control api at %s: %w", controlAddr, err)
	}
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+string(token))

	fmt.Printf("checking health of %s...\n", controlAddr)

	overall, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: controlapi.ServiceOverall})
	if err != nil {
		return fmt.Errorf("check overall health: %w", err)
	}
	primary, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: controlapi.ServicePrimary})
	if err != nil {
		return fmt.Errorf("check primary status: %w", err)
	}

	fmt.Printf("overall: %s\n", overall.Status)
	fmt.Printf("primary: %s\n", primary.Status)
	return nil
}
