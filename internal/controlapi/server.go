// Package controlapi implements the daemon's local control-plane surface:
// a gRPC health service, gated by a JWT bearer token, that meshctl queries
// for liveness and primary status.
package controlapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/meshfleet/meshd/pkg/meshnode"
)

// ServiceOverall is the health-check service name reporting the daemon's
// basic liveness. The empty string is the well-known "whole server" name
// most health-check clients probe by default.
const ServiceOverall = ""

// ServicePrimary reports SERVING iff the local device currently holds the
// primary role.
const ServicePrimary = "meshd.primary"

// pollInterval is how often the daemon's health is sampled and pushed into
// the gRPC health server's serving-status table.
const pollInterval = 2 * time.Second

// TokenFileName is the file written under Config.StateDir holding the
// bearer token meshctl reads to authenticate against this server.
const TokenFileName = "control.token"

// SigningKeyFileName is the file written under Config.StateDir holding the
// HMAC secret this server signs bearer tokens with. It is unrelated to the
// overlay's network join key and is generated locally on first run.
const SigningKeyFileName = "control.key"

// Config configures the control API server.
type Config struct {
	Addr     string
	StateDir string
	TokenTTL time.Duration

	// SigningKey overrides the generated/persisted HMAC secret. Tests use
	// this to pin a known key; production callers should leave it nil and
	// let NewServer manage one under StateDir.
	SigningKey []byte
}

// Server is a small wrapper around a grpc.Server, started and stopped by
// the composition root alongside the mesh node.
type Server struct {
	node   meshnode.Node
	auth   *tokenAuth
	config Config

	grpcServer *grpc.Server
	health     *health.Server

	mu       sync.Mutex
	listener net.Listener
	stopPoll chan struct{}
	pollWG   sync.WaitGroup
}

// NewServer builds a Server for node. It does not bind a listener or start
// polling; call Start for that. The token-signing secret is config.SigningKey
// if set, otherwise a key persisted under config.StateDir (generated on
// first run), otherwise an ephemeral key that only this process ever knows.
func NewServer(node meshnode.Node, config Config) (*Server, error) {
	if config.TokenTTL <= 0 {
		config.TokenTTL = 24 * time.Hour
	}

	signingKey := config.SigningKey
	if len(signingKey) == 0 {
		key, err := loadOrCreateSigningKey(config.StateDir)
		if err != nil {
			return nil, err
		}
		signingKey = key
	}

	auth := newTokenAuth(signingKey)
	healthServer := health.NewServer()
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(authInterceptor(auth)))
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	return &Server{
		node:       node,
		auth:       auth,
		config:     config,
		grpcServer: grpcServer,
		health:     healthServer,
	}, nil
}

// loadOrCreateSigningKey reads the persisted signing key under stateDir,
// generating and writing a fresh 32-byte key on first run. With no
// stateDir it returns a key that lives only for this process.
func loadOrCreateSigningKey(stateDir string) ([]byte, error) {
	if stateDir == "" {
		return randomSigningKey()
	}

	path := filepath.Join(stateDir, SigningKeyFileName)
	existing, err := os.ReadFile(path)
	if err == nil {
		key, decodeErr := hex.DecodeString(strings.TrimSpace(string(existing)))
		if decodeErr != nil {
			return nil, fmt.Errorf("controlapi: decode signing key: %w", decodeErr)
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("controlapi: read signing key: %w", err)
	}

	key, err := randomSigningKey()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)), 0o600); err != nil {
		return nil, fmt.Errorf("controlapi: write signing key: %w", err)
	}
	return key, nil
}

func randomSigningKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("controlapi: generate signing key: %w", err)
	}
	return key, nil
}

// IssueToken mints a fresh bearer token for meshctl and, if StateDir is
// set, writes it to StateDir/control.token with owner-only permissions.
func (s *Server) IssueToken() (string, error) {
	token, _, err := s.auth.GenerateToken(s.node.LocalDeviceID(), s.config.TokenTTL)
	if err != nil {
		return "", err
	}
	if s.config.StateDir != "" {
		path := filepath.Join(s.config.StateDir, TokenFileName)
		if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
			return "", fmt.Errorf("controlapi: write token file: %w", err)
		}
	}
	return token, nil
}

// Start binds config.Addr and serves until Stop is called or Serve fails.
// It blocks; callers run it in a goroutine.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("controlapi: listen %s: %w", s.config.Addr, err)
	}
	s.mu.Lock()
	s.listener = lis
	s.stopPoll = make(chan struct{})
	s.mu.Unlock()

	s.health.SetServingStatus(ServiceOverall, healthpb.HealthCheckResponse_SERVING)
	s.pollWG.Add(1)
	go s.runHealthPoll()

	return s.grpcServer.Serve(lis)
}

// Stop gracefully stops the server, forcing a hard stop if ctx expires
// first.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	stopPoll := s.stopPoll
	s.mu.Unlock()
	if stopPoll != nil {
		close(stopPoll)
		s.pollWG.Wait()
	}

	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.grpcServer.Stop()
		return ctx.Err()
	}
}

func (s *Server) runHealthPoll() {
	defer s.pollWG.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	s.sampleHealth()
	for {
		select {
		case <-ticker.C:
			s.sampleHealth()
		case <-s.stopPoll:
			return
		}
	}
}

func (s *Server) sampleHealth() {
	h := s.node.Health()

	overall := healthpb.HealthCheckResponse_NOT_SERVING
	if h.Running {
		overall = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceOverall, overall)

	primary := healthpb.HealthCheckResponse_NOT_SERVING
	if h.Running && s.node.IsPrimary() {
		primary = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServicePrimary, primary)
}
