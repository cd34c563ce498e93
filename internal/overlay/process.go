// Package overlay implements the overlay.Client contract by spawning and
// speaking to a sidecar process over line-delimited JSON.
package overlay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/meshfleet/meshd/pkg/overlay"
)

type dialWait struct {
	done chan struct{}
	err  error
}

// ProcessClient implements overlay.Client by launching config.BinaryPath as
// a child process and driving its stdin/stdout IPC protocol.
type ProcessClient struct {
	config   *Config
	listener overlay.Listener

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	writeMu sync.Mutex

	running   bool
	statusCh  chan overlay.StatusData
	dialsMu   sync.Mutex
	dialWaits map[string]*dialWait

	readDone chan struct{}

	// cmdArgsOverride, when set, replaces the argument list passed to
	// exec.Command. Used by tests to drive a fake sidecar script instead of
	// a real binary.
	cmdArgsOverride []string
}

// NewProcessClient creates a client bound to config and listener. The
// config is validated here, so a misconfiguration fails at construction;
// the sidecar itself is not spawned until Start is called.
func NewProcessClient(config *Config, listener overlay.Listener) (*ProcessClient, error) {
	if config == nil {
		return nil, fmt.Errorf("overlay: config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	configCopy := *config
	configCopy.SetDefaults()

	return &ProcessClient{
		config:    &configCopy,
		listener:  listener,
		dialWaits: make(map[string]*dialWait),
	}, nil
}

// Start implements overlay.Client.
func (c *ProcessClient) Start(ctx context.Context, params overlay.StartData) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}

	cmd := exec.Command(c.config.BinaryPath, c.cmdArgsOverride...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("overlay: failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("overlay: failed to open stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("overlay: failed to spawn sidecar: %w", err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.statusCh = make(chan overlay.StatusData, 8)
	c.readDone = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop(stdout)

	if err := c.sendCommand(overlay.CmdStart, params); err != nil {
		// A sidecar that reports an error and exits at once may close its
		// stdin before the start command is written; report its error state.
		select {
		case <-c.readDone:
		case <-time.After(c.config.StartupTimeout):
		}
		for len(c.statusCh) > 0 {
			if status := <-c.statusCh; status.State == overlay.StateError {
				return fmt.Errorf("%w: %s", overlay.ErrStartupError, status.Error)
			}
		}
		return err
	}

	timeout := time.NewTimer(c.config.StartupTimeout)
	defer timeout.Stop()

	for {
		select {
		case status := <-c.statusCh:
			switch status.State {
			case overlay.StateRunning:
				c.mu.Lock()
				c.running = true
				c.mu.Unlock()
				return nil
			case overlay.StateError:
				return fmt.Errorf("%w: %s", overlay.ErrStartupError, status.Error)
			}
			// starting / stopped / stopping: keep waiting.
		case <-timeout.C:
			return overlay.ErrStartupTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop implements overlay.Client.
func (c *ProcessClient) Stop(ctx context.Context) error {
	c.mu.Lock()
	cmd := c.cmd
	c.running = false
	c.mu.Unlock()

	if cmd == nil {
		return nil
	}

	_ = c.sendCommand(overlay.CmdStop, struct{}{})

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	timer := time.NewTimer(c.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-waitDone:
	case <-timer.C:
		_ = cmd.Process.Kill()
		<-waitDone
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitDone
		return ctx.Err()
	}
	return nil
}

// Close implements io.Closer by stopping with a background context.
func (c *ProcessClient) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.ShutdownTimeout+time.Second)
	defer cancel()
	return c.Stop(ctx)
}

// Send implements overlay.Client.
func (c *ProcessClient) Send(ctx context.Context, connectionID, data string) error {
	return c.sendCommand(overlay.CmdWsMessage, overlay.WsMessageData{ConnectionID: connectionID, Data: data})
}

// GetPeers implements overlay.Client.
func (c *ProcessClient) GetPeers(ctx context.Context) error {
	return c.sendCommand(overlay.CmdGetPeers, struct{}{})
}

// Dial implements overlay.Client.
func (c *ProcessClient) Dial(ctx context.Context, params overlay.DialData) error {
	if params.Port == 0 {
		params.Port = 443
	}

	w := &dialWait{done: make(chan struct{})}
	c.dialsMu.Lock()
	c.dialWaits[params.DeviceID] = w
	c.dialsMu.Unlock()
	defer func() {
		c.dialsMu.Lock()
		delete(c.dialWaits, params.DeviceID)
		c.dialsMu.Unlock()
	}()

	if err := c.sendCommand(overlay.CmdDial, params); err != nil {
		return err
	}

	timer := time.NewTimer(c.config.DialTimeout)
	defer timer.Stop()

	select {
	case <-w.done:
		return w.err
	case <-timer.C:
		return overlay.ErrDialTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DialClose implements overlay.Client.
func (c *ProcessClient) DialClose(ctx context.Context, deviceID string) error {
	return c.sendCommand(overlay.CmdDialClose, overlay.DialCloseData{DeviceID: deviceID})
}

// DialMessage implements overlay.Client.
func (c *ProcessClient) DialMessage(ctx context.Context, deviceID, data string) error {
	return c.sendCommand(overlay.CmdDialMessage, overlay.DialMessageData{DeviceID: deviceID, Data: data})
}

func (c *ProcessClient) sendCommand(name string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("overlay: failed to marshal %s payload: %w", name, err)
	}
	cmd := overlay.Command{Command: name, Data: payload}
	line, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("overlay: failed to marshal command: %w", err)
	}

	c.mu.Lock()
	stdin := c.stdin
	c.mu.Unlock()
	if stdin == nil {
		return overlay.ErrNotRunning
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = fmt.Fprintf(stdin, "%s\n", line)
	return err
}

func (c *ProcessClient) readLoop(stdout io.Reader) {
	defer close(c.readDone)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt overlay.Event
		if err := json.Unmarshal(line, &evt); err != nil {
			continue
		}
		c.dispatch(evt)
	}
}

func (c *ProcessClient) dispatch(evt overlay.Event) {
	switch evt.Event {
	case overlay.EvtStatus:
		var data overlay.StatusData
		_ = json.Unmarshal(evt.Data, &data)
		select {
		case c.statusCh <- data:
		default:
		}
		if c.listener != nil {
			c.listener.OnStatus(data)
		}
	case overlay.EvtAuthRequired:
		var data overlay.AuthRequiredData
		_ = json.Unmarshal(evt.Data, &data)
		if c.listener != nil {
			c.listener.OnAuthRequired(data)
		}
	case overlay.EvtPeers:
		var data overlay.PeersData
		_ = json.Unmarshal(evt.Data, &data)
		if c.listener != nil {
			c.listener.OnPeers(data)
		}
	case overlay.EvtWsConnect:
		var data overlay.WsConnectData
		_ = json.Unmarshal(evt.Data, &data)
		if c.listener != nil {
			c.listener.OnWsConnect(data)
		}
	case overlay.EvtWsMessage:
		var data overlay.WsMessageEventData
		_ = json.Unmarshal(evt.Data, &data)
		if c.listener != nil {
			c.listener.OnWsMessage(data)
		}
	case overlay.EvtWsDisconnect:
		var data overlay.WsDisconnectData
		_ = json.Unmarshal(evt.Data, &data)
		if c.listener != nil {
			c.listener.OnWsDisconnect(data)
		}
	case overlay.EvtDialConnected:
		var data overlay.DialConnectedData
		_ = json.Unmarshal(evt.Data, &data)
		c.resolveDial(data.DeviceID, nil)
		if c.listener != nil {
			c.listener.OnDialConnected(data)
		}
	case overlay.EvtDialMessage:
		var data overlay.DialMessageEventData
		_ = json.Unmarshal(evt.Data, &data)
		if c.listener != nil {
			c.listener.OnDialMessage(data)
		}
	case overlay.EvtDialDisconnect:
		var data overlay.DialDisconnectData
		_ = json.Unmarshal(evt.Data, &data)
		if c.listener != nil {
			c.listener.OnDialDisconnect(data)
		}
	case overlay.EvtDialError:
		var data overlay.DialErrorData
		_ = json.Unmarshal(evt.Data, &data)
		c.resolveDial(data.DeviceID, fmt.Errorf("%w: %s", overlay.ErrDialError, data.Error))
		if c.listener != nil {
			c.listener.OnDialError(data)
		}
	case overlay.EvtError:
		var data overlay.ErrorData
		_ = json.Unmarshal(evt.Data, &data)
		if c.listener != nil {
			c.listener.OnError(data)
		}
	}
}

func (c *ProcessClient) resolveDial(deviceID string, err error) {
	c.dialsMu.Lock()
	w, ok := c.dialWaits[deviceID]
	c.dialsMu.Unlock()
	if !ok {
		return
	}
	w.err = err
	close(w.done)
}

var _ overlay.Client = (*ProcessClient)(nil)
