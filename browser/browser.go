package browser

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"
)

// Instance represents a running browser process with its remote agent
// enabled, ready for classic WebDriver session negotiation.
type Instance struct {
	cmd         *exec.Cmd
	kind        BrowserKind
	port        int
	profileDir  string
	ownsProfile bool
}

// ErrInstanceClosed is returned when operating on a closed Instance.
var ErrInstanceClosed = errors.New("browser: instance is closed")

// ErrStartTimeout is returned when the browser fails to start in time.
var ErrStartTimeout = errors.New("browser: start timeout")

// Start launches a new browser instance with its remote agent enabled.
// It waits for the agent to report ready before returning.
func Start(opts LaunchOptions) (*Instance, error) {
	binPath, err := FindBrowser(opts.Kind)
	if err != nil {
		return nil, err
	}

	return StartWithBinary(binPath, opts)
}

// StartWithBinary launches the browser at binPath using opts.
func StartWithBinary(binPath string, opts LaunchOptions) (*Instance, error) {
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}

	cmd, profileDir, err := spawnProcess(binPath, opts)
	if err != nil {
		return nil, err
	}

	b := &Instance{
		cmd:         cmd,
		kind:        opts.Kind,
		port:        port,
		profileDir:  profileDir,
		ownsProfile: opts.ProfileDir == "",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := b.waitForReady(ctx); err != nil {
		b.Close()
		return nil, err
	}

	return b, nil
}

// waitForReady polls the remote agent's /status endpoint until it reports
// ready or ctx is cancelled.
func (b *Instance) waitForReady(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ErrStartTimeout
		case <-ticker.C:
			status, err := FetchStatus(ctx, "127.0.0.1", b.port)
			if err == nil && status.Ready {
				return nil
			}
		}
	}
}

// Kind reports which browser family this instance runs.
func (b *Instance) Kind() BrowserKind {
	return b.kind
}

// Port returns the remote agent port.
func (b *Instance) Port() int {
	return b.port
}

// PID returns the browser process ID.
func (b *Instance) PID() int {
	if b.cmd == nil || b.cmd.Process == nil {
		return 0
	}
	return b.cmd.Process.Pid
}

// NewSession negotiates a classic WebDriver session with webSocketUrl
// requested, returning the NegotiatedSession that carries the BiDi
// WebSocket URL. It fails with
// ErrUnsupportedKind for browser kinds this package cannot negotiate a
// BiDi session for (see Chrome's doc comment).
func (b *Instance) NewSession(ctx context.Context, capabilities map[string]any) (*NegotiatedSession, error) {
	if b.kind != Firefox {
		return nil, ErrUnsupportedKind
	}
	return CreateSession(ctx, "127.0.0.1", b.port, capabilities)
}

// EndSession deletes a session previously returned by NewSession.
func (b *Instance) EndSession(ctx context.Context, sess *NegotiatedSession) error {
	return DeleteSession(ctx, "127.0.0.1", b.port, sess.SessionID)
}

// Close terminates the browser process and cleans up resources.
func (b *Instance) Close() error {
	if b.cmd == nil || b.cmd.Process == nil {
		return nil
	}

	if err := b.cmd.Process.Signal(os.Interrupt); err != nil {
		if !errors.Is(err, os.ErrProcessDone) {
			_ = b.cmd.Process.Kill()
		}
	}

	_ = b.cmd.Wait()

	if b.ownsProfile && b.profileDir != "" {
		os.RemoveAll(b.profileDir)
	}

	b.cmd = nil
	return nil
}
