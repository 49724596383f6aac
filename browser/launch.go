package browser

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// LaunchOptions configures browser launch behavior.
type LaunchOptions struct {
	// Kind selects which browser family to launch.
	Kind BrowserKind

	// Headless runs the browser without a visible window.
	Headless bool

	// Port for the browser's remote agent. If 0, uses DefaultPort.
	Port int

	// ProfileDir specifies the browser profile directory.
	// Special values:
	//   - Empty string: create a temporary directory (default)
	//   - "default": use the browser's default profile
	//   - Any path: use that directory
	ProfileDir string
}

// DefaultPort is the default remote agent port.
const DefaultPort = 9222

// ProfileDirDefault is the special value that means "use the browser's
// default profile".
const ProfileDirDefault = "default"

// buildArgs constructs the command line arguments for opts.Kind.
func buildArgs(opts LaunchOptions) []string {
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}

	switch opts.Kind {
	case Firefox:
		return buildFirefoxArgs(opts, port)
	default:
		return buildChromeArgs(opts, port)
	}
}

func buildFirefoxArgs(opts LaunchOptions, port int) []string {
	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		"--no-remote",
	}

	if opts.Headless {
		args = append(args, "--headless")
	}

	if opts.ProfileDir != "" && opts.ProfileDir != ProfileDirDefault {
		args = append(args, "--profile", opts.ProfileDir)
	}

	return args
}

func buildChromeArgs(opts LaunchOptions, port int) []string {
	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-background-networking",
		"--disable-sync",
		"--disable-popup-blocking",
	}

	switch runtime.GOOS {
	case "darwin":
		args = append(args, "--use-mock-keychain")
	case "linux":
		args = append(args, "--password-store=basic")
	}

	if opts.Headless {
		args = append(args, "--headless")
	}

	if opts.ProfileDir != "" && opts.ProfileDir != ProfileDirDefault {
		args = append(args, fmt.Sprintf("--user-data-dir=%s", opts.ProfileDir))
	}

	args = append(args, "about:blank")

	return args
}

// createTempProfileDir creates a temporary directory for browser profile data.
func createTempProfileDir(kind BrowserKind) (string, error) {
	return os.MkdirTemp("", fmt.Sprintf("bidigo-%s-*", kind))
}

// spawnProcess starts the browser process with the given binary and options.
// It does not wait for the process to exit. Returns the command, the
// profile directory (empty if using the default profile), and any error.
func spawnProcess(binPath string, opts LaunchOptions) (*exec.Cmd, string, error) {
	var profileDir string
	var createdTempDir bool

	switch opts.ProfileDir {
	case "":
		var err error
		profileDir, err = createTempProfileDir(opts.Kind)
		if err != nil {
			return nil, "", fmt.Errorf("create temp profile dir: %w", err)
		}
		opts.ProfileDir = profileDir
		createdTempDir = true
	case ProfileDirDefault:
		profileDir = ""
	default:
		profileDir = opts.ProfileDir
	}

	args := buildArgs(opts)
	cmd := exec.Command(binPath, args...)

	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		if createdTempDir && profileDir != "" {
			os.RemoveAll(profileDir)
		}
		return nil, "", fmt.Errorf("start browser: %w", err)
	}

	return cmd, profileDir, nil
}
