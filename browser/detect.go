// Package browser launches a BiDi-capable browser and negotiates a
// classic WebDriver session to obtain its BiDi WebSocket URL. It is a
// caller-facing convenience built on top of the bidi core: the core
// itself (bidi.Session.Start) only ever knows about a bare WebSocket URL.
package browser

import (
	"errors"
	"os"
	"os/exec"
	"runtime"
)

// BrowserKind identifies which browser family to locate or launch.
type BrowserKind int

const (
	// Firefox is the only kind NewSession negotiates a BiDi WebSocket for:
	// Firefox's built-in remote agent (enabled by --remote-debugging-port)
	// speaks classic WebDriver session creation with webSocketUrl
	// capability negotiation natively.
	Firefox BrowserKind = iota

	// Chrome is detectable and launchable, but NewSession is not
	// implemented for it: Chrome's built-in debugging endpoint speaks
	// CDP, not classic WebDriver /session negotiation, and turning that
	// into a BiDi WebSocket URL requires an external driver
	// (chromedriver) this package does not manage.
	Chrome
)

func (k BrowserKind) String() string {
	switch k {
	case Firefox:
		return "firefox"
	case Chrome:
		return "chrome"
	default:
		return "unknown"
	}
}

// ErrBrowserNotFound is returned when no binary for the requested kind can
// be located.
var ErrBrowserNotFound = errors.New("browser: binary not found")

// ErrUnsupportedKind is returned by NewSession for browser kinds that do
// not support classic WebDriver session negotiation via this package.
var ErrUnsupportedKind = errors.New("browser: session negotiation not supported for this kind")

func firefoxPaths() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/Firefox.app/Contents/MacOS/firefox",
			"/Applications/Firefox Nightly.app/Contents/MacOS/firefox",
			"/usr/bin/firefox",
		}
	case "linux":
		return []string{
			"/usr/bin/firefox",
			"/usr/bin/firefox-esr",
			"/snap/bin/firefox",
			"firefox",
			"firefox-esr",
		}
	default:
		return nil
	}
}

func chromePaths() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/google-chrome",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
		}
	case "linux":
		return []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
			"google-chrome",
			"google-chrome-stable",
			"chromium",
			"chromium-browser",
		}
	default:
		return nil
	}
}

// envVar returns the environment variable this package checks before
// searching common install paths for kind.
func envVar(kind BrowserKind) string {
	switch kind {
	case Firefox:
		return "BIDIGO_FIREFOX"
	case Chrome:
		return "BIDIGO_CHROME"
	default:
		return ""
	}
}

// FindBrowser searches for a binary of the given kind. It first checks
// the kind's environment variable override, then searches common
// installation paths for the current platform.
func FindBrowser(kind BrowserKind) (string, error) {
	if envPath := os.Getenv(envVar(kind)); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
		return "", ErrBrowserNotFound
	}

	var paths []string
	switch kind {
	case Firefox:
		paths = firefoxPaths()
	case Chrome:
		paths = chromePaths()
	}

	for _, path := range paths {
		if found, err := exec.LookPath(path); err == nil {
			return found, nil
		}
	}

	return "", ErrBrowserNotFound
}
