package shared

import (
	"fmt"
	"os/exec"
	"runtime"
)

// browserCommand returns the launcher for target on goos.
func browserCommand(goos, target string) (name string, args []string, err error) {
	switch goos {
	case "darwin":
		return "open", []string{target}, nil
	case "linux", "freebsd", "openbsd":
		return "xdg-open", []string{target}, nil
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", target}, nil
	default:
		return "", nil, fmt.Errorf("%w: no browser launcher for %s", ErrNotImplemented, goos)
	}
}

// OpenBrowser hands target to the desktop's default handler without waiting for it.
//
// The console player opens stream URLs with it and the Spotify login opens the authorization page.
func OpenBrowser(target string) error {
	name, args, err := browserCommand(runtime.GOOS, target)
	if err != nil {
		return err
	}
	if err := exec.Command(name, args...).Start(); err != nil {
		return fmt.Errorf("failed to open %s: %w", target, err)
	}
	return nil
}
