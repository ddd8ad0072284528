//go:build linux

package shell

import "fmt"

// writeToClipboard returns an error indicating clipboard is not available
func writeToClipboard(_ string) error {
	return fmt.Errorf("clipboard not available on this platform (Linux without X11)")
}
