//go:build !linux

package shell

import "golang.design/x/clipboard"

// writeToClipboard writes text to the system clipboard
func writeToClipboard(text string) error {
	if err := clipboard.Init(); err != nil {
		return err
	}
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}
