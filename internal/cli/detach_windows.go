//go:build windows

package cli

import "os/exec"

// setDetachAttrs is a no-op on Windows; the daemon falls back to
// foreground mode there.
func setDetachAttrs(cmd *exec.Cmd) {}

func detachSupported() bool { return false }
