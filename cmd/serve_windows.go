//go:build windows

package cmd

import (
	"os"
	"os/exec"
	"syscall"
)

// setDaemonAttrs is a no-op; Windows has no session detach.
func setDaemonAttrs(_ *exec.Cmd) {}

// shutdownSignals stop the relay and the agents gracefully.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// sigTERM falls back to a kill: Windows cannot deliver SIGTERM to another
// process.
func sigTERM() syscall.Signal { return syscall.SIGKILL }

func sigKILL() syscall.Signal { return syscall.SIGKILL }
