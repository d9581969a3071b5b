//go:build !windows

package cli

import (
	"os"
	"syscall"
)

// interruptSignals are the signals that cancel a running workflow. A
// closed terminal counts.
func interruptSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}
}
