//go:build !linux

package procutil

import "time"

// processStartTime has no portable implementation outside Linux's /proc;
// callers fall back to liveness-only checks.
func processStartTime(pid int) (time.Time, bool) {
	return time.Time{}, false
}
