package procutil

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// processStartTime reads field 22 ("starttime", clock ticks since boot) from
// /proc/<pid>/stat and converts it to a wall-clock time using the system
// boot time from /proc/stat.
func processStartTime(pid int) (time.Time, bool) {
	statData, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return time.Time{}, false
	}

	// Process name may contain spaces or parens; fields start after the
	// last ')'.
	s := string(statData)
	idx := strings.LastIndex(s, ")")
	if idx < 0 {
		return time.Time{}, false
	}
	fields := strings.Fields(s[idx+1:])
	const starttimeFieldIndex = 19 // field 22 overall, 0-based after name
	if len(fields) <= starttimeFieldIndex {
		return time.Time{}, false
	}
	ticks, err := strconv.ParseInt(fields[starttimeFieldIndex], 10, 64)
	if err != nil {
		return time.Time{}, false
	}

	bootTime, ok := bootTime()
	if !ok {
		return time.Time{}, false
	}

	const clockTicksPerSec = 100
	since := time.Duration(ticks) * time.Second / clockTicksPerSec
	return bootTime.Add(since), true
}

func bootTime() (time.Time, bool) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return time.Time{}, false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "btime ") {
			fields := strings.Fields(line)
			if len(fields) != 2 {
				return time.Time{}, false
			}
			secs, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return time.Time{}, false
			}
			return time.Unix(secs, 0), true
		}
	}
	return time.Time{}, false
}
