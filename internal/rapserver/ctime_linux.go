package rapserver

import (
	"os"
	"syscall"
	"time"
)

// platformCtime extracts st_ctim from the raw stat_t the os package
// stores in FileInfo.Sys().
func platformCtime(info os.FileInfo) (time.Time, bool) {
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(sys.Ctim.Sec, sys.Ctim.Nsec), true
}
