package rappool

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
)

var sigchldOnce sync.Once

// installSIGCHLDHandler installs a single process-wide, non-blocking
// SIGCHLD reaper that logs abnormal exits. Idempotent: later Pools
// sharing a process reuse the same handler.
func installSIGCHLDHandler(log logrus.FieldLogger) {
	sigchldOnce.Do(func() {
		ch := make(chan os.Signal, 64)
		signal.Notify(ch, syscall.SIGCHLD)
		go func() {
			for range ch {
				reapChildren(log)
			}
		}()
	})
}

func reapChildren(log logrus.FieldLogger) {
	for {
		var ws syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG, nil)
		if pid <= 0 || err != nil {
			return
		}
		if log == nil {
			continue
		}
		switch {
		case ws.Signaled():
			log.WithFields(logrus.Fields{"pid": pid, "signal": ws.Signal()}).
				Warn("rap terminated by signal")
		case ws.Exited() && ws.ExitStatus() != 0:
			log.WithFields(logrus.Fields{"pid": pid, "status": ws.ExitStatus()}).
				Warn("rap exited with non-zero status")
		}
	}
}
