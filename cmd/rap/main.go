// Command rap is the Restricted-Access Processor child: it is never run
// directly by a human, only exec'd by webdavd with stdin=stdout set to
// its half of the control socketpair.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/sirupsen/logrus"

	"couling.me/webdavd/internal/rapserver"
	"couling.me/webdavd/internal/webdavfs"
)

func main() {
	pamService := "webdav"
	if len(os.Args) > 1 {
		pamService = os.Args[1]
	}
	mimeFile := "/etc/mime.types"
	if len(os.Args) > 2 {
		mimeFile = os.Args[2]
	}

	log := logrus.WithField("component", "rap").WithField("pid", os.Getpid())

	mimeTable, err := webdavfs.LoadMimeTable(mimeFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rap: could not load mime table:", err)
		os.Exit(1)
	}

	conn, err := net.FileConn(os.Stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rap: stdin is not a usable control socket:", err)
		os.Exit(1)
	}
	sock, ok := conn.(*net.UnixConn)
	if !ok {
		fmt.Fprintln(os.Stderr, "rap: stdin is not a unix socket")
		os.Exit(1)
	}

	if err := rapserver.Run(sock, pamService, mimeTable, log); err != nil {
		log.WithError(err).Error("rap: fatal error, exiting")
		os.Exit(1)
	}
}
