package main

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"couling.me/webdavd/internal/accesslog"
	"couling.me/webdavd/internal/config"
	"couling.me/webdavd/internal/httpd"
	"couling.me/webdavd/internal/rapclient"
	"couling.me/webdavd/internal/rappool"
	"couling.me/webdavd/internal/tlscert"
)

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webdavd server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "/etc/webdavd/server-config.xml", "path to the server-config XML document")

	return cmd
}

func serve(configPath string) error {
	log := logrus.StandardLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	server := cfg.Server

	if err := redirectStderr(server.ErrorLog); err != nil {
		return err
	}

	accessLog, err := accesslog.Open(server.AccessLog)
	if err != nil {
		return err
	}
	defer accessLog.Close()

	authenticate := rapclient.New(rapclient.Options{
		RapBinary:     server.RapBinary,
		PamService:    server.PamService,
		MimeTypesFile: server.MimeFile,
		Log:           log,
	})

	pool := rappool.New(server.MaxUserSessions, server.SessionTimeout, authenticate, log)
	pool.Start()
	defer pool.Stop()

	pages, err := httpd.LoadStaticPages(httpd.StaticPageOverrides{})
	if err != nil {
		return err
	}

	handler := &httpd.Handler{
		Pool:      pool,
		AccessLog: accessLog,
		Pages:     pages,
		Log:       log,
	}

	tlsStore := tlscert.NewStore()
	for _, c := range server.SSLCerts {
		if err := tlsStore.Add(c.Certificate, c.Key, c.Chain...); err != nil {
			return err
		}
	}

	if len(server.Listen) == 0 {
		return fmt.Errorf("webdavd: server-config has no <listen> blocks")
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(server.Listen))

	// One net/http.Server per <listen> block, all sharing one pool,
	// handler, and access log.
	for _, l := range server.Listen {
		l := l
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- runListener(l, handler, tlsStore, log)
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// redirectStderr dups the error log onto stderr so both the server's own
// logging and every RAP child's inherited stderr land in the configured
// error log.
func redirectStderr(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("webdavd: could not open error log %s: %w", path, err)
	}
	defer f.Close()
	return unix.Dup2(int(f.Fd()), 2)
}

func runListener(l config.Listen, handler http.Handler, tlsStore *tlscert.Store, log logrus.FieldLogger) error {
	addr := net.JoinHostPort(l.Host, fmt.Sprintf("%d", l.Port))

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 30 * time.Second,
	}

	if l.Encryption == "ssl" {
		if tlsStore.Empty() {
			return fmt.Errorf("webdavd: listen %s requests ssl but no <ssl-cert> is configured", addr)
		}
		srv.TLSConfig = &tls.Config{GetCertificate: tlsStore.GetCertificate}
		log.WithField("addr", addr).Info("webdavd: listening (tls)")
		return srv.ListenAndServeTLS("", "")
	}

	log.WithField("addr", addr).Info("webdavd: listening")
	return srv.ListenAndServe()
}
