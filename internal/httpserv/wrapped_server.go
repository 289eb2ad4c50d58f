// Package httpserv contains HTTP server utilities.
package httpserv

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/bluenviron/reframer/internal/conf"
	"github.com/bluenviron/reframer/internal/logger"
)

// exit when there's a panic inside the HTTP handler.
// https://github.com/golang/go/issues/16542
type exitOnPanicHandler struct {
	http.Handler
}

func (h exitOnPanicHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		err := recover()
		if err != nil && err != http.ErrAbortHandler { //nolint:errorlint
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "panic: %v\n\n%s", err, buf[:n])
			os.Exit(1)
		}
	}()
	h.Handler.ServeHTTP(w, r)
}

// forwards errors of the standard library server to a logger.Writer.
type errorLogWriter struct {
	p logger.Writer
}

func (w errorLogWriter) Write(p []byte) (int, error) {
	w.p.Log(logger.Debug, "%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// WrappedServer is a wrapper around http.Server that provides:
// - net.Listener allocation and closure
// - exit on panic
// - forwarding of internal errors to a logger
type WrappedServer struct {
	Address      string
	ReadTimeout  conf.StringDuration
	WriteTimeout conf.StringDuration
	Handler      http.Handler
	Parent       logger.Writer

	ln    net.Listener
	inner *http.Server
	done  chan struct{}
}

// Initialize initializes a WrappedServer.
func (s *WrappedServer) Initialize() error {
	var err error
	s.ln, err = net.Listen("tcp", s.Address)
	if err != nil {
		return err
	}

	s.inner = &http.Server{
		Handler:           exitOnPanicHandler{s.Handler},
		ReadHeaderTimeout: time.Duration(s.ReadTimeout),
		WriteTimeout:      time.Duration(s.WriteTimeout),
		ErrorLog:          log.New(errorLogWriter{s.Parent}, "", 0),
	}

	s.done = make(chan struct{})

	go s.run()

	return nil
}

// Close closes all resources and waits for all routines to return.
func (s *WrappedServer) Close() {
	s.inner.Shutdown(context.Background()) //nolint:errcheck
	s.ln.Close()                           //nolint:errcheck
	<-s.done
}

// Addr returns the address the server is listening on.
func (s *WrappedServer) Addr() net.Addr {
	return s.ln.Addr()
}

func (s *WrappedServer) run() {
	defer close(s.done)
	s.inner.Serve(s.ln) //nolint:errcheck
}
