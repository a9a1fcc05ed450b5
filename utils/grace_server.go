package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

const (
	DEFAULT_READ_TIMEOUT     = 60 * time.Second
	DEFAULT_WRITE_TIMEOUT    = DEFAULT_READ_TIMEOUT
	DEFAULT_SHUTDOWN_TIMEOUT = 30 * time.Second
)

// ShutdownHook runs after the HTTP server has drained, in registration order.
type ShutdownHook func(ctx context.Context) error

// Server wraps http.Server with signal driven graceful shutdown.
type Server struct {
	*http.Server

	listener        net.Listener
	signalChan      chan os.Signal
	shutdownChan    chan struct{}
	shutdownTimeout time.Duration
	hooks           []ShutdownHook
	shutdownOnce    sync.Once
}

// NewServer creates a Server with timeouts and handler.
func NewServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration) *Server {
	return &Server{
		Server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      writeTimeout,
		},
		signalChan:      make(chan os.Signal, 1),
		shutdownChan:    make(chan struct{}),
		shutdownTimeout: DEFAULT_SHUTDOWN_TIMEOUT,
	}
}

// OnShutdown registers a hook, e.g. stopping background jobs or closing pools.
func (srv *Server) OnShutdown(hook ShutdownHook) {
	srv.hooks = append(srv.hooks, hook)
}

// ListenAndServe starts serving on tcp and handles signals.
func (srv *Server) ListenAndServe() error {
	addr := srv.Addr
	if addr == "" {
		addr = ":http"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("net.Listen error: %w", err)
	}
	return srv.Serve(ln)
}

// Serve serves on ln until SIGINT/SIGTERM or Shutdown, then runs the hooks.
func (srv *Server) Serve(ln net.Listener) error {
	srv.listener = ln
	go srv.handleSignals()
	err := srv.Server.Serve(srv.listener)
	if errors.Is(err, http.ErrServerClosed) {
		// Wait until Shutdown finished
		<-srv.shutdownChan
		return nil
	}
	return err
}

func (srv *Server) handleSignals() {
	signal.Notify(srv.signalChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(srv.signalChan)

	select {
	case sig := <-srv.signalChan:
		Sugar.Infof("received %v, graceful shutting down HTTP server", sig)
		srv.GracefulShutdown()
	case <-srv.shutdownChan:
	}
}

// GracefulShutdown drains connections, then runs the shutdown hooks under a fresh deadline.
func (srv *Server) GracefulShutdown() {
	srv.shutdownOnce.Do(srv.shutdown)
}

func (srv *Server) shutdown() {
	drainCtx, cancel := context.WithTimeout(context.Background(), srv.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		Sugar.Errorf("HTTP server shutdown error: %v", err)
	} else {
		Sugar.Info("HTTP server shutdown success")
	}

	// a slow drain must not eat the hooks' budget
	hookCtx, cancelHooks := context.WithTimeout(context.Background(), srv.shutdownTimeout)
	defer cancelHooks()
	for _, hook := range srv.hooks {
		if err := hook(hookCtx); err != nil {
			Sugar.Errorf("shutdown hook error: %v", err)
		}
	}
	close(srv.shutdownChan)
}

// GraceServer starts an HTTP server with graceful capabilities.
func GraceServer(addr string, handler http.Handler, hooks ...ShutdownHook) error {
	srv := NewServer(addr, handler, DEFAULT_READ_TIMEOUT, DEFAULT_WRITE_TIMEOUT)
	for _, h := range hooks {
		srv.OnShutdown(h)
	}
	return srv.ListenAndServe()
}
