// Package server runs the ops HTTP listener of the daemon with graceful
// shutdown and signal-driven configuration reload.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dd0wney/cluso-coord/pkg/logging"
)

// ConfigReloadFunc is a function that reloads configuration
type ConfigReloadFunc func() error

// Option configures a GracefulServer
type Option func(*GracefulServer)

// WithTimeouts sets the read and write timeouts of the HTTP server
func WithTimeouts(read, write time.Duration) Option {
	return func(gs *GracefulServer) {
		gs.server.ReadTimeout = read
		gs.server.WriteTimeout = write
	}
}

// WithTLS serves HTTPS with the given configuration; nil keeps plain HTTP
func WithTLS(cfg *tls.Config) Option {
	return func(gs *GracefulServer) {
		gs.server.TLSConfig = cfg
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(gs *GracefulServer) {
		gs.logger = logger
	}
}

// GracefulServer wraps an HTTP server with graceful shutdown capabilities
type GracefulServer struct {
	server         *http.Server
	logger         logging.Logger
	listener       net.Listener
	shutdownCh     chan struct{}
	shutdownOnce   sync.Once
	configReloadFn ConfigReloadFunc
	configMu       sync.RWMutex
}

// NewGracefulServer creates a new graceful HTTP server
func NewGracefulServer(addr string, handler http.Handler, opts ...Option) *GracefulServer {
	gs := &GracefulServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       30 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(gs)
	}
	if gs.logger == nil {
		gs.logger = logging.DefaultLogger()
	}
	gs.logger = gs.logger.With(logging.Component("http"))
	return gs
}

// Listen binds the listen address. Addr reports the bound address
// afterwards, which resolves port 0.
func (gs *GracefulServer) Listen() error {
	ln, err := net.Listen("tcp", gs.server.Addr)
	if err != nil {
		return err
	}
	if gs.server.TLSConfig != nil {
		ln = tls.NewListener(ln, gs.server.TLSConfig)
	}
	gs.listener = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen
func (gs *GracefulServer) Addr() string {
	if gs.listener != nil {
		return gs.listener.Addr().String()
	}
	return gs.server.Addr
}

// Serve serves requests until Shutdown. It binds the address first if
// Listen was not called.
func (gs *GracefulServer) Serve() error {
	if gs.listener == nil {
		if err := gs.Listen(); err != nil {
			return err
		}
	}

	gs.logger.Info("starting HTTP server",
		logging.String("addr", gs.Addr()),
		logging.Bool("tls", gs.server.TLSConfig != nil))
	if err := gs.server.Serve(gs.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown initiates a graceful shutdown
func (gs *GracefulServer) Shutdown(timeout time.Duration) error {
	var err error
	gs.shutdownOnce.Do(func() {
		close(gs.shutdownCh)

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		gs.logger.Info("initiating graceful shutdown", logging.Duration("timeout", timeout))

		if shutdownErr := gs.server.Shutdown(ctx); shutdownErr != nil {
			err = shutdownErr
			gs.logger.Error("error during shutdown", logging.Error(shutdownErr))
		} else {
			gs.logger.Info("server shutdown complete")
		}
		// Serve may never have taken over the listener
		if gs.listener != nil {
			_ = gs.listener.Close()
		}
	})
	return err
}

// HandleSignals starts handling OS signals. SIGHUP triggers ReloadConfig;
// SIGINT and SIGTERM are passed to the returned channel so the caller can
// run its own shutdown sequence. stop releases the signal handlers.
func (gs *GracefulServer) HandleSignals() (terminate <-chan os.Signal, stop func()) {
	sigCh := make(chan os.Signal, 1)
	termCh := make(chan os.Signal, 1)
	done := make(chan struct{})

	signal.Notify(sigCh,
		syscall.SIGINT,  // Ctrl+C
		syscall.SIGTERM, // Termination signal (systemd, docker, k8s)
		syscall.SIGHUP,  // Reload configuration
	)

	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigCh:
				switch sig {
				case syscall.SIGHUP:
					gs.logger.Info("received SIGHUP, triggering configuration reload")
					_ = gs.ReloadConfig()
				default:
					gs.logger.Info("received signal, starting graceful shutdown", logging.String("signal", sig.String()))
					select {
					case termCh <- sig:
					default:
					}
				}
			}
		}
	}()

	var once sync.Once
	return termCh, func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(done)
		})
	}
}

// IsShuttingDown returns true if shutdown has been initiated
func (gs *GracefulServer) IsShuttingDown() bool {
	select {
	case <-gs.shutdownCh:
		return true
	default:
		return false
	}
}

// ShutdownChannel returns a channel that closes when shutdown is initiated
func (gs *GracefulServer) ShutdownChannel() <-chan struct{} {
	return gs.shutdownCh
}

// SetConfigReloadFunc sets the function to call when configuration reload is triggered
func (gs *GracefulServer) SetConfigReloadFunc(fn ConfigReloadFunc) {
	gs.configMu.Lock()
	defer gs.configMu.Unlock()
	gs.configReloadFn = fn
}

// ReloadConfig triggers a configuration reload
func (gs *GracefulServer) ReloadConfig() error {
	gs.configMu.RLock()
	reloadFn := gs.configReloadFn
	gs.configMu.RUnlock()

	if reloadFn == nil {
		gs.logger.Warn("configuration reload requested, but no reload function configured")
		return nil
	}

	gs.logger.Info("reloading configuration")
	if err := reloadFn(); err != nil {
		gs.logger.Error("configuration reload failed", logging.Error(err))
		return err
	}

	gs.logger.Info("configuration reload complete")
	return nil
}
