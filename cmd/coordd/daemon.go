package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/dd0wney/cluso-coord/pkg/auth"
	"github.com/dd0wney/cluso-coord/pkg/cluster"
	"github.com/dd0wney/cluso-coord/pkg/config"
	"github.com/dd0wney/cluso-coord/pkg/logging"
	"github.com/dd0wney/cluso-coord/pkg/metrics"
	"github.com/dd0wney/cluso-coord/pkg/opsapi"
	"github.com/dd0wney/cluso-coord/pkg/server"
	"github.com/dd0wney/cluso-coord/pkg/store"
	coordtls "github.com/dd0wney/cluso-coord/pkg/tls"
)

// daemon owns everything one coordd process runs
type daemon struct {
	cfg        config.File
	configPath string
	logger     *logging.JSONLogger
	registry   *metrics.Registry
	store      store.Store
	manager    *cluster.Manager
	http       *server.GracefulServer
	serveErr   chan error
}

// run loads the config and runs the daemon until ctx is done or a
// terminating signal arrives
func run(ctx context.Context, configPath string, logOut io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.NewJSONLogger(logOut, logging.ParseLevel(cfg.Log.Level))
	logging.SetDefaultLogger(logger)

	d, err := newDaemon(ctx, cfg, configPath, logger)
	if err != nil {
		return err
	}

	terminate, stopSignals := d.http.HandleSignals()
	defer stopSignals()

	if err := d.start(ctx); err != nil {
		return errors.Join(err, d.stop())
	}

	select {
	case <-ctx.Done():
	case <-terminate:
	case err := <-d.serveErr:
		logger.Error("ops server failed", logging.Error(err))
		return errors.Join(err, d.stop())
	}
	return d.stop()
}

// openStore opens the configured shared store. Without cluster mode no
// store is needed.
func openStore(ctx context.Context, cfg config.File) (store.Store, error) {
	if !cfg.Cluster.IsCluster {
		return nil, nil
	}
	return cfg.OpenStore(ctx)
}

func newDaemon(ctx context.Context, cfg config.File, configPath string, logger *logging.JSONLogger) (*daemon, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	registry := metrics.NewRegistry()
	manager, err := cluster.New(st, cfg.Cluster,
		cluster.WithLogger(logger),
		cluster.WithMetrics(registry),
	)
	if err != nil {
		closeStore(st)
		return nil, err
	}

	var ping func(ctx context.Context) error
	if st != nil {
		ping = st.Ping
	}
	var apiOpts []opsapi.Option
	if cfg.Ops.AuthSecret != "" {
		jwtManager, err := auth.NewJWTManager(cfg.Ops.AuthSecret, cfg.Ops.TokenTTL)
		if err != nil {
			closeStore(st)
			return nil, err
		}
		apiOpts = append(apiOpts, opsapi.WithAuth(jwtManager))
	}
	api := opsapi.New(manager, opsapi.NewHealthChecker(manager, ping), registry, logger, apiOpts...)

	tlsConfig, err := coordtls.LoadTLSConfig(cfg.Ops.TLS)
	if err != nil {
		closeStore(st)
		return nil, err
	}
	if tlsConfig != nil {
		logCertificate(logger, tlsConfig)
	}

	httpServer := server.NewGracefulServer(cfg.Ops.Listen, api.Routes(),
		server.WithLogger(logger),
		server.WithTimeouts(cfg.Ops.ReadTimeout, cfg.Ops.WriteTimeout),
		server.WithTLS(tlsConfig),
	)
	if err := httpServer.Listen(); err != nil {
		closeStore(st)
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Ops.Listen, err)
	}

	d := &daemon{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		registry:   registry,
		store:      st,
		manager:    manager,
		http:       httpServer,
		serveErr:   make(chan error, 1),
	}
	httpServer.SetConfigReloadFunc(d.reload)
	return d, nil
}

// start joins the roster, walks the node through startup and begins the
// periodic refetch
func (d *daemon) start(ctx context.Context) error {
	go func() {
		if err := d.http.Serve(); err != nil {
			d.serveErr <- err
		}
	}()

	d.logger.Info("coordd starting",
		logging.Bool("cluster", d.cfg.Cluster.IsCluster),
		logging.String("store", d.cfg.Store),
		logging.String("ops_listen", d.http.Addr()))

	if err := d.manager.InitNode(ctx); err != nil {
		return fmt.Errorf("failed to join cluster: %w", err)
	}
	for _, state := range []cluster.NodeState{cluster.StateStartup, cluster.StateRunning} {
		if err := d.manager.SetNodeState(ctx, state); err != nil {
			return fmt.Errorf("failed to enter state %s: %w", state, err)
		}
	}
	if err := d.manager.Start(); err != nil {
		return err
	}

	id, _ := d.manager.NodeID()
	d.logger.Info("coordd running", logging.NodeID(id))
	return nil
}

// stop announces the shutdown, leaves the roster and releases the store.
// Errors are collected; every step runs.
func (d *daemon) stop() error {
	timeout := d.cfg.Ops.ShutdownTimeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if _, joined := d.manager.NodeID(); joined {
		if err := d.manager.SetNodeState(ctx, cluster.StateShutdown); err != nil {
			errs = append(errs, err)
		}
		if err := d.manager.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.http.Shutdown(timeout); err != nil {
		errs = append(errs, err)
	}
	if err := closeStore(d.store); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	if err != nil {
		d.logger.Error("coordd stopped with errors", logging.Error(err))
	} else {
		d.logger.Info("coordd stopped")
	}
	return err
}

// reload re-reads the config file. Only the log level can change at
// runtime; other changes need a restart.
func (d *daemon) reload() error {
	cfg, err := config.Load(d.configPath)
	if err != nil {
		return err
	}

	level := logging.ParseLevel(cfg.Log.Level)
	d.logger.SetLevel(level)
	d.logger.Info("log level set", logging.String("level", level.String()))

	if cfg.Cluster != d.cfg.Cluster || cfg.Store != d.cfg.Store || !reflect.DeepEqual(cfg.Ops, d.cfg.Ops) {
		d.logger.Warn("config changes besides log level take effect after restart")
	}
	d.cfg.Log = cfg.Log
	return nil
}

// logCertificate logs the serving certificate and warns when it expires
// within a month
func logCertificate(logger logging.Logger, tlsConfig *tls.Config) {
	info, err := coordtls.LeafInfo(tlsConfig.Certificates[0])
	if err != nil {
		logger.Warn("cannot inspect ops certificate", logging.Error(err))
		return
	}
	fields := []logging.Field{
		logging.String("subject", info.Subject),
		logging.Any("hosts", info.DNSNames),
		logging.Duration("expires_in", info.ExpiresIn()),
	}
	if info.ExpiresIn() < 30*24*time.Hour {
		logger.Warn("ops certificate expires soon", fields...)
		return
	}
	logger.Info("ops listener uses TLS", fields...)
}

func closeStore(st store.Store) error {
	if st == nil {
		return nil
	}
	return st.Close()
}
