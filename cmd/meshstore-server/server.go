package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/yndnr/meshstore/internal/backup"
	"github.com/yndnr/meshstore/internal/datastore"
	"github.com/yndnr/meshstore/internal/infra/buildinfo"
	"github.com/yndnr/meshstore/internal/infra/confloader"
	"github.com/yndnr/meshstore/internal/infra/shutdown"
	"github.com/yndnr/meshstore/internal/infra/tlsroots"
	"github.com/yndnr/meshstore/internal/restore"
	"github.com/yndnr/meshstore/internal/server/config"
	"github.com/yndnr/meshstore/internal/server/httpserver"
	"github.com/yndnr/meshstore/internal/server/httpserver/handler"
	"github.com/yndnr/meshstore/internal/storage/snapshot"
	"github.com/yndnr/meshstore/internal/telemetry/logger"
	"github.com/yndnr/meshstore/internal/telemetry/metric"
)

// server owns every long-lived component of the process.
type server struct {
	cfg        *config.ServerConfig
	configFile string
	logger     *slog.Logger
	nodeID     string
	encryption snapshot.EncryptionConfig

	registry *metric.Registry
	restore  *restore.Coordinator
	managers []*datastore.Manager
	backups  *backup.Manager // nil without backup.dir
	http     *httpserver.Server
	watcher  *confloader.Watcher
	shutdown *shutdown.Handler
}

func newServer(cfg *config.ServerConfig, configFile string, logOut io.Writer) (*server, error) {
	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: logOut,
	})
	slog.SetDefault(log)

	nodeID, err := config.ResolveNodeID(cfg, log)
	if err != nil {
		return nil, err
	}
	enc, err := config.EncryptionConfig(cfg)
	if err != nil {
		return nil, err
	}

	return &server{
		cfg:        cfg,
		configFile: configFile,
		logger:     log.With("node_id", nodeID),
		nodeID:     nodeID,
		encryption: enc,
		registry:   metric.NewRegistry(),
		shutdown:   shutdown.NewHandler(shutdown.DefaultTimeout, log),
	}, nil
}

// run starts the server and blocks until ctx is done or the HTTP server
// fails, then runs the shutdown hooks.
func (s *server) run(ctx context.Context) error {
	if err := s.start(ctx); err != nil {
		return err
	}
	return s.wait(ctx)
}

// start restores, bootstraps and begins serving. Components started
// before a failure are stopped again.
func (s *server) start(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			_ = s.shutdown.Shutdown()
		}
	}()

	info := buildinfo.Get()
	s.logger.Info("starting meshstore-server",
		"version", info.Version,
		"commit", info.Commit,
		"config", s.configFile,
		"data_dir", s.cfg.Storage.DataDir,
		"log_store", s.cfg.Raft.LogStore,
		"encrypted_backups", s.encryption.Enabled())

	if err := s.openRestore(); err != nil {
		return err
	}
	if err := s.bootstrap(ctx); err != nil {
		return err
	}
	if err := s.openBackups(); err != nil {
		return err
	}
	if err := s.startHTTP(); err != nil {
		return err
	}
	if err := s.startWatcher(); err != nil {
		return err
	}

	s.logger.Info("server started", "http_addr", s.http.Addr(), "datastores", len(s.managers))
	return nil
}

// openRestore reads the restore artifact up front so a corrupt bundle stops
// the process before any shard opens. The artifact is kept on failure.
func (s *server) openRestore() error {
	coord, err := restore.New(config.ToRestoreConfig(s.cfg, s.encryption, s.logger))
	if err != nil {
		return err
	}
	if err := coord.RegisterMetrics(s.registry); err != nil {
		return err
	}
	if err := coord.Load(); err != nil {
		return err
	}
	s.restore = coord
	return nil
}

// bootstrap opens every datastore concurrently. Each claims its own entry
// from the restore coordinator.
func (s *server) bootstrap(ctx context.Context) error {
	for _, dcfg := range config.ToDatastoreConfigs(s.cfg, s.nodeID, s.logger, s.registry) {
		m, err := datastore.New(dcfg)
		if err != nil {
			return err
		}
		s.managers = append(s.managers, m)
	}
	s.shutdown.OnShutdown("datastores", s.closeManagers)

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range s.managers {
		g.Go(func() error {
			return m.Bootstrap(gctx, s.restore)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if pending := s.restore.Pending(); len(pending) > 0 {
		s.logger.Warn("restore bundle holds datastores that are not configured",
			"pending", pending,
			"path", s.restore.Path())
	}

	sources := make([]metric.StatusSource, len(s.managers))
	for i, m := range s.managers {
		sources[i] = m
	}
	return s.registry.Register(metric.NewShardCollector(sources...))
}

func (s *server) closeManagers(context.Context) error {
	var errs []error
	for i := len(s.managers) - 1; i >= 0; i-- {
		if err := s.managers[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.managers[i].Type(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *server) openBackups() error {
	if s.cfg.Backup.Dir == "" {
		return nil
	}
	mgr, err := backup.NewManager(config.ToBackupConfig(s.cfg, s.nodeID, s.encryption, s.logger))
	if err != nil {
		return err
	}
	s.backups = mgr
	if s.cfg.Backup.OnShutdown {
		s.shutdown.OnShutdown("backup", func(ctx context.Context) error {
			_, err := s.backup(ctx)
			return err
		})
	}
	return nil
}

// backup captures every datastore into one bundle and applies retention.
func (s *server) backup(ctx context.Context) (*snapshot.Info, error) {
	sources := make([]backup.Source, len(s.managers))
	for i, m := range s.managers {
		sources[i] = m
	}
	info, err := s.backups.Create(ctx, sources...)
	if err != nil {
		return nil, err
	}
	if _, err := s.backups.Prune(); err != nil {
		s.logger.Warn("backup retention failed", "error", err)
	}
	return info, nil
}

func (s *server) startHTTP() error {
	if s.cfg.Server.HTTP.Addr == "" {
		s.logger.Info("http server disabled")
		return nil
	}

	datastores := make([]handler.Datastore, len(s.managers))
	for i, m := range s.managers {
		datastores[i] = m
	}
	hcfg := handler.Config{
		Datastores: datastores,
		Restore:    s.restore,
	}
	if s.backups != nil {
		hcfg.Backups = backupService{s}
	}

	router := httpserver.NewRouter(httpserver.RouterConfig{
		Handler:        hcfg,
		Metrics:        s.registry.Handler(),
		AdminAllowList: s.cfg.Server.HTTP.AdminAllowList,
		AdminRateLimit: s.cfg.Server.HTTP.AdminRateLimit,
		AdminBurst:     s.cfg.Server.HTTP.AdminBurst,
		Logger:         s.logger,
	})
	s.http = httpserver.New(s.cfg.Server.HTTP.Addr, router, s.logger)
	if s.cfg.Server.HTTP.TLS.Enabled() {
		tlsCfg, err := s.serverTLS()
		if err != nil {
			return fmt.Errorf("http tls: %w", err)
		}
		s.http.UseTLS(tlsCfg)
	}
	if err := s.http.Start(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	s.shutdown.OnShutdown("http", s.http.Shutdown)
	return nil
}

// serverTLS loads the key pair and keeps it current until shutdown.
func (s *server) serverTLS() (*tls.Config, error) {
	t := s.cfg.Server.HTTP.TLS
	kp, err := tlsroots.LoadKeyPair(t.CertFile, t.KeyFile, tlsroots.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	var clientCAs *x509.CertPool
	if t.ClientCAFile != "" {
		if clientCAs, err = tlsroots.LoadCAPool(t.ClientCAFile); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := kp.Watch(ctx); err != nil {
			s.logger.Error("tls watcher stopped", "error", err)
		}
	}()
	s.shutdown.OnShutdown("tls-watcher", func(context.Context) error {
		cancel()
		<-done
		return nil
	})
	return tlsroots.ServerConfig(kp, clientCAs), nil
}

// startWatcher reloads the config file on change and applies the log
// level. Every other setting needs a restart.
func (s *server) startWatcher() error {
	if s.configFile == "" {
		return nil
	}
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(s.logger))
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Watch(s.configFile); err != nil {
		_ = w.Stop()
		return fmt.Errorf("config watcher: %w", err)
	}
	w.OnChange(s.reloadConfig)
	w.StartAsync()
	s.watcher = w
	s.shutdown.OnShutdown("config-watcher", func(context.Context) error {
		return w.Stop()
	})
	return nil
}

func (s *server) reloadConfig(path string) {
	cfg := config.Default()
	if err := confloader.NewLoader(confloader.WithConfigFile(path)).Load(cfg); err != nil {
		s.logger.Error("config reload failed", "path", path, "error", err)
		return
	}
	config.ApplyDefaults(cfg)
	if logger.ParseLevel(cfg.Log.Level) == logger.ParseLevel(logger.Level()) {
		return
	}
	if err := config.Verify(cfg); err != nil {
		s.logger.Error("reloaded config is invalid", "path", path, "error", err)
		return
	}
	logger.SetLevel(cfg.Log.Level)
	s.logger.Info("log level changed", "level", cfg.Log.Level)
}

// wait blocks until ctx is done or the HTTP server fails, then shuts down.
func (s *server) wait(ctx context.Context) error {
	waitCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if s.http != nil {
		go func() {
			select {
			case err := <-s.http.Err():
				if err != nil {
					cancel(fmt.Errorf("http server: %w", err))
				}
			case <-waitCtx.Done():
			}
		}()
	}

	err := s.shutdown.Wait(waitCtx)
	if cause := context.Cause(waitCtx); cause != nil && !errors.Is(cause, context.Canceled) {
		err = errors.Join(cause, err)
	}
	if err != nil {
		s.logger.Error("server stopped with errors", "error", err)
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// backupService serves the admin backup endpoints.
type backupService struct{ s *server }

func (b backupService) Backup(ctx context.Context) (*snapshot.Info, error) {
	return b.s.backup(ctx)
}

func (b backupService) List() ([]*snapshot.Info, error) {
	return b.s.backups.List()
}
