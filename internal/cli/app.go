package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/evsync/internal/authz"
	"github.com/roach88/evsync/internal/cache"
	"github.com/roach88/evsync/internal/config"
	"github.com/roach88/evsync/internal/engine"
	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/form"
	"github.com/roach88/evsync/internal/remote"
	"github.com/roach88/evsync/internal/store"
	"github.com/roach88/evsync/internal/store/badgerstore"
	"github.com/roach88/evsync/internal/store/memstore"
)

// app is what a device command works with: the configuration, the local
// cache and an engine wired to the remote server.
type app struct {
	cfg      config.Config
	cache    *cache.Cache
	engine   *engine.Engine
	forms    *form.Config
	registry *prometheus.Registry
	logger   *slog.Logger
}

// loadConfig reads the configuration and installs the default logger.
func loadConfig(opts *RootOptions, cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	handler, err := cfg.Log.Handler(cmd.ErrOrStderr(), opts.Verbose)
	if err != nil {
		return config.Config{}, nil, WrapExitError(ExitCommandError, "failed to configure logging", err)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// openApp loads the configuration and opens the device's store and engine.
// The caller must call close.
func openApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	cfg, logger, err := loadConfig(opts, cmd)
	if err != nil {
		return nil, err
	}

	kv, err := openStore(cfg.Store, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	c := cache.New(kv, cache.WithLogger(logger))

	var forms *form.Config
	if cfg.Forms.Dir != "" {
		forms, err = form.LoadDir(cfg.Forms.Dir)
		if err != nil {
			c.Close()
			return nil, WrapExitError(ExitCommandError, "failed to load forms", err)
		}
	}

	registry := prometheus.NewRegistry()
	engineOpts := []engine.EngineOption{
		engine.WithLogger(logger),
		engine.WithRetryInterval(cfg.Outbox.RetryInterval),
		engine.WithMetrics(engine.NewMetrics(registry)),
	}
	if forms != nil {
		engineOpts = append(engineOpts, engine.WithForms(forms))
	}
	if cfg.Remote.Token != "" && cfg.Server.Secret != "" {
		session := authz.JWT{Token: cfg.Remote.Token, Secret: []byte(cfg.Server.Secret)}
		actor, err := session.Actor()
		if err != nil {
			c.Close()
			return nil, WrapExitError(ExitCommandError, "invalid session token", err)
		}
		engineOpts = append(engineOpts, engine.WithScopes(session), engine.WithActor(actor))
	}

	client := remote.NewHTTPClient(cfg.Remote.URL,
		remote.WithToken(cfg.Remote.Token),
		remote.WithTimeout(cfg.Remote.Timeout))
	eng, err := engine.New(c, client, engineOpts...)
	if err != nil {
		c.Close()
		return nil, WrapExitError(ExitCommandError, "failed to start engine", err)
	}

	logger.Debug("store opened", "driver", cfg.Store.Driver, "path", cfg.Store.Path)
	return &app{
		cfg:      cfg,
		cache:    c,
		engine:   eng,
		forms:    forms,
		registry: registry,
		logger:   logger,
	}, nil
}

func (a *app) close() {
	a.engine.Close()
	if err := a.cache.Close(); err != nil {
		a.logger.Error("error closing store", "error", err)
	}
}

// openStore opens the KV the store section names.
func openStore(cfg config.StoreConfig, logger *slog.Logger) (store.KV, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return store.Open(cfg.Path)
	case config.DriverBadger:
		bc := badgerstore.DefaultConfig(cfg.Path)
		bc.Logger = logger
		return badgerstore.Open(bc)
	case config.DriverMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// parseAction accepts an action type in wire or lower-case form.
func parseAction(s string) (event.ActionType, error) {
	t, ok := event.ParseActionType(s)
	if !ok {
		return "", NewExitError(ExitCommandError, fmt.Sprintf("unknown action %q", s))
	}
	return t, nil
}

// isExit reports whether err already carries an exit code.
func isExit(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr)
}
