// Package bootstrap brings the server from an unconfigured host to a running instance.
//
// The sequence is fixed: resolve the configuration directory, materialize defaults on a
// fresh install, then connect the database, apply migrations once and compose addons onto
// the server. Each step runs once and the first failure is fatal.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/straight_server/internal/addon"
	"github.com/R3E-Network/straight_server/internal/config"
	"github.com/R3E-Network/straight_server/internal/configdir"
	"github.com/R3E-Network/straight_server/internal/database"
	"github.com/R3E-Network/straight_server/internal/metrics"
	"github.com/R3E-Network/straight_server/internal/platform/migrations"
	"github.com/R3E-Network/straight_server/internal/server"
	"github.com/R3E-Network/straight_server/pkg/logger"
)

// Outcome tells the caller what a successful Run did.
type Outcome int

const (
	// OutcomeConfigured means the server booted and is ready to serve.
	OutcomeConfigured Outcome = iota
	// OutcomeFreshInstall means defaults were written; the operator must review them.
	OutcomeFreshInstall
)

func (o Outcome) String() string {
	if o == OutcomeFreshInstall {
		return "fresh-install"
	}
	return "configured"
}

// Options configures a Bootstrapper. Zero values select the defaults.
type Options struct {
	// ConfigDir overrides the configuration directory.
	ConfigDir string
	// Migrator applies migrations. Defaults to a golang-migrate engine for the configured adapter.
	Migrator migrations.Runner
	// Registry holds compiled-in addon modules. Defaults to addon.Default().
	Registry *addon.Registry
	// Metrics receives boot, addon and HTTP metrics. Defaults to metrics.Default().
	Metrics *metrics.Registry
	// LogOutput is the console stream for the server log: stdout, stderr or none.
	LogOutput string
	// LogHooks are attached to the server logger once it is created.
	LogHooks []logrus.Hook
}

// Runtime owns everything a successful boot produced.
type Runtime struct {
	BootID string
	Dir    string
	Config *config.Config
	Secret configdir.Secret
	Log    *logger.Logger
	DB     *sqlx.DB
	Redis  *redis.Client
	Server *server.Server
	Addons []addon.Loaded
}

// Close releases addons, connections and the log file.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	if err := addon.CloseAll(r.Addons); err != nil {
		errs = append(errs, err)
	}
	r.Addons = nil
	if r.Redis != nil {
		if err := r.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
		r.Redis = nil
	}
	if r.DB != nil {
		if err := r.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		r.DB = nil
	}
	if err := r.Log.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close log file: %w", err))
	}
	return errors.Join(errs...)
}

// Bootstrapper runs the boot sequence once.
type Bootstrapper struct {
	opts    Options
	bootID  string
	state   State
	history []State
	dir     string
	created []string
	log     logrus.FieldLogger
}

// New creates a Bootstrapper in StateUnconfigured.
func New(opts Options) *Bootstrapper {
	if opts.Registry == nil {
		opts.Registry = addon.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Default()
	}
	// Silent until the configured logger exists; main reports early failures itself.
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	return &Bootstrapper{
		opts:    opts,
		bootID:  uuid.NewString(),
		state:   StateUnconfigured,
		history: []State{StateUnconfigured},
		log:     quiet,
	}
}

// State returns the current state.
func (b *Bootstrapper) State() State { return b.state }

// History returns every state visited, in order.
func (b *Bootstrapper) History() []State {
	return append([]State(nil), b.history...)
}

// Dir returns the resolved configuration directory.
func (b *Bootstrapper) Dir() string { return b.dir }

// Created lists the files written by a fresh install.
func (b *Bootstrapper) Created() []string {
	return append([]string(nil), b.created...)
}

// BootID identifies this boot in logs.
func (b *Bootstrapper) BootID() string { return b.bootID }

// Run executes the boot sequence. On OutcomeFreshInstall the returned Runtime is nil.
// Every error is an *Error and leaves the Bootstrapper in StateFailed.
func (b *Bootstrapper) Run(ctx context.Context) (*Runtime, Outcome, error) {
	if b.state != StateUnconfigured {
		return nil, OutcomeConfigured, TransitionError{From: b.state, To: StateConfigured}
	}

	dir, err := configdir.Resolver{Override: b.opts.ConfigDir}.Resolve()
	if err != nil {
		return nil, OutcomeConfigured, b.fail(KindConfig, err)
	}
	b.dir = dir

	status, err := configdir.Inspect(dir)
	if err != nil {
		return nil, OutcomeConfigured, b.fail(KindConfig, err)
	}

	switch status.State {
	case configdir.StateMissing:
		if err := b.materialize(); err != nil {
			return nil, OutcomeConfigured, err
		}
		return nil, OutcomeFreshInstall, nil
	case configdir.StatePartial:
		return nil, OutcomeConfigured, b.fail(KindConfigWrite, fmt.Errorf(
			"configuration directory %s is incomplete (missing %s); restore the files or remove the directory to regenerate defaults",
			dir, strings.Join(status.Missing, ", ")))
	}

	if err := b.transition(StateConfigured); err != nil {
		return nil, OutcomeConfigured, err
	}
	rt, err := b.boot(ctx)
	if err != nil {
		if cerr := rt.Close(); cerr != nil {
			b.log.WithError(cerr).Warn("release resources after failed boot")
		}
		return nil, OutcomeConfigured, err
	}
	return rt, OutcomeConfigured, nil
}

func (b *Bootstrapper) materialize() error {
	if err := b.transition(StateMaterializing); err != nil {
		return err
	}
	return b.phase("materialize", func() error {
		res, err := configdir.Materialize(b.dir)
		if err != nil {
			return b.fail(KindConfigWrite, err)
		}
		b.created = res.Created

		_, created, err := configdir.GenerateIfAbsent(b.dir)
		if err != nil {
			return b.fail(KindConfigWrite, err)
		}
		if created {
			b.created = append(b.created, filepath.Join(b.dir, config.SecretFileName))
		}
		return nil
	})
}

// boot runs the configured sequence. The returned Runtime holds whatever was acquired,
// even on error, so the caller can release it.
func (b *Bootstrapper) boot(ctx context.Context) (*Runtime, error) {
	rt := &Runtime{BootID: b.bootID, Dir: b.dir}

	err := b.phase("configure", func() error {
		secret, err := configdir.ReadSecret(b.dir)
		if err != nil {
			return b.fail(KindConfig, err)
		}
		cfg, err := config.Load(filepath.Join(b.dir, config.FileName))
		if err != nil {
			return b.fail(KindConfig, err)
		}
		lg, err := b.newLogger(cfg)
		if err != nil {
			return b.fail(KindConfig, err)
		}
		rt.Secret, rt.Config, rt.Log = secret, cfg, lg
		b.log = lg.WithFields(logrus.Fields{"boot_id": b.bootID, "component": "bootstrap"})
		b.log.WithFields(logrus.Fields{
			"dir":         b.dir,
			"environment": cfg.Environment,
			"adapter":     cfg.DB.Adapter,
		}).Info("configuration loaded")
		return nil
	})
	if err != nil {
		return rt, err
	}

	if err := b.transition(StateDatabaseConnecting); err != nil {
		return rt, err
	}
	err = b.phase("connect", func() error {
		db, err := database.Connect(ctx, rt.Config.DB, b.dir)
		if err != nil {
			return b.fail(KindConnection, err)
		}
		rt.DB = db
		rc, err := database.ConnectRedis(ctx, rt.Config.Redis)
		if err != nil {
			return b.fail(KindConnection, err)
		}
		rt.Redis = rc
		b.log.WithField("redis", rc != nil).Info("database connected")
		return nil
	})
	if err != nil {
		return rt, err
	}

	if err := b.transition(StateMigrationApplying); err != nil {
		return rt, err
	}
	err = b.phase("migrate", func() error {
		migrator := b.opts.Migrator
		if migrator == nil {
			migrator = migrations.NewEngine(rt.Config.DB.Adapter, b.log)
		}
		if err := migrator.Apply(ctx, rt.DB, b.migrationSource(rt.Config)); err != nil {
			return b.fail(KindMigration, err)
		}
		return nil
	})
	if err != nil {
		return rt, err
	}

	if err := b.transition(StateAddonLoading); err != nil {
		return rt, err
	}
	err = b.phase("addons", func() error {
		srv, err := server.New(rt.Config.Server,
			server.WithLogger(rt.Log.Component("server")),
			server.WithDatabase(rt.DB),
			server.WithRedis(rt.Redis),
			server.WithMetrics(b.opts.Metrics),
		)
		if err != nil {
			return b.fail(KindAddonLoad, err)
		}
		loader := addon.NewLoader(b.dir,
			addon.WithRegistry(b.opts.Registry),
			addon.WithMetrics(b.opts.Metrics),
			addon.WithEnv(addon.Env{DB: rt.DB, Redis: rt.Redis, Log: rt.Log, ConfigDir: b.dir}),
			addon.WithLogger(rt.Log.WithFields(logrus.Fields{"boot_id": b.bootID, "component": "addon"})),
		)
		loaded, err := loader.LoadAll(ctx, filepath.Join(b.dir, config.AddonsFileName), srv)
		if err != nil {
			return b.fail(KindAddonLoad, err)
		}
		rt.Server, rt.Addons = srv, loaded
		return nil
	})
	if err != nil {
		return rt, err
	}

	if err := b.transition(StateRunning); err != nil {
		return rt, err
	}
	b.log.WithField("addons", len(rt.Addons)).Info("boot complete")
	return rt, nil
}

func (b *Bootstrapper) newLogger(cfg *config.Config) (*logger.Logger, error) {
	file := strings.TrimSpace(cfg.Logmaster.File)
	if file != "" && !filepath.IsAbs(file) {
		file = filepath.Join(b.dir, file)
	}
	lg, err := logger.New(logger.LoggingConfig{
		Level:  cfg.Logmaster.LogLevel,
		Format: cfg.Logmaster.Format,
		Output: b.opts.LogOutput,
		File:   file,
	})
	if err != nil {
		return nil, err
	}
	for _, hook := range b.opts.LogHooks {
		lg.AddHook(hook)
	}
	return lg, nil
}

func (b *Bootstrapper) migrationSource(cfg *config.Config) migrations.Source {
	dir := strings.TrimSpace(cfg.Migrations.Dir)
	if dir == "" {
		return migrations.Embedded()
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(b.dir, dir)
	}
	return migrations.FromDir(dir)
}

// phase times fn and records the result.
func (b *Bootstrapper) phase(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	b.opts.Metrics.ObserveBootPhase(name, time.Since(start), err)
	return err
}

func (b *Bootstrapper) transition(to State) error {
	if !CanTransition(b.state, to) {
		return TransitionError{From: b.state, To: to}
	}
	b.state = to
	b.history = append(b.history, to)
	return nil
}

// fail moves to StateFailed and wraps err with the failing state.
func (b *Bootstrapper) fail(kind Kind, err error) error {
	var bootErr *Error
	if errors.As(err, &bootErr) {
		return err
	}
	failed := &Error{Kind: kind, State: b.state, Err: err}
	if terr := b.transition(StateFailed); terr != nil {
		return errors.Join(failed, terr)
	}
	b.log.WithError(err).WithField("state", failed.State.String()).Error(kind.String())
	return failed
}
