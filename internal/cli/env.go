package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/xcore/internal/config"
	"github.com/roach88/xcore/internal/notify"
	"github.com/roach88/xcore/internal/store"
	"github.com/roach88/xcore/internal/trigger"
	"github.com/roach88/xcore/internal/update"
	"github.com/roach88/xcore/internal/xquery"
)

// env is the wired core a command runs against.
type env struct {
	cfg      *config.Config
	logger   *slog.Logger
	notifier *notify.Service
	store    *store.Store
	queries  *xquery.Service
	updates  *update.Controller
}

// openEnv loads the configuration and opens the store with the query
// service, trigger registry and update controller on top. Errors are
// already reported through f.
func openEnv(opts *RootOptions, f *OutputFormatter, cmd *cobra.Command) (*env, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, err)
	}

	level := cfg.Level()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	n := notify.NewService(logger)
	storeOpts := append(cfg.StoreOptions(), store.WithPublisher(n), store.WithLogger(logger))
	st, err := store.Open(cfg.DB, storeOpts...)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeOpenFailed, err)
	}

	reg := trigger.NewRegistry(logger)
	specs, err := cfg.TriggerSpecs()
	if err == nil {
		err = reg.Configure(specs)
	}
	if err != nil {
		st.Close()
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, err)
	}

	queries := xquery.NewService(st, append(cfg.ServiceOptions(),
		xquery.WithRelocation(n),
		xquery.WithServiceLogger(logger))...)
	updates := update.NewController(st, queries, append(cfg.UpdateOptions(),
		update.WithTriggers(trigger.NewCoordinator(reg, logger)),
		update.WithNotifier(n),
		update.WithLogger(logger))...)
	return &env{
		cfg:      cfg,
		logger:   logger,
		notifier: n,
		store:    st,
		queries:  queries,
		updates:  updates,
	}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		e.logger.Error("error closing database", "error", err)
	}
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
