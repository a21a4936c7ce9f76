// Package cli is the terminal front end: it reads cases page by page and
// manages the local citizen profile.
package cli

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"noirvrs/internal/backend"
	"noirvrs/internal/infra"
	"noirvrs/internal/profile"
)

// Options lets callers inject dependencies. Zero fields are built from the
// environment.
type Options struct {
	Config  *infra.Config
	Adapter backend.Adapter
	Backend profile.Backend
	Logger  *zerolog.Logger
	Now     func() time.Time
}

type env struct {
	cfg     *infra.Config
	logger  zerolog.Logger
	store   *profile.Store
	adapter backend.Adapter
	now     func() time.Time
	closers []func() error
}

func (e *env) close() error {
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

type flags struct {
	backendMode    string
	profileBackend string
	profilePath    string
	locale         string
}

// NewRootCommand assembles the noirvrs command tree.
func NewRootCommand(opts Options) *cobra.Command {
	var (
		f flags
		e = &env{}
	)
	root := &cobra.Command{
		Use:           "noirvrs",
		Short:         "Read procedurally generated noir cases, one thread at a time",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.init(cmd.Context(), opts, f, cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return e.close()
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&f.backendMode, "backend", "", "case backend: mock, http or gemini (default $BACKEND_MODE)")
	pf.StringVar(&f.profileBackend, "profile-backend", "", "profile storage: file, sqlite or memory (default $PROFILE_BACKEND)")
	pf.StringVar(&f.profilePath, "profile-path", "", "profile directory (default $PROFILE_PATH)")
	pf.StringVar(&f.locale, "locale", "", "narration language (default $NOIRVRS_LOCALE)")

	root.AddCommand(
		newReadCommand(e),
		newProfileCommand(e),
		newSubscribeCommand(e),
		newPackCommand(e),
		newWipeCommand(e),
	)
	return root
}

func (e *env) init(ctx context.Context, opts Options, f flags, cmd *cobra.Command) error {
	e.now = opts.Now
	if e.now == nil {
		e.now = time.Now
	}

	cfg := opts.Config
	if cfg == nil {
		_ = godotenv.Load()
		loaded, err := infra.LoadConfig()
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if f.backendMode != "" {
		cfg.BackendMode = f.backendMode
	}
	if f.profileBackend != "" {
		cfg.ProfileBackend = f.profileBackend
	}
	if f.profilePath != "" {
		cfg.ProfilePath = f.profilePath
	}
	if f.locale != "" {
		cfg.Locale = f.locale
	}
	e.cfg = cfg

	if opts.Logger != nil {
		e.logger = *opts.Logger
	} else {
		e.logger = infra.NewLoggerTo(cfg.AppEnv, cmd.ErrOrStderr()).Level(quietLevel(cfg.AppEnv))
	}

	pb := opts.Backend
	if pb == nil {
		b, closeFn, err := profile.OpenBackend(ctx, cfg.ProfileBackend, cfg.ProfilePath)
		if err != nil {
			return err
		}
		e.closers = append(e.closers, closeFn)
		pb = b
	}
	store, err := profile.NewStore(profile.Options{Backend: pb, Logger: e.logger, Now: e.now})
	if err != nil {
		return err
	}
	e.store = store

	e.adapter = opts.Adapter
	return nil
}

// backendAdapter is built lazily so profile commands work without credentials.
func (e *env) backendAdapter(ctx context.Context) (backend.Adapter, error) {
	if e.adapter != nil {
		return e.adapter, nil
	}
	a, err := backend.Open(ctx, e.cfg.BackendMode, e.cfg, e.logger)
	if err != nil {
		return nil, err
	}
	e.adapter = a
	return a, nil
}

// The terminal stays quiet unless LOG_LEVEL asks otherwise.
func quietLevel(appEnv string) zerolog.Level {
	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		return lvl
	}
	if appEnv == "development" {
		return zerolog.WarnLevel
	}
	return zerolog.ErrorLevel
}
