package cli

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/gridsync/internal/config"
	"github.com/roach88/gridsync/internal/engine"
	"github.com/roach88/gridsync/internal/notice"
	"github.com/roach88/gridsync/internal/resource"
	"github.com/roach88/gridsync/internal/schema"
	"github.com/roach88/gridsync/internal/store"
)

// SessionOptions are the flags shared by commands that talk to a backend.
// Flags override the config file.
type SessionOptions struct {
	*RootOptions
	Config    string
	BaseURL   string
	SchemaDir string
	Resource  string
	Database  string
}

func (o *SessionOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.Config, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&o.BaseURL, "base-url", "", "API base URL (overrides base_url)")
	cmd.Flags().StringVar(&o.SchemaDir, "schema", "", "directory of CUE resource schemas (overrides schema_dir)")
	cmd.Flags().StringVarP(&o.Resource, "resource", "r", "", "resource to sync (overrides resource)")
	cmd.Flags().StringVar(&o.Database, "db", "", "SQLite journal database (overrides db)")
}

// session is one configured engine plus what it was built from.
type session struct {
	cfg    config.Config
	res    *schema.Resource
	eng    *engine.Engine
	store  *store.Store
	notes  *notice.Recorder
	client *resource.Client
}

// openSession loads config and schema, connects the client and builds an
// engine. Failures are reported through out and returned as ExitErrors.
func openSession(opts *SessionOptions, out *Output) (*session, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, out.Fail(ExitCommandError, ErrCodeNotFound, "config file not found", err, nil)
		}
		return nil, out.Fail(ExitCommandError, ErrCodeConfig, "invalid config", err, nil)
	}
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.SchemaDir != "" {
		cfg.SchemaDir = opts.SchemaDir
	}
	if opts.Resource != "" {
		cfg.Resource = opts.Resource
	}
	if opts.Database != "" {
		cfg.DB = opts.Database
	}
	if err := cfg.Validate(); err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeConfig, "invalid config", err, nil)
	}

	set, err := schema.LoadDir(cfg.SchemaDir)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeSchema, "failed to load schemas", err, nil)
	}
	if cfg.Resource == "" && len(set) == 1 {
		cfg.Resource = set.Names()[0]
	}
	res, err := set.Get(cfg.Resource)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeSchema, "no such resource", err, nil)
	}

	client, err := newClient(cfg, res)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeConfig, "invalid backend settings", err, nil)
	}

	s := &session{cfg: cfg, res: res, client: client, notes: &notice.Recorder{}}
	engOpts := engineOptions(cfg)
	engOpts = append(engOpts, engine.WithNotifier(notice.Multi(notice.Log{}, s.notes)))
	if cfg.DB != "" {
		st, err := store.Open(cfg.DB)
		if err != nil {
			return nil, out.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err, nil)
		}
		s.store = st
		engOpts = append(engOpts, engine.WithJournal(st))
	}
	s.eng = engine.New(client, res, engOpts...)
	out.Logf("session %s: %s%s", s.eng.Session(), cfg.BaseURL, res.Path)
	return s, nil
}

func (s *session) Close() {
	s.eng.Stop()
	if s.store != nil {
		s.store.Close()
	}
}

func newClient(cfg config.Config, res *schema.Resource) (*resource.Client, error) {
	opts := []resource.ClientOption{
		resource.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		resource.WithUpdateMethod(res.UpdateMethod),
	}
	if cfg.Token != "" {
		token := cfg.Token
		opts = append(opts, resource.WithToken(func(context.Context) (string, error) {
			return token, nil
		}))
	}
	for k, v := range cfg.Headers {
		opts = append(opts, resource.WithHeader(k, v))
	}
	return resource.NewClient(cfg.BaseURL, res.Path, opts...)
}

// engineOptions maps config tunables onto engine options. Zero values keep
// the engine's defaults.
func engineOptions(cfg config.Config) []engine.EngineOption {
	var opts []engine.EngineOption
	if cfg.Debounce > 0 {
		opts = append(opts, engine.WithDebounce(cfg.Debounce))
	}
	if cfg.Cooldown > 0 {
		opts = append(opts, engine.WithCooldown(cfg.Cooldown))
	}
	if cfg.PollInterval > 0 {
		opts = append(opts, engine.WithPollInterval(cfg.PollInterval))
	}
	if cfg.Threshold > 0 {
		opts = append(opts, engine.WithThreshold(cfg.Threshold))
	}
	if cfg.PageSize > 0 {
		opts = append(opts, engine.WithPageSize(cfg.PageSize))
	}
	if cfg.MaxStalls > 0 {
		opts = append(opts, engine.WithMaxStalls(cfg.MaxStalls))
	}
	if cfg.StopAfterFailures > 0 {
		opts = append(opts, engine.StopAfterFailures(cfg.StopAfterFailures))
	}
	return opts
}

// failures returns the error-level notices raised so far.
func (s *session) failures() []notice.Notice {
	var out []notice.Notice
	for _, n := range s.notes.Notices() {
		if n.Level == notice.LevelError || n.Kind == notice.KindValidation {
			out = append(out, n)
		}
	}
	return out
}
