// Package commands implements the tagctl subcommands.
package commands

import (
	"fmt"
	"io"
	"sort"

	"github.com/benvon/smart-tagger/internal/backend"
	"github.com/benvon/smart-tagger/internal/config"
	"github.com/benvon/smart-tagger/internal/logger"
	"github.com/benvon/smart-tagger/internal/models"
	"github.com/benvon/smart-tagger/internal/persistence"
	"github.com/benvon/smart-tagger/internal/store"
	"github.com/benvon/smart-tagger/internal/syncer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ConfigLoader returns the effective configuration
type ConfigLoader func() (*config.Config, error)

// session is one tagctl run over a project
type session struct {
	cfg     *config.Config
	stack   *backend.Backend
	store   *store.Store
	orch    *syncer.Orchestrator
	project string
}

func loadConfig(load ConfigLoader, project string) (*config.Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if project != "" {
		cfg.ProjectPath = project
	}
	if cfg.ProjectPath == "" {
		return nil, fmt.Errorf("no project: pass --project or set PROJECT_PATH")
	}
	return cfg, nil
}

// VerboseFlag is the persistent root flag that turns on console logging
const VerboseFlag = "verbose"

// commandLogger logs to the console when --verbose is set
func commandLogger(cmd *cobra.Command) *zap.Logger {
	verbose, err := cmd.Flags().GetBool(VerboseFlag)
	if err != nil || !verbose {
		return zap.NewNop()
	}
	log, err := logger.NewDevelopmentLogger(true)
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func openSession(cmd *cobra.Command, load ConfigLoader, project string) (*session, error) {
	cfg, err := loadConfig(load, project)
	if err != nil {
		return nil, err
	}
	log := commandLogger(cmd)
	stack, err := backend.Open(cmd.Context(), cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return newSession(cfg, stack, stack.Persistence, log), nil
}

func newSession(cfg *config.Config, stack *backend.Backend, p persistence.Persistence, log *zap.Logger) *session {
	s := store.New(log)
	return &session{
		cfg:   cfg,
		stack: stack,
		store: s,
		orch: syncer.New(s, p, nil, syncer.Config{
			PoolSize:    cfg.SyncPoolSize,
			UnitTimeout: cfg.SyncUnitTimeout,
		}, log),
		project: cfg.ProjectPath,
	}
}

func (s *session) Close() error {
	if s.stack == nil {
		return nil
	}
	return s.stack.Close()
}

// watch prints progress lines to w until the returned stop func is called
func (s *session) watch(w io.Writer) func() {
	updates, cancel := s.orch.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		last := models.Progress{Total: -1}
		for snap := range updates {
			if snap.State != snap.Kind.RunningState() || snap.Progress == last {
				continue
			}
			last = snap.Progress
			fmt.Fprintf(w, "%s %d/%d (%d failed)\n", snap.Kind, snap.Progress.Resolved(), snap.Progress.Total, snap.Progress.Failed)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// report prints a batch summary and turns unit failures into an error
func report(w io.Writer, verb string, res syncer.BatchResult) error {
	fmt.Fprintf(w, "%s %d of %d assets\n", verb, res.Progress.Completed, res.Progress.Total)
	if !res.Progress.Done() {
		fmt.Fprintf(w, "  %d assets not reached\n", res.Progress.Total-res.Progress.Resolved())
	}
	if len(res.Failures) == 0 {
		return nil
	}
	ids := make([]string, 0, len(res.Failures))
	for id := range res.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "  failed %s: %v\n", id, res.Failures[id])
	}
	return fmt.Errorf("%d assets failed", len(res.Failures))
}
