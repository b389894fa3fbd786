package commands

import (
	"errors"
	"fmt"

	"github.com/benvon/smart-tagger/internal/config"
	"github.com/benvon/smart-tagger/internal/database"
	"github.com/benvon/smart-tagger/internal/queue"
	"github.com/benvon/smart-tagger/internal/sidecar"
	"github.com/spf13/cobra"
)

// NewMigrateCmd creates the migrate command
func NewMigrateCmd(load ConfigLoader) *cobra.Command {
	var project string
	var analyze bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy sidecar caption files into the database",
		Long:  "Apply the database schema, load every sidecar caption file of a project and import the tags into the postgres backend. Requires DATABASE_URL.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(load, project)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("migrate requires DATABASE_URL")
			}

			db, err := database.New(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer func() {
				_ = db.Close()
			}()
			if err := db.EnsureSchema(cmd.Context()); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}

			// Read straight from the files; the configured backend may be postgres
			log := commandLogger(cmd)
			sess := newSession(cfg, nil, sidecar.New(log), log)
			stop := sess.watch(cmd.ErrOrStderr())
			res, err := sess.orch.LoadAll(cmd.Context(), sess.project)
			stop()
			if err != nil {
				return fmt.Errorf("read sidecars: %w", err)
			}

			out := cmd.OutOrStdout()
			if err := report(out, "Read", res); err != nil {
				return err
			}

			assets := make(map[string][]string, sess.store.Len())
			for _, a := range sess.store.Assets() {
				assets[a.ID] = a.BaselineTags
			}
			repo := database.NewAssetTagRepository(db)
			if err := repo.ImportAssets(cmd.Context(), sess.project, assets); err != nil {
				return fmt.Errorf("import: %w", err)
			}
			fmt.Fprintf(out, "Imported %d assets\n", len(assets))

			if analyze {
				return enqueueAnalysis(cmd, cfg)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "Project path (defaults to PROJECT_PATH)")
	cmd.Flags().BoolVar(&analyze, "analyze", true, "Ask the worker to recount tag statistics (needs RABBITMQ_URL)")
	return cmd
}

func enqueueAnalysis(cmd *cobra.Command, cfg *config.Config) error {
	if cfg.RabbitMQURL == "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "RABBITMQ_URL not set; skipping statistics recount")
		return nil
	}
	q, err := queue.NewRabbitMQQueue(cfg.RabbitMQURL, commandLogger(cmd))
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	defer func() {
		_ = q.Close()
	}()

	if err := q.Enqueue(cmd.Context(), queue.NewJob(queue.JobTypeAnalyzeProject, cfg.ProjectPath, "")); err != nil {
		return fmt.Errorf("enqueue analysis: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Statistics recount requested")
	return nil
}
