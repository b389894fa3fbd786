package commands

import (
	"errors"
	"fmt"

	"github.com/benvon/smart-tagger/internal/database"
	"github.com/benvon/smart-tagger/internal/workers"
	"github.com/spf13/cobra"
)

// NewStatsCmd creates the stats command
func NewStatsCmd(load ConfigLoader) *cobra.Command {
	var project string
	var top int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show tag frequency statistics",
		Long:  "Print the most used tags of a project as last computed by the worker. Requires DATABASE_URL.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(load, project)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("stats requires DATABASE_URL")
			}

			db, err := database.New(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer func() {
				_ = db.Close()
			}()

			repo := database.NewTagStatisticsRepository(db)
			stats, err := repo.GetByProject(cmd.Context(), cfg.ProjectPath)
			if errors.Is(err, database.ErrStatisticsNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "No statistics for this project yet. Save once with the worker running.")
				return nil
			}
			if err != nil {
				return fmt.Errorf("get tag statistics: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Project: %s\n", stats.ProjectPath)
			fmt.Fprintf(out, "Tagged assets: %d\n", stats.AssetCount)
			if stats.LastAnalyzedAt != nil {
				fmt.Fprintf(out, "Analyzed: %s\n", stats.LastAnalyzedAt.Format("2006-01-02 15:04:05"))
			}
			if stats.Tainted {
				fmt.Fprintln(out, "Statistics are stale; a recount is pending.")
			}
			for i, tag := range workers.TopTags(stats.TagCounts, top) {
				fmt.Fprintf(out, "%3d. %s (%d)\n", i+1, tag, stats.TagCounts[tag])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "Project path (defaults to PROJECT_PATH)")
	cmd.Flags().IntVar(&top, "top", 20, "Number of tags to show; negative shows all")
	return cmd
}
