package commands

import (
	"errors"
	"fmt"

	"github.com/benvon/smart-tagger/internal/models"
	"github.com/benvon/smart-tagger/internal/validation"
	"github.com/spf13/cobra"
)

// NewApplyCmd creates the apply command
func NewApplyCmd(load ConfigLoader) *cobra.Command {
	var project string
	var add, remove, assets []string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Add or remove tags across assets and save",
		Long:  "Load a project, add and remove the given tags on the selected assets (all assets by default), then save every modified asset.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(add) == 0 && len(remove) == 0 {
				return errors.New("nothing to apply: pass --add or --remove")
			}
			for _, name := range add {
				if err := validation.ValidateTagName(name); err != nil {
					return fmt.Errorf("--add %q: %w", name, err)
				}
			}

			sess, err := openSession(cmd, load, project)
			if err != nil {
				return err
			}
			defer func() {
				_ = sess.Close()
			}()

			out := cmd.OutOrStdout()
			stop := sess.watch(cmd.ErrOrStderr())
			defer stop()

			loaded, err := sess.orch.LoadAll(cmd.Context(), sess.project)
			if err != nil {
				return fmt.Errorf("load %s: %w", sess.project, err)
			}
			if err := report(out, "Loaded", loaded); err != nil {
				return err
			}

			targets := assets
			if len(targets) == 0 {
				targets = sess.store.IDs()
			}
			for _, id := range targets {
				if _, ok := sess.store.Asset(id); !ok {
					return fmt.Errorf("unknown asset %q", id)
				}
				for _, name := range add {
					sess.store.AddTag(id, name)
				}
				for _, name := range remove {
					markDeleted(sess, id, name)
				}
			}

			summary := sess.store.Index().Summary()
			fmt.Fprintf(out, "%d assets modified\n", summary.ModifiedCount)
			if dryRun || summary.ModifiedCount == 0 {
				return nil
			}

			saved, err := sess.orch.SaveAll(cmd.Context(), sess.project)
			if err != nil {
				return fmt.Errorf("save %s: %w", sess.project, err)
			}
			return report(out, "Saved", saved)
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "Project path (defaults to PROJECT_PATH)")
	cmd.Flags().StringSliceVar(&add, "add", nil, "Tags to append (repeatable)")
	cmd.Flags().StringSliceVar(&remove, "remove", nil, "Tags to remove (repeatable)")
	cmd.Flags().StringSliceVar(&assets, "asset", nil, "Limit to these asset ids (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would change without saving")
	return cmd
}

// markDeleted marks name for deletion unless it is absent or already marked.
// DeleteTag toggles, so a second call would restore the tag.
func markDeleted(sess *session, id, name string) {
	a, ok := sess.store.Asset(id)
	if !ok {
		return
	}
	i := a.IndexOf(name)
	if i < 0 || a.Tags[i].Status.Has(models.StatusToDelete) {
		return
	}
	sess.store.DeleteTag(id, name)
}
