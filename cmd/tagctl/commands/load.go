package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewLoadCmd creates the load command
func NewLoadCmd(load ConfigLoader) *cobra.Command {
	var project string
	var list bool

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load every asset's tags from storage",
		Long:  "Load all assets of a project through the configured backend and report failures. With --list, print each asset's tags.",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd, load, project)
			if err != nil {
				return err
			}
			defer func() {
				_ = sess.Close()
			}()

			stop := sess.watch(cmd.ErrOrStderr())
			res, err := sess.orch.LoadAll(cmd.Context(), sess.project)
			stop()
			if err != nil {
				return fmt.Errorf("load %s: %w", sess.project, err)
			}

			out := cmd.OutOrStdout()
			if list {
				for _, a := range sess.store.Assets() {
					fmt.Fprintf(out, "%s: %s\n", a.ID, strings.Join(a.BaselineTags, ", "))
				}
			}
			return report(out, "Loaded", res)
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "Project path (defaults to PROJECT_PATH)")
	cmd.Flags().BoolVar(&list, "list", false, "Print each asset's tags")
	return cmd
}
