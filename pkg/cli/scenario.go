package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newScenarioCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "scenario",
		Aliases: []string{"s"},
		Short:   "Break the application & verify your fix",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the scenarios",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				catalog, err := g.catalog()
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tSUMMARY")
				for _, s := range catalog.List() {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Name, s.Category, s.Summary)
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "run <id>",
			Short: "Break the application",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runScenario(cmd, g, args[0])
			},
		},
		&cobra.Command{
			Use:   "check <id>",
			Short: "Verify that the application is repaired",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				opts, err := g.kube()
				if err != nil {
					return err
				}
				catalog, err := g.catalog()
				if err != nil {
					return err
				}
				report, err := catalog.Check(cmd.Context(), args[0], opts)
				if err != nil {
					return err
				}
				report.Render(cmd.OutOrStdout())
				if !report.Passed() {
					return errors.Errorf("scenario %s is not fixed yet", report.Scenario.FullID())
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "hint <id> [n]",
			Short: "Show the n-th hint of a scenario",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				catalog, err := g.catalog()
				if err != nil {
					return err
				}
				n := 1
				if len(args) == 2 {
					if n, err = strconv.Atoi(args[1]); err != nil {
						return errors.Errorf("invalid hint number %q", args[1])
					}
				}
				hint, err := catalog.Hint(args[0], n)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Hint %d: %s\n", n, hint)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show <id>",
			Short: "Describe a scenario & the healthy state of what it breaks",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				catalog, err := g.catalog()
				if err != nil {
					return err
				}
				return catalog.Show(args[0], cmd.OutOrStdout())
			},
		},
		g.addNoWaitFlag(&cobra.Command{
			Use:   "revert <id>",
			Short: "Undo a scenario without fixing it yourself",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				opts, err := g.kube()
				if err != nil {
					return err
				}
				catalog, err := g.catalog()
				if err != nil {
					return err
				}
				if err := catalog.Revert(cmd.Context(), args[0], opts); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Scenario reverted.")
				return nil
			},
		}),
	)
	return cmd
}

// runScenario breaks the application & tells the learner where to go
// from there
func runScenario(cmd *cobra.Command, g *globals, id string) error {
	opts, err := g.kube()
	if err != nil {
		return err
	}
	catalog, err := g.catalog()
	if err != nil {
		return err
	}
	s, err := catalog.Run(cmd.Context(), id, opts)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Scenario %s is live in namespace %q.\n\n%s\n\n", s.FullID(), g.cfg.Namespace, s.Summary)
	fmt.Fprintf(out, "Stuck? 'breakfix scenario hint %s'. Done? 'breakfix scenario check %s'.\n", s.ID, s.ID)
	return nil
}
