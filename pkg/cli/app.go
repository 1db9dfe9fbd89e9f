package cli

import (
	"fmt"

	"github.com/simplekube/breakfix/pkg/workshop"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// errUnhealthy is returned by 'app status' after rendering an unhealthy report
var errUnhealthy = errors.New("the application is not healthy")

func newAppCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Manage the sample application",
	}
	cmd.AddCommand(
		newAppDeployCommand(g),
		&cobra.Command{
			Use:   "cleanup",
			Short: "Delete the application & its cluster wide objects",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				opts, err := g.kube()
				if err != nil {
					return err
				}
				question := fmt.Sprintf("Delete namespace %q & every breakfix object?", g.cfg.Namespace)
				if err := g.confirmOrAbort(cmd.OutOrStdout(), question); err != nil {
					return err
				}
				return g.workshop().Cleanup(cmd.Context(), opts)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show workloads, pods, claims & services of the application",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				opts, err := g.kube()
				if err != nil {
					return err
				}
				report, err := g.workshop().Status(cmd.Context(), opts)
				if err != nil {
					return err
				}
				if err := report.Render(cmd.OutOrStdout()); err != nil {
					return err
				}
				if !report.Healthy() {
					return errUnhealthy
				}
				return nil
			},
		},
		g.addNoWaitFlag(&cobra.Command{
			Use:   "reset",
			Short: "Undo every scenario & restore the healthy application",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				opts, err := g.kube()
				if err != nil {
					return err
				}
				if err := g.workshop().Reset(cmd.Context(), opts); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "The application is healthy again.")
				return nil
			},
		}),
	)
	return cmd
}

func newAppDeployCommand(g *globals) *cobra.Command {
	var tierNames []string
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the healthy application",
		Long: `Deploy the healthy application tier by tier. Deploying again merges the
healthy state into the cluster. Selecting a tier deploys the tiers it
depends on as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var tiers []workshop.Tier
			for _, name := range tierNames {
				tier, err := workshop.ParseTier(name)
				if err != nil {
					return err
				}
				tiers = append(tiers, tier)
			}
			opts, err := g.kube()
			if err != nil {
				return err
			}
			w := g.workshop()
			if err := w.Deploy(cmd.Context(), tiers, opts); err != nil {
				return errors.WithMessage(err, "deploy failed: 'breakfix app status' shows what is missing")
			}
			zap.S().Infow("application deployed", "namespace", w.Namespace)
			fmt.Fprintf(cmd.OutOrStdout(), "Application deployed in namespace %q. Try 'breakfix scenario list'.\n", w.Namespace)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&tierNames, "tier", nil, "deploy only this tier & its dependencies: storage, database, backend or frontend")
	return g.addNoWaitFlag(cmd)
}
