package cli

import (
	"fmt"
	"time"

	"github.com/simplekube/breakfix/pkg/cluster"
	"github.com/simplekube/breakfix/pkg/k8s"

	"github.com/spf13/cobra"
)

// clusterOptions returns the preset options to reach the cluster. The
// installer falls back to the admin kubeconfig of the node without
// them.
func (g *globals) clusterOptions() []k8s.RunOption {
	if g.runOptions == nil {
		return nil
	}
	return []k8s.RunOption{g.runOptions}
}

func newClusterCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Install or remove the single node kubeadm cluster of this host",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "preflight",
			Short: "Check that this host can run the cluster",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := g.newInstaller(g.cfg).Preflight(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "All preflight checks passed.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "install",
			Short: "Install containerd, kubeadm & a single node cluster",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				installer := g.newInstaller(g.cfg)
				question := fmt.Sprintf("Install Kubernetes %s on this host?", installer.Config.KubernetesVersion)
				if err := g.confirmOrAbort(cmd.OutOrStdout(), question); err != nil {
					return err
				}
				if err := installer.Install(cmd.Context(), g.clusterOptions()...); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Cluster installed. Next: 'breakfix app deploy'.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "cleanup",
			Short: "Reset kubeadm & remove what the install left on this host",
			Long: `Reset kubeadm & remove the packages, files, iptables chains & network
interfaces of the cluster. Inside an SSH session only the chains of the
cluster are removed & the interface carrying the session is kept.`,
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := g.confirmOrAbort(cmd.OutOrStdout(), "Remove the cluster from this host?"); err != nil {
					return err
				}
				if err := g.newInstaller(g.cfg).Cleanup(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Cluster removed.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show node services & nodes of the cluster",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				status := g.newInstaller(g.cfg).Status(cmd.Context(), g.clusterOptions()...)
				return status.Render(cmd.OutOrStdout())
			},
		},
		newClusterSmokeCommand(g),
	)
	return cmd
}

func newClusterSmokeCommand(g *globals) *cobra.Command {
	var smokeOpts cluster.SmokeOptions
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run a throwaway deployment to verify the cluster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := g.kube()
			if err != nil {
				return err
			}
			if err := cluster.Smoke(cmd.Context(), smokeOpts, opts); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Smoke test passed.")
			return nil
		},
	}
	cmd.Flags().StringVar(&smokeOpts.Image, "image", "", "image of the smoke deployment (default: pause)")
	cmd.Flags().DurationVar(&smokeOpts.Timeout, "timeout", 2*time.Minute, "how long to wait for the pod")
	cmd.Flags().DurationVar(&smokeOpts.Interval, "interval", 2*time.Second, "poll interval")
	return cmd
}
