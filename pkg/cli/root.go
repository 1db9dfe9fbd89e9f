// Package cli wires the breakfix commands
package cli

import (
	"io"
	"os"
	"regexp"

	"github.com/simplekube/breakfix/pkg/cluster"
	"github.com/simplekube/breakfix/pkg/config"
	"github.com/simplekube/breakfix/pkg/k8s"
	"github.com/simplekube/breakfix/pkg/scenario"
	"github.com/simplekube/breakfix/pkg/workshop"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// globals is shared by every command
type globals struct {
	cfg *config.Config
	in  io.Reader

	// runOptions reach the cluster. They are built from the kubeconfig
	// on first use unless set beforehand.
	runOptions *k8s.RunOptions

	// noWait skips waiting for workloads after deploy, reset & revert
	noWait bool

	newInstaller func(cfg *config.Config) *cluster.Installer
	undoLogger   func()
}

// kube returns the options to reach the cluster & registers them as
// the base options of every task
func (g *globals) kube() (*k8s.RunOptions, error) {
	if g.runOptions == nil {
		opts, err := k8s.NewRunOptions(g.cfg.Kubeconfig)
		if err != nil {
			return nil, errors.WithMessage(err, "cannot reach the cluster: is it installed & is --kubeconfig right?")
		}
		g.runOptions = opts
	}
	if err := k8s.RegisterBaseRunOptions(g.runOptions); err != nil {
		return nil, err
	}
	return g.runOptions, nil
}

func (g *globals) workshop() *workshop.Workshop {
	w := workshop.New(g.cfg)
	w.NoWait = g.noWait
	return w
}

func (g *globals) addNoWaitFlag(cmd *cobra.Command) *cobra.Command {
	cmd.Flags().BoolVar(&g.noWait, "no-wait", false, "do not wait for the workloads to become ready")
	return cmd
}

func (g *globals) catalog() (*scenario.Catalog, error) {
	return scenario.NewCatalog(g.workshop())
}

// NewRootCommand returns the breakfix command tree configured from the
// environment
func NewRootCommand() (*cobra.Command, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return newRootCommand(&globals{cfg: cfg, in: os.Stdin, newInstaller: cluster.New}), nil
}

var scenarioNumber = regexp.MustCompile(`^[0-9]{1,2}$`)

func newRootCommand(g *globals) *cobra.Command {
	root := &cobra.Command{
		Use:   "breakfix [NN]",
		Short: "Kubernetes break/fix troubleshooting workshop",
		Long: `breakfix deploys a multi-tier sample application, breaks it in one of
several numbered ways & verifies your repair.

  breakfix app deploy          deploy the healthy application
  breakfix scenario list       list the scenarios
  breakfix 01                  break the application with scenario 01
  breakfix scenario check 01   verify your fix`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(g.cfg.LogLevel, g.cfg.LogFormat)
			if err != nil {
				return err
			}
			g.undoLogger = installLogger(logger)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if g.undoLogger != nil {
				g.undoLogger()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			if !scenarioNumber.MatchString(args[0]) {
				return errors.Errorf("unknown command %q: want a scenario number e.g. 01", args[0])
			}
			return runScenario(cmd, g, args[0])
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&g.cfg.Kubeconfig, "kubeconfig", g.cfg.Kubeconfig, "path to the kubeconfig (default: KUBECONFIG or ~/.kube/config)")
	flags.StringVarP(&g.cfg.Namespace, "namespace", "n", g.cfg.Namespace, "namespace of the sample application")
	flags.StringVar(&g.cfg.LogLevel, "log-level", g.cfg.LogLevel, "log level: debug, info, warn or error")
	flags.StringVar(&g.cfg.LogFormat, "log-format", g.cfg.LogFormat, "log format: console or json")
	flags.BoolVarP(&g.cfg.AssumeYes, "yes", "y", g.cfg.AssumeYes, "answer yes to every confirmation")

	root.AddCommand(
		newAppCommand(g),
		newScenarioCommand(g),
		newClusterCommand(g),
	)
	return root
}
