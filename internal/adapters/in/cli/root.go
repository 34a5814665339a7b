// Package cli implements the CLI adapter. It provides Cobra commands that
// delegate to the app layer.
package cli

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/appayureze-cloud/aiastra/internal/app"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// SetVersionInfo sets the version information for the CLI.
func SetVersionInfo(version, commit, date string) {
	Version = version
	Commit = commit
	BuildDate = date
	app.Version = version
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aiastra",
		Short: "aiastra - build and supervise a CPU-only inference service",
		Long: `aiastra builds a minimal runtime image for a Python inference service
(CPU-only torch pinned first, two-stage build, non-root runtime) and
supervises the running instance: liveness probes, bounded restarts and
a TLS-terminating edge in front of the loopback backend.`,
	}

	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newBuildCmd())
	rootCmd.AddCommand(newDeployCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newRestartCmd())
	rootCmd.AddCommand(newStopCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the aiastra daemon",
		Long: `Start the daemon: bootstrap persisted instances, run the supervisor
control loops, terminate TLS and expose the daemon health endpoint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(context.Background(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	return cmd
}

func newBuildCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the runtime image",
		Long: `Run the two-phase build pipeline: resolve dependencies into the builder
stage, then assemble the minimal runtime image. Prints the resulting
immutable image reference.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := app.RunBuild(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			cmd.Println(ref)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	return cmd
}

func newDeployCmd() *cobra.Command {
	var configPath string
	var name string

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Build a fresh image and (re)start the instance under supervision",
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := app.RunDeploy(cmd.Context(), configPath, name)
			if err != nil {
				return err
			}
			cmd.Printf("deployed %s from %s\n", name, ref)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVarP(&name, "name", "n", "inference", "Instance name")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var configPath string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-instance supervisor state",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := app.Status(cmd.Context(), configPath)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(doc)
			}

			cmd.Printf("daemon: %s (%s)\n", doc.Status, doc.Version)
			for _, inst := range doc.Instances {
				cmd.Printf("%-20s state=%-10s restarts=%-3d health=%s", inst.Name, inst.State, inst.RestartCount, inst.LastHealth)
				if inst.LastCause != "" {
					cmd.Printf(" cause=%s", inst.LastCause)
				}
				cmd.Println()
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <name>",
		Short: "Force a supervised restart of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.RunRestart(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("restart requested for %s\n", args[0])
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop an instance and record desired-state stopped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.RunStop(cmd.Context(), configPath, args[0]); err != nil {
				return err
			}
			cmd.Printf("stopped %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("aiastra %s\n", Version)
			cmd.Printf("Commit: %s\n", Commit)
			cmd.Printf("Build Date: %s\n", BuildDate)
		},
	}
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
