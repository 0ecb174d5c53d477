package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const VERSION = "0.4.0"

// exitFunc is replaced in tests
var exitFunc = os.Exit

// Define color functions
var (
	bold   = color.New(color.Bold).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

func getColorizedLogo() string {
	return cyan("⠶⣤⠶⣤ clustermodel")
}

// newLogger returns the diagnostics logger. Results go to the output file,
// everything else to stderr
func newLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	switch {
	case cfg.Verbose:
		log.SetLevel(logrus.DebugLevel)
	case cfg.Quiet:
		log.SetLevel(logrus.WarnLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

// RootCommand builds the command tree. Without a subcommand, clusters are
// found de novo
func RootCommand() *cobra.Command {
	var (
		cfg     Config
		version bool
	)

	rootCmd := &cobra.Command{
		Use:           "clustermodel [flags] <model> <covariates> <methylation>",
		Short:         bold("Test clusters of correlated probes against a covariate"),
		SilenceErrors: true,
		SilenceUsage:  true,
		Args: func(cmd *cobra.Command, args []string) error {
			if version || len(args) == 0 {
				return nil
			}
			return cobra.ExactArgs(3)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if version {
				fmt.Printf("clustermodel %s\n", VERSION)
				exitFunc(0)
				return nil
			}
			// If no arguments are provided, show help
			if len(args) == 0 {
				helpFunc(cmd, args)
				return nil
			}
			cfg.Model, cfg.Covariates, cfg.Methylation = args[0], args[1], args[2]
			cfg.XDistSet = cmd.Flags().Changed("X-dist")
			return runDenovo(cmd.Context(), &cfg)
		},
	}
	rootCmd.SetHelpFunc(helpFunc)

	addModelFlags(rootCmd, &cfg)
	addClusteringFlags(rootCmd, &cfg)
	rootCmd.Flags().BoolVarP(&version, "version", "v", false, "Show version information")

	rootCmd.AddCommand(RegionsCommand())
	rootCmd.AddCommand(DistanceCommand())
	return rootCmd
}

func main() {
	// Custom error handling
	if err := RootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("Error: "+err.Error()))
		fmt.Fprintln(os.Stderr, red("Try 'clustermodel --help' for more information"))
		exitFunc(1)
	}
}
