package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "viewcurve",
		Short: "Compute performance envelopes and classify video performance",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(recomputeCmd())
	root.AddCommand(baselineCmd())
	root.AddCommand(classifyCmd())
	root.AddCommand(discoverCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func recomputeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recompute",
		Short: "Rebuild the global percentile envelope from stored snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecompute()
		},
	}
}

func baselineCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "baseline [channel_id]",
		Short: "Compute channel baselines",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channelID := ""
			if len(args) > 0 {
				channelID = args[0]
			}
			return runBaseline(channelID, all)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "recompute baselines for every known channel")
	return cmd
}

func classifyCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "classify <video_id>",
		Short: "Classify a video's performance against its channel expectation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func discoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Refresh video metadata from channel uploads feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscover()
		},
	}
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default from config)")
	return cmd
}
