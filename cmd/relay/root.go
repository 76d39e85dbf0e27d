// Package main is the relay CLI entry point.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgerelay/relay/internal/config"
	"github.com/forgerelay/relay/internal/logging"
)

var (
	// Version and BuildTime are set at build time via -ldflags.
	Version   = "0.1.0"
	BuildTime = "dev"
)

var (
	printLogs bool
	logLevel  string
	logFile   bool
	showCfg   bool
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "relay brokers interactive AI coding-agent sessions between clients and sandboxes",
	Long: `relay is the server that sits between a thin client and an isolated
sandbox running a coding agent: it owns session lifecycle, the event
journal, and the live WebSocket fan-out.

Run 'relay serve' to start the server.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logCfg := logging.Config{
			Level:     logging.ParseLevel(logLevel),
			Output:    os.Stderr,
			Pretty:    printLogs,
			LogToFile: logFile,
		}
		if !printLogs && !logFile {
			logCfg.Level = logging.FatalLevel
		}
		logging.Init(logCfg)

		if showCfg {
			dir, err := os.Getwd()
			if err != nil {
				fmt.Fprintf(os.Stderr, "error getting working directory: %v\n", err)
				os.Exit(1)
			}
			cfg, err := config.Load(dir)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
				os.Exit(1)
			}
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				fmt.Fprintf(os.Stderr, "error marshaling config: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(data))
			os.Exit(0)
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&logFile, "log-file", false, "Write logs to a timestamped file under /tmp")
	rootCmd.PersistentFlags().BoolVar(&showCfg, "show-config", false, "Print merged configuration as JSON and exit")

	rootCmd.SetVersionTemplate(fmt.Sprintf("relay %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

// GetWorkDir returns dir if set, else the current working directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
