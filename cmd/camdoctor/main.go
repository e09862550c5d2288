package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/camdoctor/camdoctor/internal/config"
	"github.com/camdoctor/camdoctor/internal/llm"
	"github.com/camdoctor/camdoctor/internal/registry"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "camdoctor",
		Short: "Diagnose, fix and escalate IP camera problems with cooperating agents",
		Long: `camdoctor runs a diagnoser -> fixer -> support pipeline over camera logs.
Agents run in-process or on another host listed in the agent registry
(A2A_AGENT_REGISTRY), and every step is reported as a trace event.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(logLevel)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newAgentsCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "camdoctor %s\n", version)
		},
	}
}

func setupLogging(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return nil
}

// newGenerator falls back to mocked responses when no API key is configured
// or the API fails, so the pipeline keeps working offline.
func newGenerator(cfg config.LLMConfig) llm.Generator {
	a, err := llm.NewAnthropic(cfg)
	if err != nil {
		slog.Warn("text generation offline, using mocked responses", "reason", err)
		return llm.NewFallback(nil)
	}
	return llm.NewFallback(a)
}

// loadRegistry never fails: a broken registry file means all agents are
// local.
func loadRegistry(path string) *registry.Registry {
	reg, err := registry.Load(path)
	if err != nil {
		slog.Warn("ignoring agent registry", "path", path, "error", err)
	}
	if reg.Len() > 0 {
		slog.Info("agent registry loaded", "path", path, "remote_agents", reg.Len())
	}
	return reg
}
