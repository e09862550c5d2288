package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/camdoctor/camdoctor/internal/a2a"
	"github.com/camdoctor/camdoctor/internal/agent"
	"github.com/camdoctor/camdoctor/internal/config"
	"github.com/camdoctor/camdoctor/internal/delegation"
	"github.com/camdoctor/camdoctor/internal/engine"
	"github.com/camdoctor/camdoctor/internal/natsbus"
	"github.com/camdoctor/camdoctor/internal/remote"
	"github.com/camdoctor/camdoctor/internal/store"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type runOptions struct {
	agentID  string
	logsPath string
	taskID   string
	context  string
	natsURL  string
	noColor  bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one task and print its trace and result",
		Example: `  camdoctor run --logs cam-07.log
  journalctl -u nvr | camdoctor run --logs - --agent fixer`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runTask(cmd, cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.agentID, "agent", delegation.Diagnoser, "Agent the task is addressed to")
	cmd.Flags().StringVar(&opts.logsPath, "logs", "", "Log file to analyse, - for stdin")
	cmd.Flags().StringVar(&opts.taskID, "id", "", "Task id (default: random)")
	cmd.Flags().StringVar(&opts.context, "context", "", "Initial context as a JSON object")
	cmd.Flags().StringVar(&opts.natsURL, "nats-url", "", "Also publish events to this NATS server")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.MarkFlagRequired("logs")
	return cmd
}

func runTask(cmd *cobra.Command, cfg *config.Config, opts runOptions) error {
	if opts.noColor {
		color.NoColor = true
	}

	logs, err := readLogs(cmd.InOrStdin(), opts.logsPath)
	if err != nil {
		return err
	}

	task := a2a.Task{
		ID:      opts.taskID,
		AgentID: opts.agentID,
		Input:   a2a.TaskInput{Logs: logs},
	}
	if task.ID == "" {
		task.ID = uuid.New().String()[:8]
	}
	if opts.context != "" {
		initial := a2a.NewMap()
		if err := json.Unmarshal([]byte(opts.context), initial); err != nil {
			return fmt.Errorf("parse --context: %w", err)
		}
		task.Input.Context = initial
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	eng := engine.New(agent.Defaults(newGenerator(cfg.LLM), db), loadRegistry(cfg.Registry.Path),
		engine.WithRemote(remote.NewClient(cfg.Remote)))

	var sink *natsbus.Sink
	if opts.natsURL != "" {
		client, err := natsbus.Connect(opts.natsURL, "camdoctor-run")
		if err != nil {
			slog.Warn("event publishing disabled", "url", opts.natsURL, "error", err)
		} else {
			defer client.Close()
			defer client.Flush()
			sink = natsbus.NewSink(client, task.ID)
		}
	}

	out := cmd.OutOrStdout()
	res := eng.Run(cmd.Context(), task, func(ev a2a.Event) {
		sink.Publish(ev)
		fmt.Fprintln(out, traceLine(task.ID, ev))
	})

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Fprintf(out, "\n%s\n%s\n", color.New(color.Bold).Sprint("Result"), data)
	return nil
}

func readLogs(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read logs: %w", err)
	}
	return string(data), nil
}

// traceLine renders an event indented by its delegation depth.
func traceLine(rootID string, ev a2a.Event) string {
	depth := 0
	if rest, ok := strings.CutPrefix(ev.TaskID, rootID); ok {
		depth = strings.Count(rest, ":")
	}
	tag := eventColor(ev.Type).Sprintf("[%s]", ev.Type)
	return strings.Repeat("  ", depth) + tag + " " + ev.Message
}

func eventColor(t a2a.EventType) *color.Color {
	switch t {
	case a2a.EventError:
		return color.New(color.FgRed, color.Bold)
	case a2a.EventTaskCompleted:
		return color.New(color.FgGreen)
	case a2a.EventDelegationRequested, a2a.EventDelegationCompleted:
		return color.New(color.FgYellow)
	case a2a.EventAgentStarted, a2a.EventAgentCompleted:
		return color.New(color.FgCyan)
	default:
		return color.New(color.Faint)
	}
}
