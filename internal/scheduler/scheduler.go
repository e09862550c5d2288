// Package scheduler runs the diagnosis pipeline over configured log files on
// a schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/camdoctor/camdoctor/internal/a2a"
	"github.com/camdoctor/camdoctor/internal/config"
	"github.com/camdoctor/camdoctor/internal/delegation"
	"github.com/camdoctor/camdoctor/internal/natsbus"
	"github.com/camdoctor/camdoctor/internal/store"
)

// WatchStore persists watch run state.
type WatchStore interface {
	SaveWatch(w *store.Watch) error
	GetDueWatches(now time.Time) ([]store.Watch, error)
	UpdateWatchRun(name, taskID, lastStatus, lastError string, nextRunAt *time.Time) error
	DeleteWatchesNotIn(names []string) error
}

// Runner executes one task to completion.
type Runner interface {
	Run(ctx context.Context, task a2a.Task, fn func(a2a.Event)) a2a.TaskResult
}

type Scheduler struct {
	store        WatchStore
	runner       Runner
	natsClient   *natsbus.Client
	pollInterval time.Duration
	watches      []config.WatchConfig
	now          func() time.Time
}

// New builds a scheduler. A nil client disables event publishing.
func New(s WatchStore, runner Runner, client *natsbus.Client, cfg config.SchedulerConfig, watches []config.WatchConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		runner:       runner,
		natsClient:   client,
		pollInterval: cfg.PollInterval,
		watches:      watches,
		now:          time.Now,
	}
}

// Sync writes the configured watches to the store and drops the ones no
// longer configured. Pending runs of unchanged watches are kept.
func (s *Scheduler) Sync() error {
	now := s.now()
	names := make([]string, 0, len(s.watches))
	for _, wc := range s.watches {
		if err := ValidateSchedule(wc.Schedule); err != nil {
			return fmt.Errorf("watch %s: %w", wc.Name, err)
		}
		next, err := NextRun(wc.Schedule, now)
		if err != nil {
			return fmt.Errorf("watch %s: %w", wc.Name, err)
		}
		next = next.UTC()
		agentID := wc.Agent
		if agentID == "" {
			agentID = delegation.Diagnoser
		}
		if err := s.store.SaveWatch(&store.Watch{
			Name:      wc.Name,
			AgentID:   agentID,
			Schedule:  wc.Schedule,
			LogsPath:  wc.LogsPath,
			Status:    "active",
			NextRunAt: &next,
		}); err != nil {
			return err
		}
		names = append(names, wc.Name)
	}
	if err := s.store.DeleteWatchesNotIn(names); err != nil {
		return err
	}
	slog.Info("watches synced", "count", len(names))
	return nil
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval, "watches", len(s.watches))

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	// Run times are stored in UTC and compared as text.
	watches, err := s.store.GetDueWatches(s.now().UTC())
	if err != nil {
		slog.Error("failed to get due watches", "error", err)
		return
	}

	for _, w := range watches {
		if ctx.Err() != nil {
			return
		}
		s.execute(ctx, w)
	}
}

func (s *Scheduler) execute(ctx context.Context, w store.Watch) {
	started := s.now()
	taskID := fmt.Sprintf("%s-%d", w.Name, started.Unix())
	slog.Info("running watch", "watch", w.Name, "agent", w.AgentID, "task", taskID)

	var lastStatus, lastError string
	logs, err := os.ReadFile(w.LogsPath)
	if err != nil {
		lastStatus = string(a2a.StatusError)
		lastError = fmt.Sprintf("read logs: %v", err)
		slog.Error("watch logs unreadable", "watch", w.Name, "path", w.LogsPath, "error", err)
	} else {
		task := a2a.Task{
			ID:      taskID,
			AgentID: w.AgentID,
			Input: a2a.TaskInput{
				Logs: string(logs),
				Context: a2a.NewMap().
					Set("watch", a2a.String(w.Name)).
					Set("logs_path", a2a.String(w.LogsPath)),
			},
		}
		sink := natsbus.NewSink(s.natsClient, taskID)
		res := s.runner.Run(ctx, task, sink.Publish)
		lastStatus = string(res.Status)
		if res.Status == a2a.StatusError {
			lastError = res.Summary
		}
		slog.Info("watch finished", "watch", w.Name, "task", taskID, "status", res.Status, "summary", res.Summary)
	}

	var nextRun *time.Time
	if next, err := NextRun(w.Schedule, started); err == nil {
		next = next.UTC()
		nextRun = &next
	} else {
		slog.Error("failed to compute next run", "watch", w.Name, "error", err)
	}

	if err := s.store.UpdateWatchRun(w.Name, taskID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to update watch run", "watch", w.Name, "error", err)
	}

	s.publishWatchExecuted(w, taskID, lastStatus)
}

func (s *Scheduler) publishWatchExecuted(w store.Watch, taskID, status string) {
	if s.natsClient == nil {
		return
	}
	run := natsbus.WatchRun{Name: w.Name, TaskID: taskID, Status: status}
	if err := s.natsClient.PublishWatchRun(run); err != nil {
		slog.Warn("publish watch event failed", "watch", w.Name, "error", err)
	}
}
