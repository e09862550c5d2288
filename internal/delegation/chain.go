// Package delegation decides which agent, if any, runs next after a stage
// of a task completes.
package delegation

import (
	"strings"

	"github.com/camdoctor/camdoctor/internal/a2a"
)

const (
	Diagnoser = "diagnoser"
	Fixer     = "fixer"
	Support   = "support"
)

// Hop is one completed stage within a task's chain. Depth 0 is the agent the
// task was addressed to.
type Hop struct {
	Depth   int
	AgentID string
	Input   a2a.TaskInput
	Result  a2a.TaskResult
}

// Delegation describes the child task to run next.
type Delegation struct {
	To     string
	Suffix string
	Name   string
	Input  a2a.TaskInput
}

// Policy is consulted after every stage.
type Policy interface {
	Next(root a2a.Task, last Hop) (Delegation, bool)
}

type rule struct {
	depth  int
	from   string
	when   a2a.Status
	to     string
	suffix string
	name   string
	logs   func(root a2a.Task, last Hop) string
}

// Chain is the fixed diagnoser -> fixer -> support pipeline.
type Chain struct {
	rules []rule
}

func NewChain() *Chain {
	return &Chain{rules: []rule{
		{
			depth: 0, from: Diagnoser, when: a2a.StatusOK,
			to: Fixer, suffix: "fix", name: "Fixer",
			logs: fixerLogs,
		},
		{
			depth: 1, from: Fixer, when: a2a.StatusNeedsSupport,
			to: Support, suffix: "support", name: "Support",
			logs: supportLogs,
		},
	}}
}

func (c *Chain) Next(root a2a.Task, last Hop) (Delegation, bool) {
	// Only a task addressed to the entry role delegates.
	if root.AgentID != Diagnoser {
		return Delegation{}, false
	}
	for _, r := range c.rules {
		if r.depth != last.Depth || r.from != last.AgentID || r.when != last.Result.Status {
			continue
		}
		return Delegation{
			To:     r.to,
			Suffix: r.suffix,
			Name:   r.name,
			Input: a2a.TaskInput{
				Logs:    r.logs(root, last),
				Context: MergeContext(last.Input.Context, last.Result),
			},
		}, true
	}
	return Delegation{}, false
}

// MergeContext overlays the stage's details.context onto the context it
// ran with. Absent contexts are empty.
func MergeContext(prev *a2a.Map, res a2a.TaskResult) *a2a.Map {
	return prev.Merge(res.Context())
}

func fixerLogs(root a2a.Task, last Hop) string {
	summary := detailText(last.Result.Details, "summary")
	if summary == "" {
		summary = detailText(last.Result.Details, "raw")
	}
	return joinSections("Diagnosis + Logs", summary, root.Input.Logs)
}

func supportLogs(root a2a.Task, last Hop) string {
	return joinSections("Need support. Context:", detailText(last.Result.Details, "plan"), root.Input.Logs)
}

func detailText(details *a2a.Map, key string) string {
	v, ok := details.Get(key)
	if !ok || v.IsNull() {
		return ""
	}
	return v.Text()
}

func joinSections(parts ...string) string {
	return strings.Join(parts, "\n\n")
}
