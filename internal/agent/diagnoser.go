package agent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/camdoctor/camdoctor/internal/a2a"
	"github.com/camdoctor/camdoctor/internal/llm"
)

const (
	diagnoserSystem = "You are a diagnostics expert for IP cameras (home/office/street). " +
		"Given logs, summarize likely root causes, affected components, and confidence based on the evidence. " +
		"Output concise bullet points."

	// HighLossPercent is the packet loss at which a network issue is
	// considered severe.
	HighLossPercent = 30
)

var lossPattern = regexp.MustCompile(`(\d+)%`)

type Diagnoser struct {
	gen llm.Generator
}

func NewDiagnoser(gen llm.Generator) *Diagnoser {
	return &Diagnoser{gen: gen}
}

func (d *Diagnoser) Describe() a2a.AgentDescriptor {
	return descriptor("diagnoser", "Diagnoser",
		"Inspects camera logs and identifies likely root causes.",
		"diagnose", "classify_issue")
}

func (d *Diagnoser) Run(ctx context.Context, in a2a.TaskInput) (a2a.TaskResult, error) {
	issues := ParseIssues(in.Logs)

	prompt := fmt.Sprintf("Logs:\n%s\n\nProvide a brief diagnosis summary.", in.Logs)
	text, err := d.gen.Generate(ctx, prompt, diagnoserSystem)
	if err != nil {
		return failure("Diagnosis failed", err), nil
	}

	issueList := a2a.List(issues...)
	diagnosis := a2a.NewMap().
		Set("issues", issueList).
		Set("summary", a2a.String(text))
	details := a2a.NewMap().
		Set("summary", a2a.String(text)).
		Set("issues", issueList).
		Set("context", a2a.MapOf(a2a.NewMap().Set("diagnosis", a2a.MapOf(diagnosis))))

	return a2a.TaskResult{Status: a2a.StatusOK, Summary: "Diagnosis produced", Details: details}, nil
}

// ParseIssues extracts known camera problems from raw log text.
func ParseIssues(logs string) []a2a.Value {
	var issues []a2a.Value
	lowered := strings.ToLower(logs)

	if strings.Contains(lowered, "rtsp") &&
		(strings.Contains(lowered, "drop") || strings.Contains(lowered, "reconnect")) {
		issues = append(issues, a2a.MapOf(a2a.NewMap().
			Set("component", a2a.String("stream")).
			Set("finding", a2a.String("RTSP instability (drops/reconnects)")).
			Set("confidence", a2a.Number(0.7)).
			Set("evidence", a2a.String("rtsp + drops/reconnect in logs"))))
	}

	if strings.Contains(lowered, "timeout") || strings.Contains(lowered, "ping") || strings.Contains(lowered, "%") {
		loss := a2a.Null()
		confidence := 0.6
		evidence := "timeout/ping loss"
		if m := lossPattern.FindStringSubmatch(logs); m != nil {
			if pct, err := strconv.Atoi(m[1]); err == nil {
				loss = a2a.Int(pct)
				evidence = fmt.Sprintf("timeout/ping loss %d%%", pct)
				if pct >= HighLossPercent {
					confidence = 0.75
				}
			}
		}
		issues = append(issues, a2a.MapOf(a2a.NewMap().
			Set("component", a2a.String("network")).
			Set("finding", a2a.String("Intermittent connectivity / packet loss")).
			Set("confidence", a2a.Number(confidence)).
			Set("evidence", a2a.String(evidence)).
			Set("packet_loss_percent", loss)))
	}

	if strings.Contains(lowered, "firmware") &&
		(strings.Contains(lowered, "latest") || strings.Contains(lowered, "version")) {
		issues = append(issues, a2a.MapOf(a2a.NewMap().
			Set("component", a2a.String("firmware")).
			Set("finding", a2a.String("Outdated firmware")).
			Set("confidence", a2a.Number(0.8)).
			Set("evidence", a2a.String("version older than latest"))))
	}

	return issues
}
