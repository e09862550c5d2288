package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/camdoctor/camdoctor/internal/a2a"
	"github.com/camdoctor/camdoctor/internal/llm"
)

const fixerSystem = "You are a remediation expert for IP cameras. Combine the baseline steps with additional safe, " +
	"practical steps tailored to the provided diagnosis. Return a short numbered list."

// Words in a plan that mean a human has to get involved.
var escalationPattern = regexp.MustCompile(`(?i)\b(rma|support|ticket|hardware fault)`)

type Fixer struct {
	gen llm.Generator
}

func NewFixer(gen llm.Generator) *Fixer {
	return &Fixer{gen: gen}
}

func (f *Fixer) Describe() a2a.AgentDescriptor {
	return descriptor("fixer", "Fixer",
		"Proposes steps or mock fixes for camera issues.",
		"fix", "remediation")
}

func (f *Fixer) Run(ctx context.Context, in a2a.TaskInput) (a2a.TaskResult, error) {
	var issues []a2a.Value
	if v, ok := in.Context.Lookup("diagnosis", "issues"); ok {
		issues, _ = v.AsList()
	}
	baseline := BaselinePlan(issues)

	prompt := fmt.Sprintf("Diagnosis context (JSON):\n%s\n\nLogs:\n%s\n\nPropose a fix plan in steps (1-7).",
		a2a.List(issues...).Text(), in.Logs)
	plan, err := f.gen.Generate(ctx, prompt, fixerSystem)
	if err != nil {
		return failure("Fix plan failed", err), nil
	}

	status := a2a.StatusOK
	if NeedsEscalation(plan + " " + strings.Join(baseline, " ")) {
		status = a2a.StatusNeedsSupport
	}

	fwd := in.Context.Clone().Set("fix_plan", a2a.MapOf(a2a.NewMap().
		Set("baseline", a2a.Strings(baseline...)).
		Set("llm", a2a.String(plan))))
	details := a2a.NewMap().
		Set("plan", a2a.String(plan)).
		Set("baseline", a2a.Strings(baseline...)).
		Set("context", a2a.MapOf(fwd))

	return a2a.TaskResult{Status: status, Summary: "Fix plan produced", Details: details}, nil
}

// NeedsEscalation reports whether plan text asks for vendor or human support.
func NeedsEscalation(text string) bool {
	return escalationPattern.MatchString(text)
}

// BaselinePlan returns the standard remediation steps for the diagnosed
// components.
func BaselinePlan(issues []a2a.Value) []string {
	components := make(map[string]bool)
	for _, issue := range issues {
		if m, ok := issue.AsMap(); ok {
			components[m.GetString("component")] = true
		}
	}

	var steps []string
	if components["network"] {
		steps = append(steps,
			"Check Ethernet/Wi-Fi stability; reseat cables or change AP channel.",
			"Run ping for 5 minutes to gateway and NVR; ensure <1% loss.",
			"If on PoE, verify power budget and switch logs for errors.",
		)
	}
	if components["stream"] {
		steps = append(steps,
			"Lower RTSP bitrate/resolution temporarily to stabilize.",
			"Verify RTSP URL auth/transport; prefer TCP over UDP in unstable nets.",
		)
	}
	if components["firmware"] {
		steps = append(steps,
			"Backup config and upgrade firmware to the latest stable version.",
			"Factory reset if upgrade fails; restore config and retest.",
		)
	}
	if len(steps) == 0 {
		steps = []string{
			"Power-cycle camera and networking gear.",
			"Check NVR/recording server health and storage errors.",
		}
	}
	return steps
}
