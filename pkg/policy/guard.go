// Package policy gates raw command strings before they reach a transport.
// Commands are split into "&&" segments, scanned for shell metacharacters,
// and checked against an executable allow-list, with the decision made by a
// Rego policy so deployments can swap in their own rules.
package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

// Guard evaluates commands against the loaded Rego policy.
type Guard struct {
	query   rego.PreparedEvalQuery
	allowed []string
	logger  zerolog.Logger
}

// ViolationError reports a command rejected by the guard.
type ViolationError struct {
	Command    string
	Violations []string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("command rejected by policy: %s", strings.Join(e.Violations, "; "))
}

// NewGuard compiles the built-in guard policy. extraExecutables extends the
// default allow-list.
func NewGuard(logger zerolog.Logger, extraExecutables ...string) (*Guard, error) {
	r := rego.New(
		rego.Module("command_guard.rego", commandGuardRego),
		rego.Query("data.conduit.guard.deny"),
	)

	query, err := r.PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to compile guard policy: %w", err)
	}

	allowed := make([]string, 0, len(defaultAllowedExecutables)+len(extraExecutables))
	allowed = append(allowed, defaultAllowedExecutables...)
	allowed = append(allowed, extraExecutables...)

	return &Guard{
		query:   query,
		allowed: allowed,
		logger:  logger.With().Str("component", "command-guard").Logger(),
	}, nil
}

// CheckCommand evaluates one command string. A nil return means the command
// may be dispatched.
func (g *Guard) CheckCommand(ctx context.Context, command string) error {
	startTime := time.Now()

	input := map[string]interface{}{
		"command":     command,
		"segments":    segmentExecutables(command),
		"metachars":   findMetacharacters(command),
		"executables": g.allowed,
	}

	results, err := g.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return fmt.Errorf("guard evaluation error: %w", err)
	}

	var violations []string
	for _, result := range results {
		for _, expr := range result.Expressions {
			denySet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, fmt.Sprintf("%v", d))
			}
		}
	}

	g.logger.Debug().
		Str("command", command).
		Int("violations", len(violations)).
		Dur("duration", time.Since(startTime)).
		Msg("command checked")

	if len(violations) > 0 {
		return &ViolationError{Command: command, Violations: violations}
	}
	return nil
}

// segmentExecutables splits a command on "&&" and returns the leading word of
// each segment, with sudo and env-assignment prefixes stripped.
func segmentExecutables(command string) []string {
	segments := strings.Split(command, "&&")
	executables := make([]string, 0, len(segments))
	for _, seg := range segments {
		fields := strings.Fields(seg)
		for len(fields) > 0 {
			word := fields[0]
			if word == "sudo" || strings.Contains(word, "=") {
				fields = fields[1:]
				continue
			}
			break
		}
		if len(fields) == 0 {
			executables = append(executables, "")
			continue
		}
		// Paths are reduced to their base name for the allow-list check.
		exe := fields[0]
		if i := strings.LastIndexByte(exe, '/'); i >= 0 {
			exe = exe[i+1:]
		}
		executables = append(executables, exe)
	}
	return executables
}

// findMetacharacters scans for shell constructs the guard forbids. A lone
// "&&" chain is permitted; everything that can redirect, background, or
// substitute is not.
func findMetacharacters(command string) []string {
	withoutChains := strings.ReplaceAll(command, "&&", "")

	var found []string
	seen := make(map[string]bool)
	add := func(m string) {
		if !seen[m] {
			seen[m] = true
			found = append(found, m)
		}
	}

	for _, c := range withoutChains {
		switch c {
		case ';', '|', '&', '`', '>', '<', '\n':
			add(string(c))
		}
	}
	if strings.Contains(command, "$(") {
		add("$(")
	}
	return found
}
