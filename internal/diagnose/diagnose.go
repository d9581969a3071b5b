// Package diagnose turns raw command failures into short, actionable
// messages for the operator.
package diagnose

import (
	"fmt"
	"strings"
)

// ParsedError is the operator-facing form of one failure.
type ParsedError struct {
	Summary    string `json:"summary"`
	Detail     string `json:"detail,omitempty"`
	Suggestion string `json:"suggestion"`
}

// HasDetail reports whether the error carries a detail block.
func (e ParsedError) HasDetail() bool {
	return strings.TrimSpace(e.Detail) != ""
}

func (e ParsedError) Error() string {
	if e.HasDetail() {
		return fmt.Sprintf("%s: %s", e.Summary, e.Detail)
	}
	return e.Summary
}

// ErrorContext names the operation that produced the failure.
type ErrorContext struct {
	Operation string
}

const maxDetailLines = 6

type rule struct {
	needles    []string
	summary    string
	suggestion string
}

// Order matters: the first rule whose needle appears in stderr wins.
var rules = []rule{
	{
		needles:    []string{"a terminal is required", "a password is required", "sudo: no tty present", "incorrect password attempt"},
		summary:    "sudo could not authenticate",
		suggestion: "Run forge from an interactive terminal or allow passwordless sudo for nixos-rebuild.",
	},
	{
		needles:    []string{"api rate limit exceeded", "http error 403", "rate limit"},
		summary:    "GitHub rate limit reached",
		suggestion: "Add a GitHub token to nix.conf (access-tokens = github.com=<token>) or retry later.",
	},
	{
		needles:    []string{"could not resolve host", "couldn't resolve host", "network is unreachable", "unable to download", "connection refused", "connection timed out", "temporary failure in name resolution"},
		summary:    "Network error",
		suggestion: "Check your internet connection and try again.",
	},
	{
		needles:    []string{"no space left on device"},
		summary:    "Disk is full",
		suggestion: "Free space with 'sudo nix-collect-garbage -d' and retry.",
	},
	{
		needles:    []string{"hash mismatch"},
		summary:    "Hash mismatch in fixed-output derivation",
		suggestion: "Update the hash in your configuration to the value reported above.",
	},
	{
		needles:    []string{"infinite recursion", "undefined variable", "syntax error", "does not provide attribute", "attribute '", "error: evaluation aborted"},
		summary:    "Nix evaluation error",
		suggestion: "Fix the configuration error shown above, then run the update again.",
	},
	{
		needles:    []string{"not possible to fast-forward", "have diverged", "divergent branches"},
		summary:    "Local branch has diverged from the remote",
		suggestion: "Rebase or merge your local commits manually, then retry.",
	},
	{
		needles:    []string{"would be overwritten", "please commit your changes or stash them", "merge conflict"},
		summary:    "Local changes block the operation",
		suggestion: "Commit or stash your local changes, or choose the stash option when updating.",
	},
	{
		needles:    []string{"permission denied", "operation not permitted"},
		summary:    "Permission denied",
		suggestion: "Check file ownership in the configuration directory and sudo access.",
	},
	{
		needles:    []string{"command not found", "executable file not found", "no such file or directory"},
		summary:    "Required command not found",
		suggestion: "Run 'forge doctor' to see which dependencies are missing.",
	},
}

// FromStderr classifies raw stderr for the given operation. It is a pure
// function: one input always maps to exactly one ParsedError.
func FromStderr(stderr string, ctx ErrorContext) ParsedError {
	operation := strings.TrimSpace(ctx.Operation)
	if operation == "" {
		operation = "Operation"
	}
	lower := strings.ToLower(stderr)
	detail := extractDetail(stderr)

	for _, r := range rules {
		for _, needle := range r.needles {
			if strings.Contains(lower, needle) {
				return ParsedError{
					Summary:    fmt.Sprintf("%s failed: %s", operation, r.summary),
					Detail:     detail,
					Suggestion: r.suggestion,
				}
			}
		}
	}

	return ParsedError{
		Summary:    fmt.Sprintf("%s failed", operation),
		Detail:     detail,
		Suggestion: "Check the output log above for details.",
	}
}

// extractDetail prefers the block that starts at the first "error:" line
// and otherwise keeps the last few non-empty lines.
func extractDetail(stderr string) string {
	lines := []string{}
	for _, line := range strings.Split(stderr, "\n") {
		trimmed := strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(trimmed) == "" {
			continue
		}
		lines = append(lines, trimmed)
	}
	if len(lines) == 0 {
		return ""
	}

	for i, line := range lines {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "error:") {
			end := i + maxDetailLines
			if end > len(lines) {
				end = len(lines)
			}
			return strings.Join(lines[i:end], "\n")
		}
	}

	start := len(lines) - maxDetailLines
	if start < 0 {
		start = 0
	}
	return strings.Join(lines[start:], "\n")
}
