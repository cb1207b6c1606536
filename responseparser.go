package main

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"
)

// IssueSeverity is the normalized severity of a check issue.
type IssueSeverity int

const (
	SeverityError IssueSeverity = iota
	SeverityWarning
	SeverityInfo
)

func (s IssueSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityInfo:
		return "info"
	default:
		return "warning"
	}
}

// MarshalJSON renders the severity as its lowercase string form.
func (s IssueSeverity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// MarshalYAML renders the severity as its lowercase string form.
func (s IssueSeverity) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// parseSeverity normalizes a severity string case-insensitively. Unknown
// values default to SeverityWarning with a debug log rather than a hard
// failure (§4.H) — this function is infallible by design.
func parseSeverity(cfg *Config, raw string) IssueSeverity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "error":
		return SeverityError
	case "warning":
		return SeverityWarning
	case "info":
		return SeverityInfo
	default:
		debugLog(cfg, "responseparser: unknown severity %q, defaulting to warning", raw)
		return SeverityWarning
	}
}

// CommitIssue is a single guideline violation found in a commit message.
type CommitIssue struct {
	Severity    IssueSeverity `json:"severity" yaml:"severity"`
	Section     string        `json:"section" yaml:"section"`
	Rule        string        `json:"rule" yaml:"rule"`
	Explanation string        `json:"explanation" yaml:"explanation"`
}

// CommitSuggestion is a suggested improved commit message.
type CommitSuggestion struct {
	Message     string `json:"message" yaml:"message"`
	Explanation string `json:"explanation" yaml:"explanation"`
}

// CommitCheckResult is the check-mode per-commit result (§3).
type CommitCheckResult struct {
	Hash       string             `json:"hash" yaml:"hash"`
	Message    string             `json:"message" yaml:"message"`
	Passes     bool               `json:"passes" yaml:"passes"`
	Issues     []CommitIssue      `json:"issues" yaml:"issues"`
	Suggestion *CommitSuggestion  `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
}

// Amendment is the twiddle-mode per-commit result (§3, §6).
type Amendment struct {
	Commit  string `yaml:"commit"`
	Message string `yaml:"message"`
}

// AmendmentFile is the on-disk shape written for the amendment applicator.
type AmendmentFile struct {
	Amendments []Amendment `yaml:"amendments"`
}

// rawAmendmentsResponse and rawCheckResponse mirror the model's YAML output
// shapes before domain mapping (§4.H), decoded loosely so minor model drift
// (extra whitespace, unexpected scalar styles) does not break the decode.
type rawAmendmentsResponse struct {
	Amendments []rawAmendment `yaml:"amendments"`
}

type rawAmendment struct {
	Commit  string `yaml:"commit"`
	Message string `yaml:"message"`
}

type rawCheckResponse struct {
	Checks []rawCommitCheck `yaml:"checks"`
}

type rawCommitCheck struct {
	Commit     string         `yaml:"commit"`
	Passes     bool           `yaml:"passes"`
	Issues     []rawIssue     `yaml:"issues"`
	Suggestion *rawSuggestion `yaml:"suggestion"`
}

type rawIssue struct {
	Severity    string `yaml:"severity"`
	Section     string `yaml:"section"`
	Rule        string `yaml:"rule"`
	Explanation string `yaml:"explanation"`
}

type rawSuggestion struct {
	Message     string `yaml:"message"`
	Explanation string `yaml:"explanation"`
}

// stripCodeFence removes a surrounding ```yaml / ``` fence if the model
// wrapped its response in one despite the system prompt forbidding it.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// resolveFingerprint maps a short or full commit reference back to the full
// 40-hex fingerprint by prefix match against the input set (§4.H). An empty
// or out-of-range reference is unresolvable; more than one match is
// ambiguous.
func resolveFingerprint(reference string, candidates []string) (string, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return "", &UnknownCommitError{Reference: reference}
	}
	var matches []string
	for _, c := range candidates {
		if strings.HasPrefix(c, ref) {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return "", &UnknownCommitError{Reference: reference}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousCommitError{Reference: reference, Matches: matches}
	}
}

// ParseAmendmentsResponse parses a twiddle-mode YAML response into
// Amendments, resolving each commit reference against candidateFingerprints.
// An empty amendments list is valid and means "no changes proposed" (§4.H).
func ParseAmendmentsResponse(raw string, candidateFingerprints []string) ([]Amendment, error) {
	clean := stripCodeFence(raw)

	var decoded rawAmendmentsResponse
	if err := yaml.Unmarshal([]byte(clean), &decoded); err != nil {
		return nil, &InvalidResponseFormatError{Reason: err.Error(), Raw: raw}
	}

	amendments := make([]Amendment, 0, len(decoded.Amendments))
	for _, a := range decoded.Amendments {
		full, err := resolveFingerprint(a.Commit, candidateFingerprints)
		if err != nil {
			return nil, err
		}
		amendments = append(amendments, Amendment{Commit: full, Message: a.Message})
	}
	return amendments, nil
}

// ParseCheckResponse parses a check-mode YAML response into
// CommitCheckResults, resolving each commit reference and normalizing
// severities (§4.H).
func ParseCheckResponse(cfg *Config, raw string, candidateFingerprints []string) ([]CommitCheckResult, error) {
	clean := stripCodeFence(raw)

	var decoded rawCheckResponse
	if err := yaml.Unmarshal([]byte(clean), &decoded); err != nil {
		return nil, &InvalidResponseFormatError{Reason: err.Error(), Raw: raw}
	}

	results := make([]CommitCheckResult, 0, len(decoded.Checks))
	for _, c := range decoded.Checks {
		full, err := resolveFingerprint(c.Commit, candidateFingerprints)
		if err != nil {
			return nil, err
		}

		issues := make([]CommitIssue, 0, len(c.Issues))
		for _, ri := range c.Issues {
			issues = append(issues, CommitIssue{
				Severity:    parseSeverity(cfg, ri.Severity),
				Section:     ri.Section,
				Rule:        ri.Rule,
				Explanation: ri.Explanation,
			})
		}

		var suggestion *CommitSuggestion
		if c.Suggestion != nil {
			suggestion = &CommitSuggestion{Message: c.Suggestion.Message, Explanation: c.Suggestion.Explanation}
		}

		results = append(results, CommitCheckResult{
			Hash:       full,
			Passes:     c.Passes,
			Issues:     issues,
			Suggestion: suggestion,
		})
	}
	return results, nil
}
