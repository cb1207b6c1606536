package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// defaultGuidelines is used for the twiddle/check system prompt when no
// project-specific guideline document is configured (§ config.go
// "guidelines"). It documents the severity table the check system prompt
// instructs the model to honor (§4.H "unknown sections default to
// warning").
const defaultGuidelines = `## Format

- Use Conventional Commits: "type(scope): subject", e.g. "feat(auth): add refresh tokens".
- Valid types: feat, fix, docs, style, refactor, test, chore, perf, ci, build.

## Subject Line

- Imperative mood ("add", not "added" or "adds").
- No trailing period.
- Keep the subject at or under 72 characters.

## Content

- The body should explain what changed and why, not how, when it isn't obvious from the subject.
- Reference the actual code change shown in the diff, not the file path or branch name.

## Accuracy

- The declared type and scope must match what the diff actually does.
- Do not use "feat" for a pure bug fix, or "fix" for a pure addition.

## Style

- Prefer concise, specific wording over vague phrases like "update stuff" or "misc changes".

## Severity Levels

| Severity | Sections                    |
|----------|------------------------------|
| error    | Format, Subject Line, Accuracy |
| warning  | Content                      |
| info     | Style                        |
`

// twiddleSystemPromptClaude and twiddleSystemPromptOpenAI differ only in
// wording conventions (§3 "prompt style selects wording ... it does not
// alter transport"): the Claude-style prompt favors literal worked
// examples, the OpenAI-style prompt favors a terser imperative checklist.
const twiddleSystemPromptClaude = `You are an expert software engineer helping improve git commit messages. You will receive a YAML list of commits, each with its metadata and full diff.

Base every suggestion on what the diff actually does, not on file paths or branch names. Follow the commit message guidelines given below exactly. Use imperative mood. Include every commit in your response, even ones that need no change — repeat the original message for those.

CRITICAL RESPONSE FORMAT: respond with ONLY valid YAML, starting immediately with "amendments:". No prose, no code fences, nothing before or after the YAML.

amendments:
  - commit: "<40-char-hash>"
    message: "<improved commit message>"
`

const twiddleSystemPromptOpenAI = `Role: commit message editor.

Task: for each commit below (hash, metadata, diff), propose an improved message that accurately reflects the diff and follows the guidelines. Keep messages that are already correct unchanged. Every input commit must appear in the output.

Output contract: valid YAML only, top-level key "amendments", each entry {commit, message}. No other text.
`

const checkSystemPromptClaude = `You are a commit message reviewer. Evaluate each commit's message against the guidelines below, cross-checking claims against the actual diff.

For each commit, report every guideline violation with its severity (taken from the guidelines' Severity Levels table; a section absent from that table defaults to "warning"). A commit passes only if it has no error- or warning-level issues. Include every commit in the response, passing or not.

CRITICAL RESPONSE FORMAT: respond with ONLY valid YAML, starting immediately with "checks:". No prose, no code fences.

checks:
  - commit: "<40-char-hash>"
    passes: false
    issues:
      - severity: error
        section: "Subject Line"
        rule: "..."
        explanation: "..."
    suggestion:
      message: "..."
      explanation: "..."
`

const checkSystemPromptOpenAI = `Role: commit message linter.

For each commit (hash, metadata, diff), check it against the guidelines below and the Severity Levels table within them (unmapped sections default to "warning"). passes is true only when no error/warning issues remain.

Output contract: valid YAML only, top-level key "checks", one entry per input commit: {commit, passes, issues: [{severity, section, rule, explanation}], suggestion?: {message, explanation}}.
`

func twiddleSystemPrompt(style PromptStyle, guidelines string) string {
	base := twiddleSystemPromptClaude
	if style == OpenAiStylePrompt {
		base = twiddleSystemPromptOpenAI
	}
	return base + "\n=== PROJECT COMMIT GUIDELINES ===\n\n" + guidelines
}

func checkSystemPrompt(style PromptStyle, guidelines string, includeSuggestions bool) string {
	base := checkSystemPromptClaude
	if style == OpenAiStylePrompt {
		base = checkSystemPromptOpenAI
	}
	prompt := base + "\n=== PROJECT COMMIT GUIDELINES ===\n\n" + guidelines
	if includeSuggestions {
		prompt += "\n\nInclude a suggestion for every failing commit."
	} else {
		prompt += "\n\nDo NOT include suggestion fields."
	}
	return prompt
}

func resolveGuidelines(path string) (string, error) {
	if path == "" {
		return defaultGuidelines, nil
	}
	buf, err := os.ReadFile(path) //nolint:gosec // G304: reading a caller-configured guidelines file is intentional
	if err != nil {
		return "", fmt.Errorf("reading guidelines %s: %w", path, err)
	}
	return string(buf), nil
}

// commitView is one commit's representation inside a request envelope;
// Diff is read from disk at request-assembly time (never during planning).
type commitView struct {
	Hash            string   `yaml:"hash"`
	Author          string   `yaml:"author"`
	Date            string   `yaml:"date"`
	OriginalMessage string   `yaml:"original_message"`
	DetectedType    string   `yaml:"detected_type,omitempty"`
	DetectedScope   string   `yaml:"detected_scope,omitempty"`
	ProposedMessage string   `yaml:"proposed_message,omitempty"`
	DiffSummary     string   `yaml:"diff_summary"`
	FilesChanged    []string `yaml:"files_changed,omitempty"`
	Diff            string   `yaml:"diff"`
}

// requestEnvelope is the YAML user-prompt body for one batch. Mode
// distinguishes the single-commit view from the multi-commit view per §4.F
// step 2; the two only differ in which fields are populated, not in shape.
type requestEnvelope struct {
	Mode    string       `yaml:"mode"`
	Commits []commitView `yaml:"commits"`
}

func buildRequestView(commits []CommitInfo, indices []int) (string, error) {
	mode := "multi"
	if len(indices) == 1 {
		mode = "single"
	}
	env := requestEnvelope{Mode: mode, Commits: make([]commitView, 0, len(indices))}
	for _, idx := range indices {
		c := commits[idx]
		diffContent := ""
		if c.Analysis.DiffFile != "" {
			buf, err := os.ReadFile(c.Analysis.DiffFile) //nolint:gosec // G304: reading our own scratch file
			if err != nil {
				return "", fmt.Errorf("reading diff file for %s: %w", c.Hash, err)
			}
			diffContent = string(buf)
		}
		files := make([]string, 0, len(c.Analysis.FileChanges.Files))
		for _, f := range c.Analysis.FileChanges.Files {
			files = append(files, f.Status+" "+f.File)
		}
		env.Commits = append(env.Commits, commitView{
			Hash:            c.Hash,
			Author:          c.Author,
			Date:            c.Date.Format("2006-01-02T15:04:05Z07:00"),
			OriginalMessage: c.OriginalMessage,
			DetectedType:    c.Analysis.DetectedType,
			DetectedScope:   c.Analysis.DetectedScope,
			ProposedMessage: c.Analysis.ProposedMessage,
			DiffSummary:     c.Analysis.DiffSummary,
			FilesChanged:    files,
			Diff:            diffContent,
		})
	}
	buf, err := yaml.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshaling request envelope: %w", err)
	}
	return string(buf), nil
}

func fingerprints(commits []CommitInfo) []string {
	out := make([]string, len(commits))
	for i, c := range commits {
		out[i] = c.Hash
	}
	return out
}

// EngineOptions bundles the per-run user-facing settings §4.F references as
// {concurrency, suggestions_enabled, fresh}; Strict and Guidelines round out
// what the check/twiddle command drivers need from config.
type EngineOptions struct {
	Concurrency        int
	ReduceEnabled      bool
	SuggestionsEnabled bool
	Strict             bool
	Guidelines         string
}

// RunTwiddleEngine plans, dispatches, and aggregates a twiddle run over
// commits, returning amendments in original-commit order (§8 invariant 4)
// plus the indices of commits that never produced a result.
func RunTwiddleEngine(ctx context.Context, cfg *Config, commits []CommitInfo, client AiClient, opts EngineOptions, observe ProgressObserver) ([]Amendment, []int, error) {
	if len(commits) == 0 {
		return nil, nil, &EmptyRangeError{}
	}

	guidelines, err := resolveGuidelines(opts.Guidelines)
	if err != nil {
		return nil, nil, err
	}
	style := client.Metadata().PromptStyle()
	systemPrompt := twiddleSystemPrompt(style, guidelines)
	systemPromptTokens := estimateTokens(len(systemPrompt))

	budget := NewTokenBudget(client.Metadata())
	plan := PlanBatches(commits, budget, systemPromptTokens, statSize)

	candidates := fingerprints(commits)

	req := func(ctx context.Context, indices []int) ([]ResolvedItem, error) {
		view, err := buildRequestView(commits, indices)
		if err != nil {
			return nil, err
		}
		if _, err := budget.Validate(systemPrompt, view); err != nil {
			if len(indices) != 1 {
				return nil, err
			}
			// Oversize-solo: attempt anyway (§4.E).
		}
		raw, err := client.Send(ctx, systemPrompt, view)
		if err != nil {
			return nil, err
		}
		amendments, err := ParseAmendmentsResponse(raw, candidates)
		if err != nil {
			return nil, err
		}
		byHashLocal := make(map[string]Amendment, len(amendments))
		for _, a := range amendments {
			byHashLocal[a.Commit] = a
		}
		resolved := make([]ResolvedItem, 0, len(amendments))
		for _, idx := range indices {
			if a, ok := byHashLocal[commits[idx].Hash]; ok {
				resolved = append(resolved, ResolvedItem{Index: idx, Payload: a})
			}
		}
		return resolved, nil
	}

	result := RunMapStage(ctx, plan, opts.Concurrency, observe, req)

	// byHash is populated here, single-threaded, after every batch
	// goroutine has returned — never written to from inside req (§5).
	byHash := make(map[string]Amendment, len(result.Succeeded))
	succeededIndices := make([]int, 0, len(result.Succeeded))
	for _, item := range result.Succeeded {
		a := item.Payload.(Amendment)
		byHash[a.Commit] = a
		succeededIndices = append(succeededIndices, item.Index)
	}
	sort.Ints(succeededIndices)
	out := make([]Amendment, 0, len(succeededIndices))
	for _, idx := range succeededIndices {
		if a, ok := byHash[commits[idx].Hash]; ok {
			out = append(out, a)
		}
	}
	sort.Ints(result.FailedIndices)

	if result.Cancelled != nil {
		return out, result.FailedIndices, result.Cancelled
	}
	if len(out) == 0 && len(result.FailedIndices) > 0 {
		return nil, result.FailedIndices, &AllCommitsFailedError{FailedCount: len(result.FailedIndices)}
	}
	return out, result.FailedIndices, nil
}

// RunCheckEngine plans, dispatches, aggregates, and optionally reconciles a
// check run over commits, returning results in original-commit order.
func RunCheckEngine(ctx context.Context, cfg *Config, commits []CommitInfo, client AiClient, opts EngineOptions, observe ProgressObserver, warn func(string)) ([]CommitCheckResult, []int, error) {
	if len(commits) == 0 {
		return nil, nil, &EmptyRangeError{}
	}

	guidelines, err := resolveGuidelines(opts.Guidelines)
	if err != nil {
		return nil, nil, err
	}
	style := client.Metadata().PromptStyle()
	systemPrompt := checkSystemPrompt(style, guidelines, opts.SuggestionsEnabled)
	systemPromptTokens := estimateTokens(len(systemPrompt))

	budget := NewTokenBudget(client.Metadata())
	plan := PlanBatches(commits, budget, systemPromptTokens, statSize)

	candidates := fingerprints(commits)

	req := func(ctx context.Context, indices []int) ([]ResolvedItem, error) {
		view, err := buildRequestView(commits, indices)
		if err != nil {
			return nil, err
		}
		if _, err := budget.Validate(systemPrompt, view); err != nil {
			if len(indices) != 1 {
				return nil, err
			}
		}
		raw, err := client.Send(ctx, systemPrompt, view)
		if err != nil {
			return nil, err
		}
		results, err := ParseCheckResponse(cfg, raw, candidates)
		if err != nil {
			return nil, err
		}
		byHashLocal := make(map[string]CommitCheckResult, len(results))
		for _, r := range results {
			for _, idx := range indices {
				if commits[idx].Hash == r.Hash {
					r.Message = commits[idx].OriginalMessage
				}
			}
			byHashLocal[r.Hash] = r
		}
		resolved := make([]ResolvedItem, 0, len(results))
		for _, idx := range indices {
			if r, ok := byHashLocal[commits[idx].Hash]; ok {
				resolved = append(resolved, ResolvedItem{Index: idx, Payload: r})
			}
		}
		return resolved, nil
	}

	result := RunMapStage(ctx, plan, opts.Concurrency, observe, req)

	// byHash is populated here, single-threaded, after every batch
	// goroutine has returned — never written to from inside req (§5).
	byHash := make(map[string]CommitCheckResult, len(result.Succeeded))
	succeededIndices := make([]int, 0, len(result.Succeeded))
	for _, item := range result.Succeeded {
		r := item.Payload.(CommitCheckResult)
		byHash[r.Hash] = r
		succeededIndices = append(succeededIndices, item.Index)
	}
	sort.Ints(succeededIndices)
	aggregated := make([]CommitCheckResult, 0, len(succeededIndices))
	for _, idx := range succeededIndices {
		if r, ok := byHash[commits[idx].Hash]; ok {
			aggregated = append(aggregated, r)
		}
	}
	sort.Ints(result.FailedIndices)

	if result.Cancelled != nil {
		return aggregated, result.FailedIndices, result.Cancelled
	}
	if len(aggregated) == 0 && len(result.FailedIndices) > 0 {
		return nil, result.FailedIndices, &AllCommitsFailedError{FailedCount: len(result.FailedIndices)}
	}

	coherence := func(ctx context.Context, results []CommitCheckResult) ([]CommitCheckResult, error) {
		return runCoherencePass(ctx, client, systemPrompt, results)
	}
	aggregated = RunReduceStage(ctx, aggregated, len(plan.Batches), opts.ReduceEnabled, coherence, warn)

	return aggregated, result.FailedIndices, nil
}

// coherenceRequest/coherenceResponse mirror the check-response YAML shape so
// the coherence pass can reuse ParseCheckResponse against a synthetic
// candidate list built from the results already in hand.
type coherenceEntry struct {
	Hash    string `yaml:"hash"`
	Message string `yaml:"message"`
	Passes  bool   `yaml:"passes"`
}

func runCoherencePass(ctx context.Context, client AiClient, baseSystemPrompt string, results []CommitCheckResult) ([]CommitCheckResult, error) {
	entries := make([]coherenceEntry, 0, len(results))
	candidates := make([]string, 0, len(results))
	for _, r := range results {
		entries = append(entries, coherenceEntry{Hash: r.Hash, Message: r.Message, Passes: r.Passes})
		candidates = append(candidates, r.Hash)
	}
	buf, err := yaml.Marshal(struct {
		Commits []coherenceEntry `yaml:"commits"`
	}{Commits: entries})
	if err != nil {
		return nil, err
	}

	prompt := "The following commits, in order, were just checked individually or in small batches. " +
		"Look across the whole series for inconsistencies (repeated scope choices, mixed tense, " +
		"contradictory type classifications) and report a reconciled checks list in the same YAML " +
		"shape used before.\n\n" + string(buf)

	raw, err := client.Send(ctx, baseSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	return ParseCheckResponse(&Config{}, raw, candidates)
}

func statSize(path string) int {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return int(info.Size())
}
