package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// CheckReportCommit is one commit's entry in the check report (§6).
type CheckReportCommit struct {
	Hash       string             `json:"hash" yaml:"hash"`
	Message    string             `json:"message" yaml:"message"`
	Passes     bool               `json:"passes" yaml:"passes"`
	Issues     []CommitIssue      `json:"issues" yaml:"issues"`
	Suggestion *CommitSuggestion  `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
	Summary    string             `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// CheckReportSummary aggregates pass/fail and issue-severity counts.
type CheckReportSummary struct {
	Total        int `json:"total" yaml:"total"`
	Passing      int `json:"passing" yaml:"passing"`
	Failing      int `json:"failing" yaml:"failing"`
	ErrorCount   int `json:"error_count" yaml:"error_count"`
	WarningCount int `json:"warning_count" yaml:"warning_count"`
	InfoCount    int `json:"info_count" yaml:"info_count"`
}

// CheckReport is the produced check-mode report (§6).
type CheckReport struct {
	Commits []CheckReportCommit `json:"commits" yaml:"commits"`
	Summary CheckReportSummary  `json:"summary" yaml:"summary"`
}

// BuildCheckReport converts engine results into the report shape, computing
// the summary counts over the full input set (not just the commits that
// produced a result — a commit that never got a result is reported as a
// failure, since it means neither the batch nor its split-retry succeeded).
func BuildCheckReport(commits []CommitInfo, results []CommitCheckResult, failedIndices []int) CheckReport {
	byHash := make(map[string]CommitCheckResult, len(results))
	for _, r := range results {
		byHash[r.Hash] = r
	}
	failed := make(map[int]bool, len(failedIndices))
	for _, idx := range failedIndices {
		failed[idx] = true
	}

	report := CheckReport{Commits: make([]CheckReportCommit, 0, len(commits))}
	for i, c := range commits {
		if failed[i] {
			report.Commits = append(report.Commits, CheckReportCommit{
				Hash:    c.Hash,
				Message: c.OriginalMessage,
				Passes:  false,
				Issues: []CommitIssue{{
					Severity:    SeverityError,
					Section:     "Engine",
					Rule:        "request must succeed",
					Explanation: "no response was obtained for this commit after split-and-retry",
				}},
			})
			report.Summary.ErrorCount++
			report.Summary.Failing++
			report.Summary.Total++
			continue
		}
		r, ok := byHash[c.Hash]
		if !ok {
			continue
		}
		report.Commits = append(report.Commits, CheckReportCommit{
			Hash:       r.Hash,
			Message:    r.Message,
			Passes:     r.Passes,
			Issues:     r.Issues,
			Suggestion: r.Suggestion,
			Summary:    c.Analysis.DiffSummary,
		})
		report.Summary.Total++
		if r.Passes {
			report.Summary.Passing++
		} else {
			report.Summary.Failing++
		}
		for _, issue := range r.Issues {
			switch issue.Severity {
			case SeverityError:
				report.Summary.ErrorCount++
			case SeverityWarning:
				report.Summary.WarningCount++
			case SeverityInfo:
				report.Summary.InfoCount++
			}
		}
	}
	return report
}

// checkExitCode computes the exit code from §6/§7: 0 clean (or strict-off
// with only warnings), 1 if any error-severity issue exists, 2 if --strict
// and any warning-severity issue exists (and no error), 3 for an empty
// input range (handled by the caller before this is reached).
func checkExitCode(summary CheckReportSummary, strict bool) int {
	if summary.ErrorCount > 0 {
		return 1
	}
	if strict && summary.WarningCount > 0 {
		return 2
	}
	return 0
}

func formatCheckReport(report CheckReport, format string) (string, error) {
	switch format {
	case "json":
		buf, err := json.MarshalIndent(report, "", "  ")
		return string(buf), err
	case "yaml":
		buf, err := yaml.Marshal(report)
		return string(buf), err
	case "text", "":
		return formatCheckReportText(report), nil
	default:
		return "", fmt.Errorf("unsupported format %q: must be text, json, or yaml", format)
	}
}

func formatCheckReportText(report CheckReport) string {
	var sb strings.Builder
	for _, c := range report.Commits {
		status := "PASS"
		if !c.Passes {
			status = "FAIL"
		}
		fmt.Fprintf(&sb, "[%s] %s %s\n", status, shortHash(c.Hash), firstLineOf(c.Message))
		for _, issue := range c.Issues {
			fmt.Fprintf(&sb, "    %s (%s): %s — %s\n", strings.ToUpper(issue.Severity.String()), issue.Section, issue.Rule, issue.Explanation)
		}
		if c.Suggestion != nil {
			fmt.Fprintf(&sb, "    suggestion: %s\n", firstLineOf(c.Suggestion.Message))
		}
	}
	fmt.Fprintf(&sb, "\n%d commits: %d passing, %d failing (%d errors, %d warnings, %d info)\n",
		report.Summary.Total, report.Summary.Passing, report.Summary.Failing,
		report.Summary.ErrorCount, report.Summary.WarningCount, report.Summary.InfoCount)
	return sb.String()
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

// newCheckCmd returns the check subcommand, which evaluates a commit range's
// messages against guidelines and reports violations (§4.I).
func newCheckCmd() *cobra.Command {
	var rangeExpr, provider, modelOverride, format, outputPath, guidelinesPath, prURL string
	var concurrency int
	var strict, noReduce, suggestions, postFlag bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check a commit range's messages against guidelines",
		Long: `Evaluates each commit message in a range against the configured guidelines,
reporting violations by severity (error, warning, info). Exit codes: 0 clean
(or warnings-only without --strict), 1 any error, 2 --strict with warnings
and no errors, 3 empty commit range.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("provider") {
				cfg.Provider = ApiProvider(provider)
			}
			if cmd.Flags().Changed("model") {
				setModelOverride(cfg, modelOverride)
			}
			if cmd.Flags().Changed("strict") {
				cfg.Strict = strict
			}
			if cmd.Flags().Changed("concurrency") {
				cfg.Concurrency = concurrency
			}
			if cmd.Flags().Changed("no-reduce") {
				cfg.ReduceEnabled = !noReduce
			}
			if cmd.Flags().Changed("guidelines") {
				cfg.Guidelines = guidelinesPath
			}
			if format != "" && format != "text" && format != "json" && format != "yaml" {
				return fmt.Errorf("unsupported format %q: must be text, json, or yaml", format)
			}

			if !isGitRepo() {
				return fmt.Errorf("not a git repository")
			}
			commits, err := BuildCommitRange(rangeExpr)
			if err != nil {
				return err
			}
			if len(commits) == 0 {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "no commits in range")
				os.Exit(3)
				return nil
			}

			client, err := NewEngineAiClient(cfg)
			if err != nil {
				return err
			}

			opts := EngineOptions{
				Concurrency:        cfg.Concurrency,
				ReduceEnabled:      cfg.ReduceEnabled,
				SuggestionsEnabled: suggestions,
				Strict:             cfg.Strict,
				Guidelines:         cfg.Guidelines,
			}
			if opts.Concurrency <= 0 {
				opts.Concurrency = 4
			}

			warn := func(msg string) { _, _ = fmt.Fprintln(cmd.ErrOrStderr(), "warning:", msg) }
			observe := func(e ProgressEvent) {
				if cfg.DebugWriter != nil {
					debugLog(cfg, "check: %d/%d commits processed", e.Completed, e.Total)
				}
			}

			var results []CommitCheckResult
			var failedIndices []int
			if len(commits) == 1 {
				results, failedIndices, err = runSingleCommitCheck(cmd, cfg, commits[0], client, opts)
			} else {
				results, failedIndices, err = RunCheckEngine(cmd.Context(), cfg, commits, client, opts, observe, warn)
			}
			if err != nil {
				if _, ok := err.(*AllCommitsFailedError); !ok {
					return err
				}
			}

			report := BuildCheckReport(commits, results, failedIndices)
			rendered, err := formatCheckReport(report, format)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outputPath != "" {
				if werr := os.WriteFile(outputPath, []byte(rendered), 0600); werr != nil { //nolint:gosec // G306: 0600 is intentional for user-owned output
					return werr
				}
			} else {
				_, _ = fmt.Fprintln(out, rendered)
			}

			if postFlag {
				if prURL == "" {
					return fmt.Errorf("--post requires --pr to specify a GitHub PR or GitLab MR URL")
				}
				if postErr := postCheckReport(cmd, cfg, prURL, rendered); postErr != nil {
					return postErr
				}
			}

			if code := checkExitCode(report.Summary, cfg.Strict); code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rangeExpr, "range", "", "Commit range to check (e.g. main..HEAD); defaults to unpushed commits ahead of upstream")
	cmd.Flags().StringVar(&provider, "provider", "anthropic", "AI provider (openai, anthropic, gemini, ollama)")
	cmd.Flags().StringVar(&modelOverride, "model", "", "Override the model for this run")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Maximum number of concurrent AI requests")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit 2 instead of 0 when only warnings are found")
	cmd.Flags().BoolVar(&noReduce, "no-reduce", false, "Disable the coherence pass across batches")
	cmd.Flags().BoolVar(&suggestions, "suggestions", true, "Ask the model for a corrected message on failing commits")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text, json, or yaml")
	cmd.Flags().StringVar(&outputPath, "output", "", "Write the report to this file instead of stdout")
	cmd.Flags().StringVar(&guidelinesPath, "guidelines", "", "Path to a commit-message guideline document (default: built-in guidelines)")
	cmd.Flags().BoolVar(&postFlag, "post", false, "Post the report back to the GitHub PR or GitLab MR (requires --pr)")
	cmd.Flags().StringVar(&prURL, "pr", "", "GitHub PR or GitLab MR URL to post the report to")
	return cmd
}

// runSingleCommitCheck bypasses the map/reduce machinery for a single-commit
// range and calls the AI client directly, per §4.I's one-shot allowance.
func runSingleCommitCheck(cmd *cobra.Command, cfg *Config, commit CommitInfo, client AiClient, opts EngineOptions) ([]CommitCheckResult, []int, error) {
	guidelines, err := resolveGuidelines(opts.Guidelines)
	if err != nil {
		return nil, nil, err
	}
	systemPrompt := checkSystemPrompt(client.Metadata().PromptStyle(), guidelines, opts.SuggestionsEnabled)
	view, err := buildRequestView([]CommitInfo{commit}, []int{0})
	if err != nil {
		return nil, nil, err
	}
	raw, err := client.Send(cmd.Context(), systemPrompt, view)
	if err != nil {
		return nil, []int{0}, nil
	}
	results, err := ParseCheckResponse(cfg, raw, []string{commit.Hash})
	if err != nil {
		return nil, []int{0}, nil
	}
	for i := range results {
		results[i].Message = commit.OriginalMessage
	}
	return results, nil, nil
}

func postCheckReport(cmd *cobra.Command, cfg *Config, prURL, body string) error {
	switch {
	case isGitHubURL(prURL):
		if err := postGitHubPRComment(cmd.Context(), prURL, cfg.GitHubToken, cfg.GitHubBaseURL, body); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Posted check report to GitHub PR.")
	case isGitLabURL(prURL):
		if err := postGitLabMRNote(cmd.Context(), prURL, cfg.GitLabToken, cfg.GitLabBaseURL, body); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Posted check report to GitLab MR.")
	default:
		return fmt.Errorf("unsupported URL %q: must be a GitHub PR or GitLab MR URL", prURL)
	}
	return nil
}
