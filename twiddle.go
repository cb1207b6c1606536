package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
)

// newTwiddleCmd returns the twiddle subcommand, which proposes rewritten
// commit messages for a range and, optionally, writes or applies them
// (§4.I).
func newTwiddleCmd() *cobra.Command {
	var rangeExpr, provider, modelOverride, outputPath, guidelinesPath string
	var concurrency int
	var noReduce, apply, copyToClipboard bool

	cmd := &cobra.Command{
		Use:   "twiddle",
		Short: "Propose rewritten commit messages for a commit range",
		Long: `Analyses each commit in a range and asks the configured AI provider for a
rewritten commit message per the configured guidelines. The proposed
amendments are written to an amendments file (YAML); pass --apply to amend
the commits in place, or --copy to put a summary on the clipboard instead.`,
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
			if cmd.Flags().Changed("concurrency") {
				cfg.Concurrency = concurrency
			}
			if cmd.Flags().Changed("no-reduce") {
				cfg.ReduceEnabled = !noReduce
			}
			if cmd.Flags().Changed("guidelines") {
				cfg.Guidelines = guidelinesPath
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
				Concurrency:   cfg.Concurrency,
				ReduceEnabled: cfg.ReduceEnabled,
				Guidelines:    cfg.Guidelines,
			}
			if opts.Concurrency <= 0 {
				opts.Concurrency = 4
			}

			observe := func(e ProgressEvent) {
				if cfg.DebugWriter != nil {
					debugLog(cfg, "twiddle: %d/%d commits processed", e.Completed, e.Total)
				}
			}

			amendments, failedIndices, err := RunTwiddleEngine(cmd.Context(), cfg, commits, client, opts, observe)
			if err != nil {
				if _, ok := err.(*AllCommitsFailedError); !ok {
					return err
				}
			}
			if len(failedIndices) > 0 {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d of %d commits produced no proposed message\n", len(failedIndices), len(commits))
			}
			if len(amendments) == 0 {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "no amendments were produced")
				return nil
			}

			dest := outputPath
			if dest == "" {
				dest = ".ai-mr-comment-amendments.yaml"
			}
			if err := WriteAmendmentFile(dest, amendments); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d amendment(s) to %s\n", len(amendments), dest)

			out := cmd.OutOrStdout()
			for _, a := range amendments {
				_, _ = fmt.Fprintf(out, "%s  %s\n", shortHash(a.Commit), firstLineOf(a.Message))
			}

			if copyToClipboard {
				summary := summarizeAmendments(amendments)
				if err := clipboard.WriteAll(summary); err != nil {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: could not copy to clipboard: %v\n", err)
				} else {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Copied amendments summary to clipboard.")
				}
			}

			if apply {
				if err := ApplyAmendments(amendments); err != nil {
					return fmt.Errorf("applying amendments: %w", err)
				}
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Applied amendments to the current branch.")
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&rangeExpr, "range", "", "Commit range to rewrite (e.g. main..HEAD); defaults to unpushed commits ahead of upstream")
	cmd.Flags().StringVar(&provider, "provider", "anthropic", "AI provider (openai, anthropic, gemini, ollama)")
	cmd.Flags().StringVar(&modelOverride, "model", "", "Override the model for this run")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Maximum number of concurrent AI requests")
	cmd.Flags().BoolVar(&noReduce, "no-reduce", false, "Disable the coherence pass across batches")
	cmd.Flags().StringVar(&guidelinesPath, "guidelines", "", "Path to a commit-message guideline document (default: built-in guidelines)")
	cmd.Flags().StringVar(&outputPath, "output", "", "Write the amendments file here (default: .ai-mr-comment-amendments.yaml)")
	cmd.Flags().BoolVar(&apply, "apply", false, "Amend the commits in place after writing the amendments file")
	cmd.Flags().BoolVar(&copyToClipboard, "copy", false, "Copy a plain-text summary of the amendments to the clipboard")
	return cmd
}

// summarizeAmendments renders amendments as the plain-text block the --copy
// flag puts on the clipboard, one line per commit.
func summarizeAmendments(amendments []Amendment) string {
	var sb strings.Builder
	for _, a := range amendments {
		sb.WriteString(shortHash(a.Commit))
		sb.WriteString("  ")
		sb.WriteString(firstLineOf(a.Message))
		sb.WriteByte('\n')
	}
	return sb.String()
}
