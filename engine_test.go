package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeAiClient is a test double for AiClient that returns a scripted YAML
// response per call, recording every system/user prompt it was sent.
type fakeAiClient struct {
	meta      ProviderMetadata
	responses []string
	calls     int
	prompts   []string
	err       error
}

func (f *fakeAiClient) Send(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.prompts = append(f.prompts, userPrompt)
	if f.err != nil {
		return "", f.err
	}
	if f.calls >= len(f.responses) {
		return "", fmt.Errorf("fakeAiClient: no scripted response for call %d", f.calls)
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func (f *fakeAiClient) Metadata() ProviderMetadata { return f.meta }

func testCommitWithDiff(t *testing.T, hash, message string) CommitInfo {
	t.Helper()
	dir := t.TempDir()
	diffFile := filepath.Join(dir, hash+".diff")
	if err := os.WriteFile(diffFile, []byte("diff --git a/x b/x\n+changed\n"), 0o600); err != nil {
		t.Fatalf("writing diff file: %v", err)
	}
	return CommitInfo{
		Hash:            hash,
		Author:          "Test Author",
		Date:            time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		OriginalMessage: message,
		Analysis: CommitAnalysis{
			DetectedType:    "feat",
			ProposedMessage: message,
			DiffSummary:     "1 file changed",
			DiffFile:        diffFile,
		},
	}
}

func bigMeta() ProviderMetadata {
	return ProviderMetadata{Provider: "Anthropic", Model: "test-model", MaxContext: 200_000, MaxResponse: 8_000}
}

func TestRunTwiddleEngine_Basic(t *testing.T) {
	commits := []CommitInfo{
		testCommitWithDiff(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "fix bug"),
		testCommitWithDiff(t, "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", "add feature"),
	}

	client := &fakeAiClient{
		meta: bigMeta(),
		responses: []string{`amendments:
  - commit: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
    message: "fix: resolve the bug"
  - commit: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
    message: "feat: add the feature"
`},
	}

	opts := EngineOptions{Concurrency: 2}
	amendments, failed, err := RunTwiddleEngine(context.Background(), &Config{}, commits, client, opts, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("expected no failures, got %v", failed)
	}
	if len(amendments) != 2 {
		t.Fatalf("expected 2 amendments, got %d", len(amendments))
	}
}

func TestRunTwiddleEngine_CancellationSurfaced(t *testing.T) {
	commits := []CommitInfo{
		testCommitWithDiff(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "fix bug"),
	}
	client := &fakeAiClient{meta: bigMeta()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, failed, err := RunTwiddleEngine(ctx, &Config{}, commits, client, EngineOptions{Concurrency: 1}, nil)
	if err == nil {
		t.Fatal("expected the cancellation to be surfaced as an error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if _, ok := err.(*AllCommitsFailedError); ok {
		t.Error("a cancelled run must not be reported as AllCommitsFailedError")
	}
	if len(failed) != 1 {
		t.Errorf("expected the cancelled commit to be reported in failedIndices, got %v", failed)
	}
}

func TestRunTwiddleEngine_EmptyRange(t *testing.T) {
	client := &fakeAiClient{meta: bigMeta()}
	_, _, err := RunTwiddleEngine(context.Background(), &Config{}, nil, client, EngineOptions{}, nil)
	if err == nil {
		t.Fatal("expected an EmptyRangeError")
	}
	if _, ok := err.(*EmptyRangeError); !ok {
		t.Errorf("expected *EmptyRangeError, got %T", err)
	}
}

func TestRunTwiddleEngine_AllFail(t *testing.T) {
	commits := []CommitInfo{testCommitWithDiff(t, "cccccccccccccccccccccccccccccccccccccccc", "whatever")}
	client := &fakeAiClient{meta: bigMeta(), err: fmt.Errorf("transport down")}

	_, failed, err := RunTwiddleEngine(context.Background(), &Config{}, commits, client, EngineOptions{Concurrency: 1}, nil)
	if err == nil {
		t.Fatal("expected an AllCommitsFailedError")
	}
	if _, ok := err.(*AllCommitsFailedError); !ok {
		t.Errorf("expected *AllCommitsFailedError, got %T", err)
	}
	if len(failed) != 1 {
		t.Errorf("expected 1 failed index, got %v", failed)
	}
}

func TestRunCheckEngine_Basic(t *testing.T) {
	commits := []CommitInfo{testCommitWithDiff(t, "dddddddddddddddddddddddddddddddddddddddd", "fix: resolve it")}
	client := &fakeAiClient{
		meta: bigMeta(),
		responses: []string{`checks:
  - commit: "dddddddddddddddddddddddddddddddddddddddd"
    passes: true
`},
	}

	results, failed, err := RunCheckEngine(context.Background(), &Config{}, commits, client, EngineOptions{Concurrency: 1}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("expected no failures, got %v", failed)
	}
	if len(results) != 1 || !results[0].Passes {
		t.Errorf("expected one passing result, got %+v", results)
	}
}

func TestTwiddleSystemPrompt_StyleSelection(t *testing.T) {
	claude := twiddleSystemPrompt(ClaudeStylePrompt, "guidelines-x")
	openai := twiddleSystemPrompt(OpenAiStylePrompt, "guidelines-x")
	if claude == openai {
		t.Error("expected Claude-style and OpenAI-style prompts to differ")
	}
	for _, p := range []string{claude, openai} {
		if !strings.Contains(p, "guidelines-x") {
			t.Errorf("expected prompt to embed the guidelines text, got %q", p)
		}
	}
}

func TestCheckSystemPrompt_SuggestionsToggle(t *testing.T) {
	with := checkSystemPrompt(ClaudeStylePrompt, "g", true)
	without := checkSystemPrompt(ClaudeStylePrompt, "g", false)
	if with == without {
		t.Error("expected suggestions flag to change the system prompt")
	}
}

func TestResolveGuidelines_DefaultWhenEmpty(t *testing.T) {
	g, err := resolveGuidelines("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g != defaultGuidelines {
		t.Error("expected the built-in default guidelines")
	}
}

func TestResolveGuidelines_CustomFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guidelines.md")
	if err := os.WriteFile(path, []byte("## Custom\n"), 0o600); err != nil {
		t.Fatalf("writing guidelines: %v", err)
	}
	g, err := resolveGuidelines(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g != "## Custom\n" {
		t.Errorf("expected custom guidelines content, got %q", g)
	}
}

func TestBuildRequestView_ReadsDiffFromScratchFile(t *testing.T) {
	commits := []CommitInfo{testCommitWithDiff(t, "eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee", "chore: tidy")}
	view, err := buildRequestView(commits, []int{0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(view, "changed") {
		t.Errorf("expected the diff file contents to appear in the request view, got %q", view)
	}
	if !strings.Contains(view, "single") {
		t.Errorf("expected mode 'single' for a one-commit view, got %q", view)
	}
}
