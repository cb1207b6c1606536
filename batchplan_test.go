package main

import "testing"

func fixedStatSize(size int) func(string) int {
	return func(string) int { return size }
}

func makeCommit(hash string) CommitInfo {
	return CommitInfo{Hash: hash, Analysis: CommitAnalysis{DiffFile: "diff-" + hash}}
}

func TestPlanBatches_SingleBatchWhenSmall(t *testing.T) {
	commits := []CommitInfo{makeCommit("a"), makeCommit("b"), makeCommit("c")}
	budget := NewTokenBudget(ProviderMetadata{MaxContext: 200_000, MaxResponse: 8_000})

	plan := PlanBatches(commits, budget, 100, fixedStatSize(50))

	if len(plan.Batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(plan.Batches))
	}
	if len(plan.Batches[0].CommitIndices) != 3 {
		t.Errorf("expected all 3 commits in the one batch, got %d", len(plan.Batches[0].CommitIndices))
	}
}

func TestPlanBatches_CoversEveryIndexExactlyOnce(t *testing.T) {
	commits := make([]CommitInfo, 10)
	for i := range commits {
		commits[i] = makeCommit(string(rune('a' + i)))
	}
	budget := NewTokenBudget(ProviderMetadata{MaxContext: 10_000, MaxResponse: 2_000})

	plan := PlanBatches(commits, budget, 50, fixedStatSize(2_000))

	seen := make(map[int]bool)
	for _, b := range plan.Batches {
		for _, idx := range b.CommitIndices {
			if seen[idx] {
				t.Errorf("index %d appeared in more than one batch", idx)
			}
			seen[idx] = true
		}
	}
	if len(seen) != len(commits) {
		t.Errorf("expected all %d indices covered, got %d", len(commits), len(seen))
	}
}

func TestPlanBatches_SplitsWhenOversized(t *testing.T) {
	commits := []CommitInfo{makeCommit("a"), makeCommit("b")}
	// A tiny budget forces each commit into its own batch.
	budget := NewTokenBudget(ProviderMetadata{MaxContext: 600, MaxResponse: 100})

	plan := PlanBatches(commits, budget, 10, fixedStatSize(1_000))

	if len(plan.Batches) != 2 {
		t.Fatalf("expected 2 batches (one per commit), got %d", len(plan.Batches))
	}
	for _, b := range plan.Batches {
		if len(b.CommitIndices) != 1 {
			t.Errorf("expected 1 commit per batch, got %d", len(b.CommitIndices))
		}
	}
}

func TestEstimateCommitTokens_MissingDiffFileCostsZero(t *testing.T) {
	c := CommitInfo{Hash: "a"}
	cost := estimateCommitTokens(c, fixedStatSize(999_999))
	if cost != perCommitMetadataOverheadTokens {
		t.Errorf("expected cost to equal the fixed per-commit overhead (%d) when DiffFile is empty, got %d", perCommitMetadataOverheadTokens, cost)
	}
}
