package main

import "sort"

// CommitBatch is an ordered group of commit indices dispatched as one AI
// request, plus its total estimated-token cost.
type CommitBatch struct {
	CommitIndices   []int
	EstimatedTokens int
}

// BatchPlan is the ordered sequence of batches covering an input commit
// array exactly (§3 invariant: every index appears in exactly one batch).
type BatchPlan struct {
	Batches []CommitBatch
}

// estimateCommitTokens computes a single commit's batching cost (§4.E step 2):
// the estimated tokens of its diff-file size, diff summary, original
// message, and proposed message, plus a fixed per-commit metadata overhead.
// If the diff file cannot be stat'd, its size contributes 0 rather than
// failing the whole commit.
func estimateCommitTokens(c CommitInfo, statSize func(path string) int) int {
	diffSize := 0
	if c.Analysis.DiffFile != "" {
		diffSize = statSize(c.Analysis.DiffFile)
	}
	textLen := diffSize + len(c.Analysis.DiffSummary) + len(c.OriginalMessage) + len(c.Analysis.ProposedMessage)
	return estimateTokens(textLen) + perCommitMetadataOverheadTokens
}

// PlanBatches groups commits into batches that fit within the model's token
// budget using first-fit-decreasing bin packing (§4.E).
//
// statSize returns the on-disk size of a diff file in bytes; production
// callers pass a thin os.Stat wrapper, tests pass a stub.
func PlanBatches(commits []CommitInfo, budget TokenBudget, systemPromptTokens int, statSize func(path string) int) BatchPlan {
	capacity := effectiveCapacity(budget, systemPromptTokens)

	type indexedCost struct {
		index int
		cost  int
	}
	costs := make([]indexedCost, len(commits))
	for i, c := range commits {
		costs[i] = indexedCost{index: i, cost: estimateCommitTokens(c, statSize)}
	}

	sort.SliceStable(costs, func(i, j int) bool { return costs[i].cost > costs[j].cost })

	var batches []CommitBatch
	for _, ic := range costs {
		placed := false
		for b := range batches {
			if batches[b].EstimatedTokens+ic.cost <= capacity {
				batches[b].CommitIndices = append(batches[b].CommitIndices, ic.index)
				batches[b].EstimatedTokens += ic.cost
				placed = true
				break
			}
		}
		if !placed {
			batches = append(batches, CommitBatch{
				CommitIndices:   []int{ic.index},
				EstimatedTokens: ic.cost,
			})
		}
	}

	return BatchPlan{Batches: batches}
}
