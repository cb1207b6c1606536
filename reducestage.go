package main

import "context"

// CoherenceFn issues the one additional AI request that reconciles
// per-commit results across a whole batch run and returns the reconciled
// results (same shape, same fingerprints). Command drivers supply a closure
// bound to their own prompt builder, AiClient, and response parser.
type CoherenceFn func(ctx context.Context, results []CommitCheckResult) ([]CommitCheckResult, error)

// RunReduceStage applies the optional coherence pass over the map stage's
// aggregated check results (§4.G). It is a no-op, returning results
// unchanged, unless reduceEnabled, batches > 1, and at least two results
// succeeded. A coherence-request failure degrades gracefully: the original
// unreconciled results are returned and warn is called, never propagated as
// a fatal error.
func RunReduceStage(ctx context.Context, results []CommitCheckResult, batches int, reduceEnabled bool, coherence CoherenceFn, warn func(string)) []CommitCheckResult {
	if !reduceEnabled || batches <= 1 || len(results) < 2 {
		return results
	}

	reconciled, err := coherence(ctx, results)
	if err != nil {
		if warn != nil {
			warn("coherence pass failed, returning unreconciled results: " + err.Error())
		}
		return results
	}

	return enforceCoherenceInvariants(results, reconciled, warn)
}

// enforceCoherenceInvariants applies the Open Question decision recorded in
// DESIGN.md: coherence reconciliation must preserve the exact fingerprint
// set and may only move a commit from failing to passing, and only when no
// issue of severity error or warning remains for it. It may never turn a
// passing commit into a failing one.
func enforceCoherenceInvariants(original, reconciled []CommitCheckResult, warn func(string)) []CommitCheckResult {
	originalByHash := make(map[string]CommitCheckResult, len(original))
	for _, r := range original {
		originalByHash[r.Hash] = r
	}

	reconciledByHash := make(map[string]CommitCheckResult, len(reconciled))
	for _, r := range reconciled {
		reconciledByHash[r.Hash] = r
	}

	for hash := range reconciledByHash {
		if _, ok := originalByHash[hash]; !ok {
			if warn != nil {
				warn("coherence pass introduced unknown commit " + hash + ", discarding its result")
			}
			delete(reconciledByHash, hash)
		}
	}

	out := make([]CommitCheckResult, 0, len(original))
	for _, orig := range original {
		rec, ok := reconciledByHash[orig.Hash]
		if !ok {
			// Coherence pass dropped a commit it shouldn't have; keep the
			// original result rather than lose it.
			out = append(out, orig)
			continue
		}

		passes := orig.Passes
		if !orig.Passes && rec.Passes && !hasBlockingIssue(rec.Issues) {
			passes = true
		}
		if orig.Passes && !rec.Passes {
			// Never allowed to regress pass -> fail; keep the original
			// classification but surface the reconciled commentary.
			passes = true
		}

		out = append(out, CommitCheckResult{
			Hash:       orig.Hash,
			Message:    orig.Message,
			Passes:     passes,
			Issues:     rec.Issues,
			Suggestion: rec.Suggestion,
		})
	}
	return out
}

func hasBlockingIssue(issues []CommitIssue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError || i.Severity == SeverityWarning {
			return true
		}
	}
	return false
}
