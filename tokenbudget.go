package main

import (
	"fmt"
	"math"
)

// charsPerToken is the approximate characters-per-token ratio for Claude-style
// tokenizers on mixed English + source-code text.
const charsPerToken = 3.5

// tokenSafetyMargin inflates every estimate by 10% to absorb tokenizer
// variance (special tokens, non-ASCII runs, whitespace collapsing).
const tokenSafetyMargin = 1.10

// perCommitMetadataOverheadTokens reserves room for the YAML framing and
// metadata fields (hash, author, date) that accompany each commit in a batch
// request, on top of its diff-derived cost.
const perCommitMetadataOverheadTokens = 120

// envelopeOverheadTokens reserves room for the request envelope itself
// (shared instructions, guideline text, batch wrapper) when computing a
// batch's effective capacity.
const envelopeOverheadTokens = 150

// batchCapacityFactor is the fraction of nominal capacity actually usable by
// the planner, leaving headroom for estimation error.
const batchCapacityFactor = 0.90

// estimateTokens converts a byte/char count into a token estimate using
// charsPerToken with tokenSafetyMargin applied, rounded up. It deliberately
// takes a count rather than a string so callers can size on-disk files via
// os.Stat without reading their contents into memory.
func estimateTokens(charCount int) int {
	if charCount <= 0 {
		return 0
	}
	raw := float64(charCount) / charsPerToken
	return int(math.Ceil(raw * tokenSafetyMargin))
}

// TokenEstimate reports the outcome of a prompt-budget validation.
type TokenEstimate struct {
	EstimatedTokens int
	AvailableTokens int
	UtilizationPct  float64
}

// PromptTooLargeError indicates an assembled prompt exceeds the model's
// available input budget.
type PromptTooLargeError struct {
	Model           string
	EstimatedTokens int
	MaxTokens       int
}

func (e *PromptTooLargeError) Error() string {
	return fmt.Sprintf("prompt too large: model %s estimated %d tokens, max %d",
		e.Model, e.EstimatedTokens, e.MaxTokens)
}

// TokenBudget derives a usable input-token budget from provider metadata and
// validates assembled prompts against it.
type TokenBudget struct {
	model                string
	maxContextLength     int
	reservedOutputTokens int
}

// NewTokenBudget builds a TokenBudget from AI client metadata (§4.B).
func NewTokenBudget(metadata ProviderMetadata) TokenBudget {
	return TokenBudget{
		model:                metadata.Model,
		maxContextLength:     metadata.MaxContext,
		reservedOutputTokens: metadata.MaxResponse,
	}
}

// AvailableInput returns the input-token budget left after reserving room for
// the model's response, saturating at zero rather than wrapping when
// provider metadata is inconsistent (reserved output exceeding context).
func (b TokenBudget) AvailableInput() int {
	if b.reservedOutputTokens >= b.maxContextLength {
		return 0
	}
	return b.maxContextLength - b.reservedOutputTokens
}

// Validate estimates the combined token cost of system and user prompts and
// fails with a *PromptTooLargeError when the estimate exceeds AvailableInput.
func (b TokenBudget) Validate(system, user string) (TokenEstimate, error) {
	systemTokens := estimateTokens(len(system))
	userTokens := estimateTokens(len(user))
	estimated := systemTokens + userTokens
	available := b.AvailableInput()

	utilization := math.Inf(1)
	if available > 0 {
		utilization = float64(estimated) / float64(available) * 100
	}

	if estimated > available {
		return TokenEstimate{}, &PromptTooLargeError{
			Model:           b.model,
			EstimatedTokens: estimated,
			MaxTokens:       available,
		}
	}

	return TokenEstimate{
		EstimatedTokens: estimated,
		AvailableTokens: available,
		UtilizationPct:  utilization,
	}, nil
}

// effectiveCapacity computes the usable token budget for a single batch
// request per the §3 invariant formula: the available input, minus the
// measured system-prompt cost and the fixed envelope overhead, scaled by
// batchCapacityFactor.
func effectiveCapacity(budget TokenBudget, systemPromptTokens int) int {
	available := budget.AvailableInput()
	raw := available - systemPromptTokens - envelopeOverheadTokens
	if raw < 0 {
		raw = 0
	}
	return int(float64(raw) * batchCapacityFactor)
}
