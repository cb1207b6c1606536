package main

import "fmt"

// ConfigMissingError indicates a required credential or URL is absent,
// fatal at preflight (§7).
type ConfigMissingError struct {
	What string
}

func (e *ConfigMissingError) Error() string {
	return "missing configuration: " + e.What
}

// InvalidResponseFormatError indicates the parser could not map the model's
// reply to the expected YAML shape (§7). Per-batch; triggers split-and-retry.
type InvalidResponseFormatError struct {
	Reason string
	Raw    string
}

func (e *InvalidResponseFormatError) Error() string {
	return fmt.Sprintf("invalid response format: %s", e.Reason)
}

// UnknownCommitError indicates a response referenced a fingerprint absent
// from the input set (§7). Per-batch; the batch is considered failed.
type UnknownCommitError struct {
	Reference string
}

func (e *UnknownCommitError) Error() string {
	return fmt.Sprintf("response references unknown commit %q", e.Reference)
}

// AmbiguousCommitError indicates a short commit reference matched more than
// one input fingerprint by prefix.
type AmbiguousCommitError struct {
	Reference string
	Matches   []string
}

func (e *AmbiguousCommitError) Error() string {
	return fmt.Sprintf("commit reference %q is ambiguous (matches %d input commits)", e.Reference, len(e.Matches))
}

// EmptyRangeError indicates the requested commit range contained no
// commits. Distinguished exit code 3; no AI calls are made (§7).
type EmptyRangeError struct{}

func (e *EmptyRangeError) Error() string { return "commit range is empty" }

// AllCommitsFailedError indicates a map-reduce run in which every commit
// ended up in the failed-index set (scenario S4).
type AllCommitsFailedError struct {
	FailedCount int
}

func (e *AllCommitsFailedError) Error() string {
	return fmt.Sprintf("all commits failed (%d)", e.FailedCount)
}
