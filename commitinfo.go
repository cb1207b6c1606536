package main

import "time"

// FileChange describes a single file touched by a commit.
type FileChange struct {
	Status string
	File   string
}

// FileChanges summarizes the files touched by a commit.
type FileChanges struct {
	Total   int
	Added   int
	Deleted int
	Files   []FileChange
}

// CommitAnalysis holds derived fields consumed by prompt assembly and
// batch-cost estimation. DiffFile is a path, never the diff content itself —
// the engine stats it for sizing and never reads it during planning (§3).
type CommitAnalysis struct {
	DetectedType    string
	DetectedScope   string
	ProposedMessage string
	FileChanges     FileChanges
	DiffSummary     string
	DiffFile        string
}

// CommitInfo is the read-only record supplied by the VCS collaborator (§6).
type CommitInfo struct {
	Hash            string
	Author          string
	Date            time.Time
	OriginalMessage string
	InMainBranches  []string
	Analysis        CommitAnalysis
}
