package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"gopkg.in/yaml.v3"
)

// WriteAmendmentFile writes amendments to path as the YAML shape the
// amendment applicator expects (§6): a top-level "amendments" key holding a
// list of {commit, message}.
func WriteAmendmentFile(path string, amendments []Amendment) error {
	buf, err := yaml.Marshal(AmendmentFile{Amendments: amendments})
	if err != nil {
		return fmt.Errorf("marshaling amendment file: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return fmt.Errorf("writing amendment file %s: %w", path, err)
	}
	return nil
}

// ReadAmendmentFile reads an amendments YAML file previously written by
// WriteAmendmentFile (or produced externally in the same shape).
func ReadAmendmentFile(path string) ([]Amendment, error) {
	buf, err := os.ReadFile(path) //nolint:gosec // G304: reading a caller-specified amendments file is intentional
	if err != nil {
		return nil, fmt.Errorf("reading amendment file %s: %w", path, err)
	}
	var file AmendmentFile
	if err := yaml.Unmarshal(buf, &file); err != nil {
		return nil, fmt.Errorf("parsing amendment file %s: %w", path, err)
	}
	return file.Amendments, nil
}

// ApplyAmendments rewrites the given commits' messages in place. It covers
// the conservative subset described in §6: a HEAD-only fast path via
// `git commit --amend`, and — for amendments touching older commits — a
// linear non-interactive rebase per target commit, processed newest-first
// so each rebase's base is still reachable from HEAD when it runs. Full
// interactive conflict recovery is out of scope (§1); a rebase that cannot
// complete cleanly is aborted and reported as an error.
func ApplyAmendments(amendments []Amendment) error {
	if len(amendments) == 0 {
		return nil
	}
	if err := requireCleanWorkingTree(); err != nil {
		return err
	}

	depths := make(map[string]int, len(amendments))
	for _, a := range amendments {
		depth, err := commitDepthFromHead(a.Commit)
		if err != nil {
			return fmt.Errorf("amendment targets commit %s not reachable from HEAD: %w", a.Commit, err)
		}
		depths[a.Commit] = depth
	}

	// Newest first: amending HEAD first, then walking outward, keeps each
	// remaining target's depth valid for the rebase that handles it.
	ordered := append([]Amendment(nil), amendments...)
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			if depths[ordered[j].Commit] < depths[ordered[i].Commit] {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}

	for _, a := range ordered {
		depth, err := commitDepthFromHead(a.Commit)
		if err != nil {
			return fmt.Errorf("amendment targets commit %s not reachable from HEAD: %w", a.Commit, err)
		}
		if depth == 0 {
			if err := amendHeadCommit(a.Message); err != nil {
				return err
			}
			continue
		}
		if err := amendCommitViaRebase(a.Commit, a.Message); err != nil {
			return err
		}
	}
	return nil
}

func requireCleanWorkingTree() error {
	out, err := exec.Command("git", "status", "--porcelain").CombinedOutput()
	if err != nil {
		return fmt.Errorf("git status: %w", err)
	}
	if strings.TrimSpace(string(out)) != "" {
		return fmt.Errorf("cannot amend commits with uncommitted changes in the working tree")
	}
	return nil
}

// commitDepthFromHead returns 0 for HEAD, 1 for HEAD~1, and so on.
func commitDepthFromHead(hash string) (int, error) {
	out, err := exec.Command("git", "rev-list", "--count", hash+"..HEAD").CombinedOutput() //nolint:gosec // G204: fixed args, hash is validated 40-hex
	if err != nil {
		return 0, fmt.Errorf("git rev-list %s..HEAD: %w: %s", hash, err, strings.TrimSpace(string(out)))
	}
	var depth int
	if _, err := fmt.Sscanf(strings.TrimSpace(string(out)), "%d", &depth); err != nil {
		return 0, fmt.Errorf("parsing rev-list count %q: %w", out, err)
	}
	return depth, nil
}

func amendHeadCommit(message string) error {
	out, err := exec.Command("git", "commit", "--amend", "--message", message).CombinedOutput() //nolint:gosec // G204: message is caller-supplied text, not shell-interpreted
	if err != nil {
		return fmt.Errorf("git commit --amend: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// amendCommitViaRebase rewrites one non-HEAD commit's message using a
// scripted, non-interactive rebase: GIT_SEQUENCE_EDITOR rewrites the "pick"
// line for the target commit to "edit", and GIT_EDITOR is disabled so no
// terminal editor ever opens. If the rebase cannot complete (conflicts, a
// missing target), it is aborted and the error surfaced to the caller —
// this function never leaves the repository mid-rebase.
func amendCommitViaRebase(hash, message string) error {
	base := hash + "^"
	short := hash[:7]
	// GIT_SEQUENCE_EDITOR is invoked by git as "<value> <todo-file>" via the
	// shell, which appends the todo file path as sed's trailing operand — no
	// explicit "$1"/"$@" needed, and critically no nested `sh -c`, which
	// would shift positional parameters and make the path unreachable.
	sequenceEditor := fmt.Sprintf(`sed -i.bak "s/^pick %s/edit %s/"`, short, short)

	cmd := exec.Command("git", "rebase", "-i", base) //nolint:gosec // G204: fixed subcommand, base/hash are validated refs
	cmd.Env = append(os.Environ(),
		"GIT_SEQUENCE_EDITOR="+sequenceEditor,
		"GIT_EDITOR=true",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		abortRebase()
		return fmt.Errorf("starting rebase to amend %s: %w: %s", hash, err, strings.TrimSpace(string(out)))
	}

	head, err := exec.Command("git", "rev-parse", "HEAD").CombinedOutput()
	if err != nil || !strings.HasPrefix(strings.TrimSpace(string(head)), short) {
		abortRebase()
		return fmt.Errorf("rebase did not stop at target commit %s", hash)
	}

	if out, err := exec.Command("git", "commit", "--amend", "--message", message).CombinedOutput(); err != nil { //nolint:gosec // G204: message is caller-supplied text
		abortRebase()
		return fmt.Errorf("amending %s during rebase: %w: %s", hash, err, strings.TrimSpace(string(out)))
	}

	if out, err := exec.Command("git", "rebase", "--continue").CombinedOutput(); err != nil {
		abortRebase()
		return fmt.Errorf("continuing rebase after amending %s: %w: %s", hash, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func abortRebase() {
	_ = exec.Command("git", "rebase", "--abort").Run()
}
