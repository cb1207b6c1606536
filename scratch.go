package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// aiScratchDir resolves the directory diff files are written into before
// being sized and sent to the model (§4's "consumed from the VCS
// collaborator" contract, supplemented from the original's AI_SCRATCH
// convention). AI_SCRATCH may be an absolute path, or "git-root:<rel>" to
// anchor beneath the repository root; absent AI_SCRATCH falls back to
// TMPDIR, then /tmp.
func aiScratchDir() (string, error) {
	if scratch, ok := os.LookupEnv("AI_SCRATCH"); ok {
		if rel, isGitRoot := strings.CutPrefix(scratch, "git-root:"); isGitRoot {
			root, err := findGitRoot()
			if err != nil {
				return "", err
			}
			return filepath.Join(root, rel), nil
		}
		return scratch, nil
	}
	if tmp, ok := os.LookupEnv("TMPDIR"); ok {
		return tmp, nil
	}
	return "/tmp", nil
}

// findGitRoot returns the repository root for the current working directory.
func findGitRoot() (string, error) {
	out, err := exec.Command("git", "rev-parse", "--show-toplevel").CombinedOutput() //nolint:gosec // G204: git is a fixed binary, no user-controlled args
	if err != nil {
		return "", fmt.Errorf("no git repository found in current directory or any parent directory: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// writeDiffScratchFile writes diff content to a scratch file under the AI
// scratch directory named by the commit hash, creating the directory if
// needed, and returns the file's path.
func writeDiffScratchFile(hash, diffContent string) (string, error) {
	dir, err := aiScratchDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating AI scratch directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("commit-%s.diff", hash))
	if err := os.WriteFile(path, []byte(diffContent), 0o600); err != nil {
		return "", fmt.Errorf("writing diff scratch file %s: %w", path, err)
	}
	return path, nil
}
