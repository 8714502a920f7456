package manifest

import (
	"fmt"
	"os/exec"
	"strings"
)

// git runs a git subcommand in dir ("" for the current directory) and
// returns its trimmed standard output.
func git(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	depLog.Debugf("git %s", strings.Join(args, " "))

	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		where := ""
		if dir != "" {
			where = " in " + dir
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("git %s%s: %s: %w", args[0], where, msg, err)
		}
		return "", fmt.Errorf("git %s%s: %w", args[0], where, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func gitClone(url, dest string) error {
	_, err := git("", "clone", "--quiet", url, dest)
	return err
}

// gitCheckout checks out a tag, branch or commit.
func gitCheckout(dir, ref string) error {
	_, err := git(dir, "checkout", "--quiet", ref)
	return err
}

func gitFetch(dir string) error {
	_, err := git(dir, "fetch", "--quiet", "--all", "--tags")
	return err
}

// gitCurrentCommit returns the HEAD commit hash.
func gitCurrentCommit(dir string) (string, error) {
	return git(dir, "rev-parse", "HEAD")
}

// gitIsClean reports whether the working tree has no uncommitted changes.
func gitIsClean(dir string) (bool, error) {
	out, err := git(dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out == "", nil
}
