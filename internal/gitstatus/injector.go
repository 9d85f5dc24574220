// Package gitstatus builds a short repository status summary and attaches it
// to outbound request text.
package gitstatus

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/jleechanorg/codex-plus/internal/hooks"

	"github.com/sirupsen/logrus"
)

const commandTimeout = 2 * time.Second

// Injector summarizes the working tree of one repository directory.
type Injector struct {
	dir string
}

// New creates an injector rooted at dir. An empty dir means the process
// working directory.
func New(dir string) *Injector {
	return &Injector{dir: dir}
}

// Summary returns a one-paragraph repo status: branch name plus dirty and
// untracked file counts. Outside a git repository it returns the empty
// string and injection is skipped.
func (i *Injector) Summary(ctx context.Context) string {
	branch, err := i.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return ""
	}

	status, err := i.git(ctx, "status", "--porcelain")
	if err != nil {
		logrus.WithError(err).Debug("git status failed, injecting branch only")
		return fmt.Sprintf("Current branch: %s", branch)
	}

	var modified, untracked int
	for _, line := range strings.Split(status, "\n") {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "??") {
			untracked++
		} else {
			modified++
		}
	}

	if modified == 0 && untracked == 0 {
		return fmt.Sprintf("Current branch: %s (clean working tree)", branch)
	}
	return fmt.Sprintf("Current branch: %s (%d modified, %d untracked)", branch, modified, untracked)
}

// Inject appends the status summary to the request text. Text passes through
// unchanged when no repository is found.
func (i *Injector) Inject(ctx context.Context, text string) string {
	summary := i.Summary(ctx)
	if summary == "" {
		return text
	}
	return text + "\n\n[Repository context]\n" + summary
}

// Handler exposes the injector as an in-process hook so operators can move
// injection into the pre-input phase via the hook document.
func (i *Injector) Handler() hooks.HandlerFunc {
	return func(ctx context.Context, hctx *hooks.Context) (hooks.Outcome, error) {
		return hooks.Outcome{Payload: i.Inject(ctx, hctx.Payload)}, nil
	}
}

func (i *Injector) git(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	if i.dir != "" {
		cmd.Dir = i.dir
	}
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
