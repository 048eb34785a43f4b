// Package git reads the code revision a cycle was scored at.
package git

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrNotGitRepo indicates the directory is not inside a Git repository.
var ErrNotGitRepo = errors.New("not a git repository")

// DirtySuffix is appended to the revision when the worktree has uncommitted changes.
const DirtySuffix = "-dirty"

// Head describes the checked-out commit.
type Head struct {
	SHA    string
	Branch string // empty when HEAD is detached
	Dirty  bool
}

// Revision renders the head as a history stamp.
func (h Head) Revision() string {
	if h.Dirty {
		return h.SHA + DirtySuffix
	}
	return h.SHA
}

// ReadHead opens the repository containing path and describes HEAD.
func ReadHead(path string) (Head, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return Head{}, fmt.Errorf("%w: %s", ErrNotGitRepo, path)
		}
		return Head{}, fmt.Errorf("opening repository: %w", err)
	}

	ref, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return Head{}, fmt.Errorf("repository %s has no commits", path)
		}
		return Head{}, fmt.Errorf("resolving HEAD: %w", err)
	}

	head := Head{SHA: ref.Hash().String()}
	if ref.Name().IsBranch() {
		head.Branch = ref.Name().Short()
	}

	wt, err := repo.Worktree()
	if err != nil {
		// Bare repositories have no worktree to be dirty.
		if errors.Is(err, git.ErrIsBareRepository) {
			return head, nil
		}
		return Head{}, fmt.Errorf("opening worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return Head{}, fmt.Errorf("reading worktree status: %w", err)
	}
	head.Dirty = !status.IsClean()
	return head, nil
}

// RevisionFunc returns a function that stamps history entries with the HEAD of
// the repository at path. It matches orchestrator.RevisionFunc.
func RevisionFunc(path string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		head, err := ReadHead(path)
		if err != nil {
			return "", err
		}
		return head.Revision(), nil
	}
}
