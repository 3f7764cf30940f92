package gitsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
)

const (
	mainBranch  = "main"
	commitName  = "zenmius"
	commitEmail = "sync@zenmius.local"
)

// GitTransport drives a real repository over the git smart-HTTP protocol
// via go-git. All network calls run each credential candidate from onAuth
// in order until one is accepted or the chain is exhausted.
type GitTransport struct {
	onAuth func(url string) []Credentials
}

func NewGitTransport(onAuth func(url string) []Credentials) *GitTransport {
	if onAuth == nil {
		onAuth = func(string) []Credentials { return nil }
	}
	return &GitTransport{onAuth: onAuth}
}

func (t *GitTransport) ListRemoteRefs(ctx context.Context, url string) ([]string, error) {
	rem := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})
	var names []string
	err := t.withAuth(url, func(auth transport.AuthMethod) error {
		refs, err := rem.ListContext(ctx, &git.ListOptions{Auth: auth})
		if errors.Is(err, transport.ErrEmptyRemoteRepository) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, r := range refs {
			names = append(names, r.Name().String())
		}
		return nil
	})
	if err != nil {
		return nil, classifyGitError(err)
	}
	return names, nil
}

func (t *GitTransport) EnsureClone(ctx context.Context, dir, url string) error {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		if _, err := git.PlainOpen(dir); err != nil {
			return classifyGitError(err)
		}
		return nil
	}
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		return classifyGitError(err)
	}
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))
	if err := repo.Storer.SetReference(head); err != nil {
		return classifyGitError(err)
	}
	_, err = repo.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{url}})
	return classifyGitError(err)
}

func (t *GitTransport) Pull(ctx context.Context, dir string) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return classifyGitError(err)
	}
	w, err := repo.Worktree()
	if err != nil {
		return classifyGitError(err)
	}
	url, err := remoteURL(repo)
	if err != nil {
		return err
	}
	err = t.withAuth(url, func(auth transport.AuthMethod) error {
		err := w.PullContext(ctx, &git.PullOptions{
			RemoteName:    "origin",
			ReferenceName: plumbing.NewBranchReferenceName(mainBranch),
			SingleBranch:  true,
			Auth:          auth,
		})
		switch {
		case errors.Is(err, git.NoErrAlreadyUpToDate),
			errors.Is(err, transport.ErrEmptyRemoteRepository):
			return nil
		case err != nil && strings.Contains(err.Error(), "couldn't find remote ref"):
			// Remote exists but main was never pushed. Nothing to merge.
			return nil
		}
		return err
	})
	return classifyGitError(err)
}

func (t *GitTransport) CommitAll(ctx context.Context, dir, message string) (bool, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return false, classifyGitError(err)
	}
	w, err := repo.Worktree()
	if err != nil {
		return false, classifyGitError(err)
	}
	if err := w.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return false, classifyGitError(err)
	}
	status, err := w.Status()
	if err != nil {
		return false, classifyGitError(err)
	}
	_, headErr := repo.Head()
	if status.IsClean() && headErr == nil {
		// Established branch, nothing staged.
		return false, nil
	}
	// Dirty tree or unborn branch: either way, one commit (empty if need
	// be) so the main ref exists before push.
	_, err = w.Commit(message, &git.CommitOptions{
		Author:            &object.Signature{Name: commitName, Email: commitEmail, When: time.Now()},
		AllowEmptyCommits: true,
	})
	if err != nil {
		return false, classifyGitError(err)
	}
	return true, nil
}

func (t *GitTransport) Push(ctx context.Context, dir string, force bool) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return classifyGitError(err)
	}
	url, err := remoteURL(repo)
	if err != nil {
		return err
	}
	spec := fmt.Sprintf("refs/heads/%s:refs/heads/%s", mainBranch, mainBranch)
	err = t.withAuth(url, func(auth transport.AuthMethod) error {
		err := repo.PushContext(ctx, &git.PushOptions{
			RemoteName: "origin",
			RefSpecs:   []config.RefSpec{config.RefSpec(spec)},
			Force:      force,
			Auth:       auth,
		})
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil
		}
		return err
	})
	return classifyGitError(err)
}

func (t *GitTransport) Wipe(dir string) error {
	return os.RemoveAll(dir)
}

// withAuth tries each credential candidate in order. Non-auth errors abort
// immediately; exhausting the chain surfaces ErrRemoteAuth.
func (t *GitTransport) withAuth(url string, fn func(transport.AuthMethod) error) error {
	cands := t.onAuth(url)
	if len(cands) > maxAuthAttempts {
		cands = cands[:maxAuthAttempts]
	}
	attempts := make([]transport.AuthMethod, 0, len(cands)+1)
	for _, c := range cands {
		attempts = append(attempts, &githttp.BasicAuth{Username: c.Username, Password: c.Password})
	}
	if len(attempts) == 0 {
		attempts = append(attempts, nil) // no credentials: one anonymous attempt
	}
	var last error
	for _, auth := range attempts {
		err := fn(auth)
		if err == nil {
			return nil
		}
		last = err
		if !isAuthError(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrRemoteAuth, last)
}

func isAuthError(err error) bool {
	return errors.Is(err, transport.ErrAuthenticationRequired) ||
		errors.Is(err, transport.ErrAuthorizationFailed)
}

func remoteURL(repo *git.Repository) (string, error) {
	rem, err := repo.Remote("origin")
	if err != nil {
		return "", classifyGitError(err)
	}
	urls := rem.Config().URLs
	if len(urls) == 0 {
		return "", errors.New("gitsync: remote origin has no URL")
	}
	return urls[0], nil
}

// classifyGitError maps go-git failures onto the engine's taxonomy. The
// corruption signatures (unresolvable refs, missing objects) are what make
// a failure eligible for the one self-heal retry.
func classifyGitError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRemoteAuth), errors.Is(err, ErrRepositoryCorrupted), errors.Is(err, ErrNetwork):
		return err
	case errors.Is(err, plumbing.ErrReferenceNotFound),
		errors.Is(err, plumbing.ErrObjectNotFound),
		strings.Contains(err.Error(), "object not found"),
		strings.Contains(err.Error(), "reference not found"):
		return fmt.Errorf("%w: %v", ErrRepositoryCorrupted, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	default:
		return err
	}
}
