package vcs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/staking-stats/internal/config"
	"github.com/smartdevs17/staking-stats/pkg/utils"
)

// ErrNothingToCommit means the file already matches HEAD
var ErrNothingToCommit = errors.New("nothing to commit")

// ErrPushFailed means the commit was created locally but not pushed.
// CommitFile returns the new hash together with this error.
var ErrPushFailed = errors.New("push failed")

// Committer records a single file change in version control
type Committer interface {
	CommitFile(ctx context.Context, path, message string) (string, error)
}

// GitCommitter commits to a local git repository and optionally pushes
type GitCommitter struct {
	repo   *git.Repository
	root   string
	cfg    *config.GitConfig
	now    func() time.Time
	logger *logrus.Entry
}

// OpenGitCommitter opens the repository containing cfg.RepoPath
func OpenGitCommitter(cfg *config.GitConfig) (*GitCommitter, error) {
	repo, err := git.PlainOpenWithOptions(cfg.RepoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeVCS, "Failed to open git repository", err.Error())
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeVCS, "Repository has no worktree", err.Error())
	}

	root := wt.Filesystem.Root()
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	return &GitCommitter{
		repo:   repo,
		root:   root,
		cfg:    cfg,
		now:    time.Now,
		logger: utils.ComponentLogger("vcs"),
	}, nil
}

// CommitFile stages path alone and commits it. It returns
// ErrNothingToCommit when path has no changes. When the commit succeeds
// but the push does not, the hash is returned with ErrPushFailed.
func (g *GitCommitter) CommitFile(ctx context.Context, path, message string) (string, error) {
	rel, err := g.relative(path)
	if err != nil {
		return "", err
	}

	wt, err := g.repo.Worktree()
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeVCS, "Failed to open worktree", err.Error())
	}

	status, err := wt.Status()
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeVCS, "Failed to read worktree status", err.Error())
	}
	fileStatus, changed := status[rel]
	if !changed || (fileStatus.Worktree == git.Unmodified && fileStatus.Staging == git.Unmodified) {
		return "", ErrNothingToCommit
	}

	if _, err := wt.Add(rel); err != nil {
		return "", utils.NewAppError(utils.ErrCodeVCS, "Failed to stage file", err.Error())
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  g.cfg.AuthorName,
			Email: g.cfg.AuthorEmail,
			When:  g.now(),
		},
	})
	if err != nil {
		if resetErr := g.unstage(wt, rel); resetErr != nil {
			g.logger.WithError(resetErr).WithField("file", rel).Error("Failed to unstage file")
		}
		return "", utils.NewAppError(utils.ErrCodeVCS, "Failed to commit", err.Error())
	}

	g.logger.WithFields(logrus.Fields{
		"file":   rel,
		"commit": hash.String(),
	}).Info("Committed snapshot")

	if g.cfg.Push {
		if err := g.push(ctx); err != nil {
			return hash.String(), fmt.Errorf("%w: %w", ErrPushFailed, err)
		}
	}

	return hash.String(), nil
}

func (g *GitCommitter) push(ctx context.Context) error {
	opts := &git.PushOptions{RemoteName: g.cfg.Remote}
	if g.cfg.Token != "" {
		opts.Auth = &githttp.BasicAuth{Username: g.cfg.Username, Password: g.cfg.Token}
	}

	err := g.repo.PushContext(ctx, opts)
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return utils.NewAppError(utils.ErrCodeVCS, "Failed to push", err.Error())
	}

	g.logger.WithField("remote", g.cfg.Remote).Info("Pushed snapshot commit")
	return nil
}

// unstage puts the index entry for rel back to HEAD, or drops it when
// there is no HEAD yet
func (g *GitCommitter) unstage(wt *git.Worktree, rel string) error {
	head, err := g.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		idx, err := g.repo.Storer.Index()
		if err != nil {
			return err
		}
		if _, err := idx.Remove(rel); err != nil && !errors.Is(err, index.ErrEntryNotFound) {
			return err
		}
		return g.repo.Storer.SetIndex(idx)
	}
	if err != nil {
		return err
	}
	return wt.Reset(&git.ResetOptions{
		Commit: head.Hash(),
		Mode:   git.MixedReset,
		Files:  []string{rel},
	})
}

// relative converts path to the slash-separated form git status uses
func (g *GitCommitter) relative(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeVCS, "Invalid path", err.Error())
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	rel, err := filepath.Rel(g.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", utils.NewAppError(utils.ErrCodeVCS, "File is outside the repository", path)
	}
	return filepath.ToSlash(rel), nil
}

// NoopCommitter is used when git integration is disabled
type NoopCommitter struct{}

// CommitFile always reports that nothing was committed
func (NoopCommitter) CommitFile(ctx context.Context, path, message string) (string, error) {
	return "", ErrNothingToCommit
}
