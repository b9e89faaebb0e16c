package refresh

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/staking-stats/internal/artifact"
	"github.com/smartdevs17/staking-stats/internal/config"
	"github.com/smartdevs17/staking-stats/internal/models"
	"github.com/smartdevs17/staking-stats/internal/vcs"
)

func TestRun_GitPushFailureLeavesDiskMatchingHead(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{filepath.Join(t.TempDir(), "missing.git")},
	})
	require.NoError(t, err)

	committer, err := vcs.OpenGitCommitter(&config.GitConfig{
		Enabled:     true,
		RepoPath:    dir,
		AuthorName:  "bot",
		AuthorEmail: "bot@example.com",
		Push:        true,
		Remote:      "origin",
	})
	require.NoError(t, err)

	calc := &fakeCalculator{snapshot: models.NewSnapshot(12.3456, 100, 42)}
	store := artifact.NewOSFileStore(filepath.Join(dir, "data", "staking_stats.json"))
	refresher := NewRefresher(Dependencies{
		Calculator: calc,
		Store:      store,
		Committer:  committer,
	}, "chore: update staking stats")

	run, err := refresher.Run(context.Background(), models.TriggerSchedule)
	require.Error(t, err)
	assert.ErrorIs(t, err, vcs.ErrPushFailed)
	assert.True(t, run.Committed)

	head, err := repo.Head()
	require.NoError(t, err)
	assert.Equal(t, head.Hash().String(), run.CommitHash)

	stored, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Equal(calc.snapshot))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	status, err := wt.Status()
	require.NoError(t, err)
	assert.True(t, status.IsClean(), status.String())

	// same stats again: no rewrite and no second commit
	run, err = refresher.Run(context.Background(), models.TriggerSchedule)
	require.NoError(t, err)
	assert.False(t, run.Changed)

	iter, err := repo.Log(&git.LogOptions{})
	require.NoError(t, err)
	commits := 0
	require.NoError(t, iter.ForEach(func(*object.Commit) error {
		commits++
		return nil
	}))
	assert.Equal(t, 1, commits)
}
