package update

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockHashChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "", LockHash(dir), "missing lockfile hashes to empty")

	require.NoError(t, os.WriteFile(LockPath(dir), []byte(lockV1), 0o644))
	first := LockHash(dir)
	assert.Len(t, first, 64)
	assert.Equal(t, first, LockHash(dir))

	require.NoError(t, os.WriteFile(LockPath(dir), []byte(lockV2), 0o644))
	assert.NotEqual(t, first, LockHash(dir))
}

func TestSaveLockBackupWithoutLockIsNoop(t *testing.T) {
	dir := t.TempDir()
	backup := filepath.Join(dir, "state", "flake.lock.bak")
	require.NoError(t, SaveLockBackup(dir, backup))
	_, err := os.Stat(backup)
	assert.True(t, os.IsNotExist(err))
}

func TestDiffLocks(t *testing.T) {
	before := `{"nodes": {
	  "root": {"inputs": {"nixpkgs": "nixpkgs", "home-manager": "home-manager", "hm-nixpkgs": ["home-manager", "nixpkgs"], "local": "local"}},
	  "nixpkgs": {"locked": {"type": "github", "owner": "NixOS", "repo": "nixpkgs", "rev": "aaaaaaaaaaaa"}},
	  "home-manager": {"locked": {"type": "github", "owner": "nix-community", "repo": "home-manager", "rev": "cccccccccccc"}},
	  "local": {"locked": {"type": "git", "url": "file:///srv/local", "rev": "eeeeeeeeeeee"}}
	}, "root": "root", "version": 7}`
	after := `{"nodes": {
	  "root": {"inputs": {"nixpkgs": "nixpkgs", "home-manager": "home-manager", "local": "local", "new-input": "new-input"}},
	  "nixpkgs": {"locked": {"type": "github", "owner": "NixOS", "repo": "nixpkgs", "rev": "bbbbbbbbbbbb"}},
	  "home-manager": {"locked": {"type": "github", "owner": "nix-community", "repo": "home-manager", "rev": "cccccccccccc"}},
	  "local": {"locked": {"type": "git", "url": "file:///srv/local", "rev": "ffffffffffff"}},
	  "new-input": {"locked": {"type": "github", "owner": "x", "repo": "y", "rev": "111111111111"}}
	}, "root": "root", "version": 7}`

	changes, err := DiffLocks([]byte(before), []byte(after))
	require.NoError(t, err)
	require.Len(t, changes, 2)

	assert.Equal(t, "local", changes[0].Name)
	assert.Equal(t, "", changes[0].CompareURL)
	assert.Equal(t, "nixpkgs", changes[1].Name)
	assert.Equal(t, "aaaaaaaaaaaa", changes[1].OldRev)
	assert.Equal(t, "bbbbbbbbbbbb", changes[1].NewRev)
	assert.Equal(t, "https://github.com/NixOS/nixpkgs/compare/aaaaaaa...bbbbbbb", changes[1].CompareURL)
}

func TestDiffLocksRejectsGarbage(t *testing.T) {
	_, err := DiffLocks([]byte("not json"), []byte(lockV1))
	assert.Error(t, err)
}

func TestGitHubCommitsCompare(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		commits := ""
		for i := 0; i < 12; i++ {
			if i > 0 {
				commits += ","
			}
			commits += fmt.Sprintf(`{"sha": "%02d00000000000", "commit": {"message": "change %d\n\nbody"}}`, i, i)
		}
		fmt.Fprintf(w, `{"total_commits": 40, "commits": [%s]}`, commits)
	}))
	defer server.Close()

	source := &GitHubCommits{BaseURL: server.URL, Client: server.Client()}
	total, commits, err := source.Compare(context.Background(), "NixOS", "nixpkgs", "aaa", "bbb")
	require.NoError(t, err)

	assert.Equal(t, "/repos/NixOS/nixpkgs/compare/aaa...bbb", gotPath)
	assert.Equal(t, 40, total)
	require.Len(t, commits, MaxDisplayCommits)
	assert.Equal(t, CommitInfo{Hash: "1100000", Message: "change 11"}, commits[0])
}

func TestGitHubCommitsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"API rate limit exceeded"}`, http.StatusForbidden)
	}))
	defer server.Close()

	source := &GitHubCommits{BaseURL: server.URL, Client: server.Client()}
	_, _, err := source.Compare(context.Background(), "o", "r", "a", "b")
	assert.Error(t, err)
}

func TestGitHubCommitsSendsToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"total_commits": 0, "commits": []}`)
	}))
	defer server.Close()

	source := &GitHubCommits{BaseURL: server.URL + "/api/v3", Client: server.Client(), Token: "secret"}
	total, commits, err := source.Compare(context.Background(), "o", "r", "a", "b")
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Zero(t, total)
	assert.Empty(t, commits)
}

type stubCommits struct {
	err error
}

func (s stubCommits) Compare(context.Context, string, string, string, string) (int, []CommitInfo, error) {
	if s.err != nil {
		return 0, nil, s.err
	}
	return 2, []CommitInfo{{Hash: "bbbbbbb", Message: "second"}, {Hash: "aaaaaaa", Message: "first"}}, nil
}

func TestAttachCommits(t *testing.T) {
	changes := []FlakeChange{
		{Name: "nixpkgs", OldRev: "a", NewRev: "b", CompareURL: "https://github.com/NixOS/nixpkgs/compare/a...b"},
		{Name: "local", OldRev: "c", NewRev: "d"},
	}
	got := attachCommits(context.Background(), stubCommits{}, changes)
	assert.Equal(t, 2, got[0].TotalCommits)
	assert.Len(t, got[0].Commits, 2)
	assert.Equal(t, 0, got[1].TotalCommits)

	failing := []FlakeChange{{Name: "nixpkgs", CompareURL: "https://github.com/NixOS/nixpkgs/compare/a...b"}}
	got = attachCommits(context.Background(), stubCommits{err: fmt.Errorf("offline")}, failing)
	assert.Equal(t, 0, got[0].TotalCommits)
}
