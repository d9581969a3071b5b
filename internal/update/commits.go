package update

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
)

// CommitSource lists the commits between two revisions of a repository.
type CommitSource interface {
	Compare(ctx context.Context, owner, repo, base, head string) (total int, commits []CommitInfo, err error)
}

// GitHubCommits reads commit ranges from the GitHub compare API. BaseURL
// points it at an alternative API root such as a GitHub Enterprise host.
type GitHubCommits struct {
	BaseURL string
	Client  *http.Client
	Token   string
}

func NewGitHubCommits() *GitHubCommits {
	return &GitHubCommits{
		Client: &http.Client{Timeout: 10 * time.Second},
		Token:  strings.TrimSpace(os.Getenv("GITHUB_TOKEN")),
	}
}

func (g *GitHubCommits) client() (*github.Client, error) {
	client := github.NewClient(g.Client)
	if g.Token != "" {
		client = client.WithAuthToken(g.Token)
	}
	if base := strings.TrimSpace(g.BaseURL); base != "" {
		parsed, err := url.Parse(strings.TrimRight(base, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse GitHub API url: %w", err)
		}
		client.BaseURL = parsed
	}
	return client, nil
}

// Compare returns the total commit count and the newest commits first,
// capped at MaxDisplayCommits.
func (g *GitHubCommits) Compare(ctx context.Context, owner, repo, base, head string) (int, []CommitInfo, error) {
	client, err := g.client()
	if err != nil {
		return 0, nil, err
	}
	comparison, _, err := client.Repositories.CompareCommits(ctx, owner, repo, base, head, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("compare %s/%s: %w", owner, repo, err)
	}

	commits := []CommitInfo{}
	for i := len(comparison.Commits) - 1; i >= 0 && len(commits) < MaxDisplayCommits; i-- {
		entry := comparison.Commits[i]
		commits = append(commits, CommitInfo{
			Hash:    shortRev(entry.GetSHA()),
			Message: firstLine(entry.GetCommit().GetMessage()),
		})
	}

	total := comparison.GetTotalCommits()
	if total < len(comparison.Commits) {
		total = len(comparison.Commits)
	}
	return total, commits, nil
}

// attachCommits fills in commit lists for changes hosted on GitHub. Lookup
// failures leave the change with zero commits so the renderer falls back to
// the bare revision pair.
func attachCommits(ctx context.Context, source CommitSource, changes []FlakeChange) []FlakeChange {
	if source == nil {
		return changes
	}
	for i := range changes {
		owner, repo, ok := githubRepo(changes[i].CompareURL)
		if !ok {
			continue
		}
		total, commits, err := source.Compare(ctx, owner, repo, changes[i].OldRev, changes[i].NewRev)
		if err != nil {
			continue
		}
		if len(commits) > MaxDisplayCommits {
			commits = commits[:MaxDisplayCommits]
		}
		changes[i].TotalCommits = total
		changes[i].Commits = commits
	}
	return changes
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	return strings.TrimSpace(line)
}
