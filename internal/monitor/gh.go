package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ellwood/taskloom/internal/store"
)

// ghPRItem and ghCheckItem mirror the JSON fields requested from `gh pr
// list` / `gh pr checks`, per the original's discover_pr/discover_ci.
type ghPRItem struct {
	Number      int    `json:"number"`
	URL         string `json:"url"`
	HeadRefName string `json:"headRefName"`
}

type ghCheckItem struct {
	State string `json:"state"`
	Link  string `json:"link"`
	Name  string `json:"name"`
}

// ghListPullRequests shells out to `gh pr list --head branch` and
// returns only the results whose headRefName == branch, or just the
// first result when none matches exactly, matching the original's
// discover_pr.
func ghListPullRequests(ctx context.Context, repoSlug, branch string) ([]PullRequest, error) {
	var items []ghPRItem
	if err := ghJSON(ctx, &items, "pr", "list", "--repo", repoSlug, "--state", "all",
		"--head", branch, "--limit", "20", "--json", "number,url,headRefName"); err != nil {
		return nil, err
	}

	out := make([]PullRequest, 0, len(items))
	for _, it := range items {
		if it.HeadRefName == branch {
			out = append(out, PullRequest{Number: it.Number, URL: it.URL})
		}
	}
	if len(out) == 0 {
		for _, it := range items {
			out = append(out, PullRequest{Number: it.Number, URL: it.URL})
			break
		}
	}
	return out, nil
}

// ghListChecks shells out to `gh pr checks` and aggregates the result
// into one CI summary via AggregateChecks/ChecksDetail.
func ghListChecks(ctx context.Context, repoSlug string, prNumber int) (CI, error) {
	var items []ghCheckItem
	if err := ghJSON(ctx, &items, "pr", "checks", fmt.Sprint(prNumber), "--repo", repoSlug, "--json", "state,link,name"); err != nil {
		return CI{}, err
	}
	if len(items) == 0 {
		return CI{State: store.CIUnknown, Detail: "no checks"}, nil
	}

	states := make([]string, 0, len(items))
	var url string
	for _, it := range items {
		states = append(states, it.State)
		if url == "" && it.Link != "" {
			url = it.Link
		}
	}

	return CI{
		State:  AggregateChecks(states),
		Detail: ChecksDetail(states),
		URL:    url,
	}, nil
}

func ghJSON(ctx context.Context, out interface{}, args ...string) error {
	cmd := exec.CommandContext(ctx, "gh", args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.Error); ok {
			return fmt.Errorf("gh CLI not found in PATH: %w", err)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if msg == "" {
			msg = "gh command failed"
		}
		return fmt.Errorf("%s", msg)
	}

	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return nil
	}
	return json.Unmarshal([]byte(text), out)
}
