package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"

	"github.com/wesm/argh/internal/models"
)

const issuesJSON = `[
  {
    "id": 100, "number": 1, "title": "Crash on start", "state": "open",
    "html_url": "https://github.com/o/r/issues/1",
    "created_at": "2024-06-01T00:00:00Z", "updated_at": "2024-06-02T00:00:00Z",
    "user": {"id": 7, "login": "alice"},
    "assignees": [{"id": 42, "login": "Me"}],
    "labels": [{"id": 5, "name": "bug", "color": "d73a4a"}],
    "comments": 2
  }
]`

const closedJSON = `[
  {
    "id": 200, "number": 2, "title": "Add feature", "state": "closed",
    "created_at": "2024-06-01T00:00:00Z", "updated_at": "2024-06-03T00:00:00Z",
    "closed_at": "2024-06-03T00:00:00Z",
    "user": {"id": 42, "login": "me"},
    "pull_request": {"url": "https://api.github.com/repos/o/r/pulls/2"},
    "comments": 0
  },
  {
    "id": 100, "number": 1, "title": "Crash on start", "state": "open",
    "created_at": "2024-06-01T00:00:00Z", "updated_at": "2024-06-02T00:00:00Z",
    "user": {"id": 7, "login": "alice"}
  }
]`

const commentsJSON = `[
  {"id": 1001, "body": "same here", "user": {"id": 8, "login": "bob"},
   "created_at": "2024-06-01T10:00:00Z", "updated_at": "2024-06-01T10:00:00Z"},
  {"id": 1002, "body": "fixed?", "user": {"id": 7, "login": "alice"},
   "created_at": "2024-06-01T11:00:00Z", "updated_at": "2024-06-01T12:00:00Z"}
]`

type fakeGitHub struct {
	server        *httptest.Server
	commentsCalls atomic.Int32
	lastSince     atomic.Value
}

func newFakeGitHub(t *testing.T) (*fakeGitHub, *GitHubClient) {
	t.Helper()
	f := &fakeGitHub{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/o/r/issues", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("state") == "closed" {
			f.lastSince.Store(r.URL.Query().Get("since"))
			fmt.Fprint(w, closedJSON)
			return
		}
		fmt.Fprint(w, issuesJSON)
	})
	mux.HandleFunc("GET /repos/o/r/pulls/2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 9002, "number": 2, "merged": true, "mergeable": false}`)
	})
	mux.HandleFunc("GET /repos/o/r/issues/1/comments", func(w http.ResponseWriter, r *http.Request) {
		f.commentsCalls.Add(1)
		fmt.Fprint(w, commentsJSON)
	})
	mux.HandleFunc("GET /repos/o/r", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 1, "name": "r", "full_name": "o/r", "owner": {"login": "o"}}`)
	})
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 42, "login": "me", "avatar_url": "https://example.com/me.png"}`)
	})
	mux.HandleFunc("GET /user/teams", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"slug": "core", "organization": {"login": "acme"}}]`)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	c := newGitHubClient(f.server.Client())
	base, err := url.Parse(f.server.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	c.client.BaseURL = base
	return f, c
}

func TestFetchItems(t *testing.T) {
	f, c := newFakeGitHub(t)
	since := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	items, err := c.FetchItems(context.Background(), "o", "r", FetchOptions{Since: since, Me: "me"})
	if err != nil {
		t.Fatalf("FetchItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2 (duplicates collapsed)", len(items))
	}

	issue := items[0]
	if issue.ServerID != 100 || issue.Kind != models.KindIssue || issue.State != models.StateOpen {
		t.Errorf("issue = %+v", issue)
	}
	if !issue.AssignedToMe {
		t.Error("assignee login should match case-insensitively")
	}
	if len(issue.Labels) != 1 || issue.Labels[0].Name != "bug" {
		t.Errorf("labels = %+v", issue.Labels)
	}
	if len(issue.Comments) != 2 || issue.Comments[1].UpdatedAt.Hour() != 12 {
		t.Errorf("comments = %+v", issue.Comments)
	}

	pr := items[1]
	if pr.Kind != models.KindPullRequest || pr.State != models.StateMerged {
		t.Errorf("closed PR kind=%v state=%v, want merged pull request", pr.Kind, pr.State)
	}
	if pr.Mergeable == nil || *pr.Mergeable {
		t.Errorf("mergeable = %v, want false", pr.Mergeable)
	}
	if pr.ClosedAt == nil {
		t.Error("closedAt should be set")
	}
	if pr.Comments != nil {
		t.Error("comments should not be requested for items without comments")
	}

	if got, _ := f.lastSince.Load().(string); got != since.Format(time.RFC3339) {
		t.Errorf("since = %q, want %q", got, since.Format(time.RFC3339))
	}
}

func TestFetchItemsSkipsCommentsOfKnownItems(t *testing.T) {
	f, c := newFakeGitHub(t)
	known := func(id int64, updated time.Time) bool {
		return id == 100 && updated.Equal(time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC))
	}

	items, err := c.FetchItems(context.Background(), "o", "r", FetchOptions{Known: known})
	if err != nil {
		t.Fatalf("FetchItems: %v", err)
	}
	if f.commentsCalls.Load() != 0 {
		t.Errorf("comments fetched %d times for an up-to-date item", f.commentsCalls.Load())
	}
	if len(items[0].Comments) != 0 {
		t.Errorf("comments = %+v, want none", items[0].Comments)
	}
}

func TestRepositoryViewerAndTeams(t *testing.T) {
	_, c := newFakeGitHub(t)
	ctx := context.Background()

	repo, err := c.GetRepository(ctx, "o", "r")
	if err != nil {
		t.Fatalf("GetRepository: %v", err)
	}
	if repo.ID != 1 || repo.FullName != "o/r" || repo.Owner != "o" {
		t.Errorf("repo = %+v", repo)
	}

	me, err := c.Viewer(ctx)
	if err != nil {
		t.Fatalf("Viewer: %v", err)
	}
	if me.ID != 42 || me.Login != "me" {
		t.Errorf("viewer = %+v", me)
	}

	teams, err := c.TeamReferrals(ctx)
	if err != nil {
		t.Fatalf("TeamReferrals: %v", err)
	}
	if len(teams) != 1 || teams[0] != "@acme/core" {
		t.Errorf("teams = %v", teams)
	}
}

func TestRateLimitError(t *testing.T) {
	reset := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message": "API rate limit exceeded"}`)
	}))
	defer srv.Close()

	c := newGitHubClient(srv.Client())
	c.client.BaseURL, _ = url.Parse(srv.URL + "/")

	_, err := c.GetRepository(context.Background(), "o", "r")
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if !rle.ResetTime.Equal(reset) {
		t.Errorf("reset = %v, want %v", rle.ResetTime, reset)
	}
	var inner *github.RateLimitError
	if !errors.As(err, &inner) {
		t.Error("original error should stay reachable")
	}
}

func TestNewHTTPClientSendsToken(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	resp, err := NewHTTPClient("secret", 100).Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got, _ := auth.Load().(string); got != "Bearer secret" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestConvertGitHubIssue(t *testing.T) {
	issue := &github.Issue{
		ID:       github.Int64(5),
		Number:   github.Int(9),
		Title:    github.String("t"),
		State:    github.String("bogus"),
		Assignee: &github.User{Login: github.String("me")},
		User:     &github.User{ID: github.Int64(3), Login: github.String("x")},
	}
	got := ConvertGitHubIssue(issue, "me")
	if got.State != models.StateOpen {
		t.Errorf("unknown state converted to %v, want open", got.State)
	}
	if !got.AssignedToMe {
		t.Error("single assignee should count")
	}
	if got.AuthorID != 3 || got.Kind != models.KindIssue {
		t.Errorf("converted = %+v", got)
	}

	if ConvertGitHubIssue(issue, "").AssignedToMe {
		t.Error("empty login never matches")
	}
}
