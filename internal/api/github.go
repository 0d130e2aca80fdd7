package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
	log "github.com/sirupsen/logrus"

	"github.com/wesm/argh/internal/models"
)

// GitHubClient is a remote item source over the GitHub REST API
type GitHubClient struct {
	client *github.Client
}

// NewGitHubClient creates a REST client authenticated with token and
// throttled to requestsPerSecond
func NewGitHubClient(token string, requestsPerSecond float64) *GitHubClient {
	return newGitHubClient(NewHTTPClient(token, requestsPerSecond))
}

func newGitHubClient(hc *http.Client) *GitHubClient {
	return &GitHubClient{client: github.NewClient(hc)}
}

// GetRepository gets a repository by owner and name
func (c *GitHubClient) GetRepository(ctx context.Context, owner, name string) (*models.Repository, error) {
	repo, _, err := c.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", wrapRESTError(err))
	}

	return &models.Repository{
		ID:       repo.GetID(),
		Owner:    repo.GetOwner().GetLogin(),
		Name:     repo.GetName(),
		FullName: repo.GetFullName(),
	}, nil
}

// Viewer returns the authenticated user
func (c *GitHubClient) Viewer(ctx context.Context) (*models.User, error) {
	u, _, err := c.client.Users.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", wrapRESTError(err))
	}
	return ConvertGitHubUser(u), nil
}

// TeamReferrals returns "@org/team" handles for the teams of the authenticated user
func (c *GitHubClient) TeamReferrals(ctx context.Context) ([]string, error) {
	var refs []string
	opts := &github.ListOptions{PerPage: 100}
	for {
		teams, resp, err := c.client.Teams.ListUserTeams(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list teams: %w", wrapRESTError(err))
		}
		for _, t := range teams {
			refs = append(refs, fmt.Sprintf("@%s/%s", t.GetOrganization().GetLogin(), t.GetSlug()))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return refs, nil
}

// FetchItems returns every open issue and pull request of a repository
// plus the closed ones updated since opts.Since, with their comments
func (c *GitHubClient) FetchItems(ctx context.Context, owner, name string, opts FetchOptions) ([]models.RemoteItem, error) {
	open, err := c.listIssues(ctx, owner, name, "open", time.Time{})
	if err != nil {
		return nil, err
	}
	closed, err := c.listIssues(ctx, owner, name, "closed", opts.Since)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{}, len(open)+len(closed))
	items := make([]models.RemoteItem, 0, len(open)+len(closed))
	for _, issue := range append(open, closed...) {
		if _, dup := seen[issue.GetID()]; dup {
			continue
		}
		seen[issue.GetID()] = struct{}{}

		item := ConvertGitHubIssue(issue, opts.Me)
		if issue.IsPullRequest() && item.State == models.StateClosed {
			pr, _, err := c.client.PullRequests.Get(ctx, owner, name, issue.GetNumber())
			if err != nil {
				return nil, fmt.Errorf("failed to get pull request #%d: %w", issue.GetNumber(), wrapRESTError(err))
			}
			if pr.GetMerged() {
				item.State = models.StateMerged
			}
			item.Mergeable = pr.Mergeable
		}

		if !opts.known(item.ServerID, item.UpdatedAt) && issue.GetComments() > 0 {
			comments, err := c.GetIssueComments(ctx, owner, name, issue.GetNumber())
			if err != nil {
				return nil, err
			}
			for _, cm := range comments {
				item.Comments = append(item.Comments, ConvertGitHubComment(cm))
			}
		}
		items = append(items, item)
	}

	logger.WithFields(log.Fields{
		"repo":   owner + "/" + name,
		"open":   len(open),
		"closed": len(closed),
	}).Debug("Fetched items over REST")
	return items, nil
}

func (c *GitHubClient) listIssues(ctx context.Context, owner, name, state string, since time.Time) ([]*github.Issue, error) {
	var all []*github.Issue
	opts := &github.IssueListByRepoOptions{
		State:     state,
		Sort:      "updated",
		Direction: "desc",
		ListOptions: github.ListOptions{
			PerPage: 100,
		},
	}
	if !since.IsZero() {
		opts.Since = since
	}

	for {
		issues, resp, err := c.client.Issues.ListByRepo(ctx, owner, name, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s issues: %w", state, wrapRESTError(err))
		}
		all = append(all, issues...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// GetIssueComments gets the comments of an issue or pull request
func (c *GitHubClient) GetIssueComments(ctx context.Context, owner, name string, number int) ([]*github.IssueComment, error) {
	var all []*github.IssueComment
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{
			PerPage: 100,
		},
	}

	for {
		comments, resp, err := c.client.Issues.ListComments(ctx, owner, name, number, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list comments of #%d: %w", number, wrapRESTError(err))
		}
		all = append(all, comments...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func wrapRESTError(err error) error {
	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		return &RateLimitError{ResetTime: rle.Rate.Reset.Time, Err: err}
	}
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) {
		wait := time.Minute
		if abuse.RetryAfter != nil {
			wait = *abuse.RetryAfter
		}
		return &RateLimitError{ResetTime: time.Now().Add(wait), Err: err}
	}
	return err
}

// ConvertGitHubUser converts a GitHub user to our model
func ConvertGitHubUser(user *github.User) *models.User {
	if user == nil {
		return nil
	}

	return &models.User{
		ID:        user.GetID(),
		Login:     user.GetLogin(),
		AvatarURL: user.GetAvatarURL(),
	}
}

// ConvertGitHubIssue converts a GitHub issue or pull request to a remote
// payload without comments. Closed pull requests report StateClosed; the
// caller upgrades merged ones.
func ConvertGitHubIssue(issue *github.Issue, me string) models.RemoteItem {
	var closedAt *time.Time
	if issue.ClosedAt != nil {
		t := issue.ClosedAt.Time
		closedAt = &t
	}

	state, err := models.ParseItemState(issue.GetState())
	if err != nil {
		logger.WithField("item", issue.GetID()).WithError(err).Warn("Treating item with unknown state as open")
	}

	kind := models.KindIssue
	if issue.IsPullRequest() {
		kind = models.KindPullRequest
	}

	var assignees []string
	for _, a := range issue.Assignees {
		assignees = append(assignees, a.GetLogin())
	}
	if issue.Assignee != nil && len(assignees) == 0 {
		assignees = append(assignees, issue.Assignee.GetLogin())
	}

	labels := make([]models.Label, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, ConvertGitHubLabel(l))
	}

	return models.RemoteItem{
		ServerID:     issue.GetID(),
		Number:       issue.GetNumber(),
		Kind:         kind,
		Title:        issue.GetTitle(),
		URL:          issue.GetHTMLURL(),
		CreatedAt:    issue.GetCreatedAt().Time,
		UpdatedAt:    issue.GetUpdatedAt().Time,
		ClosedAt:     closedAt,
		State:        state,
		AuthorID:     issue.GetUser().GetID(),
		AuthorLogin:  issue.GetUser().GetLogin(),
		Body:         issue.GetBody(),
		AssignedToMe: assignedTo(me, assignees),
		Labels:       labels,
	}
}

// ConvertGitHubComment converts a GitHub comment to a remote payload
func ConvertGitHubComment(comment *github.IssueComment) models.RemoteComment {
	return models.RemoteComment{
		ServerID:    comment.GetID(),
		AuthorID:    comment.GetUser().GetID(),
		AuthorLogin: comment.GetUser().GetLogin(),
		Body:        comment.GetBody(),
		CreatedAt:   comment.GetCreatedAt().Time,
		UpdatedAt:   comment.GetUpdatedAt().Time,
	}
}

// ConvertGitHubLabel converts a GitHub label to our model
func ConvertGitHubLabel(label *github.Label) models.Label {
	return models.Label{
		ID:    label.GetID(),
		Name:  label.GetName(),
		Color: label.GetColor(),
	}
}
