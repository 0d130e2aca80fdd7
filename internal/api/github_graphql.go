package api

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shurcooL/githubv4"
	log "github.com/sirupsen/logrus"

	"github.com/wesm/argh/internal/models"
)

// GraphQLClient is a remote item source over the GitHub GraphQL API
type GraphQLClient struct {
	client *githubv4.Client
}

// NewGraphQLClient creates a GraphQL client authenticated with token and
// throttled to requestsPerSecond
func NewGraphQLClient(token string, requestsPerSecond float64) *GraphQLClient {
	return &GraphQLClient{client: githubv4.NewClient(NewHTTPClient(token, requestsPerSecond))}
}

type repositoryNode struct {
	DatabaseID githubv4.Int
	Name       githubv4.String
	Owner      struct {
		Login githubv4.String
	}
	NameWithOwner githubv4.String
}

// actor represents a GitHub user in GraphQL. The database id lives on the
// concrete types, so every type implementing Actor needs a fragment.
type actor struct {
	Login githubv4.String
	User  struct {
		DatabaseID githubv4.Int
	} `graphql:"... on User"`
	Bot struct {
		DatabaseID githubv4.Int
	} `graphql:"... on Bot"`
	Mannequin struct {
		DatabaseID githubv4.Int
	} `graphql:"... on Mannequin"`
}

func (a actor) databaseID() int64 {
	switch {
	case a.User.DatabaseID > 0:
		return int64(a.User.DatabaseID)
	case a.Bot.DatabaseID > 0:
		return int64(a.Bot.DatabaseID)
	case a.Mannequin.DatabaseID > 0:
		return int64(a.Mannequin.DatabaseID)
	}
	return 0
}

type pageInfo struct {
	EndCursor   githubv4.String
	HasNextPage githubv4.Boolean
}

type commentNode struct {
	ID             githubv4.ID
	FullDatabaseID githubv4.String `graphql:"fullDatabaseId"`
	Body           githubv4.String
	CreatedAt      githubv4.DateTime
	UpdatedAt      githubv4.DateTime
	Author         actor
}

type commentConnection struct {
	Nodes    []commentNode
	PageInfo pageInfo
}

// itemFields are shared by issues and pull requests
type itemFields struct {
	ID             githubv4.ID
	FullDatabaseID githubv4.String `graphql:"fullDatabaseId"`
	Number         githubv4.Int
	Title          githubv4.String
	Body           githubv4.String
	URL            githubv4.String `graphql:"url"`
	CreatedAt      githubv4.DateTime
	UpdatedAt      githubv4.DateTime
	ClosedAt       *githubv4.DateTime
	Author         actor
	Assignees      struct {
		Nodes []struct {
			Login githubv4.String
		}
	} `graphql:"assignees(first: 20)"`
	Labels struct {
		Nodes []struct {
			ID    githubv4.ID
			Name  githubv4.String
			Color githubv4.String
		}
	} `graphql:"labels(first: 50)"`
	Comments commentConnection `graphql:"comments(first: $commentsPerPage)"`
}

type issueNode struct {
	itemFields
	State githubv4.IssueState
}

type pullRequestNode struct {
	itemFields
	State     githubv4.PullRequestState
	Mergeable githubv4.MergeableState
}

type rateLimit struct {
	Limit     githubv4.Int
	Remaining githubv4.Int
	ResetAt   githubv4.DateTime
}

// GetRepository gets a repository by owner and name
func (c *GraphQLClient) GetRepository(ctx context.Context, owner, name string) (*models.Repository, error) {
	var query struct {
		Repository repositoryNode `graphql:"repository(owner: $owner, name: $name)"`
	}

	variables := map[string]interface{}{
		"owner": githubv4.String(owner),
		"name":  githubv4.String(name),
	}

	if err := c.client.Query(ctx, &query, variables); err != nil {
		return nil, fmt.Errorf("failed to query repository: %w", wrapGraphQLError(err))
	}

	return &models.Repository{
		ID:       int64(query.Repository.DatabaseID),
		Owner:    string(query.Repository.Owner.Login),
		Name:     string(query.Repository.Name),
		FullName: string(query.Repository.NameWithOwner),
	}, nil
}

// Viewer returns the authenticated user
func (c *GraphQLClient) Viewer(ctx context.Context) (*models.User, error) {
	var query struct {
		Viewer struct {
			Login      githubv4.String
			DatabaseID githubv4.Int
			AvatarURL  githubv4.String `graphql:"avatarUrl"`
		}
	}
	if err := c.client.Query(ctx, &query, nil); err != nil {
		return nil, fmt.Errorf("failed to query viewer: %w", wrapGraphQLError(err))
	}
	return &models.User{
		ID:        int64(query.Viewer.DatabaseID),
		Login:     string(query.Viewer.Login),
		AvatarURL: string(query.Viewer.AvatarURL),
	}, nil
}

// TeamReferrals returns "@org/team" handles for the teams of the authenticated user
func (c *GraphQLClient) TeamReferrals(ctx context.Context) ([]string, error) {
	me, err := c.Viewer(ctx)
	if err != nil {
		return nil, err
	}

	var query struct {
		Viewer struct {
			Organizations struct {
				Nodes []struct {
					Login githubv4.String
					Teams struct {
						Nodes []struct {
							Slug githubv4.String
						}
					} `graphql:"teams(first: 100, userLogins: $logins)"`
				}
			} `graphql:"organizations(first: 100)"`
		}
	}
	variables := map[string]interface{}{
		"logins": []githubv4.String{githubv4.String(me.Login)},
	}
	if err := c.client.Query(ctx, &query, variables); err != nil {
		return nil, fmt.Errorf("failed to query teams: %w", wrapGraphQLError(err))
	}

	var refs []string
	for _, org := range query.Viewer.Organizations.Nodes {
		for _, t := range org.Teams.Nodes {
			refs = append(refs, fmt.Sprintf("@%s/%s", org.Login, t.Slug))
		}
	}
	return refs, nil
}

// FetchItems returns every open issue and pull request of a repository
// plus the closed ones updated since opts.Since, with their comments
func (c *GraphQLClient) FetchItems(ctx context.Context, owner, name string, opts FetchOptions) ([]models.RemoteItem, error) {
	var items []models.RemoteItem

	issues, err := c.fetchIssues(ctx, owner, name, opts)
	if err != nil {
		return nil, err
	}
	items = append(items, issues...)

	prs, err := c.fetchPullRequests(ctx, owner, name, opts)
	if err != nil {
		return nil, err
	}
	items = append(items, prs...)

	logger.WithFields(log.Fields{
		"repo":   owner + "/" + name,
		"issues": len(issues),
		"prs":    len(prs),
	}).Debug("Fetched items over GraphQL")
	return items, nil
}

func (c *GraphQLClient) fetchIssues(ctx context.Context, owner, name string, opts FetchOptions) ([]models.RemoteItem, error) {
	var out []models.RemoteItem
	for _, states := range [][]githubv4.IssueState{{githubv4.IssueStateOpen}, {githubv4.IssueStateClosed}} {
		var since *githubv4.DateTime
		if states[0] == githubv4.IssueStateClosed && !opts.Since.IsZero() {
			since = &githubv4.DateTime{Time: opts.Since}
		}

		var cursor *githubv4.String
		for {
			var query struct {
				RateLimit  rateLimit
				Repository struct {
					Issues struct {
						Nodes    []issueNode
						PageInfo pageInfo
					} `graphql:"issues(first: $perPage, after: $cursor, states: $states, filterBy: {since: $since}, orderBy: {field: UPDATED_AT, direction: DESC})"`
				} `graphql:"repository(owner: $owner, name: $name)"`
			}
			variables := map[string]interface{}{
				"owner":           githubv4.String(owner),
				"name":            githubv4.String(name),
				"perPage":         githubv4.Int(50),
				"cursor":          cursor,
				"states":          states,
				"since":           since,
				"commentsPerPage": githubv4.Int(50),
			}
			if err := c.client.Query(ctx, &query, variables); err != nil {
				return nil, fmt.Errorf("failed to query issues: %w", wrapGraphQLError(err))
			}
			if err := checkRateLimit(query.RateLimit); err != nil {
				return nil, err
			}

			for _, n := range query.Repository.Issues.Nodes {
				item := convertItemFields(&n.itemFields, opts.Me)
				item.Kind = models.KindIssue
				item.State = models.StateOpen
				if n.State == githubv4.IssueStateClosed {
					item.State = models.StateClosed
				}
				if err := c.attachComments(ctx, owner, name, &n.itemFields, &item, opts); err != nil {
					return nil, err
				}
				out = append(out, item)
			}

			if !query.Repository.Issues.PageInfo.HasNextPage {
				break
			}
			end := query.Repository.Issues.PageInfo.EndCursor
			cursor = &end
		}
	}
	return out, nil
}

// fetchPullRequests pages open pull requests fully, then closed and merged
// ones newest first until they fall behind opts.Since
func (c *GraphQLClient) fetchPullRequests(ctx context.Context, owner, name string, opts FetchOptions) ([]models.RemoteItem, error) {
	var out []models.RemoteItem
	for _, states := range [][]githubv4.PullRequestState{
		{githubv4.PullRequestStateOpen},
		{githubv4.PullRequestStateClosed, githubv4.PullRequestStateMerged},
	} {
		terminal := states[0] != githubv4.PullRequestStateOpen

		var cursor *githubv4.String
	pages:
		for {
			var query struct {
				RateLimit  rateLimit
				Repository struct {
					PullRequests struct {
						Nodes    []pullRequestNode
						PageInfo pageInfo
					} `graphql:"pullRequests(first: $perPage, after: $cursor, states: $states, orderBy: {field: UPDATED_AT, direction: DESC})"`
				} `graphql:"repository(owner: $owner, name: $name)"`
			}
			variables := map[string]interface{}{
				"owner":           githubv4.String(owner),
				"name":            githubv4.String(name),
				"perPage":         githubv4.Int(50),
				"cursor":          cursor,
				"states":          states,
				"commentsPerPage": githubv4.Int(50),
			}
			if err := c.client.Query(ctx, &query, variables); err != nil {
				return nil, fmt.Errorf("failed to query pull requests: %w", wrapGraphQLError(err))
			}
			if err := checkRateLimit(query.RateLimit); err != nil {
				return nil, err
			}

			for _, n := range query.Repository.PullRequests.Nodes {
				if terminal && !opts.Since.IsZero() && n.UpdatedAt.Time.Before(opts.Since) {
					break pages
				}
				item := convertItemFields(&n.itemFields, opts.Me)
				item.Kind = models.KindPullRequest
				switch n.State {
				case githubv4.PullRequestStateMerged:
					item.State = models.StateMerged
				case githubv4.PullRequestStateClosed:
					item.State = models.StateClosed
				default:
					item.State = models.StateOpen
				}
				item.Mergeable = convertMergeable(n.Mergeable)
				if err := c.attachComments(ctx, owner, name, &n.itemFields, &item, opts); err != nil {
					return nil, err
				}
				out = append(out, item)
			}

			if !query.Repository.PullRequests.PageInfo.HasNextPage {
				break
			}
			end := query.Repository.PullRequests.PageInfo.EndCursor
			cursor = &end
		}
	}
	return out, nil
}

// attachComments copies the first page of comments and fetches the rest,
// unless the local copy is already current
func (c *GraphQLClient) attachComments(ctx context.Context, owner, name string, n *itemFields, item *models.RemoteItem, opts FetchOptions) error {
	if opts.known(item.ServerID, item.UpdatedAt) {
		return nil
	}
	for _, cm := range n.Comments.Nodes {
		item.Comments = append(item.Comments, convertComment(&cm))
	}
	if !n.Comments.PageInfo.HasNextPage {
		return nil
	}
	more, err := c.fetchAdditionalComments(ctx, owner, name, item.Number, n.Comments.PageInfo.EndCursor)
	if err != nil {
		return fmt.Errorf("failed to fetch comments of #%d: %w", item.Number, err)
	}
	item.Comments = append(item.Comments, more...)
	return nil
}

// fetchAdditionalComments fetches the remaining pages of comments of an
// issue or pull request
func (c *GraphQLClient) fetchAdditionalComments(ctx context.Context, owner, name string, number int, after githubv4.String) ([]models.RemoteComment, error) {
	var all []models.RemoteComment
	cursor := after

	for {
		var query struct {
			Repository struct {
				IssueOrPullRequest struct {
					Issue struct {
						Comments commentConnection `graphql:"comments(first: $perPage, after: $cursor)"`
					} `graphql:"... on Issue"`
					PullRequest struct {
						Comments commentConnection `graphql:"comments(first: $perPage, after: $cursor)"`
					} `graphql:"... on PullRequest"`
				} `graphql:"issueOrPullRequest(number: $number)"`
			} `graphql:"repository(owner: $owner, name: $name)"`
		}

		variables := map[string]interface{}{
			"owner":   githubv4.String(owner),
			"name":    githubv4.String(name),
			"number":  githubv4.Int(number),
			"perPage": githubv4.Int(100),
			"cursor":  cursor,
		}
		if err := c.client.Query(ctx, &query, variables); err != nil {
			return all, wrapGraphQLError(err)
		}

		conn := query.Repository.IssueOrPullRequest.Issue.Comments
		if len(conn.Nodes) == 0 && !conn.PageInfo.HasNextPage {
			conn = query.Repository.IssueOrPullRequest.PullRequest.Comments
		}
		for _, cm := range conn.Nodes {
			all = append(all, convertComment(&cm))
		}
		if !conn.PageInfo.HasNextPage {
			return all, nil
		}
		cursor = conn.PageInfo.EndCursor
	}
}

func checkRateLimit(rl rateLimit) error {
	if rl.Limit > 0 && rl.Remaining == 0 {
		return &RateLimitError{ResetTime: rl.ResetAt.Time, Err: fmt.Errorf("graphql budget of %d exhausted", int(rl.Limit))}
	}
	if rl.Limit > 0 && rl.Remaining < 100 {
		logger.WithFields(log.Fields{
			"remaining": int(rl.Remaining),
			"reset":     rl.ResetAt.Time.Format(time.RFC3339),
		}).Warn("GraphQL rate limit nearly exhausted")
	}
	return nil
}

func wrapGraphQLError(err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "rate limit") {
		return &RateLimitError{ResetTime: time.Now().Add(time.Minute), Err: err}
	}
	return err
}

func convertItemFields(n *itemFields, me string) models.RemoteItem {
	var closedAt *time.Time
	if n.ClosedAt != nil {
		t := n.ClosedAt.Time
		closedAt = &t
	}

	assignees := make([]string, 0, len(n.Assignees.Nodes))
	for _, a := range n.Assignees.Nodes {
		assignees = append(assignees, string(a.Login))
	}

	labels := make([]models.Label, 0, len(n.Labels.Nodes))
	for _, l := range n.Labels.Nodes {
		labels = append(labels, models.Label{
			ID:    convertID(l.ID),
			Name:  string(l.Name),
			Color: string(l.Color),
		})
	}

	return models.RemoteItem{
		ServerID:     databaseID(n.FullDatabaseID, n.ID),
		Number:       int(n.Number),
		Title:        string(n.Title),
		URL:          string(n.URL),
		CreatedAt:    n.CreatedAt.Time,
		UpdatedAt:    n.UpdatedAt.Time,
		ClosedAt:     closedAt,
		AuthorID:     n.Author.databaseID(),
		AuthorLogin:  string(n.Author.Login),
		Body:         string(n.Body),
		AssignedToMe: assignedTo(me, assignees),
		Labels:       labels,
	}
}

func convertComment(cm *commentNode) models.RemoteComment {
	return models.RemoteComment{
		ServerID:    databaseID(cm.FullDatabaseID, cm.ID),
		AuthorID:    cm.Author.databaseID(),
		AuthorLogin: string(cm.Author.Login),
		Body:        string(cm.Body),
		CreatedAt:   cm.CreatedAt.Time,
		UpdatedAt:   cm.UpdatedAt.Time,
	}
}

func convertMergeable(m githubv4.MergeableState) *bool {
	var v bool
	switch m {
	case githubv4.MergeableStateMergeable:
		v = true
	case githubv4.MergeableStateConflicting:
		v = false
	default:
		return nil
	}
	return &v
}

// databaseID prefers the numeric database id and falls back to a stable
// hash of the node id
func databaseID(full githubv4.String, id githubv4.ID) int64 {
	if n, err := strconv.ParseInt(string(full), 10, 64); err == nil {
		return n
	}
	return convertID(id)
}

// convertID converts a GraphQL node id to int64, hashing opaque ids
func convertID(id githubv4.ID) int64 {
	s := fmt.Sprintf("%v", id)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	var hash int64
	for _, c := range s {
		hash = 31*hash + int64(c)
	}
	if hash < 0 {
		hash = -hash
	}
	return hash
}
