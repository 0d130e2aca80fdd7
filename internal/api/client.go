package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/wesm/argh/internal/models"
)

var logger = log.WithField("package", "api")

// RateLimitError is returned when the remote API refuses requests until ResetTime
type RateLimitError struct {
	ResetTime time.Time
	Err       error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited until %s: %v", e.ResetTime.Format(time.RFC3339), e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// FetchOptions narrows what a fetch returns
type FetchOptions struct {
	// Closed items are only reported when updated at or after Since; open
	// items are always reported.
	Since time.Time
	// Me is the login that AssignedToMe is computed for.
	Me string
	// Known reports whether the local copy of an item is already at
	// updatedAt; comments of known items are not fetched because the
	// reconciler ignores them.
	Known func(serverID int64, updatedAt time.Time) bool
}

func (o *FetchOptions) known(id int64, updated time.Time) bool {
	return o.Known != nil && o.Known(id, updated)
}

// Source is a remote item source
type Source interface {
	GetRepository(ctx context.Context, owner, name string) (*models.Repository, error)
	FetchItems(ctx context.Context, owner, name string, opts FetchOptions) ([]models.RemoteItem, error)
	Viewer(ctx context.Context) (*models.User, error)
	TeamReferrals(ctx context.Context) ([]string, error)
}

// rateLimitedTransport waits for the limiter before every request
type rateLimitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

// NewHTTPClient returns an HTTP client authenticated with token (when set)
// and throttled to requestsPerSecond (when positive)
func NewHTTPClient(token string, requestsPerSecond float64) *http.Client {
	var rt http.RoundTripper = http.DefaultTransport
	if token != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   rt,
		}
	}
	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		rt = &rateLimitedTransport{base: rt, limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
	}
	return &http.Client{Transport: rt, Timeout: 60 * time.Second}
}

func assignedTo(me string, logins []string) bool {
	if me == "" {
		return false
	}
	for _, l := range logins {
		if strings.EqualFold(l, me) {
			return true
		}
	}
	return false
}
