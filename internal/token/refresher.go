package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshInterval is the fixed refresh period.
const DefaultRefreshInterval = 12 * time.Hour

// Observer is told about every completed exchange.
type Observer interface {
	TokenRefreshed(deadline time.Time, err error)
}

// Refresher exchanges the stored refresh token for a new access token.
// Concurrent RefreshNow calls share one exchange.
type Refresher struct {
	store    *Store
	tokenURL string
	client   *http.Client
	observer Observer
	log      logr.Logger
	group    singleflight.Group
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithHTTPClient sets the client used for the token endpoint.
func WithHTTPClient(c *http.Client) RefresherOption {
	return func(r *Refresher) { r.client = c }
}

// WithObserver registers an observer of refresh outcomes.
func WithObserver(o Observer) RefresherOption {
	return func(r *Refresher) { r.observer = o }
}

// NewRefresher creates a refresher posting to tokenURL.
func NewRefresher(store *Store, tokenURL string, log logr.Logger, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		store:    store,
		tokenURL: tokenURL,
		client:   &http.Client{Timeout: 15 * time.Second},
		log:      log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RefreshNow performs one exchange and updates the store on success.
// On failure the store is left untouched and the stale token stays in use.
func (r *Refresher) RefreshNow(ctx context.Context) error {
	return r.refresh(ctx, false)
}

// refresh shares one exchange between concurrent callers. With onlyExpired
// set the deadline is checked again inside the flight, so a caller that saw
// an expired token just before another exchange finished does not spend a
// second refresh token.
func (r *Refresher) refresh(ctx context.Context, onlyExpired bool) error {
	_, err, shared := r.group.Do("refresh", func() (any, error) {
		if onlyExpired && !r.store.IsExpired(0) {
			r.log.V(1).Info("token already refreshed")
			return nil, nil
		}
		return nil, r.exchange(ctx)
	})
	if shared {
		r.log.V(1).Info("joined in-flight token refresh")
	}
	return err
}

func (r *Refresher) exchange(ctx context.Context) error {
	cur := r.store.Current()
	if cur.RefreshToken == "" {
		r.notify(time.Time{}, ErrNoRefreshToken)
		return ErrNoRefreshToken
	}

	// The token endpoint takes the secret as a form field and no client_id.
	cfg := &oauth2.Config{
		ClientSecret: cur.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  r.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)

	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cur.RefreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			r.log.Error(err, "token refresh rejected", "code", re.Response.StatusCode)
		} else {
			r.log.Error(err, "token refresh failed")
		}
		err = fmt.Errorf("refresh token: %w", err)
		r.notify(time.Time{}, err)
		return err
	}

	expiresIn := time.Duration(tok.ExpiresIn) * time.Second
	if expiresIn == 0 && !tok.Expiry.IsZero() {
		expiresIn = time.Until(tok.Expiry).Round(time.Second)
	}
	updated := r.store.Update(Update{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn,
	})
	r.log.Info("token refreshed", "expires_in", expiresIn, "deadline", updated.Deadline())
	r.notify(updated.Deadline(), nil)
	return nil
}

func (r *Refresher) notify(deadline time.Time, err error) {
	if r.observer != nil {
		r.observer.TokenRefreshed(deadline, err)
	}
}

// AccessToken returns the current access token, refreshing first when the
// deadline has passed. A failed refresh is logged and the stale token returned.
func (r *Refresher) AccessToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if r.store.IsExpired(0) {
		r.log.Info("access token expired, refreshing before call")
		if err := r.refresh(ctx, true); err != nil && ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return r.store.Current().AccessToken, nil
}

// Run refreshes once immediately and then every interval until ctx is done.
func (r *Refresher) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	_ = r.RefreshNow(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = r.RefreshNow(ctx)
		}
	}
}
