// Package sso talks to an OAuth2 identity provider and evaluates SSO
// allow-lists.
package sso

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/config"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/securityconfig"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const stateBytes = 16

// ErrMissingIdentity is returned when the userinfo response lacks the
// configured user claim.
var ErrMissingIdentity = errors.New("identity claim missing from userinfo")

// Identity is an authenticated principal.
type Identity struct {
	Subject string
	Groups  []string
}

// Provider performs the authorization-code exchange.
type Provider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Identity, error)
}

// Compile-time interface check.
var _ Provider = (*Client)(nil)

// Client is an OAuth2 authorization-code client with a userinfo lookup.
type Client struct {
	log         logrus.FieldLogger
	oauth       oauth2.Config
	userInfoURL string
	userClaim   string
	groupsClaim string
	httpClient  *http.Client
}

// NewClient builds a client from cfg.
func NewClient(log logrus.FieldLogger, cfg *config.SSOConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultSSOTimeout
	}

	return &Client{
		log: log.WithField("component", "sso"),
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		userInfoURL: cfg.UserInfoURL,
		userClaim:   cfg.UserClaim,
		groupsClaim: cfg.GroupsClaim,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// GenerateState returns a random OAuth state value.
func GenerateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}

	return hex.EncodeToString(b), nil
}

// AuthCodeURL returns the provider login URL for state.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange trades code for a token and resolves the identity from the
// userinfo endpoint.
func (c *Client) Exchange(ctx context.Context, code string) (*Identity, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", err)
	}

	claims, err := c.fetchUserInfo(ctx, token)
	if err != nil {
		return nil, err
	}

	subject := claimString(claims[c.userClaim])
	if subject == "" {
		return nil, fmt.Errorf("%w: %q", ErrMissingIdentity, c.userClaim)
	}

	identity := &Identity{
		Subject: subject,
		Groups:  claimStrings(claims[c.groupsClaim]),
	}

	c.log.WithFields(logrus.Fields{
		"user":   identity.Subject,
		"groups": len(identity.Groups),
	}).Debug("Resolved SSO identity")

	return identity, nil
}

func (c *Client) fetchUserInfo(
	ctx context.Context, token *oauth2.Token,
) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching userinfo: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo returned status %d", resp.StatusCode)
	}

	var claims map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("decoding userinfo: %w", err)
	}

	return claims, nil
}

func claimString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// claimStrings accepts a list claim or a single space-separated string.
func claimStrings(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))

		for _, item := range t {
			if s := claimString(item); s != "" {
				out = append(out, s)
			}
		}

		return out
	case string:
		return strings.Fields(t)
	default:
		return nil
	}
}

// Authorize reports whether identity (with groups) passes policy. An
// unrestricted policy admits any authenticated identity; otherwise a
// match on either list is enough.
func Authorize(policy securityconfig.SSO, identity string, groups []string) bool {
	if identity == "" {
		return false
	}

	if policy.Unrestricted() {
		return true
	}

	for _, u := range policy.Users {
		if u == identity {
			return true
		}
	}

	for _, want := range policy.Groups {
		for _, g := range groups {
			if g == want {
				return true
			}
		}
	}

	return false
}
