// Package securityconfig decodes the generic {type, json payload} security
// config rows into typed authorization policies.
package securityconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/store"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

const (
	// DefaultExpiresInHours is the shared-link lifetime when unset.
	DefaultExpiresInHours = 24

	// DefaultSessionDurationMinutes is the nominal shared-link session
	// duration when unset.
	DefaultSessionDurationMinutes = 60
)

// ErrMalformedConfig is returned when a payload does not match the shape
// required by its type.
var ErrMalformedConfig = errors.New("malformed security config")

// Policy is one of SharedLink, SSO or BasicAuth.
type Policy interface {
	Type() string
	policy()
}

// SharedLink grants a session to whoever presents an unused link.
type SharedLink struct {
	ExpiresInHours         int `mapstructure:"expiresInHours" json:"expiresInHours" validate:"gt=0"`
	SessionDurationMinutes int `mapstructure:"sessionDurationMinutes" json:"sessionDurationMinutes" validate:"gt=0"`
}

// SSO restricts access to identities from the identity provider. Empty
// Groups and Users allow any authenticated identity.
type SSO struct {
	Groups []string `mapstructure:"groups" json:"groups"`
	Users  []string `mapstructure:"users" json:"users"`
}

// BasicAuth binds a named credential group to the service.
type BasicAuth struct {
	BasicAuthConfigID string `mapstructure:"basicAuthConfigId" json:"basicAuthConfigId" validate:"required"`
}

func (SharedLink) Type() string { return store.SecurityTypeSharedLink }
func (SSO) Type() string        { return store.SecurityTypeSSO }
func (BasicAuth) Type() string  { return store.SecurityTypeBasicAuth }

func (SharedLink) policy() {}
func (SSO) policy()        {}
func (BasicAuth) policy()  {}

// Unrestricted reports whether any authenticated identity is allowed.
func (p SSO) Unrestricted() bool {
	return len(p.Groups) == 0 && len(p.Users) == 0
}

// Config is a decoded security config row.
type Config struct {
	ID        string
	ServiceID string
	Enabled   bool
	Priority  int
	Policy    Policy
}

// Type returns the policy's type tag.
func (c *Config) Type() string {
	return c.Policy.Type()
}

// ForwardAuth reports whether the policy is enforced through the gateway's
// verify endpoint (shared_link and sso) rather than natively by Traefik.
func (c *Config) ForwardAuth() bool {
	switch c.Policy.(type) {
	case SharedLink, SSO:
		return true
	default:
		return false
	}
}

var validate = validator.New()

// Parse decodes a stored row.
func Parse(row *store.SecurityConfig) (*Config, error) {
	policy, err := ParsePayload(row.Type, row.Config)
	if err != nil {
		return nil, fmt.Errorf("security config %s: %w", row.ID, err)
	}

	return &Config{
		ID:        row.ID,
		ServiceID: row.ServiceID,
		Enabled:   row.Enabled,
		Priority:  row.Priority,
		Policy:    policy,
	}, nil
}

// ParsePayload decodes payload according to typ, applying defaults.
func ParsePayload(typ, payload string) (Policy, error) {
	raw := map[string]any{}

	if strings.TrimSpace(payload) != "" {
		if err := json.Unmarshal([]byte(payload), &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
		}
	}

	switch typ {
	case store.SecurityTypeSharedLink:
		p := SharedLink{
			ExpiresInHours:         DefaultExpiresInHours,
			SessionDurationMinutes: DefaultSessionDurationMinutes,
		}

		return decode(raw, &p)
	case store.SecurityTypeSSO:
		p := SSO{}
		if _, err := decode(raw, &p); err != nil {
			return nil, err
		}

		if p.Groups == nil {
			p.Groups = []string{}
		}

		if p.Users == nil {
			p.Users = []string{}
		}

		return p, nil
	case store.SecurityTypeBasicAuth:
		p := BasicAuth{}

		return decode(raw, &p)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedConfig, typ)
	}
}

// decode fills out from raw and validates it. out must point to a Policy
// value; the dereferenced value is returned.
func decode[T Policy](raw map[string]any, out *T) (Policy, error) {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: integralNumberHook,
		Result:     out,
		TagName:    "mapstructure",
	})
	if err != nil {
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}

	if err := validate.Struct(out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}

	return *out, nil
}

// integralNumberHook rejects fractional JSON numbers destined for int fields.
func integralNumberHook(from, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.Int || from.Kind() != reflect.Float64 {
		return data, nil
	}

	f, _ := data.(float64)
	if f != math.Trunc(f) {
		return nil, fmt.Errorf("expected an integer, got %v", f)
	}

	return data, nil
}

// ParseAll decodes rows, returning the valid configs sorted by descending
// priority and the rows that failed to decode.
func ParseAll(rows []store.SecurityConfig) ([]*Config, map[string]error) {
	out := make([]*Config, 0, len(rows))
	failed := make(map[string]error)

	for i := range rows {
		cfg, err := Parse(&rows[i])
		if err != nil {
			failed[rows[i].ID] = err

			continue
		}

		out = append(out, cfg)
	}

	SortByPriority(out)

	return out, failed
}

// SortByPriority orders configs by descending priority, ties broken by id.
func SortByPriority(cfgs []*Config) {
	sort.SliceStable(cfgs, func(i, j int) bool {
		if cfgs[i].Priority != cfgs[j].Priority {
			return cfgs[i].Priority > cfgs[j].Priority
		}

		return cfgs[i].ID < cfgs[j].ID
	})
}
