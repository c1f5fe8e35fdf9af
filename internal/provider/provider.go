// Package provider defines the contract every event source implements.
package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"daylog/internal/cache"
	"daylog/internal/config"
	"daylog/internal/httpx"
	"daylog/internal/model"
)

// Error kinds surfaced by providers. They are wrapped with %w so callers can
// test them with errors.Is.
var (
	ErrAuth     = errors.New("authentication failed")
	ErrParse    = errors.New("parse error")
	ErrNotFound = errors.New("not found")
)

// FieldKind is a type tag for configuration UIs.
type FieldKind string

const (
	FieldText     FieldKind = "text"
	FieldPassword FieldKind = "password"
	FieldPath     FieldKind = "path"
	FieldFolder   FieldKind = "folder"
	// FieldCombo offers a list computed by Provider.FieldValues.
	FieldCombo FieldKind = "combo"
	FieldBool  FieldKind = "bool"
)

// Field describes one configuration value of a provider.
type Field struct {
	Name    string    `json:"name"`
	Kind    FieldKind `json:"kind"`
	Default string    `json:"default,omitempty"`
}

// Provider answers "what happened on day D?" for one kind of source.
type Provider interface {
	// Name is stable; it is used for cache keys and error reports.
	Name() string
	DefaultIcon() string

	// ConfiguredSources lists the named instances of this provider, sorted.
	ConfiguredSources(cfg *config.Config) []string

	Fields() []Field
	// FieldValues computes the choices of a combo field given the values
	// entered so far. Providers without combo fields return nil.
	FieldValues(ctx context.Context, values map[string]string, field string) ([]string, error)
	// Values returns the configured values of one source keyed by field name.
	Values(cfg *config.Config, source string) (map[string]string, bool)

	// FetchEvents returns the events whose timestamp is in
	// [day.Start(), day.End()).
	FetchEvents(ctx context.Context, cfg *config.Config, source string, day model.Day) ([]model.Event, error)
}

// Deps are the resources shared by all providers.
type Deps struct {
	Cache *cache.Cache
	// Timeout bounds connect and total time of a single HTTP request.
	Timeout time.Duration
	// UserAgent is sent by scraping providers.
	UserAgent string
}

// HTTPClient returns a new client honoring the configured timeout. With
// cookies, a fresh cookie jar is attached so a login session stays scoped
// to a single fetch.
func (d Deps) HTTPClient(cookies bool) *http.Client {
	return httpx.NewClient(d.Timeout, cookies)
}
