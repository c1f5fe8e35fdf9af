package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"daylog/internal/aggregate"
	"daylog/internal/config"
	appLog "daylog/internal/log"
	"daylog/internal/metrics"
	"daylog/internal/model"
	"daylog/internal/provider"
)

// todayTTL bounds how long today's timeline is served from memory. Past
// days cannot change any more and are kept until the config changes.
const todayTTL = 30 * time.Second

const maskedValue = "********"

// Server provides the HTTP API over an aggregator.
type Server struct {
	agg     *aggregate.Aggregator
	metrics *metrics.Metrics
	mux     *http.ServeMux
	now     func() time.Time

	cfgMu sync.RWMutex
	cfg   *config.Config

	eventsMu sync.Mutex
	past     map[string]eventsResponse
	today    *eventsCache
}

// eventsCache holds today's response and its timestamp.
type eventsCache struct {
	day       string
	resp      eventsResponse
	updatedAt time.Time
}

// NewServer constructs a new Server. m may be nil, /metrics is then not
// served.
func NewServer(cfg *config.Config, agg *aggregate.Aggregator, m *metrics.Metrics) *Server {
	s := &Server{
		agg:     agg,
		metrics: m,
		mux:     http.NewServeMux(),
		now:     time.Now,
		cfg:     cfg,
		past:    map[string]eventsResponse{},
	}
	s.registerRoutes()
	return s
}

// Config returns the configuration in use.
func (s *Server) Config() *config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// SetConfig swaps the configuration and drops every memoized timeline.
func (s *Server) SetConfig(cfg *config.Config) {
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()

	s.eventsMu.Lock()
	s.past = map[string]eventsResponse{}
	s.today = nil
	s.eventsMu.Unlock()
	appLog.Info("configuration reloaded")
}

// Handler returns the underlying http.Handler for this server. Basic auth
// is checked against the current config on every request, so reloads can
// turn it on or off.
func (s *Server) Handler() http.Handler {
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.Config().Listen)
	}
	return s.basicAuthMiddleware(s.mux)
}

// basicAuth returns the configured credentials, or nil when auth is off.
func (s *Server) basicAuth() *config.BasicAuthConfig {
	cfg := s.Config()
	if cfg == nil || cfg.BasicAuth == nil {
		return nil
	}
	if cfg.BasicAuth.Username == "" || cfg.BasicAuth.Password == "" {
		return nil
	}
	return cfg.BasicAuth
}

func (s *Server) basicAuthEnabled() bool {
	return s.basicAuth() != nil
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := s.basicAuth()
		if auth == nil || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, auth.Username) || !secureCompare(p, auth.Password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="daylog", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve listens on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Config().Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/providers", s.handleProviders)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Day             string     `json:"day"`
	DisplayTimeZone string     `json:"display_timezone"`
	Events          []eventDTO `json:"events"`
}

type bodyDTO struct {
	Kind     string `json:"kind"`
	Text     string `json:"text"`
	WordWrap bool   `json:"word_wrap,omitempty"`
}

// eventDTO is a JSON-friendly view of model.Event.
type eventDTO struct {
	Time         string  `json:"time"`
	SourceLabel  string  `json:"source_label"`
	Icon         string  `json:"icon"`
	Title        string  `json:"title"`
	Header       string  `json:"header"`
	Body         bodyDTO `json:"body"`
	ExtraDetails string  `json:"extra_details,omitempty"`
}

func toDTO(e model.Event) eventDTO {
	return eventDTO{
		Time:         e.Time.String(),
		SourceLabel:  e.SourceLabel,
		Icon:         e.Icon,
		Title:        e.Title,
		Header:       e.Header,
		Body:         bodyDTO{Kind: e.Body.Kind.String(), Text: e.Body.Text, WordWrap: e.Body.WordWrap},
		ExtraDetails: e.ExtraDetails,
	}
}

type sourceErrorResponse struct {
	Error    string `json:"error"`
	Provider string `json:"provider,omitempty"`
	Source   string `json:"source,omitempty"`
}

// handleEvents returns the timeline of one day.
//
// GET /api/events?day=2024-05-14
//   - day: defaults to today in the configured timezone
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	cfg := s.Config()
	loc := resolveLocationOrLocal(cfg.Timezone)
	today := model.DayOf(s.now(), loc)

	day := today
	if raw := r.URL.Query().Get("day"); raw != "" {
		d, err := model.ParseDay(raw, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		day = d
	}
	if day.Start().After(today.Start()) {
		writeError(w, http.StatusBadRequest, "day is in the future")
		return
	}

	resp, err := s.timeline(r.Context(), cfg, day, today)
	if err != nil {
		var se *aggregate.SourceError
		if errors.As(err, &se) {
			writeJSON(w, http.StatusBadGateway, sourceErrorResponse{Error: err.Error(), Provider: se.Provider, Source: se.Source})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// timeline fetches day, serving past days from memory once fetched.
func (s *Server) timeline(ctx context.Context, cfg *config.Config, day, today model.Day) (eventsResponse, error) {
	key := day.String()
	isToday := key == today.String()

	s.eventsMu.Lock()
	if isToday {
		if tc := s.today; tc != nil && tc.day == key && s.now().Sub(tc.updatedAt) < todayTTL {
			s.eventsMu.Unlock()
			return tc.resp, nil
		}
	} else if resp, ok := s.past[key]; ok {
		s.eventsMu.Unlock()
		return resp, nil
	}
	s.eventsMu.Unlock()

	appLog.Info("api events request", "day", key, "timezone", day.Location().String())
	events, err := s.agg.Fetch(ctx, cfg, day)
	if err != nil {
		return eventsResponse{}, err
	}
	resp := eventsResponse{
		Day:             key,
		DisplayTimeZone: day.Location().String(),
		Events:          make([]eventDTO, 0, len(events)),
	}
	for _, e := range events {
		resp.Events = append(resp.Events, toDTO(e))
	}

	s.eventsMu.Lock()
	if isToday {
		s.today = &eventsCache{day: key, resp: resp, updatedAt: s.now()}
	} else {
		s.past[key] = resp
	}
	s.eventsMu.Unlock()
	return resp, nil
}

// Prewarm fetches today's timeline into memory.
func (s *Server) Prewarm(ctx context.Context) error {
	cfg := s.Config()
	today := model.DayOf(s.now(), resolveLocationOrLocal(cfg.Timezone))

	s.eventsMu.Lock()
	s.today = nil
	s.eventsMu.Unlock()

	_, err := s.timeline(ctx, cfg, today, today)
	return err
}

type sourceDTO struct {
	Name   string            `json:"name"`
	Values map[string]string `json:"values"`
}

type providerDTO struct {
	Name    string           `json:"name"`
	Icon    string           `json:"icon"`
	Fields  []provider.Field `json:"fields"`
	Sources []sourceDTO      `json:"sources"`
}

// handleProviders lists the providers, their fields and configured
// sources. Password fields are masked.
func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	cfg := s.Config()
	out := make([]providerDTO, 0, len(s.agg.Providers()))
	for _, p := range s.agg.Providers() {
		fields := p.Fields()
		dto := providerDTO{Name: p.Name(), Icon: p.DefaultIcon(), Fields: fields, Sources: []sourceDTO{}}
		for _, name := range p.ConfiguredSources(cfg) {
			values, ok := p.Values(cfg, name)
			if !ok {
				continue
			}
			for _, f := range fields {
				if f.Kind == provider.FieldPassword && values[f.Name] != "" {
					values[f.Name] = maskedValue
				}
			}
			dto.Sources = append(dto.Sources, sourceDTO{Name: name, Values: values})
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, out)
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
