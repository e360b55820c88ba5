/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package viewsync keeps a client's screen in step with the server's view
// of a game.
//
// The controller polls the player or spectator view endpoint, stores the
// returned model, and moves between screens based on the reported phase.
// The browser address is rewritten in place, never navigated, so a poll
// cannot trigger a reload.
package viewsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/tabletop/games"
)

// NoRedirectParam suppresses the end-of-game redirect for the request it
// appears on.
const NoRedirectParam = "noredirect"

// Alert texts shown to the user.
const (
	AlertNetwork       = "Error getting game data"
	AlertUnexpected    = "Unexpected server response: "
	AlertBadIDLanding  = "Bad id URL parameter."
	maxViewBodyBytes   = 8 << 20
	defaultHTTPTimeout = 30 * time.Second
)

// ViewModel is the part of a view response the controller interprets. Raw
// holds the full payload for whoever renders it.
type ViewModel struct {
	ID   string `json:"id"`
	Game struct {
		Phase string `json:"phase"`
	} `json:"game"`
	Raw json.RawMessage `json:"-"`
}

// Ended reports whether the game is in its terminal phase.
func (m *ViewModel) Ended() bool {
	return m.Game.Phase == string(games.PhaseEnd)
}

// State is a snapshot of the controller.
type State struct {
	Screen    Screen
	Player    *ViewModel
	Spectator *ViewModel
	// RenderKey changes every time a model is replaced.
	RenderKey int
}

// Controller drives one client's screen.
type Controller struct {
	baseURL    string
	httpClient *http.Client
	location   Location
	alert      func(string)
	observe    func(State)

	mu        sync.Mutex
	screen    Screen
	player    *ViewModel
	spectator *ViewModel
	renderKey int
	inFlight  [2]bool
	issued    [2]uint64
	applied   [2]uint64
}

// Option configures a Controller.
type Option func(*Controller)

func WithHTTPClient(c *http.Client) Option {
	return func(ctl *Controller) {
		ctl.httpClient = c
	}
}

// WithAlerter sets the function used to show errors to the user.
func WithAlerter(fn func(string)) Option {
	return func(ctl *Controller) {
		ctl.alert = fn
	}
}

// WithObserver sets a function called with the new state after every
// applied refresh.
func WithObserver(fn func(State)) Option {
	return func(ctl *Controller) {
		ctl.observe = fn
	}
}

// New returns a controller on the empty screen. baseURL is the site root
// that "/api/<role>" is appended to.
func New(baseURL string, location Location, opts ...Option) *Controller {
	c := &Controller{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		location:   location,
		alert:      func(string) {},
		screen:     ScreenEmpty,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	return State{
		Screen:    c.screen,
		Player:    c.player,
		Spectator: c.spectator,
		RenderKey: c.renderKey,
	}
}

// Start applies Route to the current location and, when the page shows a
// game, performs the first refresh.
func (c *Controller) Start(ctx context.Context) error {
	query, _ := url.ParseQuery(c.location.RawQuery())

	boot, err := Route(c.location.Path(), query)

	c.mu.Lock()
	c.screen = boot.Screen
	c.mu.Unlock()

	if err != nil {
		c.alert(AlertBadIDLanding)
		return err
	}
	if !boot.Poll {
		return nil
	}
	return c.Refresh(ctx, boot.Role)
}

// Refresh fetches role's view and applies it. Failures are shown to the
// user and leave the current state untouched.
func (c *Controller) Refresh(ctx context.Context, role Role) error {
	seq, ok := c.begin(role)
	if !ok {
		return ErrRefreshInFlight
	}
	defer c.finish(role)

	// Read once: the flag applies to this request only.
	rawQuery := c.location.RawQuery()
	suppressed := hasParam(rawQuery, NoRedirectParam)

	target := c.baseURL + "/api/" + role.Path()
	if q := withoutParam(rawQuery, NoRedirectParam); q != "" {
		target += "?" + q
	}

	model, err := c.fetch(ctx, target)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", role, err)
	}

	return c.apply(role, seq, model, suppressed)
}

func (c *Controller) begin(role Role) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight[role] {
		return 0, false
	}
	c.inFlight[role] = true
	c.issued[role]++
	return c.issued[role], true
}

func (c *Controller) finish(role Role) {
	c.mu.Lock()
	c.inFlight[role] = false
	c.mu.Unlock()
}

func (c *Controller) fetch(ctx context.Context, target string) (*ViewModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// A poll abandoned by its caller is not a network fault.
		if ctx.Err() == nil {
			c.alert(AlertNetwork)
		}
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode != http.StatusOK {
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Status: statusText(resp)}
		c.alert(AlertUnexpected + httpErr.Status)
		return nil, httpErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxViewBodyBytes))
	if err != nil {
		c.alert(AlertNetwork)
		return nil, fmt.Errorf("read body: %w", err)
	}

	var model ViewModel
	if err := json.Unmarshal(body, &model); err != nil {
		return nil, fmt.Errorf("decode view: %w", err)
	}
	model.Raw = body

	return &model, nil
}

// apply installs model for role unless a newer response already landed.
func (c *Controller) apply(role Role, seq uint64, model *ViewModel, suppressed bool) error {
	c.mu.Lock()

	if seq <= c.applied[role] {
		c.mu.Unlock()
		return ErrStaleResponse
	}
	c.applied[role] = seq

	if role == RoleSpectator {
		c.spectator = model
	} else {
		c.player = model
	}
	c.renderKey++

	current := c.location.Path()
	idQuery := url.Values{"id": {model.ID}}.Encode()

	switch {
	case model.Ended() && !suppressed:
		c.screen = ScreenTheEnd
		if lastSegment(current) != PathTheEnd {
			c.location.ReplaceState(siblingPath(current, PathTheEnd), idQuery)
		}
	case model.Ended():
		// Suppressed: keep the end screen or the game screen the user is
		// on, and leave the address alone.
		if c.screen != ScreenTheEnd && c.screen != role.Home() {
			c.screen = role.Home()
		}
	default:
		c.screen = role.Home()
		if lastSegment(current) != role.Path() {
			c.location.ReplaceState(siblingPath(current, role.Path()), idQuery)
		}
	}

	state := c.stateLocked()
	c.mu.Unlock()

	if c.observe != nil {
		c.observe(state)
	}
	return nil
}

// Watch refreshes role every interval until ctx ends. Failed polls are
// already reported through the alerter, so Watch keeps going.
func (c *Controller) Watch(ctx context.Context, role Role, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = c.Refresh(ctx, role)
		}
	}
}

func paramName(part string) string {
	name, _, _ := strings.Cut(part, "=")
	if unescaped, err := url.QueryUnescape(name); err == nil {
		return unescaped
	}
	return name
}

func hasParam(rawQuery, name string) bool {
	for _, part := range strings.Split(rawQuery, "&") {
		if part != "" && paramName(part) == name {
			return true
		}
	}
	return false
}

// withoutParam drops every occurrence of name and keeps everything else
// byte for byte, in order.
func withoutParam(rawQuery, name string) string {
	parts := strings.Split(rawQuery, "&")
	kept := parts[:0]
	for _, part := range parts {
		if part == "" || paramName(part) == name {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "&")
}

// statusText is the reason phrase the server sent, falling back to the
// standard text for the code.
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	if text == "" {
		text = "status " + strconv.Itoa(resp.StatusCode)
	}
	return text
}
