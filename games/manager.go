package games

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	MaxPlayers    = 6
	MaxNameLength = 40
)

var ErrGameNotFound = errors.New("game not found")

// Manager holds every live game and indexes them by seat id, so each
// player or spectator link resolves to exactly one isolated session.
type Manager struct {
	mu          sync.Mutex
	games       map[string]*Game
	bySeat      map[string]*Game
	idleTimeout time.Duration
	onReap      func(gameID string)
}

// NewManager returns an empty manager. With a positive idleTimeout, games
// idle for longer are dropped by a background reaper until ctx ends.
// onReap, if set, is called with the id of each dropped game.
func NewManager(ctx context.Context, idleTimeout time.Duration, onReap func(gameID string)) *Manager {
	m := &Manager{
		games:       make(map[string]*Game),
		bySeat:      make(map[string]*Game),
		idleTimeout: idleTimeout,
		onReap:      onReap,
	}
	if idleTimeout > 0 {
		go m.reaperLoop(ctx)
	}
	return m
}

// Create starts a game with one seat per name.
func (m *Manager) Create(names []string) (*Game, error) {
	if len(names) == 0 || len(names) > MaxPlayers {
		return nil, fmt.Errorf("a game needs between 1 and %d players", MaxPlayers)
	}

	cleaned := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errors.New("player names cannot be empty")
		}
		if utf8.RuneCountInString(name) > MaxNameLength {
			return nil, fmt.Errorf("player names cannot exceed %d characters", MaxNameLength)
		}
		cleaned = append(cleaned, name)
	}

	g := newGame(cleaned)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.games[g.id] = g
	m.bySeat[g.spectatorID] = g
	for _, id := range g.playerIDs() {
		m.bySeat[id] = g
	}

	return g, nil
}

// Resolve finds the game a player or spectator id belongs to.
func (m *Manager) Resolve(ctx context.Context, seatID string) (*Game, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	g, ok := m.bySeat[seatID]
	m.mu.Unlock()

	if !ok {
		return nil, ErrGameNotFound
	}
	return g, nil
}

// Get finds a game by its own id.
func (m *Manager) Get(gameID string) (*Game, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.games[gameID]
	return g, ok
}

// Len is the number of live games.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.games)
}

const minReapInterval = time.Second

func (m *Manager) reaperLoop(ctx context.Context) {
	interval := m.idleTimeout / 2
	if interval < minReapInterval {
		interval = minReapInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reap(time.Now().Add(-m.idleTimeout))
		}
	}
}

// reap removes games whose last activity is before cutoff.
func (m *Manager) reap(cutoff time.Time) []string {
	var reaped []string

	m.mu.Lock()
	for id, g := range m.games {
		if !g.LastActive().Before(cutoff) {
			continue
		}
		delete(m.games, id)
		delete(m.bySeat, g.spectatorID)
		for _, seatID := range g.playerIDs() {
			delete(m.bySeat, seatID)
		}
		reaped = append(reaped, id)
	}
	m.mu.Unlock()

	if m.onReap != nil {
		for _, id := range reaped {
			m.onReap(id)
		}
	}

	return reaped
}
