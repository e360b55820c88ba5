/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package games keeps the in-memory game sessions that the chat and view
// endpoints read from.
//
// Each Game owns its chat log, so contention on one table never reaches
// another. A Manager indexes games by every seat id so that a player or
// spectator id resolves directly to its game.
package games

import (
	"sync"
	"time"

	"github.com/Seednode/tabletop/chat"
)

// seat is a player slot. owner is the caller identity that claimed it.
type seat struct {
	id    string
	name  string
	owner string
}

// Game is one table: its seats, phase and chat.
type Game struct {
	id          string
	spectatorID string
	chat        *chat.Log

	mu         sync.RWMutex
	seats      []seat
	phase      Phase
	createdAt  time.Time
	lastActive time.Time
}

func newGame(names []string) *Game {
	now := time.Now()

	g := &Game{
		id:          NewGameID(),
		spectatorID: NewSpectatorID(),
		chat:        chat.NewLog(chat.RetentionCap),
		seats:       make([]seat, 0, len(names)),
		phase:       PhaseLobby,
		createdAt:   now,
		lastActive:  now,
	}
	for _, name := range names {
		g.seats = append(g.seats, seat{id: NewPlayerID(), name: name})
	}

	return g
}

func (g *Game) ID() string { return g.id }

func (g *Game) SpectatorID() string { return g.spectatorID }

// Chat returns the game's log. It lives exactly as long as the game.
func (g *Game) Chat() *chat.Log { return g.chat }

func (g *Game) IsSpectator(id string) bool {
	return id != "" && id == g.spectatorID
}

// Player looks up a seat by player id.
func (g *Game) Player(id string) (chat.Player, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	i := g.seatIndexLocked(id)
	if i < 0 {
		return chat.Player{}, false
	}
	s := g.seats[i]
	return chat.Player{ID: s.id, Name: s.name, Owner: s.owner}, true
}

func (g *Game) seatIndexLocked(id string) int {
	for i := range g.seats {
		if g.seats[i].id == id {
			return i
		}
	}
	return -1
}

// Claim binds an unowned seat to identity and reports whether identity
// owns the seat afterwards. The first caller to open a seat keeps it.
func (g *Game) Claim(playerID, identity string) bool {
	if identity == "" {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	i := g.seatIndexLocked(playerID)
	if i < 0 {
		return false
	}
	if g.seats[i].owner == "" {
		g.seats[i].owner = identity
	}
	g.lastActive = time.Now()

	return g.seats[i].owner == identity
}

// Rename changes a seat's display name. Messages already posted keep the
// old name.
func (g *Game) Rename(playerID, name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	i := g.seatIndexLocked(playerID)
	if i < 0 {
		return false
	}
	g.seats[i].name = name
	return true
}

// IsHost reports whether playerID holds the first seat.
func (g *Game) IsHost(playerID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.seats) > 0 && g.seats[0].id == playerID
}

func (g *Game) Phase() Phase {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.phase
}

// SetPhase moves the game to p. Once the game has ended it stays ended.
func (g *Game) SetPhase(p Phase) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase.Terminal() && p != g.phase {
		return false
	}
	g.phase = p
	g.lastActive = time.Now()
	return true
}

// Touch marks the game as active for the idle reaper.
func (g *Game) Touch() {
	g.mu.Lock()
	g.lastActive = time.Now()
	g.mu.Unlock()
}

func (g *Game) LastActive() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.lastActive
}

// playerIDs returns every seat id, for the manager's index.
func (g *Game) playerIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.seats))
	for _, s := range g.seats {
		ids = append(ids, s.id)
	}
	return ids
}

// Seats lists every seat in order. Owners are omitted.
func (g *Game) Seats() []chat.Player {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seats := make([]chat.Player, 0, len(g.seats))
	for _, s := range g.seats {
		seats = append(seats, chat.Player{ID: s.id, Name: s.name})
	}
	return seats
}
