package games

import (
	"time"
)

// PlayerModel is the public part of a seat.
type PlayerModel struct {
	Name string `json:"name"`
	Host bool   `json:"host,omitempty"`
}

// GameModel is the shared part of every view.
type GameModel struct {
	ID          string    `json:"id"`
	Phase       Phase     `json:"phase"`
	SpectatorID string    `json:"spectatorId"`
	CreatedAt   time.Time `json:"createdAt"`
	LastActive  time.Time `json:"lastActive"`
}

// PlayerViewModel is what /api/player returns. ID is the requesting
// player's id, not the game id.
type PlayerViewModel struct {
	ID         string        `json:"id"`
	Game       GameModel     `json:"game"`
	ThisPlayer PlayerModel   `json:"thisPlayer"`
	Players    []PlayerModel `json:"players"`
}

// SpectatorViewModel is what /api/spectator returns.
type SpectatorViewModel struct {
	ID      string        `json:"id"`
	Game    GameModel     `json:"game"`
	Players []PlayerModel `json:"players"`
}

func (g *Game) modelLocked() GameModel {
	return GameModel{
		ID:          g.id,
		Phase:       g.phase,
		SpectatorID: g.spectatorID,
		CreatedAt:   g.createdAt,
		LastActive:  g.lastActive,
	}
}

func (g *Game) playersLocked() []PlayerModel {
	players := make([]PlayerModel, 0, len(g.seats))
	for i, s := range g.seats {
		players = append(players, PlayerModel{Name: s.name, Host: i == 0})
	}
	return players
}

// PlayerView builds a fresh view for playerID.
func (g *Game) PlayerView(playerID string) (PlayerViewModel, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	i := g.seatIndexLocked(playerID)
	if i < 0 {
		return PlayerViewModel{}, false
	}

	players := g.playersLocked()
	return PlayerViewModel{
		ID:         playerID,
		Game:       g.modelLocked(),
		ThisPlayer: players[i],
		Players:    players,
	}, true
}

// SpectatorView builds a fresh spectator view.
func (g *Game) SpectatorView() SpectatorViewModel {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return SpectatorViewModel{
		ID:      g.spectatorID,
		Game:    g.modelLocked(),
		Players: g.playersLocked(),
	}
}
