package games

import (
	"strings"

	"github.com/google/uuid"
)

// Identifiers are a one-letter kind prefix followed by a dashless UUID.
const (
	gamePrefix      = "g"
	playerPrefix    = "p"
	spectatorPrefix = "s"

	idSuffixLength = 32
)

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func NewGameID() string      { return newID(gamePrefix) }
func NewPlayerID() string    { return newID(playerPrefix) }
func NewSpectatorID() string { return newID(spectatorPrefix) }

func hasIDShape(id, prefix string) bool {
	if len(id) != len(prefix)+idSuffixLength || !strings.HasPrefix(id, prefix) {
		return false
	}
	_, err := uuid.Parse(id[len(prefix):])
	return err == nil
}

// IsPlayerID reports whether id is shaped like a player id.
func IsPlayerID(id string) bool { return hasIDShape(id, playerPrefix) }

// IsSpectatorID reports whether id is shaped like a spectator id.
func IsSpectatorID(id string) bool { return hasIDShape(id, spectatorPrefix) }

// IsParticipantID accepts either kind of seat id.
func IsParticipantID(id string) bool {
	return IsPlayerID(id) || IsSpectatorID(id)
}
