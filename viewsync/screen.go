package viewsync

import (
	"errors"
	"net/url"
	"path"

	"github.com/Seednode/tabletop/games"
)

// Screen is a top-level client mode.
type Screen string

const (
	ScreenAdmin          Screen = "admin"
	ScreenCards          Screen = "cards"
	ScreenCreateGameForm Screen = "create-game-form"
	ScreenEmpty          Screen = "empty"
	ScreenGameHome       Screen = "game-home"
	ScreenGamesOverview  Screen = "games-overview"
	ScreenHelp           Screen = "help"
	ScreenLoad           Screen = "load"
	ScreenLoginHome      Screen = "login-home"
	ScreenPlayerHome     Screen = "player-home"
	ScreenSpectatorHome  Screen = "spectator-home"
	ScreenStartScreen    Screen = "start-screen"
	ScreenTheEnd         Screen = "the-end"
)

// Page paths, as the last segment of the browser path.
const (
	PathAdmin         = "admin"
	PathCards         = "cards"
	PathGame          = "game"
	PathGamesOverview = "games-overview"
	PathHelp          = "help"
	PathLoad          = "load"
	PathLogin         = "login"
	PathNewGame       = "new-game"
	PathPlayer        = "player"
	PathSpectator     = "spectator"
	PathTheEnd        = "the-end"
)

// Role selects which view endpoint a refresh polls.
type Role int

const (
	RolePlayer Role = iota
	RoleSpectator
)

func (r Role) String() string {
	if r == RoleSpectator {
		return "spectator"
	}
	return "player"
}

// Path is both the page path and the api endpoint name for the role.
func (r Role) Path() string {
	if r == RoleSpectator {
		return PathSpectator
	}
	return PathPlayer
}

// Home is the screen shown while the game is running.
func (r Role) Home() Screen {
	if r == RoleSpectator {
		return ScreenSpectatorHome
	}
	return ScreenPlayerHome
}

// ErrBadID is returned by Route when an end-of-game link names neither a
// player nor a spectator.
var ErrBadID = errors.New("bad id url parameter")

// Boot is the initial state for a page load.
type Boot struct {
	Screen Screen
	// Poll reports whether Role's view must be fetched right away.
	Poll bool
	Role Role
}

var staticScreens = map[string]Screen{
	PathAdmin:         ScreenAdmin,
	PathCards:         ScreenCards,
	PathGame:          ScreenGameHome,
	PathGamesOverview: ScreenGamesOverview,
	PathHelp:          ScreenHelp,
	PathLoad:          ScreenLoad,
	PathLogin:         ScreenLoginHome,
	PathNewGame:       ScreenCreateGameForm,
}

// Route picks the initial screen for a browser path and query.
func Route(p string, query url.Values) (Boot, error) {
	switch segment := lastSegment(p); segment {
	case PathPlayer:
		return Boot{Screen: ScreenPlayerHome, Poll: true, Role: RolePlayer}, nil
	case PathSpectator:
		return Boot{Screen: ScreenSpectatorHome, Poll: true, Role: RoleSpectator}, nil
	case PathTheEnd:
		id := query.Get("id")
		switch {
		case games.IsPlayerID(id):
			return Boot{Screen: ScreenTheEnd, Poll: true, Role: RolePlayer}, nil
		case games.IsSpectatorID(id):
			return Boot{Screen: ScreenTheEnd, Poll: true, Role: RoleSpectator}, nil
		}
		return Boot{Screen: ScreenEmpty}, ErrBadID
	default:
		if s, ok := staticScreens[segment]; ok {
			return Boot{Screen: s}, nil
		}
		return Boot{Screen: ScreenStartScreen}, nil
	}
}

func lastSegment(p string) string {
	base := path.Base(p)
	if base == "/" || base == "." {
		return ""
	}
	return base
}

// siblingPath replaces the last segment of p with segment.
func siblingPath(p, segment string) string {
	dir := path.Dir(p)
	if dir == "." {
		dir = "/"
	}
	return path.Join(dir, segment)
}
