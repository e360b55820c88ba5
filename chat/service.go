/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package chat holds the per-game chat log and the service that guards it.
//
// Every read and write goes through the same policy: the claimed player
// must exist in the game, the caller must own that player, and the access
// is recorded against its network origin before the log is touched.
package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxBodyLength is the longest message accepted, in characters, after trimming.
const MaxBodyLength = 500

// Player is the part of a seat the chat service needs.
type Player struct {
	ID    string
	Name  string
	Owner string
}

// Game is a resolved game handle.
type Game interface {
	ID() string
	Player(id string) (Player, bool)
	IsSpectator(id string) bool
	Chat() *Log
}

// Authorizer decides whether caller may act as player.
type Authorizer interface {
	Authorize(player Player, caller string) bool
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(player Player, caller string) bool

func (f AuthorizerFunc) Authorize(player Player, caller string) bool {
	return f(player, caller)
}

// OwnerAuthorizer allows a caller whose identity equals the player's owner.
// Unclaimed players (empty owner) are never authorized.
var OwnerAuthorizer = AuthorizerFunc(func(player Player, caller string) bool {
	return player.Owner != "" && player.Owner == caller
})

// Tracker records that an identity accessed a game from an address.
// Implementations must not block and must not fail the caller.
type Tracker interface {
	Record(identity, address string)
}

type nopTracker struct{}

func (nopTracker) Record(string, string) {}

// Page is the response to a fetch.
type Page struct {
	Messages      []Message `json:"messages"`
	LastMessageID MessageID `json:"lastMessageId"`
	TotalMessages int       `json:"totalMessages"`
	MaxMessages   int       `json:"maxMessages"`
}

// Service implements fetch and post over per-game logs.
type Service struct {
	authorizer Authorizer
	tracker    Tracker
	onPost     func(gameID string, id MessageID)
	onFault    func(error)
}

// Option configures a Service.
type Option func(*Service)

func WithAuthorizer(a Authorizer) Option {
	return func(s *Service) {
		s.authorizer = a
	}
}

func WithTracker(t Tracker) Option {
	return func(s *Service) {
		s.tracker = t
	}
}

// WithPostHook registers fn to run after every successful post, outside
// of the log lock.
func WithPostHook(fn func(gameID string, id MessageID)) Option {
	return func(s *Service) {
		s.onPost = fn
	}
}

// WithFaultHandler receives tracker and post hook failures, which are
// otherwise swallowed.
func WithFaultHandler(fn func(error)) Option {
	return func(s *Service) {
		s.onFault = fn
	}
}

func NewService(opts ...Option) *Service {
	s := &Service{
		authorizer: OwnerAuthorizer,
		tracker:    nopTracker{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authorize resolves claimedPlayerID in game, checks that caller owns it,
// and records the access. Spectators of the game are refused as not
// authorized rather than not found.
func (s *Service) Authorize(game Game, claimedPlayerID, caller, address string) (Player, error) {
	player, err := s.resolve(game, claimedPlayerID, caller)
	if err != nil {
		return Player{}, err
	}

	s.track(claimedPlayerID, address)

	return player, nil
}

func (s *Service) resolve(game Game, claimedPlayerID, caller string) (Player, error) {
	if game == nil {
		return Player{}, ErrNotFound
	}

	player, ok := game.Player(claimedPlayerID)
	if !ok {
		if game.IsSpectator(claimedPlayerID) {
			return Player{}, ErrNotAuthorized
		}
		return Player{}, ErrNotFound
	}

	if !s.authorizer.Authorize(player, caller) {
		return Player{}, ErrNotAuthorized
	}

	return player, nil
}

// FetchMessages returns the messages after since, along with the log's
// current position and size.
func (s *Service) FetchMessages(game Game, claimedPlayerID, caller, address string, since MessageID) (Page, error) {
	if _, err := s.Authorize(game, claimedPlayerID, caller, address); err != nil {
		return Page{}, err
	}

	log := game.Chat()
	messages, last, total := log.snapshot(since)

	return Page{
		Messages:      messages,
		LastMessageID: last,
		TotalMessages: total,
		MaxMessages:   log.Cap(),
	}, nil
}

// PostMessage validates raw and appends it to the game's log. raw is the
// decoded "message" field and may be of any JSON type.
func (s *Service) PostMessage(game Game, claimedPlayerID, caller, address string, raw any) (MessageID, error) {
	player, err := s.resolve(game, claimedPlayerID, caller)
	if err != nil {
		return 0, err
	}

	body, err := ValidateBody(raw)
	if err != nil {
		return 0, err
	}

	s.track(claimedPlayerID, address)

	id := game.Chat().Append(player.ID, player.Name, body)

	s.notify(game.ID(), id)

	return id, nil
}

// track records the access. A failing tracker never fails the request.
func (s *Service) track(playerID, address string) {
	defer func() {
		if r := recover(); r != nil {
			s.fault(fmt.Errorf("tracker for %s: %v", playerID, r))
		}
	}()

	s.tracker.Record(playerID, address)
}

// notify runs the post hook. The message is already stored, so a failing
// hook cannot undo the post.
func (s *Service) notify(gameID string, id MessageID) {
	if s.onPost == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.fault(fmt.Errorf("post hook for %s in %s: %v", id, gameID, r))
		}
	}()

	s.onPost(gameID, id)
}

func (s *Service) fault(err error) {
	if s.onFault != nil {
		s.onFault(err)
	}
}

// ValidateBody returns the trimmed message text, or an invalid input error
// naming what is wrong with it.
func ValidateBody(raw any) (string, error) {
	text, ok := raw.(string)
	if !ok || text == "" {
		return "", invalidInput("invalid message")
	}

	text = strings.TrimSpace(text)
	switch n := utf8.RuneCountInString(text); {
	case n == 0:
		return "", invalidInput("empty message")
	case n > MaxBodyLength:
		return "", invalidInput("message too long")
	}

	return text, nil
}
