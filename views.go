/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Seednode/tabletop/games"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	maxFormBytes = 16 << 10
	qrSize       = 320
)

type seatResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type createGameRequest struct {
	Players []struct {
		Name string `json:"name"`
	} `json:"players"`
}

type createGameResponse struct {
	ID          string         `json:"id"`
	SpectatorID string         `json:"spectatorId"`
	Players     []seatResponse `json:"players"`
}

type phaseRequest struct {
	Phase string `json:"phase"`
}

type renameRequest struct {
	Name string `json:"name"`
}

func decodeForm(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// servePlayerView returns the player's view. The first caller to open a
// seat owns it from then on.
func (s *server) servePlayerView() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		playerID := r.URL.Query().Get("id")
		if !games.IsPlayerID(playerID) {
			http.Error(w, "invalid player id", http.StatusBadRequest)
			return
		}

		game, err := s.games.Resolve(r.Context(), playerID)
		if err != nil {
			writeResolveError(w, err, playerID)
			return
		}

		caller := getOrSetIdentity(s.cfg, w, r)
		if !game.Claim(playerID, caller) {
			http.Error(w, "not authorized", http.StatusForbidden)
			return
		}

		view, ok := game.PlayerView(playerID)
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		s.tracker.Record(playerID, sourceAddress(r))

		writeJSON(s.cfg, w, http.StatusOK, view)
	}
}

func (s *server) serveSpectatorView() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		spectatorID := r.URL.Query().Get("id")
		if !games.IsSpectatorID(spectatorID) {
			http.Error(w, "invalid spectator id", http.StatusBadRequest)
			return
		}

		game, err := s.games.Resolve(r.Context(), spectatorID)
		if err != nil {
			writeResolveError(w, err, spectatorID)
			return
		}

		s.tracker.Record(spectatorID, sourceAddress(r))

		writeJSON(s.cfg, w, http.StatusOK, game.SpectatorView())
	}
}

// serveCreateGame starts a game and seats the creator as host.
func (s *server) serveCreateGame() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req createGameRequest
		if !decodeForm(w, r, &req) {
			return
		}

		names := make([]string, 0, len(req.Players))
		for _, p := range req.Players {
			names = append(names, p.Name)
		}

		game, err := s.games.Create(names)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		seats := game.Seats()

		caller := getOrSetIdentity(s.cfg, w, r)
		game.Claim(seats[0].ID, caller)

		resp := createGameResponse{
			ID:          game.ID(),
			SpectatorID: game.SpectatorID(),
			Players:     make([]seatResponse, 0, len(seats)),
		}
		for _, seat := range seats {
			resp.Players = append(resp.Players, seatResponse{ID: seat.ID, Name: seat.Name})
		}

		writeJSON(s.cfg, w, http.StatusCreated, resp)

		logf(s.cfg, "GAMES: Created game %s with %d players for %s", game.ID(), len(seats), realIP(r))
	}
}

// servePhase lets the host move the game along. An ended game stays ended.
func (s *server) servePhase() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		playerID := r.URL.Query().Get("id")
		if !games.IsPlayerID(playerID) {
			http.Error(w, "invalid player id", http.StatusBadRequest)
			return
		}

		game, err := s.games.Resolve(r.Context(), playerID)
		if err != nil {
			writeResolveError(w, err, playerID)
			return
		}

		if _, err := s.chat.Authorize(game, playerID, identity(r), sourceAddress(r)); err != nil {
			writeChatError(w, err, playerID, "unable to change phase")
			return
		}
		if !game.IsHost(playerID) {
			http.Error(w, "only the host can change the phase", http.StatusForbidden)
			return
		}

		var req phaseRequest
		if !decodeForm(w, r, &req) {
			return
		}

		phase, err := games.ParsePhase(req.Phase)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if !game.SetPhase(phase) {
			http.Error(w, "game has ended", http.StatusConflict)
			return
		}

		writeJSON(s.cfg, w, http.StatusOK, phaseRequest{Phase: string(phase)})

		logf(s.cfg, "GAMES: Game %s moved to %s", game.ID(), phase)
	}
}

// serveRename changes the caller's display name. Earlier messages keep
// the name they were posted under.
func (s *server) serveRename() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		playerID := r.URL.Query().Get("id")
		if !games.IsPlayerID(playerID) {
			http.Error(w, "invalid player id", http.StatusBadRequest)
			return
		}

		game, err := s.games.Resolve(r.Context(), playerID)
		if err != nil {
			writeResolveError(w, err, playerID)
			return
		}

		if _, err := s.chat.Authorize(game, playerID, identity(r), sourceAddress(r)); err != nil {
			writeChatError(w, err, playerID, "unable to rename player")
			return
		}

		var req renameRequest
		if !decodeForm(w, r, &req) {
			return
		}

		name := strings.TrimSpace(req.Name)
		switch {
		case name == "":
			http.Error(w, "empty name", http.StatusBadRequest)
			return
		case utf8.RuneCountInString(name) > games.MaxNameLength:
			http.Error(w, "name too long", http.StatusBadRequest)
			return
		}

		game.Rename(playerID, name)
		game.Touch()

		writeJSON(s.cfg, w, http.StatusOK, seatResponse{ID: playerID, Name: name})
	}
}

// serveQR renders a share code for the player or spectator page of id.
func (s *server) serveQR() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		id, ok := participantParam(w, r)
		if !ok {
			return
		}

		if _, err := s.games.Resolve(r.Context(), id); err != nil {
			writeResolveError(w, err, id)
			return
		}

		page := "/player"
		if games.IsSpectatorID(id) {
			page = "/spectator"
		}

		png, err := qrcode.Encode(shareURL(s.cfg, r, page, id), qrcode.Medium, qrSize)
		if err != nil {
			errorf("qr for %s: %v", id, err)
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(s.cfg, w)

		written, err := w.Write(png)
		if err != nil {
			s.errs <- err

			return
		}

		logf(s.cfg, "SERVE: QR code (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// shareURL respects TLS and X-Forwarded-Proto when picking the scheme.
func shareURL(cfg *Config, r *http.Request, page, id string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	return scheme + "://" + r.Host + cfg.prefix + page + "?id=" + id
}
