package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Seednode/tabletop/chat"
	"github.com/Seednode/tabletop/games"
	"github.com/julienschmidt/httprouter"
)

const maxChatBodyBytes = 16 << 10

type postChatRequest struct {
	Message any `json:"message"`
}

type postChatResponse struct {
	Success   bool           `json:"success"`
	MessageID chat.MessageID `json:"messageId"`
}

// participantParam reads the id query parameter. Spectator ids pass here
// so the chat service can refuse them with 403.
func participantParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing id parameter", http.StatusBadRequest)
		return "", false
	}
	if !games.IsParticipantID(id) {
		http.Error(w, "invalid player id", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func (s *server) serveChatFetch() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		playerID, ok := participantParam(w, r)
		if !ok {
			return
		}
		defer recoverChat(w, playerID, "unable to read messages")

		game, err := s.games.Resolve(r.Context(), playerID)
		if err != nil {
			writeResolveError(w, err, playerID)
			return
		}

		// An unreadable cursor reads as no cursor.
		since, err := chat.ParseMessageID(r.URL.Query().Get("since"))
		if err != nil {
			since = 0
		}

		caller := getOrSetIdentity(s.cfg, w, r)

		page, err := s.chat.FetchMessages(game, playerID, caller, sourceAddress(r), since)
		if err != nil {
			writeChatError(w, err, playerID, "unable to read messages")
			return
		}

		written := writeJSON(s.cfg, w, http.StatusOK, page)

		logf(s.cfg, "CHAT: Served %d messages (%s) to player %s in %s",
			len(page.Messages),
			humanReadableSize(int64(written)),
			playerID,
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func (s *server) serveChatPost() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		playerID, ok := participantParam(w, r)
		if !ok {
			return
		}
		defer recoverChat(w, playerID, "unable to send message")

		game, err := s.games.Resolve(r.Context(), playerID)
		if err != nil {
			writeResolveError(w, err, playerID)
			return
		}

		caller := getOrSetIdentity(s.cfg, w, r)

		if !s.limiter.allow(caller) {
			http.Error(w, "too many messages", http.StatusTooManyRequests)
			return
		}

		// A body that does not decode carries no message, which the
		// service rejects after checking who is asking.
		var req postChatRequest
		r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			req.Message = nil
		}

		id, err := s.chat.PostMessage(game, playerID, caller, sourceAddress(r), req.Message)
		if err != nil {
			writeChatError(w, err, playerID, "unable to send message")
			return
		}

		game.Touch()

		writeJSON(s.cfg, w, http.StatusOK, postChatResponse{Success: true, MessageID: id})

		logf(s.cfg, "CHAT: Player %s posted %s in game %s from %s",
			playerID,
			id,
			game.ID(),
			realIP(r),
		)
	}
}
