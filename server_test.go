package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Seednode/tabletop/chat"
	"github.com/Seednode/tabletop/games"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		bind:       "127.0.0.1",
		port:       8080,
		chatBurst:  5,
		auditQueue: 64,
	}
}

func newTestServer(t *testing.T, cfg *Config, opts ...func(*server)) (*server, *httptest.Server) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	s, err := newServer(ctx, cfg)
	require.NoError(t, err)

	for _, opt := range opts {
		opt(s)
	}

	ts := httptest.NewServer(s.router())

	t.Cleanup(func() {
		s.hub.closeAll()
		ts.Close()
		s.close()
		cancel()
	})

	return s, ts
}

// newBrowser is a client with its own cookie jar, i.e. its own identity.
func newBrowser(t *testing.T) *http.Client {
	t.Helper()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r response) text() string {
	return strings.TrimSpace(string(r.body))
}

func do(t *testing.T, c *http.Client, method, target string, body any) response {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return response{status: resp.StatusCode, header: resp.Header, body: data}
}

func createGame(t *testing.T, c *http.Client, base string, names ...string) createGameResponse {
	t.Helper()

	req := map[string]any{}
	players := make([]map[string]string, 0, len(names))
	for _, name := range names {
		players = append(players, map[string]string{"name": name})
	}
	req["players"] = players

	resp := do(t, c, http.MethodPost, base+"/api/creategame", req)
	require.Equal(t, http.StatusCreated, resp.status, resp.text())

	var created createGameResponse
	require.NoError(t, json.Unmarshal(resp.body, &created))
	require.Len(t, created.Players, len(names))

	return created
}

type chatPage struct {
	Messages []struct {
		ID         string `json:"id"`
		PlayerID   string `json:"playerId"`
		PlayerName string `json:"playerName"`
		Message    string `json:"message"`
		Timestamp  int64  `json:"timestamp"`
	} `json:"messages"`
	LastMessageID string `json:"lastMessageId"`
	TotalMessages int    `json:"totalMessages"`
	MaxMessages   int    `json:"maxMessages"`
}

func fetchChat(t *testing.T, c *http.Client, base, playerID, since string) (response, chatPage) {
	t.Helper()

	q := url.Values{"id": {playerID}}
	if since != "" {
		q.Set("since", since)
	}

	resp := do(t, c, http.MethodGet, base+"/api/chat?"+q.Encode(), nil)

	var page chatPage
	if resp.status == http.StatusOK {
		require.NoError(t, json.Unmarshal(resp.body, &page))
	}
	return resp, page
}

func postChat(t *testing.T, c *http.Client, base, playerID string, body any) response {
	t.Helper()

	return do(t, c, http.MethodPost, base+"/api/chat?id="+url.QueryEscape(playerID), body)
}

func TestChatRoundTrip(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	host := newBrowser(t)

	game := createGame(t, host, ts.URL, "Ann", "Bob")
	ann := game.Players[0]

	resp, page := fetchChat(t, host, ts.URL, ann.ID, "")
	require.Equal(t, http.StatusOK, resp.status)
	assert.Empty(t, page.Messages)
	assert.Equal(t, "", page.LastMessageID)
	assert.Equal(t, 200, page.MaxMessages)

	resp = postChat(t, host, ts.URL, ann.ID, map[string]any{"message": "  gg  "})
	require.Equal(t, http.StatusOK, resp.status, resp.text())

	var posted postChatResponse
	require.NoError(t, json.Unmarshal(resp.body, &posted))
	assert.True(t, posted.Success)
	assert.Equal(t, "m1", posted.MessageID.String())

	resp, page = fetchChat(t, host, ts.URL, ann.ID, "")
	require.Equal(t, http.StatusOK, resp.status)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "m1", page.Messages[0].ID)
	assert.Equal(t, ann.ID, page.Messages[0].PlayerID)
	assert.Equal(t, "Ann", page.Messages[0].PlayerName)
	assert.Equal(t, "gg", page.Messages[0].Message)
	assert.NotZero(t, page.Messages[0].Timestamp)
	assert.Equal(t, "m1", page.LastMessageID)
	assert.Equal(t, 1, page.TotalMessages)

	_, page = fetchChat(t, host, ts.URL, ann.ID, "m1")
	assert.Empty(t, page.Messages)
	assert.Equal(t, "m1", page.LastMessageID)

	_, page = fetchChat(t, host, ts.URL, ann.ID, "not-a-cursor")
	assert.Len(t, page.Messages, 1)
}

func TestChatRequestValidation(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	c := newBrowser(t)

	resp := do(t, c, http.MethodGet, ts.URL+"/api/chat", nil)
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, "missing id parameter", resp.text())

	resp, _ = fetchChat(t, c, ts.URL, "bogus", "")
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, "invalid player id", resp.text())

	resp, _ = fetchChat(t, c, ts.URL, games.NewPlayerID(), "")
	assert.Equal(t, http.StatusNotFound, resp.status)

	resp = postChat(t, c, ts.URL, games.NewPlayerID(), map[string]any{"message": "hi"})
	assert.Equal(t, http.StatusNotFound, resp.status)
}

func TestChatRejectsImpersonation(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	host := newBrowser(t)
	stranger := newBrowser(t)

	game := createGame(t, host, ts.URL, "Ann", "Bob")
	ann := game.Players[0]

	resp := postChat(t, stranger, ts.URL, ann.ID, map[string]any{"message": "gg"})
	assert.Equal(t, http.StatusForbidden, resp.status)
	assert.Equal(t, "not authorized", resp.text())

	resp, _ = fetchChat(t, stranger, ts.URL, ann.ID, "")
	assert.Equal(t, http.StatusForbidden, resp.status)

	_, page := fetchChat(t, host, ts.URL, ann.ID, "")
	assert.Empty(t, page.Messages)
}

func TestChatRefusesUnclaimedSeatAndSpectator(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	host := newBrowser(t)

	game := createGame(t, host, ts.URL, "Ann", "Bob")

	resp := postChat(t, host, ts.URL, game.Players[1].ID, map[string]any{"message": "gg"})
	assert.Equal(t, http.StatusForbidden, resp.status)

	resp = postChat(t, host, ts.URL, game.SpectatorID, map[string]any{"message": "gg"})
	assert.Equal(t, http.StatusForbidden, resp.status)

	resp, _ = fetchChat(t, host, ts.URL, game.SpectatorID, "")
	assert.Equal(t, http.StatusForbidden, resp.status)
}

func TestChatBodyValidation(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	host := newBrowser(t)

	game := createGame(t, host, ts.URL, "Ann")
	ann := game.Players[0]

	tests := []struct {
		name string
		body any
		want string
	}{
		{name: "number", body: map[string]any{"message": 5}, want: "invalid message"},
		{name: "missing", body: map[string]any{}, want: "invalid message"},
		{name: "malformed json", body: `{"message":`, want: "invalid message"},
		{name: "blank", body: map[string]any{"message": "   "}, want: "empty message"},
		{name: "too long", body: map[string]any{"message": strings.Repeat("a", 501)}, want: "message too long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postChat(t, host, ts.URL, ann.ID, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.status)
			assert.Equal(t, tt.want, resp.text())
		})
	}

	resp := postChat(t, host, ts.URL, ann.ID, map[string]any{"message": strings.Repeat("a", 500)})
	assert.Equal(t, http.StatusOK, resp.status)

	_, page := fetchChat(t, host, ts.URL, ann.ID, "")
	assert.Len(t, page.Messages, 1)
}

func TestChatRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.chatRate = 0.001
	cfg.chatBurst = 2

	_, ts := newTestServer(t, cfg)
	host := newBrowser(t)

	game := createGame(t, host, ts.URL, "Ann")
	ann := game.Players[0]

	for i := 0; i < 2; i++ {
		resp := postChat(t, host, ts.URL, ann.ID, map[string]any{"message": "hi"})
		require.Equal(t, http.StatusOK, resp.status)
	}

	resp := postChat(t, host, ts.URL, ann.ID, map[string]any{"message": "hi"})
	assert.Equal(t, http.StatusTooManyRequests, resp.status)
	assert.Equal(t, "too many messages", resp.text())
}

func TestPlayerViewClaimsSeat(t *testing.T) {
	s, ts := newTestServer(t, testConfig())
	host := newBrowser(t)
	bob := newBrowser(t)
	mallory := newBrowser(t)

	game := createGame(t, host, ts.URL, "Ann", "Bob")
	bobID := game.Players[1].ID

	resp := do(t, bob, http.MethodGet, ts.URL+"/api/player?id="+bobID, nil)
	require.Equal(t, http.StatusOK, resp.status, resp.text())

	var view games.PlayerViewModel
	require.NoError(t, json.Unmarshal(resp.body, &view))
	assert.Equal(t, bobID, view.ID)
	assert.Equal(t, games.PhaseLobby, view.Game.Phase)
	assert.Equal(t, "Bob", view.ThisPlayer.Name)
	assert.False(t, view.ThisPlayer.Host)
	assert.Len(t, view.Players, 2)

	resp = do(t, mallory, http.MethodGet, ts.URL+"/api/player?id="+bobID, nil)
	assert.Equal(t, http.StatusForbidden, resp.status)

	resp = postChat(t, bob, ts.URL, bobID, map[string]any{"message": "hello"})
	assert.Equal(t, http.StatusOK, resp.status)

	resp = do(t, bob, http.MethodGet, ts.URL+"/api/player?id="+game.SpectatorID, nil)
	assert.Equal(t, http.StatusBadRequest, resp.status)

	s.tracker.Close()
	seen, err := s.store.Participants(context.Background(), bobID)
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, bobID, seen[0].Identity)
	assert.Equal(t, "127.0.0.1", seen[0].Address)
}

func TestParticipantsListing(t *testing.T) {
	cfg := testConfig()
	cfg.profile = true

	s, ts := newTestServer(t, cfg)
	host := newBrowser(t)

	game := createGame(t, host, ts.URL, "Ann")
	annID := game.Players[0].ID

	require.Equal(t, http.StatusOK, postChat(t, host, ts.URL, annID, map[string]any{"message": "hi"}).status)
	s.tracker.Close()

	resp := do(t, host, http.MethodGet, ts.URL+"/pprof/participants?id="+annID, nil)
	require.Equal(t, http.StatusOK, resp.status, resp.text())

	var seen []struct {
		Identity string `json:"identity"`
		Address  string `json:"address"`
		Hits     int64  `json:"hits"`
	}
	require.NoError(t, json.Unmarshal(resp.body, &seen))
	require.Len(t, seen, 1)
	assert.Equal(t, annID, seen[0].Identity)
	assert.Equal(t, "127.0.0.1", seen[0].Address)
	assert.Positive(t, seen[0].Hits)

	resp = do(t, host, http.MethodGet, ts.URL+"/pprof/participants?id="+games.NewPlayerID(), nil)
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "[]", resp.text())

	resp = do(t, host, http.MethodGet, ts.URL+"/pprof/participants", nil)
	assert.Equal(t, http.StatusBadRequest, resp.status)
}

func TestChatPanicIsInternalFault(t *testing.T) {
	var logged bytes.Buffer
	log.SetOutput(&logged)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	_, ts := newTestServer(t, testConfig(), func(s *server) {
		s.chat = chat.NewService(chat.WithAuthorizer(chat.AuthorizerFunc(func(chat.Player, string) bool {
			panic("authorizer exploded")
		})))
	})
	host := newBrowser(t)

	game := createGame(t, host, ts.URL, "Ann")
	annID := game.Players[0].ID

	resp, _ := fetchChat(t, host, ts.URL, annID, "")
	assert.Equal(t, http.StatusInternalServerError, resp.status)
	assert.Equal(t, "unable to read messages", resp.text())

	resp = postChat(t, host, ts.URL, annID, map[string]any{"message": "hi"})
	assert.Equal(t, http.StatusInternalServerError, resp.status)
	assert.Equal(t, "unable to send message", resp.text())

	out := logged.String()
	assert.Contains(t, out, "chat for player "+annID)
	assert.Contains(t, out, "authorizer exploded")
}

func TestChatSocketSkipsEndedGame(t *testing.T) {
	s, ts := newTestServer(t, testConfig())
	host := newBrowser(t)

	live := createGame(t, host, ts.URL, "Ann")
	c := &wsClient{send: make(chan chatNotice, 1), playerID: live.Players[0].ID}
	require.True(t, s.joinLive(live.ID, c))
	assert.Equal(t, 1, s.hub.clients(live.ID))
	s.hub.leave(live.ID, c)

	// A game the manager no longer holds, as after a reap.
	ended, err := games.NewManager(context.Background(), 0, nil).Create([]string{"Bob"})
	require.NoError(t, err)

	late := &wsClient{send: make(chan chatNotice, 1), playerID: ended.SpectatorID()}
	assert.False(t, s.joinLive(ended.ID(), late))
	assert.Equal(t, 0, s.hub.clients(ended.ID()))

	_, open := <-late.send
	assert.False(t, open)
}

func TestSpectatorView(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	host := newBrowser(t)
	viewer := newBrowser(t)

	game := createGame(t, host, ts.URL, "Ann", "Bob")

	resp := do(t, viewer, http.MethodGet, ts.URL+"/api/spectator?id="+game.SpectatorID, nil)
	require.Equal(t, http.StatusOK, resp.status)

	var view games.SpectatorViewModel
	require.NoError(t, json.Unmarshal(resp.body, &view))
	assert.Equal(t, game.SpectatorID, view.ID)
	assert.Equal(t, game.ID, view.Game.ID)
	assert.Len(t, view.Players, 2)

	resp = do(t, viewer, http.MethodGet, ts.URL+"/api/spectator?id="+game.Players[0].ID, nil)
	assert.Equal(t, http.StatusBadRequest, resp.status)

	resp = do(t, viewer, http.MethodGet, ts.URL+"/api/spectator?id="+games.NewSpectatorID(), nil)
	assert.Equal(t, http.StatusNotFound, resp.status)
}

func TestCreateGameValidation(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	c := newBrowser(t)

	resp := do(t, c, http.MethodPost, ts.URL+"/api/creategame", `{"players":`)
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, "invalid request body", resp.text())

	resp = do(t, c, http.MethodPost, ts.URL+"/api/creategame", map[string]any{"players": []any{}})
	assert.Equal(t, http.StatusBadRequest, resp.status)

	resp = do(t, c, http.MethodPost, ts.URL+"/api/creategame", map[string]any{
		"players": []map[string]string{{"name": " "}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.status)
}

func TestPhaseChanges(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	host := newBrowser(t)
	bob := newBrowser(t)

	game := createGame(t, host, ts.URL, "Ann", "Bob")
	annID, bobID := game.Players[0].ID, game.Players[1].ID

	do(t, bob, http.MethodGet, ts.URL+"/api/player?id="+bobID, nil)

	setPhase := func(c *http.Client, id, phase string) response {
		return do(t, c, http.MethodPost, ts.URL+"/api/phase?id="+id, map[string]string{"phase": phase})
	}

	assert.Equal(t, http.StatusForbidden, setPhase(bob, bobID, "action").status)
	assert.Equal(t, http.StatusForbidden, setPhase(bob, annID, "action").status)
	assert.Equal(t, http.StatusBadRequest, setPhase(host, annID, "bogus").status)
	assert.Equal(t, http.StatusOK, setPhase(host, annID, "action").status)
	assert.Equal(t, http.StatusOK, setPhase(host, annID, "end").status)
	assert.Equal(t, http.StatusConflict, setPhase(host, annID, "lobby").status)

	resp := do(t, bob, http.MethodGet, ts.URL+"/api/player?id="+bobID, nil)
	var view games.PlayerViewModel
	require.NoError(t, json.Unmarshal(resp.body, &view))
	assert.Equal(t, games.PhaseEnd, view.Game.Phase)
}

func TestRenameKeepsPostedNames(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	host := newBrowser(t)

	game := createGame(t, host, ts.URL, "Ann")
	annID := game.Players[0].ID

	require.Equal(t, http.StatusOK, postChat(t, host, ts.URL, annID, map[string]any{"message": "first"}).status)

	rename := func(c *http.Client, name string) response {
		return do(t, c, http.MethodPost, ts.URL+"/api/rename?id="+annID, map[string]string{"name": name})
	}

	assert.Equal(t, http.StatusForbidden, rename(newBrowser(t), "Mallory").status)
	assert.Equal(t, http.StatusBadRequest, rename(host, "  ").status)
	assert.Equal(t, http.StatusBadRequest, rename(host, strings.Repeat("x", games.MaxNameLength+1)).status)
	assert.Equal(t, http.StatusOK, rename(host, "Annie").status)

	require.Equal(t, http.StatusOK, postChat(t, host, ts.URL, annID, map[string]any{"message": "second"}).status)

	_, page := fetchChat(t, host, ts.URL, annID, "")
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "Ann", page.Messages[0].PlayerName)
	assert.Equal(t, "Annie", page.Messages[1].PlayerName)
}

func TestQRCode(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	host := newBrowser(t)

	game := createGame(t, host, ts.URL, "Ann")

	resp := do(t, host, http.MethodGet, ts.URL+"/api/qr?id="+game.SpectatorID, nil)
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "image/png", resp.header.Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(resp.body, []byte("\x89PNG")))

	resp = do(t, host, http.MethodGet, ts.URL+"/api/qr?id="+games.NewPlayerID(), nil)
	assert.Equal(t, http.StatusNotFound, resp.status)
}

func TestShareURL(t *testing.T) {
	cfg := testConfig()
	cfg.prefix = "/tt"

	r := httptest.NewRequest(http.MethodGet, "http://example.com/tt/api/qr?id=x", nil)
	assert.Equal(t, "http://example.com/tt/player?id=p1", shareURL(cfg, r, "/player", "p1"))

	r.Header.Set("X-Forwarded-Proto", "https")
	assert.Equal(t, "https://example.com/tt/spectator?id=s1", shareURL(cfg, r, "/spectator", "s1"))
}

func TestChatSocketNotifiesOnPost(t *testing.T) {
	s, ts := newTestServer(t, testConfig())
	host := newBrowser(t)

	game := createGame(t, host, ts.URL, "Ann")
	annID := game.Players[0].ID

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)

	header := http.Header{}
	for _, c := range host.Jar.Cookies(u) {
		header.Add("Cookie", c.String())
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/chat/ws?id=" + annID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return s.hub.clients(game.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusOK, postChat(t, host, ts.URL, annID, map[string]any{"message": "gg"}).status)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var notice struct {
		Type          string `json:"type"`
		LastMessageID string `json:"lastMessageId"`
	}
	require.NoError(t, conn.ReadJSON(&notice))
	assert.Equal(t, "chat", notice.Type)
	assert.Equal(t, "m1", notice.LastMessageID)
}

func TestChatSocketRefusesStranger(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	host := newBrowser(t)

	game := createGame(t, host, ts.URL, "Ann")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/chat/ws?id=" + game.Players[0].ID
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAmbientPages(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	c := newBrowser(t)

	resp := do(t, c, http.MethodGet, ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "Ok", resp.text())

	resp = do(t, c, http.MethodGet, ts.URL+"/version", nil)
	assert.Equal(t, "tabletop v"+releaseVersion, resp.text())

	resp = do(t, c, http.MethodGet, ts.URL+"/robots.txt", nil)
	assert.Contains(t, resp.text(), "Disallow: /api/")
	assert.Equal(t, "nosniff", resp.header.Get("X-Content-Type-Options"))

	resp = do(t, c, http.MethodGet, ts.URL+"/pprof/heap", nil)
	assert.Equal(t, http.StatusNotFound, resp.status)
}
