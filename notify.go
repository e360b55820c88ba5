package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/Seednode/tabletop/chat"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	noticeBuffer = 8
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// chatNotice tells a client to fetch new messages.
type chatNotice struct {
	Type          string         `json:"type"`
	LastMessageID chat.MessageID `json:"lastMessageId"`
}

type wsClient struct {
	conn     *websocket.Conn
	send     chan chatNotice
	playerID string
}

// notifier fans chat notices out to the sockets open on each game.
type notifier struct {
	cfg *Config

	mu    sync.Mutex
	rooms map[string]map[*wsClient]struct{}
}

func newNotifier(cfg *Config) *notifier {
	return &notifier{
		cfg:   cfg,
		rooms: make(map[string]map[*wsClient]struct{}),
	}
}

func (n *notifier) join(gameID string, c *wsClient) {
	n.mu.Lock()
	defer n.mu.Unlock()

	room, ok := n.rooms[gameID]
	if !ok {
		room = make(map[*wsClient]struct{})
		n.rooms[gameID] = room
	}
	room[c] = struct{}{}
}

func (n *notifier) leave(gameID string, c *wsClient) {
	n.mu.Lock()
	defer n.mu.Unlock()

	room, ok := n.rooms[gameID]
	if !ok {
		return
	}
	if _, ok := room[c]; !ok {
		return
	}

	delete(room, c)
	close(c.send)

	if len(room) == 0 {
		delete(n.rooms, gameID)
	}
}

// notifyChat never blocks: a client whose buffer is full misses the notice
// and catches up on its next fetch.
func (n *notifier) notifyChat(gameID string, id chat.MessageID) {
	notice := chatNotice{Type: "chat", LastMessageID: id}

	n.mu.Lock()
	defer n.mu.Unlock()

	for c := range n.rooms[gameID] {
		select {
		case c.send <- notice:
		default:
			logf(n.cfg, "CHAT: Dropped notice for player %s in game %s", c.playerID, gameID)
		}
	}
}

// closeGame disconnects every client of gameID.
func (n *notifier) closeGame(gameID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for c := range n.rooms[gameID] {
		close(c.send)
		_ = c.conn.Close()
	}
	delete(n.rooms, gameID)
}

func (n *notifier) closeAll() {
	n.mu.Lock()
	ids := make([]string, 0, len(n.rooms))
	for id := range n.rooms {
		ids = append(ids, id)
	}
	n.mu.Unlock()

	for _, id := range ids {
		n.closeGame(id)
	}
}

func (n *notifier) clients(gameID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.rooms[gameID])
}

// readPump only watches for the socket closing; clients send nothing the
// server acts on.
func (c *wsClient) readPump(n *notifier, gameID string) {
	defer func() {
		n.leave(gameID, c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case notice, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(notice); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// joinLive adds c to the room for gameID unless the game has already been
// reaped, in which case nothing would ever close the room.
func (s *server) joinLive(gameID string, c *wsClient) bool {
	s.hub.join(gameID, c)

	if _, ok := s.games.Get(gameID); !ok {
		s.hub.leave(gameID, c)
		return false
	}
	return true
}

// serveChatSocket upgrades an authorized player to a notice stream for
// their game.
func (s *server) serveChatSocket() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		playerID, ok := participantParam(w, r)
		if !ok {
			return
		}

		game, err := s.games.Resolve(r.Context(), playerID)
		if err != nil {
			writeResolveError(w, err, playerID)
			return
		}

		if _, err := s.chat.Authorize(game, playerID, identity(r), sourceAddress(r)); err != nil {
			writeChatError(w, err, playerID, "unable to open chat")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(s.cfg, "CHAT: Upgrade for player %s failed: %v", playerID, err)
			return
		}

		client := &wsClient{
			conn:     conn,
			send:     make(chan chatNotice, noticeBuffer),
			playerID: playerID,
		}

		if !s.joinLive(game.ID(), client) {
			logf(s.cfg, "CHAT: Game %s ended before player %s connected", game.ID(), playerID)
			_ = conn.Close()
			return
		}

		logf(s.cfg, "CHAT: Player %s connected to game %s from %s", playerID, game.ID(), realIP(r))

		go client.writePump()
		client.readPump(s.hub, game.ID())
	}
}
