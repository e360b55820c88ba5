/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package chat

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RetentionCap is the number of messages a game keeps before evicting the oldest.
const RetentionCap = 200

// MessageID identifies a message within one game. The zero value means
// "no message" and is never assigned.
type MessageID uint64

func (id MessageID) String() string {
	if id == 0 {
		return ""
	}
	return "m" + strconv.FormatUint(uint64(id), 10)
}

func (id MessageID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *MessageID) UnmarshalText(text []byte) error {
	parsed, err := ParseMessageID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseMessageID parses the "m<n>" form produced by MessageID.String. An
// empty string parses to the zero id.
func ParseMessageID(s string) (MessageID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(s, "m"), 10, 64)
	if err != nil || !strings.HasPrefix(s, "m") {
		return 0, fmt.Errorf("invalid message id %q", s)
	}
	return MessageID(n), nil
}

// Message is a single chat line. PlayerName is copied from the player at
// post time and is not updated if the player is renamed later.
type Message struct {
	ID         MessageID `json:"id"`
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	Body       string    `json:"message"`
	PostedAt   time.Time `json:"-"`
	Timestamp  int64     `json:"timestamp"`
}

// Log is the bounded, ordered chat history of one game.
type Log struct {
	mu       sync.RWMutex
	capacity int
	nextID   MessageID
	messages []Message
	now      func() time.Time
}

// NewLog returns an empty log holding at most capacity messages. A
// non-positive capacity falls back to RetentionCap.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = RetentionCap
	}
	return &Log{
		capacity: capacity,
		messages: make([]Message, 0, capacity),
		now:      time.Now,
	}
}

// Append stores a message and returns its id. Callers validate the body.
func (l *Log) Append(playerID, playerName, body string) MessageID {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++

	postedAt := l.now().UTC()
	if n := len(l.messages); n > 0 && postedAt.Before(l.messages[n-1].PostedAt) {
		postedAt = l.messages[n-1].PostedAt
	}

	l.messages = append(l.messages, Message{
		ID:         l.nextID,
		PlayerID:   playerID,
		PlayerName: playerName,
		Body:       body,
		PostedAt:   postedAt,
		Timestamp:  postedAt.UnixMilli(),
	})

	if over := len(l.messages) - l.capacity; over > 0 {
		l.messages = append(l.messages[:0], l.messages[over:]...)
	}

	return l.nextID
}

// Since returns the retained messages with an id greater than cursor,
// oldest first. A zero cursor, or one that has already been evicted,
// returns everything still retained.
func (l *Log) Since(cursor MessageID) []Message {
	messages, _, _ := l.snapshot(cursor)
	return messages
}

// LastID returns the id of the newest message, or zero if nothing was posted.
func (l *Log) LastID() MessageID {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.nextID
}

// Len is the number of retained messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.messages)
}

func (l *Log) Cap() int {
	return l.capacity
}

// snapshot reads messages, last id and count under one lock so a page is
// internally consistent.
func (l *Log) snapshot(cursor MessageID) ([]Message, MessageID, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := 0
	if cursor != 0 {
		start = len(l.messages)
		for i, m := range l.messages {
			if m.ID > cursor {
				start = i
				break
			}
		}
	}

	out := make([]Message, len(l.messages)-start)
	copy(out, l.messages[start:])
	return out, l.nextID, len(l.messages)
}
