/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package audit records which identities reached a game from which
// network addresses, for later abuse review.
package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Participant is one (identity, address) pair with first and last access.
type Participant struct {
	Identity  string    `json:"identity"`
	Address   string    `json:"address"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
	Hits      int64     `json:"hits"`
}

// Store persists participant records. Record may be slow.
type Store interface {
	Record(identity, address string, at time.Time) error
}

// Lister reads back what a Store recorded for one identity, most recently
// seen first.
type Lister interface {
	Participants(ctx context.Context, identity string) ([]Participant, error)
}

type key struct {
	identity string
	address  string
}

// Memory keeps participant records in process.
type Memory struct {
	mu      sync.Mutex
	entries map[key]*Participant
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[key]*Participant)}
}

func (m *Memory) Record(identity, address string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{identity, address}
	p, ok := m.entries[k]
	if !ok {
		p = &Participant{Identity: identity, Address: address, FirstSeen: at}
		m.entries[k] = p
	}
	p.LastSeen = at
	p.Hits++

	return nil
}

// Participants returns copies of identity's records, ordered like the
// SQLite store's.
func (m *Memory) Participants(ctx context.Context, identity string) ([]Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Participant
	for k, p := range m.entries {
		if k.identity == identity {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].Address < out[j].Address
	})
	return out, nil
}
