// File: server/table.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection table keyed by reactor token.

package server

import (
	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/protocol"
)

// Table maps live tokens to their connections. It is owned by the event
// loop goroutine and is not safe for concurrent use.
type Table struct {
	conns map[api.Token]*protocol.Connection
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{conns: make(map[api.Token]*protocol.Connection)}
}

// Insert adds c under its token. A token that is already present is
// rejected with api.ErrAlreadyExists.
func (t *Table) Insert(c *protocol.Connection) error {
	if _, ok := t.conns[c.Token()]; ok {
		return api.ErrAlreadyExists
	}
	t.conns[c.Token()] = c
	return nil
}

// Get looks a connection up.
func (t *Table) Get(tok api.Token) (*protocol.Connection, bool) {
	c, ok := t.conns[tok]
	return c, ok
}

// Remove deletes and returns the connection stored under tok.
func (t *Table) Remove(tok api.Token) (*protocol.Connection, bool) {
	c, ok := t.conns[tok]
	if ok {
		delete(t.conns, tok)
	}
	return c, ok
}

// Len returns the number of live connections.
func (t *Table) Len() int { return len(t.conns) }

// Range calls fn for every connection until fn returns false. fn may remove
// the connection it is handed.
func (t *Table) Range(fn func(c *protocol.Connection) bool) {
	for _, c := range t.conns {
		if !fn(c) {
			return
		}
	}
}

// CountByState returns the number of connections in each protocol state.
func (t *Table) CountByState() map[string]int {
	out := make(map[string]int)
	for _, c := range t.conns {
		out[c.State().String()]++
	}
	return out
}
