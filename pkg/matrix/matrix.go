// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package matrix

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrDuplicateMessage indicates two messages share a frame id.
	ErrDuplicateMessage = errors.New("duplicate message id")

	// ErrDuplicateSignal indicates a signal name is already used in a message.
	ErrDuplicateSignal = errors.New("duplicate signal name")

	// ErrMessageExists indicates an insert targeted an id that is taken.
	ErrMessageExists = errors.New("message already exists")
)

// Matrix is one snapshot of a communication matrix.
//
// Messages are keyed by frame id and the key always equals the message's
// own ID. A name index is kept alongside for lookup by name. Matrix is not
// safe for concurrent mutation; one diff or apply owns it at a time.
type Matrix struct {
	// Version is the VERSION string of the descriptor.
	Version string

	// Nodes lists the declared network nodes.
	Nodes []string

	// Source identifies where the snapshot was loaded from (usually a path).
	Source string

	// LoadedAt is when the snapshot was built.
	LoadedAt time.Time

	messages map[uint32]*Message
	byName   map[string]uint32
}

// New builds a matrix from a message list. Duplicate frame ids are rejected.
func New(version string, nodes []string, messages []*Message) (*Matrix, error) {
	m := &Matrix{
		Version:  version,
		Nodes:    append([]string{}, nodes...),
		LoadedAt: time.Now().UTC(),
		messages: make(map[uint32]*Message, len(messages)),
		byName:   make(map[string]uint32, len(messages)),
	}
	for _, msg := range messages {
		if _, ok := m.messages[msg.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMessage, msg.HexID())
		}
		msg.normalize()
		m.messages[msg.ID] = msg
		m.byName[msg.Name] = msg.ID
	}
	return m, nil
}

// Empty returns a matrix without messages.
func Empty() *Matrix {
	m, _ := New("", nil, nil)
	return m
}

// Len returns the number of messages.
func (m *Matrix) Len() int {
	return len(m.messages)
}

// Message returns the message with the given frame id.
func (m *Matrix) Message(id uint32) (*Message, bool) {
	msg, ok := m.messages[id]
	return msg, ok
}

// MessageByName returns the message with the given name.
func (m *Matrix) MessageByName(name string) (*Message, bool) {
	if id, ok := m.byName[name]; ok {
		if msg, ok := m.messages[id]; ok && msg.Name == name {
			return msg, true
		}
	}
	// The index goes stale when a caller renames a message in place.
	for _, id := range m.IDs() {
		if msg := m.messages[id]; msg.Name == name {
			m.byName[name] = id
			return msg, true
		}
	}
	return nil, false
}

// IDs returns all frame ids in ascending order.
func (m *Matrix) IDs() []uint32 {
	ids := make([]uint32, 0, len(m.messages))
	for id := range m.messages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Messages returns all messages ordered by frame id.
func (m *Matrix) Messages() []*Message {
	ids := m.IDs()
	out := make([]*Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.messages[id])
	}
	return out
}

// Put stores msg under its own id, replacing any message already there.
func (m *Matrix) Put(msg *Message) {
	if m.messages == nil {
		m.messages = map[uint32]*Message{}
		m.byName = map[string]uint32{}
	}
	if prev, ok := m.messages[msg.ID]; ok && m.byName[prev.Name] == msg.ID {
		delete(m.byName, prev.Name)
	}
	msg.normalize()
	m.messages[msg.ID] = msg
	m.byName[msg.Name] = msg.ID
}

// Delete removes the message with the given id and reports whether it existed.
func (m *Matrix) Delete(id uint32) bool {
	msg, ok := m.messages[id]
	if !ok {
		return false
	}
	delete(m.messages, id)
	if m.byName[msg.Name] == id {
		delete(m.byName, msg.Name)
	}
	return true
}

// Reindex rebuilds the name index from the current messages.
func (m *Matrix) Reindex() {
	m.byName = make(map[string]uint32, len(m.messages))
	for _, id := range m.IDs() {
		m.byName[m.messages[id].Name] = id
	}
}

// Validate checks the key/id invariant and per-message signal name
// uniqueness. Bit ranges are deliberately not checked for overlap.
func (m *Matrix) Validate() error {
	var errs []error
	for key, msg := range m.messages {
		if key != msg.ID {
			errs = append(errs, fmt.Errorf("message %s stored under key %s", msg.HexID(), FormatID(key)))
		}
		seen := make(map[string]struct{}, len(msg.Signals))
		for _, s := range msg.Signals {
			if _, dup := seen[s.Name]; dup {
				errs = append(errs, fmt.Errorf("%w: %s in %s", ErrDuplicateSignal, s.Name, msg.HexID()))
			}
			seen[s.Name] = struct{}{}
		}
	}
	return errors.Join(errs...)
}

// NodeNames returns the declared nodes, or when none are declared the sorted
// set of every sender and receiver referenced by the messages.
func (m *Matrix) NodeNames() []string {
	if len(m.Nodes) > 0 {
		return append([]string{}, m.Nodes...)
	}
	var all []string
	for _, msg := range m.messages {
		all = append(all, msg.Senders...)
		for _, s := range msg.Signals {
			all = append(all, s.Receivers...)
		}
	}
	return SortedUnique(all)
}

// SignalCount returns the number of signals across all messages.
func (m *Matrix) SignalCount() int {
	n := 0
	for _, msg := range m.messages {
		n += len(msg.Signals)
	}
	return n
}

// Clone returns a deep copy. Callers that need all-or-nothing semantics
// snapshot the target with Clone before applying a patch.
func (m *Matrix) Clone() *Matrix {
	c := &Matrix{
		Version:  m.Version,
		Nodes:    append([]string{}, m.Nodes...),
		Source:   m.Source,
		LoadedAt: m.LoadedAt,
		messages: make(map[uint32]*Message, len(m.messages)),
	}
	for id, msg := range m.messages {
		c.messages[id] = msg.Clone()
	}
	c.Reindex()
	return c
}
