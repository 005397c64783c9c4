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
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DefaultMessageLength is the byte length of a classic CAN frame and of
// placeholder messages.
const DefaultMessageLength = 8

// Message is one CAN frame definition.
type Message struct {
	ID         uint32            `json:"frame_id"`
	Name       string            `json:"name"`
	Length     int               `json:"length"`
	IsExtended bool              `json:"is_extended_frame"`
	CycleTime  *int              `json:"cycle_time"`
	Comment    string            `json:"comment,omitempty"`
	Attributes map[string]string `json:"attributes"`
	Senders    []string          `json:"senders"`
	Signals    []*Signal         `json:"signals"`
}

// UnmarshalJSON decodes a message payload. A payload without a length gets
// the classic 8 bytes.
func (m *Message) UnmarshalJSON(data []byte) error {
	type messageAlias Message
	aux := messageAlias{Length: DefaultMessageLength}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*m = Message(aux)
	m.normalize()
	return nil
}

// NewPlaceholderMessage returns an empty, zero-signal, 8-byte message.
// An empty name becomes "MSG_0x<id>".
func NewPlaceholderMessage(id uint32, name string) *Message {
	if name == "" {
		name = "MSG_" + FormatID(id)
	}
	return &Message{
		ID:         id,
		Name:       name,
		Length:     DefaultMessageLength,
		Attributes: map[string]string{},
		Senders:    []string{},
		Signals:    []*Signal{},
	}
}

// HexID returns the frame id in patch-document form, e.g. "0x100".
func (m *Message) HexID() string {
	return FormatID(m.ID)
}

// Signal returns the signal with the given name.
func (m *Message) Signal(name string) (*Signal, bool) {
	for _, s := range m.Signals {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// SignalAt returns the first signal occupying the located bit range.
func (m *Message) SignalAt(loc Locator) (*Signal, bool) {
	for _, s := range m.Signals {
		if s.Matches(loc) {
			return s, true
		}
	}
	return nil, false
}

// SignalsAt returns every signal occupying the located bit range, in signal
// order.
func (m *Message) SignalsAt(loc Locator) []*Signal {
	var out []*Signal
	for _, s := range m.Signals {
		if s.Matches(loc) {
			out = append(out, s)
		}
	}
	return out
}

// RemoveSignal deletes every signal named name and reports whether any was
// removed.
func (m *Message) RemoveSignal(name string) bool {
	kept := m.Signals[:0]
	removed := false
	for _, s := range m.Signals {
		if s.Name == name {
			removed = true
			continue
		}
		kept = append(kept, s)
	}
	for i := len(kept); i < len(m.Signals); i++ {
		m.Signals[i] = nil
	}
	m.Signals = kept
	return removed
}

// SignalNames returns the names of the message's signals in signal order.
func (m *Message) SignalNames() []string {
	names := make([]string, 0, len(m.Signals))
	for _, s := range m.Signals {
		names = append(names, s.Name)
	}
	return names
}

// Clone returns a deep copy of the message and its signals.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.CycleTime != nil {
		ct := *m.CycleTime
		c.CycleTime = &ct
	}
	c.Attributes = make(map[string]string, len(m.Attributes))
	for k, v := range m.Attributes {
		c.Attributes[k] = v
	}
	c.Senders = append([]string{}, m.Senders...)
	c.Signals = make([]*Signal, 0, len(m.Signals))
	for _, s := range m.Signals {
		c.Signals = append(c.Signals, s.Clone())
	}
	return &c
}

func (m *Message) normalize() {
	if m.Attributes == nil {
		m.Attributes = map[string]string{}
	}
	if m.Senders == nil {
		m.Senders = []string{}
	}
	if m.Signals == nil {
		m.Signals = []*Signal{}
	}
	for _, s := range m.Signals {
		s.Normalize()
	}
}

// FormatID renders a frame id as lower-case hex with a 0x prefix.
func FormatID(id uint32) string {
	return "0x" + strconv.FormatUint(uint64(id), 16)
}

// ParseID accepts "0x1A0", "0X1a0" or a bare hex string.
func ParseID(s string) (uint32, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if trimmed == "" {
		return 0, fmt.Errorf("empty message id %q", s)
	}
	v, err := strconv.ParseUint(trimmed, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid message id %q: %w", s, err)
	}
	return uint32(v), nil
}
