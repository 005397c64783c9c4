// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package matrix holds the in-memory descriptor model of a CAN communication
// matrix: messages (frames), their bit-packed signals and the nodes that send
// and receive them.
//
// The model is the stable internal representation that the diff and patch
// services work on. Conversion from and to the DBC text format lives in the
// dbc subpackage; nothing in this package knows about the text grammar.
package matrix

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ByteOrder is the bit numbering of a signal inside its frame.
type ByteOrder string

const (
	// BigEndian is Motorola byte order (DBC "@0").
	BigEndian ByteOrder = "big_endian"

	// LittleEndian is Intel byte order (DBC "@1").
	LittleEndian ByteOrder = "little_endian"
)

// ParseByteOrder accepts the canonical names plus the legacy
// "motorola"/"intel" spellings. An empty string means little endian.
func ParseByteOrder(s string) (ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "big_endian", "motorola", "big":
		return BigEndian, nil
	case "little_endian", "intel", "little", "":
		return LittleEndian, nil
	default:
		return "", fmt.Errorf("unknown byte order %q", s)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *ByteOrder) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseByteOrder(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// MultiplexRole describes how a signal takes part in multiplexing.
type MultiplexRole string

const (
	// MultiplexNone marks a plain signal.
	MultiplexNone MultiplexRole = ""

	// Multiplexor marks the selector signal of a multiplexed frame.
	Multiplexor MultiplexRole = "multiplexor"

	// Multiplexed marks a signal that is only valid for some selector values.
	Multiplexed MultiplexRole = "multiplexed"
)

// UnmarshalJSON implements json.Unmarshaler. The short "MUX"/"SUB" forms
// written by older tooling are accepted.
func (r *MultiplexRole) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = MultiplexNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch strings.ToLower(s) {
	case "":
		*r = MultiplexNone
	case "multiplexor", "mux":
		*r = Multiplexor
	case "multiplexed", "sub":
		*r = Multiplexed
	default:
		return fmt.Errorf("unknown multiplex role %q", s)
	}
	return nil
}

// Locator addresses a signal by its bit position instead of its name,
// which may have drifted between two snapshots.
type Locator struct {
	StartBit int `json:"start_bit"`
	Length   int `json:"length"`
}

// String returns "start|length", the DBC notation for a bit range.
func (l Locator) String() string {
	return strconv.Itoa(l.StartBit) + "|" + strconv.Itoa(l.Length)
}

// Signal is one bit field inside a message with a linear conversion
// physical = raw*Scale + Offset.
type Signal struct {
	Name           string            `json:"name"`
	StartBit       int               `json:"start_bit"`
	Length         int               `json:"length"`
	ByteOrder      ByteOrder         `json:"byte_order"`
	IsSigned       bool              `json:"is_signed"`
	Scale          float64           `json:"scale"`
	Offset         float64           `json:"offset"`
	Minimum        *float64          `json:"minimum"`
	Maximum        *float64          `json:"maximum"`
	Unit           string            `json:"unit,omitempty"`
	Comment        string            `json:"comment,omitempty"`
	ValueTable     map[string]string `json:"value_table"`
	Multiplex      MultiplexRole     `json:"multiplex,omitempty"`
	MultiplexerIDs []uint64          `json:"multiplexer_ids,omitempty"`
	Receivers      []string          `json:"receivers"`
}

// UnmarshalJSON decodes a signal payload, filling the defaults a sparse
// payload leaves out (length 1, little endian, scale 1).
func (s *Signal) UnmarshalJSON(data []byte) error {
	type signalAlias Signal
	aux := signalAlias{Length: 1, ByteOrder: LittleEndian, Scale: 1}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = Signal(aux)
	s.Normalize()
	return nil
}

// NewDefaultSignal returns the inert placeholder used when a signal has to be
// created without any template: 8 unsigned bits at bit 0, little endian, no
// scaling and an empty value table.
func NewDefaultSignal(name string) *Signal {
	return &Signal{
		Name:       name,
		StartBit:   0,
		Length:     8,
		ByteOrder:  LittleEndian,
		Scale:      1,
		Offset:     0,
		ValueTable: map[string]string{},
		Receivers:  []string{},
	}
}

// Locator returns the bit-position key of the signal.
func (s *Signal) Locator() Locator {
	return Locator{StartBit: s.StartBit, Length: s.Length}
}

// Matches reports whether the signal occupies the located bit range.
func (s *Signal) Matches(loc Locator) bool {
	return s.StartBit == loc.StartBit && s.Length == loc.Length
}

// Normalize brings collection fields into canonical form: receivers sorted
// and de-duplicated, nil collections replaced by empty ones.
func (s *Signal) Normalize() {
	if s.ValueTable == nil {
		s.ValueTable = map[string]string{}
	}
	s.Receivers = SortedUnique(s.Receivers)
	if s.ByteOrder == "" {
		s.ByteOrder = LittleEndian
	}
	if s.Multiplex != Multiplexed {
		s.MultiplexerIDs = nil
	}
}

// Clone returns a deep copy that shares no memory with s.
func (s *Signal) Clone() *Signal {
	if s == nil {
		return nil
	}
	c := *s
	c.Minimum = cloneFloat(s.Minimum)
	c.Maximum = cloneFloat(s.Maximum)
	c.ValueTable = make(map[string]string, len(s.ValueTable))
	for k, v := range s.ValueTable {
		c.ValueTable[k] = v
	}
	if s.MultiplexerIDs != nil {
		c.MultiplexerIDs = append([]uint64(nil), s.MultiplexerIDs...)
	}
	c.Receivers = append([]string{}, s.Receivers...)
	return &c
}

// SortedUnique returns a sorted copy of names without duplicates or empty
// entries. The result is never nil.
func SortedUnique(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Float returns a pointer to v. Handy for optional limits in literals.
func Float(v float64) *float64 {
	return &v
}
