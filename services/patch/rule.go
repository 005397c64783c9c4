// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patch generates and replays portable patch documents between
// versions of a CAN descriptor model.
//
// A patch document is an ordered list of rules derived by comparing a raw
// (generated) descriptor with its hand-cleaned counterpart. Replaying the
// document against a newly generated raw descriptor re-applies the manual
// edits and reports every rule as applied, skipped or conflicting.
package patch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/dbcpatch/pkg/matrix"
)

// Op names a rule kind on the wire.
type Op string

const (
	OpAddMessage           Op = "add_message"
	OpRemoveMessage        Op = "remove_message"
	OpUpdateMessageSenders Op = "update_message_senders"
	OpAddSignalIfMissing   Op = "add_signal_if_missing"
	OpRemoveSignal         Op = "remove_signal"
	OpRenameSignal         Op = "rename_signal"
	OpUpdateSignal         Op = "update_signal"
	OpUpdateMessage        Op = "update_message"

	// opAddSignal is an older spelling of OpAddSignalIfMissing still found
	// in exported documents.
	opAddSignal Op = "add_signal"
)

// Rule is one edit in a patch document.
//
// The set of implementations is closed: AddMessage, RemoveMessage,
// UpdateMessageSenders, AddSignalIfMissing, RemoveSignal, RenameSignal,
// UpdateSignal, UpdateMessage and Unknown. Handlers switch over the concrete
// type.
type Rule interface {
	// Op returns the wire name of the rule kind.
	Op() Op

	// MessageID returns the hex id of the targeted message.
	MessageID() string

	isRule()
}

// Change is the expected current value and the desired value of one field.
// Both sides are kept as raw JSON so that a document round-trips without
// loss. A missing or null From means the current value is not checked.
type Change struct {
	From json.RawMessage `json:"from"`
	To   json.RawMessage `json:"to"`
}

// NewChange encodes from and to into a Change.
func NewChange(from, to any) Change {
	return Change{From: encodeValue(from), To: encodeValue(to)}
}

// HasFrom reports whether the change carries an expected value to verify.
func (c Change) HasFrom() bool {
	return !isNull(c.From)
}

// UnmarshalJSON implements json.Unmarshaler. Values are stored compacted so
// that documents compare equal regardless of indentation.
func (c *Change) UnmarshalJSON(data []byte) error {
	var aux struct {
		From json.RawMessage `json:"from"`
		To   json.RawMessage `json:"to"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	var err error
	if c.From, err = compact(aux.From); err != nil {
		return err
	}
	c.To, err = compact(aux.To)
	return err
}

// Changes maps a field name to its change.
type Changes map[string]Change

// AddMessage creates a message that exists only in the cleaned descriptor.
type AddMessage struct {
	ID      uint32
	Name    string
	Payload *matrix.Message
	FromRef bool
}

// RemoveMessage deletes a message that exists only in the raw descriptor.
type RemoveMessage struct {
	ID   uint32
	Name string
}

// UpdateMessageSenders replaces the ordered sender list of a message.
type UpdateMessageSenders struct {
	ID      uint32
	Senders Change
}

// AddSignalIfMissing creates a signal unless the message already has one of
// that name.
type AddSignalIfMissing struct {
	ID      uint32
	Signal  string
	Payload *matrix.Signal
	FromRef bool
}

// RemoveSignal deletes a signal by name.
type RemoveSignal struct {
	ID     uint32
	Signal string
}

// RenameSignal renames the signal found at Match.
type RenameSignal struct {
	ID      uint32
	Match   matrix.Locator
	NewName string
}

// UpdateSignal rewrites fields of the signal found at Match. Signal is the
// expected name; it only breaks ties when several signals share the bits.
type UpdateSignal struct {
	ID      uint32
	Match   matrix.Locator
	Signal  string
	Changes Changes
}

// UpdateMessage replaces a whole message definition.
type UpdateMessage struct {
	ID      uint32
	Payload *matrix.Message
}

// Unknown preserves a rule that could not be decoded into a known kind, so
// that it is skipped rather than aborting the batch and survives re-encoding.
type Unknown struct {
	Name   Op
	Target string
	Raw    json.RawMessage

	// Err is set when the op is known but the rule body was malformed.
	Err error
}

func (r *AddMessage) Op() Op           { return OpAddMessage }
func (r *RemoveMessage) Op() Op        { return OpRemoveMessage }
func (r *UpdateMessageSenders) Op() Op { return OpUpdateMessageSenders }
func (r *AddSignalIfMissing) Op() Op   { return OpAddSignalIfMissing }
func (r *RemoveSignal) Op() Op         { return OpRemoveSignal }
func (r *RenameSignal) Op() Op         { return OpRenameSignal }
func (r *UpdateSignal) Op() Op         { return OpUpdateSignal }
func (r *UpdateMessage) Op() Op        { return OpUpdateMessage }
func (r *Unknown) Op() Op              { return r.Name }

func (r *AddMessage) MessageID() string           { return matrix.FormatID(r.ID) }
func (r *RemoveMessage) MessageID() string        { return matrix.FormatID(r.ID) }
func (r *UpdateMessageSenders) MessageID() string { return matrix.FormatID(r.ID) }
func (r *AddSignalIfMissing) MessageID() string   { return matrix.FormatID(r.ID) }
func (r *RemoveSignal) MessageID() string         { return matrix.FormatID(r.ID) }
func (r *RenameSignal) MessageID() string         { return matrix.FormatID(r.ID) }
func (r *UpdateSignal) MessageID() string         { return matrix.FormatID(r.ID) }
func (r *UpdateMessage) MessageID() string        { return matrix.FormatID(r.ID) }
func (r *Unknown) MessageID() string              { return r.Target }

func (*AddMessage) isRule()           {}
func (*RemoveMessage) isRule()        {}
func (*UpdateMessageSenders) isRule() {}
func (*AddSignalIfMissing) isRule()   {}
func (*RemoveSignal) isRule()         {}
func (*RenameSignal) isRule()         {}
func (*UpdateSignal) isRule()         {}
func (*UpdateMessage) isRule()        {}
func (*Unknown) isRule()              {}

// Summary returns the op and a short target label for tabular display: the
// signal name or locator for signal rules, the message id otherwise.
func Summary(r Rule) (op, target string) {
	op = string(r.Op())
	switch v := r.(type) {
	case *AddSignalIfMissing:
		return op, v.Signal
	case *RemoveSignal:
		return op, v.Signal
	case *RenameSignal:
		return op, v.NewName
	case *UpdateSignal:
		return op, v.MessageID() + "@" + v.Match.String()
	default:
		return op, r.MessageID()
	}
}

func encodeValue(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// Only non-finite floats get here; keep their text form.
		data, _ = json.Marshal(fmt.Sprint(v))
	}
	return data
}

func compact(raw json.RawMessage) (json.RawMessage, error) {
	if raw == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
