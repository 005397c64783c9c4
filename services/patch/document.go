// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/dbcpatch/pkg/matrix"
)

// DocumentVersion is the only document format version understood.
const DocumentVersion = 1

var (
	// ErrUnsupportedVersion indicates a document written in another format
	// version.
	ErrUnsupportedVersion = errors.New("unsupported patch document version")

	// ErrMalformedDocument indicates the document is not valid patch JSON.
	ErrMalformedDocument = errors.New("malformed patch document")
)

// createdLayouts are tried in order when decoding the created timestamp.
// Documents exported by older tools carry a local time without zone.
var createdLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Document is an ordered set of rules plus format metadata. It is treated
// as immutable once generated.
type Document struct {
	Version int
	Created time.Time
	Rules   []Rule
}

// NewDocument returns a version 1 document holding rules.
func NewDocument(created time.Time, rules []Rule) *Document {
	return &Document{Version: DocumentVersion, Created: created.UTC(), Rules: rules}
}

// Counts returns the number of rules per op.
func (d *Document) Counts() map[Op]int {
	counts := make(map[Op]int)
	for _, r := range d.Rules {
		counts[r.Op()]++
	}
	return counts
}

type documentWire struct {
	Version int               `json:"version"`
	Created string            `json:"created"`
	Rules   []json.RawMessage `json:"rules"`
}

type ruleWire struct {
	Op          Op              `json:"op"`
	MessageID   string          `json:"message_id"`
	MessageName string          `json:"message_name,omitempty"`
	SignalMatch *matrix.Locator `json:"signal_match,omitempty"`
	SignalName  string          `json:"signal_name,omitempty"`
	Changes     Changes         `json:"changes,omitempty"`
	Message     *matrix.Message `json:"message,omitempty"`
	Signal      *matrix.Signal  `json:"signal,omitempty"`
	FromRef     bool            `json:"from_ref,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (d *Document) MarshalJSON() ([]byte, error) {
	wire := documentWire{
		Version: d.Version,
		Created: d.Created.UTC().Format(time.RFC3339Nano),
		Rules:   make([]json.RawMessage, 0, len(d.Rules)),
	}
	for i, r := range d.Rules {
		data, err := MarshalRule(r)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		wire.Rules = append(wire.Rules, data)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler. Rules that cannot be decoded
// become Unknown entries instead of failing the document.
func (d *Document) UnmarshalJSON(data []byte) error {
	var wire documentWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if wire.Version != DocumentVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, wire.Version)
	}
	created, err := parseCreated(wire.Created)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	rules := make([]Rule, 0, len(wire.Rules))
	for _, raw := range wire.Rules {
		rules = append(rules, UnmarshalRule(raw))
	}
	d.Version = wire.Version
	d.Created = created
	d.Rules = rules
	return nil
}

func parseCreated(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range createdLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid created timestamp %q", s)
}

// MarshalRule encodes a single rule in wire form.
func MarshalRule(r Rule) ([]byte, error) {
	var w ruleWire
	switch v := r.(type) {
	case *AddMessage:
		w = ruleWire{MessageName: v.Name, Message: v.Payload, FromRef: v.FromRef}
	case *RemoveMessage:
		w = ruleWire{MessageName: v.Name}
	case *UpdateMessageSenders:
		w = ruleWire{Changes: Changes{"senders": v.Senders}}
	case *AddSignalIfMissing:
		w = ruleWire{SignalName: v.Signal, Signal: v.Payload, FromRef: v.FromRef}
	case *RemoveSignal:
		w = ruleWire{SignalName: v.Signal}
	case *RenameSignal:
		match := v.Match
		w = ruleWire{SignalMatch: &match, SignalName: v.NewName}
	case *UpdateSignal:
		match := v.Match
		w = ruleWire{SignalMatch: &match, SignalName: v.Signal, Changes: v.Changes}
	case *UpdateMessage:
		w = ruleWire{Message: v.Payload}
	case *Unknown:
		if len(v.Raw) > 0 {
			return v.Raw, nil
		}
		w = ruleWire{}
	default:
		return nil, fmt.Errorf("unsupported rule type %T", r)
	}
	w.Op = r.Op()
	w.MessageID = r.MessageID()
	return json.Marshal(w)
}

// UnmarshalRule decodes a single wire rule. It never fails: anything that is
// not a well-formed known rule comes back as *Unknown.
func UnmarshalRule(raw json.RawMessage) Rule {
	var w ruleWire
	if err := json.Unmarshal(raw, &w); err != nil {
		var head struct {
			Op        Op     `json:"op"`
			MessageID string `json:"message_id"`
		}
		_ = json.Unmarshal(raw, &head)
		return &Unknown{Name: head.Op, Target: head.MessageID, Raw: raw, Err: err}
	}
	unknown := &Unknown{Name: w.Op, Target: w.MessageID, Raw: raw}

	op := Op(strings.ToLower(string(w.Op)))
	switch op {
	case OpAddMessage, OpRemoveMessage, OpUpdateMessageSenders, OpAddSignalIfMissing, opAddSignal,
		OpRemoveSignal, OpRenameSignal, OpUpdateSignal, OpUpdateMessage:
	default:
		return unknown
	}

	id, err := matrix.ParseID(w.MessageID)
	if err != nil {
		unknown.Err = err
		return unknown
	}

	switch op {
	case OpAddMessage:
		return &AddMessage{ID: id, Name: w.MessageName, Payload: w.Message, FromRef: w.FromRef}
	case OpRemoveMessage:
		return &RemoveMessage{ID: id, Name: w.MessageName}
	case OpUpdateMessageSenders:
		return &UpdateMessageSenders{ID: id, Senders: w.Changes["senders"]}
	case OpAddSignalIfMissing, opAddSignal:
		name := w.SignalName
		if name == "" && w.Signal != nil {
			name = w.Signal.Name
		}
		return &AddSignalIfMissing{ID: id, Signal: name, Payload: w.Signal, FromRef: w.FromRef}
	case OpRemoveSignal:
		return &RemoveSignal{ID: id, Signal: w.SignalName}
	case OpRenameSignal:
		if w.SignalMatch == nil {
			unknown.Err = errors.New("rename_signal without signal_match")
			return unknown
		}
		return &RenameSignal{ID: id, Match: *w.SignalMatch, NewName: w.SignalName}
	case OpUpdateSignal:
		if w.SignalMatch == nil {
			unknown.Err = errors.New("update_signal without signal_match")
			return unknown
		}
		return &UpdateSignal{ID: id, Match: *w.SignalMatch, Signal: w.SignalName, Changes: w.Changes}
	default:
		return &UpdateMessage{ID: id, Payload: w.Message}
	}
}

// Decode reads a document from r.
func Decode(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read patch document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Encode writes doc to w as indented JSON.
func Encode(w io.Writer, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode patch document: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write patch document: %w", err)
	}
	return nil
}

// ReadFile loads a document from path.
func ReadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open patch %s: %w", path, err)
	}
	defer f.Close()

	doc, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("patch %s: %w", path, err)
	}
	return doc, nil
}

// WriteFile stores doc at path, creating parent directories as needed.
func WriteFile(path string, doc *Document) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("create patch directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create patch %s: %w", path, err)
	}
	if err := Encode(f, doc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
