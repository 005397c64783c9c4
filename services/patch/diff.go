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
	"sort"
	"time"

	"github.com/AleutianAI/dbcpatch/pkg/matrix"
)

// DiffOption configures Generate.
type DiffOption func(*diffOptions)

type diffOptions struct {
	payloads bool
	now      func() time.Time
}

// WithPayloads embeds the cleaned message or signal definition into every
// creation rule, so the document can be applied without a catalog.
func WithPayloads() DiffOption {
	return func(o *diffOptions) { o.payloads = true }
}

// WithClock sets the clock used for the document timestamp.
func WithClock(now func() time.Time) DiffOption {
	return func(o *diffOptions) { o.now = now }
}

// Generate computes the rules that turn raw into cleaned.
//
// # Description
//
// Messages only present in cleaned yield AddMessage rules and messages only
// present in raw yield RemoveMessage rules, each ascending by id. Messages
// present in both are compared in ascending id order; per message the rules
// come out as signal additions, signal removals, signal updates, the sender
// update and finally renames. Values are compared exactly.
//
// A removed and an added signal that occupy the same bits with the same byte
// order are reported as a rename instead. If several pairs qualify, every
// pair is emitted as a rename but the additions and removals are kept as
// well. A pair that is unique on both sides and also differs in other
// attributes gets an additional UpdateSignal for those attributes.
//
// # Inputs
//
//   - raw: The generated descriptor. Not modified.
//   - cleaned: The hand-edited descriptor. Not modified.
//   - opts: Optional behaviour.
//
// # Outputs
//
//   - *Document: A version 1 document. Identical inputs give an empty rule list.
func Generate(raw, cleaned *matrix.Matrix, opts ...DiffOption) *Document {
	o := diffOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	var rules []Rule
	for _, id := range cleaned.IDs() {
		if _, ok := raw.Message(id); ok {
			continue
		}
		msg, _ := cleaned.Message(id)
		r := &AddMessage{ID: id, Name: msg.Name}
		if o.payloads {
			r.Payload = msg.Clone()
		}
		rules = append(rules, r)
	}
	for _, id := range raw.IDs() {
		if _, ok := cleaned.Message(id); ok {
			continue
		}
		msg, _ := raw.Message(id)
		rules = append(rules, &RemoveMessage{ID: id, Name: msg.Name})
	}
	for _, id := range raw.IDs() {
		cleanedMsg, ok := cleaned.Message(id)
		if !ok {
			continue
		}
		rawMsg, _ := raw.Message(id)
		rules = append(rules, diffMessage(rawMsg, cleanedMsg, o)...)
	}
	return NewDocument(o.now(), rules)
}

type renamePair struct {
	from *matrix.Signal
	to   *matrix.Signal
}

func diffMessage(raw, cleaned *matrix.Message, o diffOptions) []Rule {
	rawByName := indexSignals(raw)
	cleanedByName := indexSignals(cleaned)

	var rawOnly, cleanedOnly []*matrix.Signal
	for _, s := range raw.Signals {
		if _, ok := cleanedByName[s.Name]; !ok {
			rawOnly = append(rawOnly, s)
		}
	}
	for _, s := range cleaned.Signals {
		if _, ok := rawByName[s.Name]; !ok {
			cleanedOnly = append(cleanedOnly, s)
		}
	}

	pairs := findRenames(rawOnly, cleanedOnly)
	renamedFrom := make(map[string]int, len(pairs))
	renamedTo := make(map[string]int, len(pairs))
	for _, p := range pairs {
		renamedFrom[p.from.Name]++
		renamedTo[p.to.Name]++
	}
	// Only a pair that is unique on both sides replaces the add and the
	// remove. Ambiguous candidates keep them so no cleaned signal is lost.
	unique := func(p renamePair) bool {
		return renamedFrom[p.from.Name] == 1 && renamedTo[p.to.Name] == 1
	}
	coveredFrom := make(map[string]bool, len(pairs))
	coveredTo := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		if unique(p) {
			coveredFrom[p.from.Name] = true
			coveredTo[p.to.Name] = true
		}
	}

	var rules []Rule
	for _, name := range signalNames(cleanedOnly) {
		if coveredTo[name] {
			continue
		}
		r := &AddSignalIfMissing{ID: raw.ID, Signal: name}
		if o.payloads {
			r.Payload = cleanedByName[name].Clone()
		}
		rules = append(rules, r)
	}
	for _, name := range signalNames(rawOnly) {
		if coveredFrom[name] {
			continue
		}
		rules = append(rules, &RemoveSignal{ID: raw.ID, Signal: name})
	}

	shared := make([]string, 0, len(rawByName))
	for name := range rawByName {
		if _, ok := cleanedByName[name]; ok {
			shared = append(shared, name)
		}
	}
	sort.Strings(shared)
	for _, name := range shared {
		if r := updateRule(raw.ID, rawByName[name], cleanedByName[name]); r != nil {
			rules = append(rules, r)
		}
	}

	if !equalStrings(raw.Senders, cleaned.Senders) {
		rules = append(rules, &UpdateMessageSenders{
			ID:      raw.ID,
			Senders: NewChange(nonNil(raw.Senders), nonNil(cleaned.Senders)),
		})
	}

	for _, p := range pairs {
		rules = append(rules, &RenameSignal{ID: raw.ID, Match: p.from.Locator(), NewName: p.to.Name})
		if unique(p) {
			if r := updateRule(raw.ID, p.from, p.to); r != nil {
				rules = append(rules, r)
			}
		}
	}
	return rules
}

// findRenames pairs raw-only and cleaned-only signals that sit on the same
// bits with the same byte order. Pairs follow raw signal order, then cleaned
// signal order.
func findRenames(rawOnly, cleanedOnly []*matrix.Signal) []renamePair {
	var pairs []renamePair
	for _, from := range rawOnly {
		for _, to := range cleanedOnly {
			if from.StartBit == to.StartBit && from.Length == to.Length && from.ByteOrder == to.ByteOrder {
				pairs = append(pairs, renamePair{from: from, to: to})
			}
		}
	}
	return pairs
}

func updateRule(id uint32, raw, cleaned *matrix.Signal) *UpdateSignal {
	changes := diffSignal(raw, cleaned)
	if len(changes) == 0 {
		return nil
	}
	return &UpdateSignal{ID: id, Match: raw.Locator(), Signal: cleaned.Name, Changes: changes}
}

// indexSignals maps names to signals. With duplicate names the first wins.
func indexSignals(msg *matrix.Message) map[string]*matrix.Signal {
	idx := make(map[string]*matrix.Signal, len(msg.Signals))
	for _, s := range msg.Signals {
		if _, ok := idx[s.Name]; !ok {
			idx[s.Name] = s
		}
	}
	return idx
}

func signalNames(signals []*matrix.Signal) []string {
	names := make([]string, 0, len(signals))
	for _, s := range signals {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}

// EmbedReference returns a copy of doc whose creation rules without payload
// carry the matching catalog definition. Rules that received a payload are
// marked FromRef. doc itself is not modified.
func EmbedReference(doc *Document, catalog Catalog) *Document {
	rules := make([]Rule, len(doc.Rules))
	copy(rules, doc.Rules)
	if catalog == nil {
		return &Document{Version: doc.Version, Created: doc.Created, Rules: rules}
	}
	for i, r := range rules {
		switch v := r.(type) {
		case *AddMessage:
			if v.Payload != nil {
				continue
			}
			if msg, ok := catalog.LookupMessage(v.ID, v.Name); ok {
				rules[i] = &AddMessage{ID: v.ID, Name: v.Name, Payload: msg, FromRef: true}
			}
		case *AddSignalIfMissing:
			if v.Payload != nil {
				continue
			}
			if sig, ok := catalog.LookupSignal(v.Signal); ok {
				rules[i] = &AddSignalIfMissing{ID: v.ID, Signal: v.Signal, Payload: sig, FromRef: true}
			}
		}
	}
	return &Document{Version: doc.Version, Created: doc.Created, Rules: rules}
}
