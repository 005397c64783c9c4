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
	"fmt"
	"reflect"
	"sort"

	"github.com/AleutianAI/dbcpatch/pkg/matrix"
)

// field reads, decodes, compares and writes one named signal attribute.
type field struct {
	name   string
	get    func(s *matrix.Signal) any
	decode func(raw json.RawMessage) (any, error)
	set    func(s *matrix.Signal, v any)
	equal  func(a, b any) bool
}

func newField[T any](name string, get func(*matrix.Signal) T, set func(*matrix.Signal, T)) field {
	return field{
		name: name,
		get:  func(s *matrix.Signal) any { return get(s) },
		decode: func(raw json.RawMessage) (any, error) {
			var v T
			if isNull(raw) {
				return v, nil
			}
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("invalid value for %s: %w", name, err)
			}
			return v, nil
		},
		set:   func(s *matrix.Signal, v any) { set(s, v.(T)) },
		equal: reflect.DeepEqual,
	}
}

// diffFields is the fixed, ordered list of signal attributes the diff engine
// compares. The applier checks changes in the same order.
var diffFields = []field{
	newField("start_bit",
		func(s *matrix.Signal) int { return s.StartBit },
		func(s *matrix.Signal, v int) { s.StartBit = v }),
	newField("length",
		func(s *matrix.Signal) int { return s.Length },
		func(s *matrix.Signal, v int) { s.Length = v }),
	newField("byte_order",
		func(s *matrix.Signal) matrix.ByteOrder { return s.ByteOrder },
		func(s *matrix.Signal, v matrix.ByteOrder) {
			if v == "" {
				v = matrix.LittleEndian
			}
			s.ByteOrder = v
		}),
	newField("is_signed",
		func(s *matrix.Signal) bool { return s.IsSigned },
		func(s *matrix.Signal, v bool) { s.IsSigned = v }),
	newField("scale",
		func(s *matrix.Signal) float64 { return s.Scale },
		func(s *matrix.Signal, v float64) { s.Scale = v }),
	newField("offset",
		func(s *matrix.Signal) float64 { return s.Offset },
		func(s *matrix.Signal, v float64) { s.Offset = v }),
	newField("minimum",
		func(s *matrix.Signal) *float64 { return s.Minimum },
		func(s *matrix.Signal, v *float64) { s.Minimum = v }),
	newField("maximum",
		func(s *matrix.Signal) *float64 { return s.Maximum },
		func(s *matrix.Signal, v *float64) { s.Maximum = v }),
	newField("unit",
		func(s *matrix.Signal) string { return s.Unit },
		func(s *matrix.Signal, v string) { s.Unit = v }),
	newField("comment",
		func(s *matrix.Signal) string { return s.Comment },
		func(s *matrix.Signal, v string) { s.Comment = v }),
	withEqual(newField("value_table",
		func(s *matrix.Signal) map[string]string { return s.ValueTable },
		func(s *matrix.Signal, v map[string]string) {
			if v == nil {
				v = map[string]string{}
			}
			s.ValueTable = v
		}), equalTables),
	withEqual(newField("receivers",
		func(s *matrix.Signal) []string { return matrix.SortedUnique(s.Receivers) },
		func(s *matrix.Signal, v []string) { s.Receivers = matrix.SortedUnique(v) }), equalNameSets),
}

// nameField is accepted in update rules but never produced by the diff,
// which expresses renames as RenameSignal.
var nameField = newField("name",
	func(s *matrix.Signal) string { return s.Name },
	func(s *matrix.Signal, v string) { s.Name = v })

var fieldIndex = func() map[string]field {
	idx := make(map[string]field, len(diffFields)+1)
	for _, f := range diffFields {
		idx[f.name] = f
	}
	idx[nameField.name] = nameField
	return idx
}()

var fieldRank = func() map[string]int {
	rank := make(map[string]int, len(diffFields)+1)
	for i, f := range diffFields {
		rank[f.name] = i
	}
	rank[nameField.name] = len(diffFields)
	return rank
}()

func withEqual(f field, equal func(a, b any) bool) field {
	f.equal = equal
	return f
}

func lookupField(name string) (field, bool) {
	f, ok := fieldIndex[name]
	return f, ok
}

// orderedFieldNames returns the keys of changes in the fixed field order,
// followed by unrecognised names in lexical order.
func orderedFieldNames(changes Changes) []string {
	names := make([]string, 0, len(changes))
	for name := range changes {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ri, iok := fieldRank[names[i]]
		rj, jok := fieldRank[names[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return names[i] < names[j]
		}
	})
	return names
}

func equalTables(a, b any) bool {
	ta, _ := a.(map[string]string)
	tb, _ := b.(map[string]string)
	if len(ta) != len(tb) {
		return false
	}
	for k, v := range ta {
		if w, ok := tb[k]; !ok || w != v {
			return false
		}
	}
	return true
}

func equalNameSets(a, b any) bool {
	la, _ := a.([]string)
	lb, _ := b.([]string)
	return equalStrings(matrix.SortedUnique(la), matrix.SortedUnique(lb))
}

// equalStrings compares ordered lists, treating nil and empty alike.
func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// diffSignal returns the changed fields between raw and cleaned, or nil.
func diffSignal(raw, cleaned *matrix.Signal) Changes {
	var changes Changes
	for _, f := range diffFields {
		from, to := f.get(raw), f.get(cleaned)
		if f.equal(from, to) {
			continue
		}
		if changes == nil {
			changes = make(Changes)
		}
		changes[f.name] = NewChange(from, to)
	}
	return changes
}
