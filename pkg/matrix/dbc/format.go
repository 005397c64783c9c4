// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dbc

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/dbcpatch/pkg/matrix"
)

// extendedFrameFlag is OR-ed into the id of extended frames in DBC text.
const extendedFrameFlag = 0x80000000

var newSymbols = []string{
	"NS_DESC_", "CM_", "BA_DEF_", "BA_", "VAL_", "CAT_DEF_", "CAT_", "FILTER",
	"BA_DEF_DEF_", "EV_DATA_", "ENVVAR_DATA_", "SGTYPE_", "SGTYPE_VAL_",
	"BA_DEF_SGTYPE_", "BA_SGTYPE_", "SIG_TYPE_REF_", "VAL_TABLE_", "SIG_GROUP_",
	"SIG_VALTYPE_", "SIGTYPE_VALTYPE_", "BO_TX_BU_", "BA_DEF_REL_", "BA_REL_",
	"BA_DEF_DEF_REL_", "BU_SG_REL_", "BU_EV_REL_", "BU_BO_REL_", "SG_MUL_VAL_",
}

type attributeKind int

const (
	attrInt attributeKind = iota
	attrFloat
	attrString
)

// Format serializes a matrix as DBC text. Messages are written in ascending
// id order and signals in model order, so equal models format identically.
//
// Multiplexed signals carry only their first multiplexer id; extended
// multiplexing (SG_MUL_VAL_) is not written.
func Format(m *matrix.Matrix) []byte {
	var b bytes.Buffer
	messages := m.Messages()

	fmt.Fprintf(&b, "VERSION %s\n\n\n", quote(m.Version))
	b.WriteString("NS_ :\n")
	for _, sym := range newSymbols {
		b.WriteString("\t" + sym + "\n")
	}
	b.WriteString("\nBS_:\n\n")
	b.WriteString("BU_:")
	for _, n := range m.NodeNames() {
		b.WriteString(" " + n)
	}
	b.WriteString("\n\n\n")

	for _, msg := range messages {
		writeMessage(&b, msg)
	}

	for _, msg := range messages {
		if len(msg.Senders) > 1 {
			fmt.Fprintf(&b, "BO_TX_BU_ %d : %s;\n", wireID(msg), strings.Join(msg.Senders, ","))
		}
	}
	b.WriteString("\n")

	for _, msg := range messages {
		if msg.Comment != "" {
			fmt.Fprintf(&b, "CM_ BO_ %d %s;\n", wireID(msg), quote(msg.Comment))
		}
		for _, s := range msg.Signals {
			if s.Comment != "" {
				fmt.Fprintf(&b, "CM_ SG_ %d %s %s;\n", wireID(msg), s.Name, quote(s.Comment))
			}
		}
	}

	writeAttributes(&b, messages)

	for _, msg := range messages {
		for _, s := range msg.Signals {
			keys := sortedValueKeys(s.ValueTable)
			if len(keys) == 0 {
				continue
			}
			fmt.Fprintf(&b, "VAL_ %d %s", wireID(msg), s.Name)
			for _, raw := range keys {
				fmt.Fprintf(&b, " %s %s", raw, quote(s.ValueTable[raw]))
			}
			b.WriteString(" ;\n")
		}
	}
	return b.Bytes()
}

func writeMessage(b *bytes.Buffer, msg *matrix.Message) {
	sender := vectorNode
	if len(msg.Senders) > 0 {
		sender = msg.Senders[0]
	}
	fmt.Fprintf(b, "BO_ %d %s: %d %s\n", wireID(msg), msg.Name, msg.Length, sender)
	for _, s := range msg.Signals {
		b.WriteString(" SG_ " + s.Name)
		switch s.Multiplex {
		case matrix.Multiplexor:
			b.WriteString(" M")
		case matrix.Multiplexed:
			if len(s.MultiplexerIDs) > 0 {
				b.WriteString(" m" + strconv.FormatUint(s.MultiplexerIDs[0], 10))
			}
		}
		order := "1"
		if s.ByteOrder == matrix.BigEndian {
			order = "0"
		}
		sign := "+"
		if s.IsSigned {
			sign = "-"
		}
		// DBC has no way to leave one limit open, so a lone limit is
		// written as [0|0] and reads back as no limits.
		var minimum, maximum float64
		if s.Minimum != nil && s.Maximum != nil {
			minimum, maximum = *s.Minimum, *s.Maximum
		}
		receivers := vectorNode
		if len(s.Receivers) > 0 {
			receivers = strings.Join(s.Receivers, ",")
		}
		fmt.Fprintf(b, " : %d|%d@%s%s (%s,%s) [%s|%s] %s %s\n",
			s.StartBit, s.Length, order, sign,
			formatFloat(s.Scale), formatFloat(s.Offset),
			formatFloat(minimum), formatFloat(maximum),
			quote(s.Unit), receivers)
	}
	b.WriteString("\n")
}

func writeAttributes(b *bytes.Buffer, messages []*matrix.Message) {
	kinds := map[string]attributeKind{}
	hasCycleTime := false
	for _, msg := range messages {
		if msg.CycleTime != nil {
			hasCycleTime = true
		}
		for name, value := range msg.Attributes {
			k := classify(value)
			if prev, ok := kinds[name]; !ok || k > prev {
				kinds[name] = k
			}
		}
	}
	if hasCycleTime {
		kinds[cycleTimeAttribute] = attrInt
	}
	if len(kinds) == 0 {
		return
	}

	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		switch kinds[name] {
		case attrInt:
			fmt.Fprintf(b, "BA_DEF_ BO_  %s INT 0 2147483647;\n", quote(name))
		case attrFloat:
			fmt.Fprintf(b, "BA_DEF_ BO_  %s FLOAT -1000000000 1000000000;\n", quote(name))
		default:
			fmt.Fprintf(b, "BA_DEF_ BO_  %s STRING ;\n", quote(name))
		}
	}
	for _, name := range names {
		if kinds[name] == attrString {
			fmt.Fprintf(b, "BA_DEF_DEF_  %s \"\";\n", quote(name))
		} else {
			fmt.Fprintf(b, "BA_DEF_DEF_  %s 0;\n", quote(name))
		}
	}
	for _, msg := range messages {
		if msg.CycleTime != nil {
			fmt.Fprintf(b, "BA_ %s BO_ %d %d;\n", quote(cycleTimeAttribute), wireID(msg), *msg.CycleTime)
		}
		for _, name := range sortedKeys(msg.Attributes) {
			if name == cycleTimeAttribute && msg.CycleTime != nil {
				continue
			}
			value := msg.Attributes[name]
			if kinds[name] == attrString {
				value = quote(value)
			}
			fmt.Fprintf(b, "BA_ %s BO_ %d %s;\n", quote(name), wireID(msg), value)
		}
	}
	b.WriteString("\n")
}

func classify(value string) attributeKind {
	if _, err := strconv.ParseInt(value, 10, 64); err == nil {
		return attrInt
	}
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return attrFloat
	}
	return attrString
}

func wireID(msg *matrix.Message) uint32 {
	if msg.IsExtended {
		return msg.ID | extendedFrameFlag
	}
	return msg.ID
}

// quote writes s as a DBC string literal, escaping backslashes and quotes.
// The parser reads a backslash right before the closing quote as an escaped
// quote, so a trailing backslash is followed by a space.
func quote(s string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
	if strings.HasSuffix(s, `\`) {
		escaped += " "
	}
	return `"` + escaped + `"`
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// sortedValueKeys returns the integer keys of a value table in numeric
// order. Keys that are not integers cannot be expressed in DBC and are dropped.
func sortedValueKeys(table map[string]string) []string {
	type entry struct {
		key string
		raw int64
	}
	entries := make([]entry, 0, len(table))
	for k := range table {
		raw, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, entry{key: k, raw: raw})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].raw < entries[j].raw })
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.key)
	}
	return keys
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
