// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package review

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/dbcpatch/services/patch"
)

func (m Model) renderHeader() string {
	total := len(m.decisions)
	if total == 0 {
		return titleStyle.Render("Patch review: no rules")
	}
	title := titleStyle.Render("Patch review")
	pos := statsStyle.Render(fmt.Sprintf("rule %d of %d", m.current+1, total))
	return lipgloss.JoinHorizontal(lipgloss.Top, title, "  ", pos)
}

func (m Model) renderFooter() string {
	keys := [][2]string{
		{"y", "accept"}, {"n", "reject"}, {"s", "skip"}, {"a", "accept all"},
		{"←/→", "move"}, {"tab", "summary"}, {"enter", "finish"}, {"q", "quit"},
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, helpKeyStyle.Render(k[0])+" "+helpDescStyle.Render(k[1]))
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderConfirm() string {
	return fmt.Sprintf("Accept every remaining rule? Type %s and press enter: %s",
		helpKeyStyle.Render("yes"), m.confirmInput)
}

func (m Model) renderRule() string {
	if m.current >= len(m.doc.Rules) {
		return ""
	}
	rule := m.doc.Rules[m.current]
	op, target := patch.Summary(rule)

	var b strings.Builder
	b.WriteString(badge(m.decisions[m.current]))
	b.WriteString(" ")
	b.WriteString(opStyle.Render(op))
	b.WriteString(" ")
	b.WriteString(targetStyle.Render(target))
	b.WriteString("\n")
	b.WriteString(statsStyle.Render("message " + rule.MessageID()))
	b.WriteString("\n\n")

	switch r := rule.(type) {
	case *patch.UpdateSignal:
		writeChanges(&b, r.Changes)
	case *patch.UpdateMessageSenders:
		writeChanges(&b, patch.Changes{"senders": r.Senders})
	case *patch.RenameSignal:
		fmt.Fprintf(&b, "signal at %s → %s\n", r.Match, addedStyle.Render(r.NewName))
	case *patch.Unknown:
		b.WriteString(removedStyle.Render("unsupported rule; it is skipped on apply"))
		b.WriteString("\n")
	default:
		if raw, err := patch.MarshalRule(rule); err == nil {
			var pretty bytes.Buffer
			if json.Indent(&pretty, raw, "", "  ") == nil {
				b.WriteString(contextStyle.Render(pretty.String()))
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

func writeChanges(b *strings.Builder, changes patch.Changes) {
	fields := make([]string, 0, len(changes))
	for f := range changes {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		c := changes[f]
		b.WriteString(fieldStyle.Render(f))
		b.WriteString("\n")
		if c.HasFrom() {
			b.WriteString(removedStyle.Render("  - " + string(c.From)))
			b.WriteString("\n")
		}
		b.WriteString(addedStyle.Render("  + " + string(c.To)))
		b.WriteString("\n")
	}
}

func (m Model) renderSummary() string {
	var b strings.Builder
	counts := m.Result().Counts()
	fmt.Fprintf(&b, "%d accepted, %d rejected, %d skipped, %d pending\n\n",
		counts[DecisionAccept], counts[DecisionReject], counts[DecisionSkip], counts[DecisionPending])
	for i, rule := range m.doc.Rules {
		op, target := patch.Summary(rule)
		fmt.Fprintf(&b, "%3d %s %s %s\n", i+1, badge(m.decisions[i]), op, target)
	}
	b.WriteString("\n")
	b.WriteString(statsStyle.Render("Only accepted rules are kept. Press enter to finish."))
	return b.String()
}

func badge(d Decision) string {
	switch d {
	case DecisionAccept:
		return acceptedBadge.Render(d.String())
	case DecisionReject:
		return rejectedBadge.Render(d.String())
	default:
		return pendingBadge.Render(d.String())
	}
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	opStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	targetStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("75"))

	fieldStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("75")).
			Bold(true)

	statsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	addedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	removedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	contextStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	helpKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	helpDescStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	acceptedBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Background(lipgloss.Color("22")).
			Padding(0, 1)

	rejectedBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Background(lipgloss.Color("52")).
			Padding(0, 1)

	pendingBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Background(lipgloss.Color("58")).
			Padding(0, 1)
)
