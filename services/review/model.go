// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package review provides the interactive terminal review of a patch
// document before it is applied.
//
// # Description
//
// Each rule of a document is shown in turn. The user accepts, rejects or
// skips it; the accepted rules form a new document that keeps the original
// creation time.
//
// # Thread Safety
//
// The model is used from the bubbletea event loop only.
package review

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/AleutianAI/dbcpatch/services/patch"
)

// ErrCancelled is returned by Run when the user quits without finishing.
var ErrCancelled = errors.New("review cancelled")

// =============================================================================
// Decisions
// =============================================================================

// Decision is the user's verdict on one rule.
type Decision int

const (
	DecisionPending Decision = iota
	DecisionAccept
	DecisionReject
	DecisionSkip
)

func (d Decision) String() string {
	switch d {
	case DecisionAccept:
		return "accepted"
	case DecisionReject:
		return "rejected"
	case DecisionSkip:
		return "skipped"
	default:
		return "pending"
	}
}

// IsTerminal reports whether the rule no longer needs attention.
func (d Decision) IsTerminal() bool {
	return d == DecisionAccept || d == DecisionReject
}

// ViewMode selects the body of the screen.
type ViewMode int

const (
	// ViewRule shows the current rule.
	ViewRule ViewMode = iota

	// ViewSummary lists every rule with its decision.
	ViewSummary
)

// DoneMsg is sent once the review is complete.
type DoneMsg struct {
	Result *Result
}

// Config configures the review.
type Config struct {
	// ConfirmAcceptAll requires typing "yes" before accepting every
	// remaining rule.
	ConfirmAcceptAll bool
}

// DefaultConfig returns the interactive defaults.
func DefaultConfig() Config {
	return Config{ConfirmAcceptAll: true}
}

// Result is the outcome of a review.
type Result struct {
	Decisions []Decision
	Cancelled bool

	doc *patch.Document
}

// Counts returns how many rules received each decision.
func (r *Result) Counts() map[Decision]int {
	out := make(map[Decision]int, 4)
	for _, d := range r.Decisions {
		out[d]++
	}
	return out
}

// Document returns a document holding only the accepted rules, in their
// original order.
func (r *Result) Document() *patch.Document {
	rules := make([]patch.Rule, 0, len(r.doc.Rules))
	for i, rule := range r.doc.Rules {
		if r.Decisions[i] == DecisionAccept {
			rules = append(rules, rule)
		}
	}
	return patch.NewDocument(r.doc.Created, rules)
}

// =============================================================================
// Model
// =============================================================================

// Model is the bubbletea model for rule review.
type Model struct {
	config Config
	doc    *patch.Document

	decisions []Decision
	current   int
	viewMode  ViewMode

	viewport viewport.Model
	width    int
	height   int

	ready        bool
	confirmInput string
	showConfirm  bool
	quitting     bool
	cancelled    bool
}

// NewModel creates a model over the rules of doc.
//
// # Inputs
//
//   - doc: The document to review. It is not modified.
//   - config: Review options.
//
// # Outputs
//
//   - Model: Ready for tea.NewProgram.
func NewModel(doc *patch.Document, config Config) Model {
	return Model{
		config:    config,
		doc:       doc,
		decisions: make([]Decision, len(doc.Rules)),
		viewMode:  ViewRule,
	}
}

// Run drives an interactive review on the terminal.
//
// # Outputs
//
//   - *Result: The decisions taken.
//   - error: ErrCancelled if the user quit, or a terminal failure.
func Run(doc *patch.Document, config Config, opts ...tea.ProgramOption) (*Result, error) {
	final, err := tea.NewProgram(NewModel(doc, config), append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)...).Run()
	if err != nil {
		return nil, fmt.Errorf("run review: %w", err)
	}
	m, ok := final.(Model)
	if !ok {
		return nil, fmt.Errorf("unexpected model type %T", final)
	}
	res := m.Result()
	if res.Cancelled {
		return res, ErrCancelled
	}
	return res, nil
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 3
		footerHeight := 3
		viewportHeight := m.height - headerHeight - footerHeight

		if !m.ready {
			m.viewport = viewport.New(m.width, viewportHeight)
			m.viewport.YPosition = headerHeight
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = viewportHeight
		}
		m.updateViewportContent()

	case tea.KeyMsg:
		if m.showConfirm {
			return m.handleConfirmInput(msg)
		}

		switch msg.String() {
		case "y", "Y":
			m.decide(DecisionAccept)
			return m.advance()

		case "n", "N":
			m.decide(DecisionReject)
			return m.advance()

		case "s", "S":
			m.decide(DecisionSkip)
			return m.advance()

		case "a", "A":
			if m.config.ConfirmAcceptAll {
				m.showConfirm = true
				m.confirmInput = ""
				return m, nil
			}
			m.acceptAllRemaining()
			return m.finish()

		case "q", "Q", "ctrl+c":
			m.cancelled = true
			m.quitting = true
			return m, tea.Quit

		case "left", "h":
			if m.current > 0 {
				m.current--
				m.updateViewportContent()
			}
			return m, nil

		case "right", "l":
			if m.current < len(m.decisions)-1 {
				m.current++
				m.updateViewportContent()
			}
			return m, nil

		case "j", "down":
			m.viewport.LineDown(1)

		case "k", "up":
			m.viewport.LineUp(1)

		case "tab":
			if m.viewMode == ViewRule {
				m.viewMode = ViewSummary
			} else {
				m.viewMode = ViewRule
			}
			m.updateViewportContent()
			return m, nil

		case "enter":
			if m.viewMode == ViewSummary {
				return m.finish()
			}
			return m, nil
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		if m.cancelled {
			return "Review cancelled.\n"
		}
		return ""
	}
	if !m.ready {
		return "Loading...\n"
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	if m.showConfirm {
		b.WriteString(m.renderConfirm())
	} else {
		b.WriteString(m.viewport.View())
	}
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

// Result returns the decisions taken so far.
func (m Model) Result() *Result {
	decisions := make([]Decision, len(m.decisions))
	copy(decisions, m.decisions)
	return &Result{Decisions: decisions, Cancelled: m.cancelled, doc: m.doc}
}

// =============================================================================
// Actions
// =============================================================================

func (m *Model) decide(d Decision) {
	if m.current < len(m.decisions) {
		m.decisions[m.current] = d
	}
}

// advance moves to the next rule without a terminal decision, wrapping to
// the summary when none remains after the current one.
func (m Model) advance() (Model, tea.Cmd) {
	for i := m.current + 1; i < len(m.decisions); i++ {
		if !m.decisions[i].IsTerminal() {
			m.current = i
			m.updateViewportContent()
			return m, nil
		}
	}
	m.viewMode = ViewSummary
	m.updateViewportContent()
	return m, nil
}

func (m *Model) acceptAllRemaining() {
	for i, d := range m.decisions {
		if !d.IsTerminal() {
			m.decisions[i] = DecisionAccept
		}
	}
}

func (m Model) finish() (Model, tea.Cmd) {
	m.quitting = true
	result := m.Result()
	return m, tea.Sequence(
		func() tea.Msg { return DoneMsg{Result: result} },
		tea.Quit,
	)
}

func (m Model) handleConfirmInput(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.showConfirm = false
		if strings.ToLower(m.confirmInput) == "yes" {
			m.acceptAllRemaining()
			return m.finish()
		}
		m.confirmInput = ""

	case "esc":
		m.showConfirm = false
		m.confirmInput = ""

	case "backspace":
		if len(m.confirmInput) > 0 {
			m.confirmInput = m.confirmInput[:len(m.confirmInput)-1]
		}

	default:
		if len(msg.String()) == 1 {
			m.confirmInput += msg.String()
		}
	}
	return m, nil
}

func (m *Model) updateViewportContent() {
	if !m.ready {
		return
	}
	if m.viewMode == ViewSummary {
		m.viewport.SetContent(m.renderSummary())
	} else {
		m.viewport.SetContent(m.renderRule())
	}
	m.viewport.GotoTop()
}
