// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dbc converts between DBC descriptor text and the matrix model.
//
// Reading is delegated to go.einride.tech/can/pkg/dbc; this package is the
// only place that looks at the parser's definition types. Everything above
// it works on *matrix.Matrix.
package dbc

import (
	"strconv"
	"strings"
	"time"

	candbc "go.einride.tech/can/pkg/dbc"

	"github.com/AleutianAI/dbcpatch/pkg/matrix"
)

const (
	// vectorNode is the DBC placeholder for "no node".
	vectorNode = "Vector__XXX"

	// independentSignalsMessage is the pseudo message DBC editors use to
	// park signals that belong to no frame.
	independentSignalsMessage = "VECTOR__INDEPENDENT_SIG_MSG"

	// cycleTimeAttribute carries the message cycle time in milliseconds.
	cycleTimeAttribute = "GenMsgCycleTime"
)

// Parse reads DBC text into a matrix. source is recorded as the matrix's
// source identity and used in error messages.
func Parse(source string, data []byte) (*matrix.Matrix, error) {
	p := candbc.NewParser(source, data)
	if err := p.Parse(); err != nil {
		return nil, &ParseError{Source: source, Err: err}
	}
	m, err := fromDefs(p.Defs())
	if err != nil {
		return nil, &ParseError{Source: source, Err: err}
	}
	m.Source = source
	m.LoadedAt = time.Now().UTC()
	return m, nil
}

type messageExtras struct {
	transmitters []string
	comment      string
	attributes   map[string]string
	signalNotes  map[string]string
	valueTables  map[string]map[string]string
}

func fromDefs(defs []candbc.Def) (*matrix.Matrix, error) {
	var (
		version  string
		nodes    []string
		messages []*matrix.Message
	)
	extras := map[uint32]*messageExtras{}
	extra := func(id uint32) *messageExtras {
		e, ok := extras[id]
		if !ok {
			e = &messageExtras{
				attributes:  map[string]string{},
				signalNotes: map[string]string{},
				valueTables: map[string]map[string]string{},
			}
			extras[id] = e
		}
		return e
	}

	for _, def := range defs {
		switch d := def.(type) {
		case *candbc.VersionDef:
			version = unescape(d.Version)
		case *candbc.NodesDef:
			for _, n := range d.NodeNames {
				nodes = append(nodes, string(n))
			}
		case *candbc.MessageDef:
			if string(d.Name) == independentSignalsMessage {
				continue
			}
			messages = append(messages, messageFromDef(d))
		case *candbc.MessageTransmittersDef:
			e := extra(d.MessageID.ToCAN())
			for _, t := range d.Transmitters {
				e.transmitters = append(e.transmitters, string(t))
			}
		case *candbc.CommentDef:
			switch d.ObjectType {
			case candbc.ObjectTypeMessage:
				extra(d.MessageID.ToCAN()).comment = unescape(d.Comment)
			case candbc.ObjectTypeSignal:
				extra(d.MessageID.ToCAN()).signalNotes[string(d.SignalName)] = unescape(d.Comment)
			}
		case *candbc.ValueDescriptionsDef:
			if d.SignalName == "" {
				continue
			}
			table := make(map[string]string, len(d.ValueDescriptions))
			for _, vd := range d.ValueDescriptions {
				table[strconv.FormatInt(int64(vd.Value), 10)] = unescape(vd.Description)
			}
			extra(d.MessageID.ToCAN()).valueTables[string(d.SignalName)] = table
		case *candbc.AttributeValueForObjectDef:
			if d.ObjectType != candbc.ObjectTypeMessage {
				continue
			}
			extra(d.MessageID.ToCAN()).attributes[string(d.AttributeName)] = attributeValue(d)
		}
	}

	for _, msg := range messages {
		e, ok := extras[msg.ID]
		if !ok {
			continue
		}
		applyExtras(msg, e)
	}

	return matrix.New(version, nodes, messages)
}

func messageFromDef(d *candbc.MessageDef) *matrix.Message {
	msg := &matrix.Message{
		ID:         d.MessageID.ToCAN(),
		Name:       string(d.Name),
		Length:     int(d.Size),
		IsExtended: d.MessageID.IsExtended(),
		Attributes: map[string]string{},
		Senders:    []string{},
		Signals:    make([]*matrix.Signal, 0, len(d.Signals)),
	}
	if t := string(d.Transmitter); t != "" && t != vectorNode {
		msg.Senders = append(msg.Senders, t)
	}
	// Signals keep their source order.
	for i := range d.Signals {
		msg.Signals = append(msg.Signals, signalFromDef(&d.Signals[i]))
	}
	return msg
}

func signalFromDef(d *candbc.SignalDef) *matrix.Signal {
	s := &matrix.Signal{
		Name:       string(d.Name),
		StartBit:   int(d.StartBit),
		Length:     int(d.Size),
		ByteOrder:  matrix.LittleEndian,
		IsSigned:   d.IsSigned,
		Scale:      d.Factor,
		Offset:     d.Offset,
		Unit:       unescape(d.Unit),
		ValueTable: map[string]string{},
	}
	if d.IsBigEndian {
		s.ByteOrder = matrix.BigEndian
	}
	// [0|0] is how DBC spells "no limits".
	if d.Minimum != 0 || d.Maximum != 0 {
		s.Minimum = matrix.Float(d.Minimum)
		s.Maximum = matrix.Float(d.Maximum)
	}
	switch {
	case d.IsMultiplexed:
		s.Multiplex = matrix.Multiplexed
		s.MultiplexerIDs = []uint64{d.MultiplexerSwitch}
	case d.IsMultiplexerSwitch:
		s.Multiplex = matrix.Multiplexor
	}
	for _, r := range d.Receivers {
		if name := string(r); name != vectorNode {
			s.Receivers = append(s.Receivers, name)
		}
	}
	s.Normalize()
	return s
}

func applyExtras(msg *matrix.Message, e *messageExtras) {
	for _, t := range e.transmitters {
		if t == vectorNode || contains(msg.Senders, t) {
			continue
		}
		msg.Senders = append(msg.Senders, t)
	}
	msg.Comment = e.comment
	for k, v := range e.attributes {
		if k == cycleTimeAttribute {
			if ct, err := strconv.Atoi(v); err == nil {
				msg.CycleTime = &ct
			}
			continue
		}
		msg.Attributes[k] = v
	}
	for _, s := range msg.Signals {
		if note, ok := e.signalNotes[s.Name]; ok {
			s.Comment = note
		}
		if table, ok := e.valueTables[s.Name]; ok {
			s.ValueTable = table
		}
	}
}

func attributeValue(d *candbc.AttributeValueForObjectDef) string {
	switch {
	case d.StringValue != "":
		return unescape(d.StringValue)
	case d.FloatValue != 0:
		return strconv.FormatFloat(d.FloatValue, 'f', -1, 64)
	default:
		return strconv.FormatInt(d.IntValue, 10)
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// unescape undoes the backslash escapes of a DBC string. The parser hands
// strings over with escaped quotes still in place.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && (s[i+1] == '"' || s[i+1] == '\\') {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
