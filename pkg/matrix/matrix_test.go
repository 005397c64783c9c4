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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage(id uint32, name string, signals ...*Signal) *Message {
	msg := NewPlaceholderMessage(id, name)
	msg.Signals = append(msg.Signals, signals...)
	return msg
}

func TestNew_RejectsDuplicateIDs(t *testing.T) {
	_, err := New("", nil, []*Message{
		testMessage(0x100, "A"),
		testMessage(0x100, "B"),
	})
	require.ErrorIs(t, err, ErrDuplicateMessage)
}

func TestMatrix_Lookups(t *testing.T) {
	m, err := New("1.0", []string{"ECU"}, []*Message{
		testMessage(0x200, "Brake"),
		testMessage(0x100, "Engine"),
	})
	require.NoError(t, err)

	assert.Equal(t, []uint32{0x100, 0x200}, m.IDs())

	msg, ok := m.Message(0x200)
	require.True(t, ok)
	assert.Equal(t, "Brake", msg.Name)

	msg, ok = m.MessageByName("Engine")
	require.True(t, ok)
	assert.Equal(t, uint32(0x100), msg.ID)

	_, ok = m.MessageByName("Missing")
	assert.False(t, ok)
}

func TestMatrix_MessageByName_AfterInPlaceRename(t *testing.T) {
	m, err := New("", nil, []*Message{testMessage(0x1, "Old")})
	require.NoError(t, err)

	msg, _ := m.Message(0x1)
	msg.Name = "New"

	found, ok := m.MessageByName("New")
	require.True(t, ok)
	assert.Same(t, msg, found)

	_, ok = m.MessageByName("Old")
	assert.False(t, ok)
}

func TestMatrix_PutDelete(t *testing.T) {
	m := Empty()
	m.Put(testMessage(0x10, "A"))
	m.Put(testMessage(0x10, "B"))

	assert.Equal(t, 1, m.Len())
	_, ok := m.MessageByName("A")
	assert.False(t, ok)

	assert.True(t, m.Delete(0x10))
	assert.False(t, m.Delete(0x10))
	assert.Equal(t, 0, m.Len())
}

func TestMatrix_CloneIsDeep(t *testing.T) {
	sig := &Signal{Name: "Speed", Length: 16, Scale: 0.1, Minimum: Float(0), ValueTable: map[string]string{"0": "Stop"}}
	m, err := New("", nil, []*Message{testMessage(0x100, "Engine", sig)})
	require.NoError(t, err)

	c := m.Clone()
	cm, _ := c.Message(0x100)
	cm.Signals[0].Name = "Changed"
	*cm.Signals[0].Minimum = 5
	cm.Signals[0].ValueTable["0"] = "Changed"

	assert.Equal(t, "Speed", sig.Name)
	assert.Equal(t, 0.0, *sig.Minimum)
	assert.Equal(t, "Stop", sig.ValueTable["0"])
}

func TestMatrix_Validate(t *testing.T) {
	m, err := New("", nil, []*Message{
		testMessage(0x1, "A", &Signal{Name: "X"}, &Signal{Name: "X"}),
	})
	require.NoError(t, err)
	assert.ErrorIs(t, m.Validate(), ErrDuplicateSignal)
}

func TestMatrix_NodeNamesDerived(t *testing.T) {
	msg := testMessage(0x1, "A", &Signal{Name: "X", Receivers: []string{"Dash", "Body"}})
	msg.Senders = []string{"Engine"}
	m, err := New("", nil, []*Message{msg})
	require.NoError(t, err)

	assert.Equal(t, []string{"Body", "Dash", "Engine"}, m.NodeNames())
}

func TestMessage_SignalHelpers(t *testing.T) {
	msg := testMessage(0x1, "A",
		&Signal{Name: "X", StartBit: 0, Length: 8},
		&Signal{Name: "Y", StartBit: 8, Length: 8},
	)

	s, ok := msg.SignalAt(Locator{StartBit: 8, Length: 8})
	require.True(t, ok)
	assert.Equal(t, "Y", s.Name)

	assert.True(t, msg.RemoveSignal("X"))
	assert.False(t, msg.RemoveSignal("X"))
	assert.Equal(t, []string{"Y"}, msg.SignalNames())
}

func TestParseID(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{"0x100", 0x100, false},
		{"0X1A0", 0x1a0, false},
		{"7ff", 0x7ff, false},
		{"", 0, true},
		{"0xZZ", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseID(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "0x1a0", FormatID(0x1a0))
}

func TestSignal_UnmarshalDefaultsAndLegacyNames(t *testing.T) {
	var s Signal
	require.NoError(t, json.Unmarshal([]byte(`{"name":"X","byte_order":"motorola","multiplex":"MUX","receivers":["B","A","A"]}`), &s))

	assert.Equal(t, BigEndian, s.ByteOrder)
	assert.Equal(t, Multiplexor, s.Multiplex)
	assert.Equal(t, 1, s.Length)
	assert.Equal(t, 1.0, s.Scale)
	assert.Equal(t, []string{"A", "B"}, s.Receivers)
	assert.NotNil(t, s.ValueTable)
}

func TestMessage_UnmarshalDefaultLength(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"frame_id":256,"name":"A"}`), &m))
	assert.Equal(t, DefaultMessageLength, m.Length)
	assert.Empty(t, m.Signals)
}

func TestAdoptMessage(t *testing.T) {
	m := Empty()
	tmpl := testMessage(0x42, "", NewDefaultSignal("S"))

	got, err := AdoptMessage(m, 0x99, tmpl, "")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x99), got.ID)
	assert.Equal(t, "MSG_0x99", got.Name)
	assert.NotSame(t, tmpl.Signals[0], got.Signals[0])
	assert.Equal(t, uint32(0x42), tmpl.ID)

	_, err = AdoptMessage(m, 0x99, tmpl, "Other")
	assert.ErrorIs(t, err, ErrMessageExists)

	got, err = AdoptMessage(m, 0x100, tmpl, "Named")
	require.NoError(t, err)
	assert.Equal(t, "Named", got.Name)
}

func TestReplaceMessage(t *testing.T) {
	m, err := New("", nil, []*Message{testMessage(0x1, "Old")})
	require.NoError(t, err)

	assert.False(t, ReplaceMessage(m, 0x2, testMessage(0x2, "X")))
	assert.True(t, ReplaceMessage(m, 0x1, testMessage(0x7, "New")))

	got, ok := m.Message(0x1)
	require.True(t, ok)
	assert.Equal(t, "New", got.Name)
	assert.Equal(t, uint32(0x1), got.ID)
	_, ok = m.MessageByName("Old")
	assert.False(t, ok)
}

func TestAttachSignal(t *testing.T) {
	msg := testMessage(0x1, "A")
	tmpl := NewDefaultSignal("Tmpl")

	s, err := AttachSignal(msg, tmpl, "Renamed")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", s.Name)
	assert.Equal(t, "Tmpl", tmpl.Name)

	_, err = AttachSignal(msg, tmpl, "Renamed")
	assert.ErrorIs(t, err, ErrDuplicateSignal)
}
