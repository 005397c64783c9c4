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
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/dbcpatch/pkg/matrix"
)

func sampleDocument() *Document {
	payload := testSignal("Added", 8, 8)
	payload.Unit = "V"
	return NewDocument(fixedTime, []Rule{
		&AddMessage{ID: 0x300, Name: "Extra", Payload: testMessage(0x300, "Extra")},
		&RemoveMessage{ID: 0x200, Name: "Gone"},
		&AddSignalIfMissing{ID: 0x100, Signal: "Added", Payload: payload, FromRef: true},
		&RemoveSignal{ID: 0x100, Signal: "Old"},
		&UpdateSignal{ID: 0x100, Match: matrix.Locator{StartBit: 0, Length: 16}, Changes: Changes{
			"scale": NewChange(1.0, 0.1),
		}},
		&UpdateMessageSenders{ID: 0x100, Senders: NewChange([]string{"A"}, []string{"A", "B"})},
		&RenameSignal{ID: 0x100, Match: matrix.Locator{StartBit: 16, Length: 8}, NewName: "New"},
		&UpdateMessage{ID: 0x400, Payload: testMessage(0x400, "Whole")},
	})
}

func TestDocument_RoundTrip(t *testing.T) {
	doc := sampleDocument()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, doc))
	decoded, err := Decode(&buf)
	require.NoError(t, err)

	assert.Equal(t, doc.Version, decoded.Version)
	assert.True(t, doc.Created.Equal(decoded.Created))
	require.Len(t, decoded.Rules, len(doc.Rules))
	for i := range doc.Rules {
		assert.Equal(t, doc.Rules[i], decoded.Rules[i], "rule %d", i)
	}
}

func TestDocument_WireShape(t *testing.T) {
	doc := NewDocument(fixedTime, []Rule{
		&RenameSignal{ID: 0x100, Match: matrix.Locator{StartBit: 0, Length: 16}, NewName: "VehicleSpeed"},
	})

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"version": 1,
		"created": "2024-03-01T12:00:00Z",
		"rules": [{
			"op": "rename_signal",
			"message_id": "0x100",
			"signal_match": {"start_bit": 0, "length": 16},
			"signal_name": "VehicleSpeed"
		}]
	}`, string(data))
}

func TestDocument_UnsupportedVersion(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"version": 2, "created": "2024-01-01T00:00:00Z", "rules": []}`))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDocument_Malformed(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"version": 1, "rules": {}`))
	assert.ErrorIs(t, err, ErrMalformedDocument)
}

func TestDocument_TimestampWithoutZone(t *testing.T) {
	doc, err := Decode(strings.NewReader(`{"version": 1, "created": "2024-05-06T07:08:09.123456", "rules": []}`))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.UTC), doc.Created)
	assert.Empty(t, doc.Rules)
}

func TestUnmarshalRule_Variants(t *testing.T) {
	t.Run("legacy add_signal", func(t *testing.T) {
		r := UnmarshalRule(raw(`{"op":"add_signal","message_id":"0x10","signal":{"name":"S","start_bit":4}}`))
		add, ok := r.(*AddSignalIfMissing)
		require.True(t, ok, "got %T", r)
		assert.Equal(t, "S", add.Signal)
		assert.Equal(t, 4, add.Payload.StartBit)
		assert.Equal(t, 1, add.Payload.Length)
	})

	t.Run("decimal id", func(t *testing.T) {
		r := UnmarshalRule(raw(`{"op":"remove_message","message_id":"256"}`))
		assert.Equal(t, "0x100", r.MessageID())
	})

	t.Run("unknown op preserved", func(t *testing.T) {
		body := `{"op":"split_signal","message_id":"0x1","extra":true}`
		r := UnmarshalRule(raw(body))
		unknown, ok := r.(*Unknown)
		require.True(t, ok)
		assert.Equal(t, Op("split_signal"), unknown.Op())
		assert.NoError(t, unknown.Err)

		data, err := MarshalRule(r)
		require.NoError(t, err)
		assert.JSONEq(t, body, string(data))
	})

	t.Run("bad message id", func(t *testing.T) {
		r := UnmarshalRule(raw(`{"op":"remove_signal","message_id":"zz","signal_name":"S"}`))
		unknown, ok := r.(*Unknown)
		require.True(t, ok)
		assert.Error(t, unknown.Err)
	})

	t.Run("update without locator", func(t *testing.T) {
		r := UnmarshalRule(raw(`{"op":"update_signal","message_id":"0x1","changes":{}}`))
		unknown, ok := r.(*Unknown)
		require.True(t, ok)
		assert.Error(t, unknown.Err)
	})

	t.Run("not an object", func(t *testing.T) {
		r := UnmarshalRule(raw(`[1,2]`))
		unknown, ok := r.(*Unknown)
		require.True(t, ok)
		assert.Error(t, unknown.Err)
	})
}

func TestSummary(t *testing.T) {
	tests := []struct {
		rule   Rule
		op     string
		target string
	}{
		{&AddMessage{ID: 0x10}, "add_message", "0x10"},
		{&RemoveSignal{ID: 0x10, Signal: "S"}, "remove_signal", "S"},
		{&RenameSignal{ID: 0x10, NewName: "N"}, "rename_signal", "N"},
		{&UpdateSignal{ID: 0x10, Match: matrix.Locator{StartBit: 8, Length: 4}}, "update_signal", "0x10@8|4"},
		{&UpdateMessageSenders{ID: 0x20}, "update_message_senders", "0x20"},
	}
	for _, tt := range tests {
		op, target := Summary(tt.rule)
		assert.Equal(t, tt.op, op)
		assert.Equal(t, tt.target, target)
	}
}

func TestDocument_Counts(t *testing.T) {
	counts := sampleDocument().Counts()
	assert.Equal(t, 1, counts[OpAddMessage])
	assert.Equal(t, 1, counts[OpRenameSignal])
	assert.Len(t, counts, 8)
}

func TestReadWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "patch.json")
	doc := sampleDocument()

	require.NoError(t, WriteFile(path, doc))
	loaded, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, loaded.Rules, len(doc.Rules))

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
