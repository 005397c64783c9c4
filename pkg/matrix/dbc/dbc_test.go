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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/dbcpatch/pkg/matrix"
)

const sampleDBC = `VERSION "1.0"


NS_ :
	CM_
	BA_DEF_
	BA_
	VAL_

BS_:

BU_: ECU Dash Body Gateway


BO_ 256 Engine: 8 ECU
 SG_ Speed : 0|16@1+ (0.1,0) [0|250] "km/h" Dash,Body
 SG_ Gear : 16|4@1+ (1,0) [0|0] "" Dash

BO_ 2566848512 Diag: 8 Vector__XXX
 SG_ Mode M : 0|8@1+ (1,0) [0|0] "" Vector__XXX
 SG_ Temp m1 : 8|8@0- (1,-40) [-40|215] "degC" ECU

BO_TX_BU_ 256 : ECU,Gateway;

CM_ BO_ 256 "Engine status";
CM_ SG_ 256 Speed "Vehicle speed";
BA_DEF_ BO_  "GenMsgCycleTime" INT 0 65535;
BA_DEF_ BO_  "GenMsgSendType" STRING ;
BA_DEF_DEF_  "GenMsgCycleTime" 0;
BA_DEF_DEF_  "GenMsgSendType" "";
BA_ "GenMsgCycleTime" BO_ 256 100;
BA_ "GenMsgSendType" BO_ 256 "Cyclic";
VAL_ 256 Gear 0 "P" 1 "R" 2 "N" 3 "D" ;
`

func parseSample(t *testing.T) *matrix.Matrix {
	t.Helper()
	m, err := Parse("sample.dbc", []byte(sampleDBC))
	require.NoError(t, err)
	return m
}

func TestParse_Messages(t *testing.T) {
	m := parseSample(t)

	assert.Equal(t, "1.0", m.Version)
	assert.Equal(t, []string{"ECU", "Dash", "Body", "Gateway"}, m.Nodes)
	assert.Equal(t, "sample.dbc", m.Source)
	assert.Equal(t, []uint32{0x100, 0x18ff0000}, m.IDs())

	engine, ok := m.Message(0x100)
	require.True(t, ok)
	assert.Equal(t, "Engine", engine.Name)
	assert.Equal(t, 8, engine.Length)
	assert.False(t, engine.IsExtended)
	assert.Equal(t, []string{"ECU", "Gateway"}, engine.Senders)
	assert.Equal(t, "Engine status", engine.Comment)
	require.NotNil(t, engine.CycleTime)
	assert.Equal(t, 100, *engine.CycleTime)
	assert.Equal(t, map[string]string{"GenMsgSendType": "Cyclic"}, engine.Attributes)

	diag, ok := m.MessageByName("Diag")
	require.True(t, ok)
	assert.True(t, diag.IsExtended)
	assert.Empty(t, diag.Senders)
}

func TestParse_Signals(t *testing.T) {
	m := parseSample(t)
	engine, _ := m.Message(0x100)

	speed, ok := engine.Signal("Speed")
	require.True(t, ok)
	assert.Equal(t, 0, speed.StartBit)
	assert.Equal(t, 16, speed.Length)
	assert.Equal(t, matrix.LittleEndian, speed.ByteOrder)
	assert.False(t, speed.IsSigned)
	assert.Equal(t, 0.1, speed.Scale)
	assert.Equal(t, "km/h", speed.Unit)
	assert.Equal(t, "Vehicle speed", speed.Comment)
	require.NotNil(t, speed.Maximum)
	assert.Equal(t, 250.0, *speed.Maximum)
	assert.Equal(t, []string{"Body", "Dash"}, speed.Receivers)

	gear, _ := engine.Signal("Gear")
	assert.Nil(t, gear.Minimum)
	assert.Equal(t, map[string]string{"0": "P", "1": "R", "2": "N", "3": "D"}, gear.ValueTable)

	diag, _ := m.Message(0x18ff0000)
	mode, _ := diag.Signal("Mode")
	assert.Equal(t, matrix.Multiplexor, mode.Multiplex)
	assert.Empty(t, mode.Receivers)

	temp, _ := diag.Signal("Temp")
	assert.Equal(t, matrix.Multiplexed, temp.Multiplex)
	assert.Equal(t, []uint64{1}, temp.MultiplexerIDs)
	assert.Equal(t, matrix.BigEndian, temp.ByteOrder)
	assert.True(t, temp.IsSigned)
	assert.Equal(t, -40.0, temp.Offset)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse("broken.dbc", []byte("BO_ notanid Engine: 8 ECU\n"))
	require.Error(t, err)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "broken.dbc", perr.Source)
}

func TestFormat_RoundTrip(t *testing.T) {
	m := parseSample(t)

	again, err := Parse("again.dbc", Format(m))
	require.NoError(t, err)

	assert.Equal(t, m.IDs(), again.IDs())
	for _, id := range m.IDs() {
		want, _ := m.Message(id)
		got, _ := again.Message(id)
		assert.Equal(t, want, got, "message %s", want.HexID())
	}
}

func TestFormat_Deterministic(t *testing.T) {
	m := parseSample(t)
	assert.Equal(t, string(Format(m)), string(Format(m.Clone())))
}

func TestFormat_DropsNonIntegerValueKeys(t *testing.T) {
	msg := matrix.NewPlaceholderMessage(0x10, "M")
	sig := matrix.NewDefaultSignal("S")
	sig.ValueTable = map[string]string{"1": "On", "x": "Bad"}
	msg.Signals = append(msg.Signals, sig)
	m, err := matrix.New("", nil, []*matrix.Message{msg})
	require.NoError(t, err)

	again, err := Parse("t.dbc", Format(m))
	require.NoError(t, err)
	got, _ := again.Message(0x10)
	assert.Equal(t, map[string]string{"1": "On"}, got.Signals[0].ValueTable)
}

func TestCodec_SaveLoad(t *testing.T) {
	codec := NewCodec(nil)
	path := filepath.Join(t.TempDir(), "out", "sample.dbc")

	require.NoError(t, codec.Save(path, parseSample(t), true))

	loaded, err := codec.Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, loaded.Source)
	assert.Equal(t, 2, loaded.Len())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestCodec_LoadMissingFile(t *testing.T) {
	_, err := NewCodec(nil).Load(filepath.Join(t.TempDir(), "missing.dbc"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCodec_Rebuild(t *testing.T) {
	m := parseSample(t)
	engine, _ := m.Message(0x100)
	engine.Signals = append(engine.Signals, matrix.NewDefaultSignal("Added"))

	rebuilt, err := NewCodec(nil).Rebuild(m)
	require.NoError(t, err)
	assert.Equal(t, "sample.dbc", rebuilt.Source)

	got, _ := rebuilt.Message(0x100)
	names := got.SignalNames()
	assert.Equal(t, []string{"Speed", "Gear", "Added"}, names)
}

func TestParse_KeepsSignalOrder(t *testing.T) {
	text := `VERSION ""
BU_: ECU
BO_ 16 M: 8 ECU
 SG_ High : 32|8@1+ (1,0) [0|0] "" ECU
 SG_ Low : 0|8@1+ (1,0) [0|0] "" ECU
`
	m, err := Parse("order.dbc", []byte(text))
	require.NoError(t, err)
	msg, _ := m.Message(0x10)
	assert.Equal(t, []string{"High", "Low"}, msg.SignalNames())

	again, err := Parse("again.dbc", Format(m))
	require.NoError(t, err)
	msg, _ = again.Message(0x10)
	assert.Equal(t, []string{"High", "Low"}, msg.SignalNames())
}

func TestParse_UnescapesStrings(t *testing.T) {
	text := `VERSION ""
BU_: ECU
BO_ 256 Engine: 8 ECU
 SG_ Temp : 0|8@1+ (1,0) [0|0] "" ECU

CM_ BO_ 256 "path C:\\ecu";
CM_ SG_ 256 Temp "say \"hi\"";
`
	m, err := Parse("escaped.dbc", []byte(text))
	require.NoError(t, err)
	msg, _ := m.Message(0x100)
	assert.Equal(t, `path C:\ecu`, msg.Comment)
	temp, _ := msg.Signal("Temp")
	assert.Equal(t, `say "hi"`, temp.Comment)
}

func TestCodec_RebuildKeepsEscapedText(t *testing.T) {
	codec := NewCodec(nil)
	comments := []string{`say "hi"`, `back\slash`, `mixed \"both\"`, `ends with \`}

	for _, comment := range comments {
		t.Run(comment, func(t *testing.T) {
			sig := matrix.NewDefaultSignal("S")
			sig.Comment = comment
			sig.ValueTable = map[string]string{"1": comment}
			msg := matrix.NewPlaceholderMessage(0x20, "M")
			msg.Comment = comment
			msg.Signals = append(msg.Signals, sig)
			m, err := matrix.New("", nil, []*matrix.Message{msg})
			require.NoError(t, err)

			first, err := codec.Rebuild(m)
			require.NoError(t, err)
			text := string(Format(first))
			for i := 0; i < 3; i++ {
				next, err := codec.Rebuild(first)
				require.NoError(t, err)
				assert.Equal(t, text, string(Format(next)), "pass %d", i+1)
				first = next
			}

			got, _ := first.Message(0x20)
			s, _ := got.Signal("S")
			want := comment
			if strings.HasSuffix(comment, `\`) {
				want += " "
			}
			assert.Equal(t, want, got.Comment)
			assert.Equal(t, want, s.Comment)
			assert.Equal(t, want, s.ValueTable["1"])
		})
	}
}

func TestFormat_LoneLimitIsDropped(t *testing.T) {
	sig := matrix.NewDefaultSignal("S")
	sig.Minimum = matrix.Float(-5)
	msg := matrix.NewPlaceholderMessage(0x30, "M")
	msg.Signals = append(msg.Signals, sig)
	m, err := matrix.New("", nil, []*matrix.Message{msg})
	require.NoError(t, err)

	again, err := Parse("t.dbc", Format(m))
	require.NoError(t, err)
	got, _ := again.Message(0x30)
	assert.Nil(t, got.Signals[0].Minimum)
	assert.Nil(t, got.Signals[0].Maximum)
}
