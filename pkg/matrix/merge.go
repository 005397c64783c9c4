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

import "fmt"

// AdoptMessage stores a clone of tmpl in m under id. The clone takes the
// given id; an empty template name is replaced by name, or by the placeholder
// name when both are empty. The template itself is never shared with m, so a
// definition taken from a catalog or another snapshot stays independent.
func AdoptMessage(m *Matrix, id uint32, tmpl *Message, name string) (*Message, error) {
	if _, ok := m.Message(id); ok {
		return nil, fmt.Errorf("%w: %s", ErrMessageExists, FormatID(id))
	}
	clone := tmpl.Clone()
	clone.ID = id
	if clone.Name == "" {
		clone.Name = name
	}
	if clone.Name == "" {
		clone.Name = "MSG_" + FormatID(id)
	}
	m.Put(clone)
	return clone, nil
}

// AttachSignal appends a clone of sig to msg under the given name. An empty
// name keeps the template's name.
func AttachSignal(msg *Message, sig *Signal, name string) (*Signal, error) {
	clone := sig.Clone()
	if name != "" {
		clone.Name = name
	}
	if _, exists := msg.Signal(clone.Name); exists {
		return nil, fmt.Errorf("%w: %s in %s", ErrDuplicateSignal, clone.Name, msg.HexID())
	}
	clone.Normalize()
	msg.Signals = append(msg.Signals, clone)
	return clone, nil
}

// ReplaceMessage swaps the message stored under msg.ID for a clone of msg,
// keeping the id taken from the target rather than from the payload.
func ReplaceMessage(m *Matrix, id uint32, msg *Message) bool {
	if _, ok := m.Message(id); !ok {
		return false
	}
	clone := msg.Clone()
	clone.ID = id
	m.Put(clone)
	return true
}
