package models

import (
	"encoding/json"
	"fmt"
)

// CardRef is a card name as it appears in a submitted game state, before
// resolution against the catalog.
type CardRef struct {
	Name string `json:"name"`
}

// Hand is a player's hand as submitted in a game state. The wire format is an
// untyped union: either a JSON array of card refs (fully known) or an object
// with a count and a possibly empty list of known cards (hidden hand).
// Callers must branch on Known, never assume the array shape.
type Hand struct {
	// Known is true when the full hand contents were provided.
	Known bool `json:"known"`

	// Count is the hand size. For a fully known hand it equals len(Cards).
	Count int `json:"count"`

	// Cards holds the visible cards. For a partially known hand this may be
	// a subset of Count.
	Cards []CardRef `json:"cards"`
}

// partialHand is the object shape of the hand union.
type partialHand struct {
	Count int       `json:"count"`
	Known []CardRef `json:"known"`
}

// UnmarshalJSON accepts both shapes of the hand union.
func (h *Hand) UnmarshalJSON(data []byte) error {
	var full []CardRef
	if err := json.Unmarshal(data, &full); err == nil {
		h.Known = true
		h.Count = len(full)
		h.Cards = full
		return nil
	}

	var partial partialHand
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("hand is neither a card array nor a count object: %w", err)
	}
	if partial.Count < len(partial.Known) {
		return fmt.Errorf("hand count %d is smaller than %d known cards", partial.Count, len(partial.Known))
	}

	h.Known = false
	h.Count = partial.Count
	h.Cards = partial.Known
	return nil
}

// MarshalJSON renders a fully known hand as an array and a hidden hand as the
// count object, mirroring the accepted input shapes.
func (h Hand) MarshalJSON() ([]byte, error) {
	if h.Known {
		if h.Cards == nil {
			return json.Marshal([]CardRef{})
		}
		return json.Marshal(h.Cards)
	}
	return json.Marshal(partialHand{Count: h.Count, Known: h.Cards})
}
