package models

import (
	"time"

	"github.com/arbiter-ai/arbiter-engine/pkg/normalize"
)

// Card is one canonical catalog entry, keyed by the upstream oracle ID.
// NormalizedName is always derived from Name via normalize.Normalize and is
// never written independently.
type Card struct {
	OracleID       string     `json:"oracle_id"`
	Name           string     `json:"name"`
	NormalizedName string     `json:"normalized_name"`
	ManaCost       *string    `json:"mana_cost,omitempty"`
	TypeLine       *string    `json:"type_line,omitempty"`
	OracleText     *string    `json:"oracle_text,omitempty"`
	Colors         []string   `json:"colors,omitempty"`
	ColorIdentity  []string   `json:"color_identity,omitempty"`
	ReleasedAt     *time.Time `json:"released_at,omitempty"`

	// Faces is the full face set for multi-faced cards (split, transform,
	// adventure). Empty for single-faced cards. Replaced as a set on every
	// upsert, never patched.
	Faces []CardFace `json:"faces,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CardFace is one named side of a multi-faced card. FaceIndex is 0-based and
// contiguous in stored order.
type CardFace struct {
	OracleID       string  `json:"oracle_id"`
	FaceIndex      int     `json:"face_index"`
	Name           string  `json:"name"`
	NormalizedName string  `json:"normalized_name"`
	ManaCost       *string `json:"mana_cost,omitempty"`
	TypeLine       *string `json:"type_line,omitempty"`
	OracleText     *string `json:"oracle_text,omitempty"`
}

// Renormalize derives NormalizedName for the card and every face from their
// display names. Write paths call this before persisting so the derived keys
// can never drift from the names they index.
func (c *Card) Renormalize() {
	c.NormalizedName = normalize.Normalize(c.Name)
	for i := range c.Faces {
		c.Faces[i].OracleID = c.OracleID
		c.Faces[i].FaceIndex = i
		c.Faces[i].NormalizedName = normalize.Normalize(c.Faces[i].Name)
	}
}

// CardCandidate is a lightweight projection used for ambiguous-match lists.
// It deliberately omits rules text so candidate lists stay cheap to produce.
type CardCandidate struct {
	OracleID string `json:"oracle_id"`
	Name     string `json:"name"`
	TypeLine string `json:"type_line"`
}
