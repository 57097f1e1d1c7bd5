package services

import (
	"time"

	"github.com/arbiter-ai/arbiter-engine/pkg/models"
	"github.com/arbiter-ai/arbiter-engine/pkg/scryfall"
)

// wireDateLayout is the calendar-date format the catalog uses for release
// and ruling dates.
const wireDateLayout = "2006-01-02"

// cardFromWire converts a catalog wire record into the stored model,
// deriving normalized-name keys for the card and its faces. Single-faced
// records produce no face rows.
func cardFromWire(wire *scryfall.Card) *models.Card {
	card := &models.Card{
		OracleID:      wire.OracleID,
		Name:          wire.Name,
		ManaCost:      optional(wire.ManaCost),
		TypeLine:      optional(wire.TypeLine),
		OracleText:    optional(wire.OracleText),
		Colors:        wire.Colors,
		ColorIdentity: wire.ColorIdentity,
	}

	if wire.ReleasedAt != "" {
		if released, err := time.Parse(wireDateLayout, wire.ReleasedAt); err == nil {
			card.ReleasedAt = &released
		}
	}

	if len(wire.CardFaces) > 1 {
		card.Faces = make([]models.CardFace, len(wire.CardFaces))
		for i, face := range wire.CardFaces {
			card.Faces[i] = models.CardFace{
				Name:       face.Name,
				ManaCost:   optional(face.ManaCost),
				TypeLine:   optional(face.TypeLine),
				OracleText: optional(face.OracleText),
			}
		}
	}

	card.Renormalize()
	return card
}

// rulingFromWire converts one wire ruling. Records with unparseable dates
// keep a zero publish time rather than being dropped; the comment is the
// payload that matters.
func rulingFromWire(wire scryfall.Ruling) models.Ruling {
	ruling := models.Ruling{
		OracleID: wire.OracleID,
		Source:   wire.Source,
		Comment:  wire.Comment,
	}
	if published, err := time.Parse(wireDateLayout, wire.PublishedAt); err == nil {
		ruling.PublishedAt = published
	}
	return ruling
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
