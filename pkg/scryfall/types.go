package scryfall

import "time"

// BulkDatum describes one downloadable bulk dataset blob from the manifest.
type BulkDatum struct {
	Type        string    `json:"type"`
	UpdatedAt   time.Time `json:"updated_at"`
	Size        int64     `json:"size"`
	DownloadURI string    `json:"download_uri"`
}

type bulkListResponse struct {
	Data []BulkDatum `json:"data"`
}

// Card is the wire representation of one catalog record as returned both by
// single-card endpoints and by bulk dataset streams.
type Card struct {
	ID            string     `json:"id"`
	OracleID      string     `json:"oracle_id"`
	Name          string     `json:"name"`
	ManaCost      string     `json:"mana_cost"`
	TypeLine      string     `json:"type_line"`
	OracleText    string     `json:"oracle_text"`
	Colors        []string   `json:"colors"`
	ColorIdentity []string   `json:"color_identity"`
	ReleasedAt    string     `json:"released_at"`
	Layout        string     `json:"layout"`
	CardFaces     []CardFace `json:"card_faces"`
}

// CardFace is one face of a multi-faced wire record. Face order on the wire
// is authoritative.
type CardFace struct {
	Name       string `json:"name"`
	ManaCost   string `json:"mana_cost"`
	TypeLine   string `json:"type_line"`
	OracleText string `json:"oracle_text"`
}

// Ruling is one wire ruling record, present both in the rulings endpoint
// response and in the rulings bulk dataset.
type Ruling struct {
	OracleID    string `json:"oracle_id"`
	Source      string `json:"source"`
	PublishedAt string `json:"published_at"`
	Comment     string `json:"comment"`
}

type rulingsResponse struct {
	Data []Ruling `json:"data"`
}

type autocompleteResponse struct {
	Data []string `json:"data"`
}
