package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arbiter-ai/arbiter-engine/pkg/apperrors"
	"github.com/arbiter-ai/arbiter-engine/pkg/database"
	"github.com/arbiter-ai/arbiter-engine/pkg/models"
)

// CardRepository provides data access for canonical cards, their faces and
// rulings.
type CardRepository interface {
	// Upsert creates or overwrites a card by oracle ID. Faces are always
	// replaced as a full set, never diffed.
	Upsert(ctx context.Context, card *models.Card) error

	GetByOracleID(ctx context.Context, oracleID string) (*models.Card, error)
	GetByNormalizedName(ctx context.Context, normalizedName string) (*models.Card, error)

	// FindFaceByNormalizedName looks up a single face record. The returned
	// face carries its stored face index.
	FindFaceByNormalizedName(ctx context.Context, normalizedName string) (*models.CardFace, error)

	// SearchByNormalizedPrefix returns candidate projections for cards whose
	// normalized name starts with prefix, bounded by limit.
	SearchByNormalizedPrefix(ctx context.Context, prefix string, limit int) ([]models.CardCandidate, error)

	// ReplaceRulings atomically swaps a card's ruling set. Returns
	// apperrors.ErrNotFound when no card exists for the oracle ID; rulings
	// never create cards.
	ReplaceRulings(ctx context.Context, oracleID string, rulings []models.Ruling) error

	RulingsByOracleID(ctx context.Context, oracleID string) ([]models.Ruling, error)
}

type cardRepository struct {
	db *database.DB
}

// NewCardRepository creates a new CardRepository.
func NewCardRepository(db *database.DB) CardRepository {
	return &cardRepository{db: db}
}

var _ CardRepository = (*cardRepository)(nil)

func (r *cardRepository) Upsert(ctx context.Context, card *models.Card) error {
	card.Renormalize()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now()

	query := `
		INSERT INTO cards (
			oracle_id, name, normalized_name, mana_cost, type_line,
			oracle_text, colors, color_identity, released_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (oracle_id) DO UPDATE SET
			name = EXCLUDED.name,
			normalized_name = EXCLUDED.normalized_name,
			mana_cost = EXCLUDED.mana_cost,
			type_line = EXCLUDED.type_line,
			oracle_text = EXCLUDED.oracle_text,
			colors = EXCLUDED.colors,
			color_identity = EXCLUDED.color_identity,
			released_at = EXCLUDED.released_at,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at`

	err = tx.QueryRow(ctx, query,
		card.OracleID,
		card.Name,
		card.NormalizedName,
		card.ManaCost,
		card.TypeLine,
		card.OracleText,
		textArray(card.Colors),
		textArray(card.ColorIdentity),
		card.ReleasedAt,
		now,
	).Scan(&card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert card %s: %w", card.OracleID, err)
	}

	// Full face-set replacement: stale faces must not survive an update.
	if _, err := tx.Exec(ctx, `DELETE FROM card_faces WHERE oracle_id = $1`, card.OracleID); err != nil {
		return fmt.Errorf("failed to clear faces for %s: %w", card.OracleID, err)
	}

	for _, face := range card.Faces {
		_, err := tx.Exec(ctx, `
			INSERT INTO card_faces (
				oracle_id, face_index, name, normalized_name,
				mana_cost, type_line, oracle_text
			) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			face.OracleID,
			face.FaceIndex,
			face.Name,
			face.NormalizedName,
			face.ManaCost,
			face.TypeLine,
			face.OracleText,
		)
		if err != nil {
			return fmt.Errorf("failed to insert face %d of %s: %w", face.FaceIndex, card.OracleID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit card upsert: %w", err)
	}
	return nil
}

func (r *cardRepository) GetByOracleID(ctx context.Context, oracleID string) (*models.Card, error) {
	return r.getOne(ctx, `WHERE oracle_id = $1`, oracleID)
}

func (r *cardRepository) GetByNormalizedName(ctx context.Context, normalizedName string) (*models.Card, error) {
	return r.getOne(ctx, `WHERE normalized_name = $1`, normalizedName)
}

func (r *cardRepository) getOne(ctx context.Context, where string, arg any) (*models.Card, error) {
	query := `
		SELECT oracle_id, name, normalized_name, mana_cost, type_line,
		       oracle_text, colors, color_identity, released_at,
		       created_at, updated_at
		FROM cards ` + where

	var card models.Card
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&card.OracleID,
		&card.Name,
		&card.NormalizedName,
		&card.ManaCost,
		&card.TypeLine,
		&card.OracleText,
		&card.Colors,
		&card.ColorIdentity,
		&card.ReleasedAt,
		&card.CreatedAt,
		&card.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get card: %w", err)
	}

	faces, err := r.facesByOracleID(ctx, card.OracleID)
	if err != nil {
		return nil, err
	}
	card.Faces = faces

	return &card, nil
}

func (r *cardRepository) facesByOracleID(ctx context.Context, oracleID string) ([]models.CardFace, error) {
	rows, err := r.db.Query(ctx, `
		SELECT oracle_id, face_index, name, normalized_name,
		       mana_cost, type_line, oracle_text
		FROM card_faces
		WHERE oracle_id = $1
		ORDER BY face_index`, oracleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query faces: %w", err)
	}
	defer rows.Close()

	var faces []models.CardFace
	for rows.Next() {
		var face models.CardFace
		if err := rows.Scan(
			&face.OracleID,
			&face.FaceIndex,
			&face.Name,
			&face.NormalizedName,
			&face.ManaCost,
			&face.TypeLine,
			&face.OracleText,
		); err != nil {
			return nil, fmt.Errorf("failed to scan face: %w", err)
		}
		faces = append(faces, face)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read faces: %w", err)
	}
	return faces, nil
}

func (r *cardRepository) FindFaceByNormalizedName(ctx context.Context, normalizedName string) (*models.CardFace, error) {
	var face models.CardFace
	err := r.db.QueryRow(ctx, `
		SELECT oracle_id, face_index, name, normalized_name,
		       mana_cost, type_line, oracle_text
		FROM card_faces
		WHERE normalized_name = $1
		ORDER BY oracle_id, face_index
		LIMIT 1`, normalizedName).Scan(
		&face.OracleID,
		&face.FaceIndex,
		&face.Name,
		&face.NormalizedName,
		&face.ManaCost,
		&face.TypeLine,
		&face.OracleText,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find face: %w", err)
	}
	return &face, nil
}

func (r *cardRepository) SearchByNormalizedPrefix(ctx context.Context, prefix string, limit int) ([]models.CardCandidate, error) {
	rows, err := r.db.Query(ctx, `
		SELECT oracle_id, name, COALESCE(type_line, '')
		FROM cards
		WHERE normalized_name LIKE $1 || '%'
		ORDER BY normalized_name
		LIMIT $2`, prefix, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search by prefix: %w", err)
	}
	defer rows.Close()

	var candidates []models.CardCandidate
	for rows.Next() {
		var c models.CardCandidate
		if err := rows.Scan(&c.OracleID, &c.Name, &c.TypeLine); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read candidates: %w", err)
	}
	return candidates, nil
}

func (r *cardRepository) ReplaceRulings(ctx context.Context, oracleID string, rulings []models.Ruling) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM cards WHERE oracle_id = $1)`, oracleID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check card existence: %w", err)
	}
	if !exists {
		return apperrors.ErrNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM rulings WHERE oracle_id = $1`, oracleID); err != nil {
		return fmt.Errorf("failed to clear rulings for %s: %w", oracleID, err)
	}

	for _, ruling := range rulings {
		_, err := tx.Exec(ctx, `
			INSERT INTO rulings (oracle_id, source, published_at, comment)
			VALUES ($1, $2, $3, $4)`,
			oracleID, ruling.Source, ruling.PublishedAt, ruling.Comment,
		)
		if err != nil {
			return fmt.Errorf("failed to insert ruling for %s: %w", oracleID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit ruling replacement: %w", err)
	}
	return nil
}

func (r *cardRepository) RulingsByOracleID(ctx context.Context, oracleID string) ([]models.Ruling, error) {
	rows, err := r.db.Query(ctx, `
		SELECT oracle_id, source, published_at, comment
		FROM rulings
		WHERE oracle_id = $1
		ORDER BY published_at`, oracleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rulings: %w", err)
	}
	defer rows.Close()

	var rulings []models.Ruling
	for rows.Next() {
		var ruling models.Ruling
		if err := rows.Scan(&ruling.OracleID, &ruling.Source, &ruling.PublishedAt, &ruling.Comment); err != nil {
			return nil, fmt.Errorf("failed to scan ruling: %w", err)
		}
		rulings = append(rulings, ruling)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rulings: %w", err)
	}
	return rulings, nil
}

// textArray keeps empty slices as empty Postgres arrays rather than NULL.
func textArray(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
