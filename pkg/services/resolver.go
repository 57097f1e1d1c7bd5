package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/arbiter-ai/arbiter-engine/pkg/apperrors"
	"github.com/arbiter-ai/arbiter-engine/pkg/models"
	"github.com/arbiter-ai/arbiter-engine/pkg/normalize"
	"github.com/arbiter-ai/arbiter-engine/pkg/repositories"
	"github.com/arbiter-ai/arbiter-engine/pkg/scryfall"
)

const (
	// minPrefixLen keeps prefix scans from degenerating on short inputs.
	minPrefixLen = 3
	// maxCandidates caps ambiguous candidate lists.
	maxCandidates = 10
)

// MatchKind classifies how an input name was resolved.
type MatchKind string

const (
	MatchExact      MatchKind = "exact"
	MatchNormalized MatchKind = "normalized"
	MatchFace       MatchKind = "face"
	MatchRemote     MatchKind = "remote"
	MatchAmbiguous  MatchKind = "ambiguous"
	MatchNone       MatchKind = "not_found"
)

// ResolveResult is the outcome of resolving one input name. Card is set for
// the four matched kinds; FaceIndex is meaningful only for MatchFace and
// reflects stored face order, not the input's face position; Candidates is
// set only for MatchAmbiguous.
type ResolveResult struct {
	Input      string                 `json:"input"`
	Kind       MatchKind              `json:"kind"`
	Card       *models.Card           `json:"card,omitempty"`
	FaceIndex  int                    `json:"face_index,omitempty"`
	Candidates []models.CardCandidate `json:"candidates,omitempty"`
}

// ResolverService maps free-text card names to canonical catalog entries.
type ResolverService interface {
	// Resolve runs the match cascade for one name. It is read-only except
	// for the remote-fallback path, which writes the fetched card back into
	// the local store. Remote failures surface as
	// apperrors.ErrResolutionFailed, never as a NotFound result.
	Resolve(ctx context.Context, input string) (*ResolveResult, error)

	// ResolveMany resolves each input independently, preserving input
	// order. Repeated names within one call share a single resolution.
	ResolveMany(ctx context.Context, inputs []string) ([]*ResolveResult, error)
}

// CatalogClient is the slice of the external catalog client the resolver
// needs.
type CatalogClient interface {
	CardByName(ctx context.Context, name string, fuzzy bool) (*scryfall.Card, error)
	Rulings(ctx context.Context, cardID string) ([]scryfall.Ruling, error)
}

type resolverService struct {
	cards  repositories.CardRepository
	client CatalogClient
	logger *zap.Logger
}

// NewResolverService creates a new ResolverService.
func NewResolverService(cards repositories.CardRepository, client CatalogClient, logger *zap.Logger) ResolverService {
	return &resolverService{
		cards:  cards,
		client: client,
		logger: logger.Named("resolver"),
	}
}

var _ ResolverService = (*resolverService)(nil)

func (s *resolverService) Resolve(ctx context.Context, input string) (*ResolveResult, error) {
	variants := normalize.NameVariants(input)
	primary := variants[0]
	if primary == "" {
		return &ResolveResult{Input: input, Kind: MatchNone}, nil
	}

	// Stage 1: exact hit on the primary normalized variant.
	card, err := s.cards.GetByNormalizedName(ctx, primary)
	if err == nil {
		return &ResolveResult{Input: input, Kind: MatchExact, Card: card}, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("exact lookup for %q: %w", primary, err)
	}

	// Stage 2: face-name hit on any remaining variant. The face index comes
	// from the stored face row, not from the variant's position.
	for _, variant := range variants[1:] {
		face, err := s.cards.FindFaceByNormalizedName(ctx, variant)
		if errors.Is(err, apperrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("face lookup for %q: %w", variant, err)
		}

		parent, err := s.cards.GetByOracleID(ctx, face.OracleID)
		if err != nil {
			return nil, fmt.Errorf("face parent lookup for %q: %w", face.OracleID, err)
		}
		return &ResolveResult{
			Input:     input,
			Kind:      MatchFace,
			Card:      parent,
			FaceIndex: face.FaceIndex,
		}, nil
	}

	// Stage 3: prefix scan for typo correction and disambiguation.
	result, err := s.resolveByPrefix(ctx, input, primary)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	// Stage 4: remote fuzzy fallback, caching the result locally.
	return s.resolveRemote(ctx, input)
}

// resolveByPrefix scans the store for names sharing a prefix of the primary
// variant. Returns nil when the cascade should continue to remote fallback.
func (s *resolverService) resolveByPrefix(ctx context.Context, input, primary string) (*ResolveResult, error) {
	runes := []rune(primary)
	prefixLen := len(runes) / 2
	if prefixLen < minPrefixLen {
		prefixLen = minPrefixLen
	}
	if prefixLen > len(runes) {
		prefixLen = len(runes)
	}
	prefix := string(runes[:prefixLen])

	candidates, err := s.cards.SearchByNormalizedPrefix(ctx, prefix, maxCandidates)
	if err != nil {
		return nil, fmt.Errorf("prefix scan for %q: %w", prefix, err)
	}

	// A lone candidate whose normalized name is the primary variant is a
	// typo-corrected hit worth a full fetch.
	var exact []models.CardCandidate
	for _, candidate := range candidates {
		if normalize.Normalize(candidate.Name) == primary {
			exact = append(exact, candidate)
		}
	}
	if len(exact) == 1 {
		card, err := s.cards.GetByOracleID(ctx, exact[0].OracleID)
		if err != nil {
			return nil, fmt.Errorf("normalized hit fetch for %q: %w", exact[0].OracleID, err)
		}
		return &ResolveResult{Input: input, Kind: MatchNormalized, Card: card}, nil
	}

	// Multiple prefix neighbors: surface them for caller disambiguation
	// rather than silently picking one. Full card bodies are deliberately
	// not fetched for the candidate list.
	if len(candidates) > 1 {
		return &ResolveResult{Input: input, Kind: MatchAmbiguous, Candidates: candidates}, nil
	}

	return nil, nil
}

func (s *resolverService) resolveRemote(ctx context.Context, input string) (*ResolveResult, error) {
	wire, err := s.client.CardByName(ctx, input, true)
	if errors.Is(err, apperrors.ErrNotFound) {
		return &ResolveResult{Input: input, Kind: MatchNone}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: remote lookup for %q: %v", apperrors.ErrResolutionFailed, input, err)
	}

	card := cardFromWire(wire)
	if err := s.cards.Upsert(ctx, card); err != nil {
		return nil, fmt.Errorf("caching remote card %q: %w", card.OracleID, err)
	}

	// Rulings ride along with the cached card. A rulings fetch failure does
	// not fail the resolution; the card itself is already stored.
	if rulings, err := s.client.Rulings(ctx, wire.ID); err == nil {
		converted := make([]models.Ruling, len(rulings))
		for i, ruling := range rulings {
			converted[i] = rulingFromWire(ruling)
			converted[i].OracleID = card.OracleID
		}
		if err := s.cards.ReplaceRulings(ctx, card.OracleID, converted); err != nil {
			s.logger.Warn("Failed to store rulings for remote card",
				zap.String("oracle_id", card.OracleID),
				zap.Error(err))
		}
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		s.logger.Warn("Failed to fetch rulings for remote card",
			zap.String("oracle_id", card.OracleID),
			zap.Error(err))
	}

	s.logger.Info("Cached card from remote catalog",
		zap.String("name", card.Name),
		zap.String("oracle_id", card.OracleID))

	return &ResolveResult{Input: input, Kind: MatchRemote, Card: card}, nil
}

func (s *resolverService) ResolveMany(ctx context.Context, inputs []string) ([]*ResolveResult, error) {
	results := make([]*ResolveResult, len(inputs))

	// Repeated names within one batch resolve once; game states routinely
	// contain duplicates.
	memo := make(map[string]*ResolveResult)

	for i, input := range inputs {
		key := normalize.Normalize(input)
		if cached, ok := memo[key]; ok {
			shared := *cached
			shared.Input = input
			results[i] = &shared
			continue
		}

		result, err := s.Resolve(ctx, input)
		if err != nil {
			return nil, err
		}
		memo[key] = result
		results[i] = result
	}
	return results, nil
}
