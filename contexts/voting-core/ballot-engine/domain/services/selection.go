package services

import (
	"fmt"
	"sort"
	"strings"

	"evoting/contexts/voting-core/ballot-engine/domain/entities"
	domainerrors "evoting/contexts/voting-core/ballot-engine/domain/errors"
)

// ValidateSelection checks one position's candidate set and returns it
// trimmed and sorted. An empty set is an abstain.
func ValidateSelection(
	position entities.Position,
	candidateIDs []string,
	lookup func(candidateID string) (entities.Candidate, bool),
) ([]string, error) {
	normalized := make([]string, 0, len(candidateIDs))
	seen := make(map[string]struct{}, len(candidateIDs))
	for _, raw := range candidateIDs {
		candidateID := strings.TrimSpace(raw)
		if candidateID == "" {
			return nil, fmt.Errorf("%w: empty candidate id", domainerrors.ErrInvalidSelection)
		}
		if _, duplicate := seen[candidateID]; duplicate {
			return nil, fmt.Errorf("%w: duplicate candidate %s", domainerrors.ErrInvalidSelection, candidateID)
		}
		seen[candidateID] = struct{}{}
		normalized = append(normalized, candidateID)
	}
	if len(normalized) > position.MaxVotes {
		return nil, fmt.Errorf("%w: position %s allows %d, got %d",
			domainerrors.ErrTooManyChoices, position.PositionID, position.MaxVotes, len(normalized))
	}
	for _, candidateID := range normalized {
		candidate, ok := lookup(candidateID)
		if !ok || candidate.PositionID != position.PositionID {
			return nil, fmt.Errorf("%w: candidate %s is not running for position %s",
				domainerrors.ErrInvalidSelection, candidateID, position.PositionID)
		}
	}
	sort.Strings(normalized)
	return normalized, nil
}
