package services

import (
	"fmt"
	"strings"

	"evoting/contexts/voting-core/ballot-engine/domain/entities"
	domainerrors "evoting/contexts/voting-core/ballot-engine/domain/errors"
)

// CompletenessPolicy decides how much of the ballot must be filled to submit.
type CompletenessPolicy string

const (
	// CompletenessAllowAbstain accepts any ballot, including an empty one.
	CompletenessAllowAbstain CompletenessPolicy = "allow_abstain"
	// CompletenessRequireAllPositions needs at least one choice per mandatory position.
	CompletenessRequireAllPositions CompletenessPolicy = "require_all_positions"
	// CompletenessRequireFullSlate needs min(maxVotes, candidates) choices per mandatory position.
	CompletenessRequireFullSlate CompletenessPolicy = "require_full_slate"
)

// ParseCompletenessPolicy maps a config value to a policy; empty means allow_abstain.
func ParseCompletenessPolicy(raw string) (CompletenessPolicy, error) {
	switch CompletenessPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", CompletenessAllowAbstain:
		return CompletenessAllowAbstain, nil
	case CompletenessRequireAllPositions:
		return CompletenessRequireAllPositions, nil
	case CompletenessRequireFullSlate:
		return CompletenessRequireFullSlate, nil
	default:
		return "", fmt.Errorf("unknown completeness policy %q", raw)
	}
}

func (p CompletenessPolicy) Check(selections entities.Selections, catalog Catalog) error {
	if p == "" || p == CompletenessAllowAbstain {
		return nil
	}
	for _, position := range catalog.OrderedPositions() {
		if !position.Mandatory {
			continue
		}
		chosen := len(selections[position.PositionID])
		switch p {
		case CompletenessRequireAllPositions:
			if chosen == 0 {
				return fmt.Errorf("%w: position %s has no selection",
					domainerrors.ErrIncompleteBallot, position.PositionID)
			}
		case CompletenessRequireFullSlate:
			required := position.MaxVotes
			if available := len(catalog.CandidatesFor(position.PositionID)); available < required {
				required = available
			}
			if chosen != required {
				return fmt.Errorf("%w: position %s needs %d selections, got %d",
					domainerrors.ErrIncompleteBallot, position.PositionID, required, chosen)
			}
		}
	}
	return nil
}
