package services

import (
	"fmt"
	"sort"

	"evoting/contexts/voting-core/ballot-engine/domain/entities"
	domainerrors "evoting/contexts/voting-core/ballot-engine/domain/errors"
)

// PlanTally re-validates every selection of ballot against the current
// catalog and returns one increment per selected candidate, ordered by
// position then candidate so concurrent submits lock rows in the same order.
func PlanTally(ballot entities.Ballot, catalog Catalog) ([]entities.TallyIncrement, error) {
	if ballot.Election != catalog.Election {
		return nil, fmt.Errorf("%w: catalog belongs to another election", domainerrors.ErrInvalidSelection)
	}
	increments := make([]entities.TallyIncrement, 0, ballot.Selections.Count())
	for _, positionID := range ballot.Selections.PositionIDs() {
		position, ok := catalog.Positions[positionID]
		if !ok || position.Election != ballot.Election {
			return nil, fmt.Errorf("%w: position %s is no longer on this ballot",
				domainerrors.ErrInvalidSelection, positionID)
		}
		candidateIDs, err := ValidateSelection(position, ballot.Selections[positionID], catalog.lookup)
		if err != nil {
			return nil, err
		}
		for _, candidateID := range candidateIDs {
			increments = append(increments, entities.TallyIncrement{
				PositionID:  positionID,
				CandidateID: candidateID,
			})
		}
	}
	sort.SliceStable(increments, func(i, j int) bool {
		if increments[i].PositionID != increments[j].PositionID {
			return increments[i].PositionID < increments[j].PositionID
		}
		return increments[i].CandidateID < increments[j].CandidateID
	})
	return increments, nil
}
