package services

import (
	"sort"

	"evoting/contexts/voting-core/ballot-engine/domain/entities"
)

// Catalog is a point-in-time view of one election's positions and candidates.
type Catalog struct {
	Election   entities.ElectionRef
	Positions  map[string]entities.Position
	Candidates map[string]entities.Candidate
}

// NewCatalog indexes an election's positions and candidates by id.
func NewCatalog(
	election entities.ElectionRef,
	positions []entities.Position,
	candidates []entities.Candidate,
) Catalog {
	catalog := Catalog{
		Election:   election,
		Positions:  make(map[string]entities.Position, len(positions)),
		Candidates: make(map[string]entities.Candidate, len(candidates)),
	}
	for _, position := range positions {
		catalog.Positions[position.PositionID] = position
	}
	for _, candidate := range candidates {
		catalog.Candidates[candidate.CandidateID] = candidate
	}
	return catalog
}

// CandidatesFor lists the candidates bound to positionID ordered by id.
func (c Catalog) CandidatesFor(positionID string) []entities.Candidate {
	items := make([]entities.Candidate, 0)
	for _, candidate := range c.Candidates {
		if candidate.PositionID == positionID {
			items = append(items, candidate)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CandidateID < items[j].CandidateID
	})
	return items
}

// OrderedPositions returns positions by display order, then id.
func (c Catalog) OrderedPositions() []entities.Position {
	items := make([]entities.Position, 0, len(c.Positions))
	for _, position := range c.Positions {
		items = append(items, position)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].DisplayOrder != items[j].DisplayOrder {
			return items[i].DisplayOrder < items[j].DisplayOrder
		}
		return items[i].PositionID < items[j].PositionID
	})
	return items
}

func (c Catalog) lookup(candidateID string) (entities.Candidate, bool) {
	candidate, ok := c.Candidates[candidateID]
	return candidate, ok
}
