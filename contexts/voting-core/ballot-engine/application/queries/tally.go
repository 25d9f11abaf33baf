package queries

import (
	"context"
	"sort"

	"evoting/contexts/voting-core/ballot-engine/domain/entities"
	domainerrors "evoting/contexts/voting-core/ballot-engine/domain/errors"
	"evoting/contexts/voting-core/ballot-engine/domain/services"
	"evoting/contexts/voting-core/ballot-engine/ports"
)

// CandidateTally is one candidate's counter.
type CandidateTally struct {
	CandidateID string
	PartylistID string
	Name        string
	Votes       int64
}

// PositionTally groups candidate counters in display order.
type PositionTally struct {
	PositionID string
	Title      string
	MaxVotes   int
	TotalVotes int64
	Candidates []CandidateTally
}

// ElectionTally is the result view for an election.
type ElectionTally struct {
	Election         entities.ElectionRef
	SubmittedBallots int64
	Positions        []PositionTally
}

// TallyMismatch is a candidate whose counter disagrees with its vote records.
type TallyMismatch struct {
	PositionID  string
	CandidateID string
	Counter     int64
	Records     int64
}

// TallyVerification compares counters against vote records.
type TallyVerification struct {
	Election   entities.ElectionRef
	Consistent bool
	Mismatches []TallyMismatch
}

// TallyUseCase serves tally reads and verification.
type TallyUseCase struct {
	Catalog ports.CandidateCatalog
	Ballots ports.BallotRepository
}

// ElectionTally reads the per-candidate counters maintained at submit time.
func (uc TallyUseCase) ElectionTally(ctx context.Context, ref entities.ElectionRef) (ElectionTally, error) {
	if !ref.Valid() {
		return ElectionTally{}, domainerrors.ErrInvalidInput
	}
	catalog, err := uc.catalog(ctx, ref)
	if err != nil {
		return ElectionTally{}, err
	}
	submitted, err := uc.Ballots.CountSubmittedBallots(ctx, ref)
	if err != nil {
		return ElectionTally{}, err
	}

	tally := ElectionTally{Election: ref, SubmittedBallots: submitted}
	for _, position := range catalog.OrderedPositions() {
		item := PositionTally{
			PositionID: position.PositionID,
			Title:      position.Title,
			MaxVotes:   position.MaxVotes,
		}
		for _, candidate := range catalog.CandidatesFor(position.PositionID) {
			item.TotalVotes += candidate.VoteCount
			item.Candidates = append(item.Candidates, CandidateTally{
				CandidateID: candidate.CandidateID,
				PartylistID: candidate.PartylistID,
				Name:        candidate.Name,
				Votes:       candidate.VoteCount,
			})
		}
		sort.SliceStable(item.Candidates, func(i, j int) bool {
			return item.Candidates[i].Votes > item.Candidates[j].Votes
		})
		tally.Positions = append(tally.Positions, item)
	}
	return tally, nil
}

// VerifyTally re-derives counts from vote records and compares them with the
// counters. Counters stay authoritative; this is an audit aid.
func (uc TallyUseCase) VerifyTally(ctx context.Context, ref entities.ElectionRef) (TallyVerification, error) {
	if !ref.Valid() {
		return TallyVerification{}, domainerrors.ErrInvalidInput
	}
	catalog, err := uc.catalog(ctx, ref)
	if err != nil {
		return TallyVerification{}, err
	}
	records, err := uc.Ballots.ListVoteRecords(ctx, ref)
	if err != nil {
		return TallyVerification{}, err
	}
	derived := make(map[string]int64, len(catalog.Candidates))
	for _, record := range records {
		derived[record.CandidateID]++
	}

	verification := TallyVerification{Election: ref, Consistent: true}
	for _, position := range catalog.OrderedPositions() {
		for _, candidate := range catalog.CandidatesFor(position.PositionID) {
			if derived[candidate.CandidateID] != candidate.VoteCount {
				verification.Mismatches = append(verification.Mismatches, TallyMismatch{
					PositionID:  position.PositionID,
					CandidateID: candidate.CandidateID,
					Counter:     candidate.VoteCount,
					Records:     derived[candidate.CandidateID],
				})
			}
			delete(derived, candidate.CandidateID)
		}
	}
	for candidateID, count := range derived {
		verification.Mismatches = append(verification.Mismatches, TallyMismatch{
			CandidateID: candidateID,
			Records:     count,
		})
	}
	verification.Consistent = len(verification.Mismatches) == 0
	return verification, nil
}

func (uc TallyUseCase) catalog(ctx context.Context, ref entities.ElectionRef) (services.Catalog, error) {
	positions, err := uc.Catalog.ListPositions(ctx, ref)
	if err != nil {
		return services.Catalog{}, err
	}
	candidates, err := uc.Catalog.ListCandidates(ctx, ref)
	if err != nil {
		return services.Catalog{}, err
	}
	return services.NewCatalog(ref, positions, candidates), nil
}
