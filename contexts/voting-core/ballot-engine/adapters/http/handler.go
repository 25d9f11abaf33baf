package httpadapter

import (
	"context"
	"log/slog"

	"evoting/contexts/voting-core/ballot-engine/application/commands"
	"evoting/contexts/voting-core/ballot-engine/application/queries"
	"evoting/contexts/voting-core/ballot-engine/domain/entities"
	domainerrors "evoting/contexts/voting-core/ballot-engine/domain/errors"
	httptransport "evoting/contexts/voting-core/ballot-engine/transport/http"
)

// Handler adapts the ballot use cases to transport DTOs.
type Handler struct {
	Ballots commands.BallotUseCase
	Reaper  commands.ReapUseCase
	Status  queries.BallotStatusUseCase
	Tally   queries.TallyUseCase
	Logger  *slog.Logger
}

func (h Handler) StartBallotHandler(
	ctx context.Context,
	voterID string,
	kind string,
	electionID string,
) (httptransport.StartBallotResponse, error) {
	ref, err := parseElectionRef(kind, electionID)
	if err != nil {
		return httptransport.StartBallotResponse{}, err
	}
	result, err := h.Ballots.StartBallot(ctx, commands.StartBallotCommand{
		VoterID:  voterID,
		Election: ref,
	})
	if err != nil {
		return httptransport.StartBallotResponse{}, err
	}
	return httptransport.StartBallotResponse{
		Ballot:  mapBallot(result.Ballot),
		Resumed: result.Resumed,
	}, nil
}

func (h Handler) BallotStatusHandler(
	ctx context.Context,
	voterID string,
	kind string,
	electionID string,
) (httptransport.BallotStatusResponse, error) {
	ref, err := parseElectionRef(kind, electionID)
	if err != nil {
		return httptransport.BallotStatusResponse{}, err
	}
	status, err := h.Status.GetBallotStatus(ctx, voterID, ref)
	if err != nil {
		return httptransport.BallotStatusResponse{}, err
	}
	response := httptransport.BallotStatusResponse{
		State:       status.State,
		ExpiresAt:   status.ExpiresAt,
		SubmittedAt: status.SubmittedAt,
	}
	if status.Ballot != nil {
		ballot := mapBallot(*status.Ballot)
		ballot.State = status.State
		response.Ballot = &ballot
	}
	return response, nil
}

func (h Handler) CastSelectionHandler(
	ctx context.Context,
	voterID string,
	ballotID string,
	positionID string,
	req httptransport.CastSelectionRequest,
) (httptransport.BallotResponse, error) {
	result, err := h.Ballots.CastSelection(ctx, commands.CastSelectionCommand{
		BallotID:     ballotID,
		VoterID:      voterID,
		PositionID:   positionID,
		CandidateIDs: req.CandidateIDs,
	})
	if err != nil {
		return httptransport.BallotResponse{}, err
	}
	return mapBallot(result.Ballot), nil
}

func (h Handler) CastSlateHandler(
	ctx context.Context,
	voterID string,
	ballotID string,
	req httptransport.CastSlateRequest,
) (httptransport.BallotResponse, error) {
	result, err := h.Ballots.CastSlate(ctx, commands.CastSlateCommand{
		BallotID: ballotID,
		VoterID:  voterID,
		Slate:    req.Selections,
	})
	if err != nil {
		return httptransport.BallotResponse{}, err
	}
	return mapBallot(result.Ballot), nil
}

func (h Handler) SubmitBallotHandler(ctx context.Context, voterID string, ballotID string) (httptransport.SubmitBallotResponse, error) {
	result, err := h.Ballots.SubmitBallot(ctx, commands.SubmitBallotCommand{
		BallotID: ballotID,
		VoterID:  voterID,
	})
	if err != nil {
		return httptransport.SubmitBallotResponse{}, err
	}
	return httptransport.SubmitBallotResponse{
		BallotID:    result.Ballot.BallotID,
		State:       string(result.Ballot.State),
		SubmittedAt: result.SubmittedAt,
		Replayed:    result.Replayed,
	}, nil
}

func (h Handler) AbandonBallotHandler(ctx context.Context, voterID string, ballotID string) (httptransport.BallotResponse, error) {
	ballot, err := h.Ballots.AbandonBallot(ctx, commands.AbandonBallotCommand{
		BallotID: ballotID,
		VoterID:  voterID,
	})
	if err != nil {
		return httptransport.BallotResponse{}, err
	}
	return mapBallot(ballot), nil
}

func (h Handler) TallyHandler(ctx context.Context, kind string, electionID string) (httptransport.TallyResponse, error) {
	ref, err := parseElectionRef(kind, electionID)
	if err != nil {
		return httptransport.TallyResponse{}, err
	}
	tally, err := h.Tally.ElectionTally(ctx, ref)
	if err != nil {
		return httptransport.TallyResponse{}, err
	}
	positions := make([]httptransport.PositionTallyItem, 0, len(tally.Positions))
	for _, position := range tally.Positions {
		candidates := make([]httptransport.CandidateTallyItem, 0, len(position.Candidates))
		for _, candidate := range position.Candidates {
			candidates = append(candidates, httptransport.CandidateTallyItem{
				CandidateID: candidate.CandidateID,
				PartylistID: candidate.PartylistID,
				Name:        candidate.Name,
				Votes:       candidate.Votes,
			})
		}
		positions = append(positions, httptransport.PositionTallyItem{
			PositionID: position.PositionID,
			Title:      position.Title,
			MaxVotes:   position.MaxVotes,
			TotalVotes: position.TotalVotes,
			Candidates: candidates,
		})
	}
	return httptransport.TallyResponse{
		ElectionKind:     string(tally.Election.Kind),
		ElectionID:       tally.Election.ID,
		SubmittedBallots: tally.SubmittedBallots,
		Positions:        positions,
	}, nil
}

func (h Handler) VerifyTallyHandler(ctx context.Context, kind string, electionID string) (httptransport.TallyVerificationResponse, error) {
	ref, err := parseElectionRef(kind, electionID)
	if err != nil {
		return httptransport.TallyVerificationResponse{}, err
	}
	verification, err := h.Tally.VerifyTally(ctx, ref)
	if err != nil {
		return httptransport.TallyVerificationResponse{}, err
	}
	mismatches := make([]httptransport.TallyMismatchItem, 0, len(verification.Mismatches))
	for _, mismatch := range verification.Mismatches {
		mismatches = append(mismatches, httptransport.TallyMismatchItem{
			PositionID:  mismatch.PositionID,
			CandidateID: mismatch.CandidateID,
			Counter:     mismatch.Counter,
			Records:     mismatch.Records,
		})
	}
	return httptransport.TallyVerificationResponse{
		ElectionKind: string(verification.Election.Kind),
		ElectionID:   verification.Election.ID,
		Consistent:   verification.Consistent,
		Mismatches:   mismatches,
	}, nil
}

func (h Handler) ReapExpiredHandler(ctx context.Context) (httptransport.ReapResponse, error) {
	result, err := h.Reaper.ReapExpired(ctx)
	if err != nil {
		return httptransport.ReapResponse{}, err
	}
	return httptransport.ReapResponse{
		ExpiredCount: result.ExpiredCount,
		SkippedCount: result.SkippedCount,
	}, nil
}

func parseElectionRef(kind string, electionID string) (entities.ElectionRef, error) {
	ref, ok := entities.NewElectionRef(kind, electionID)
	if !ok {
		return entities.ElectionRef{}, domainerrors.ErrInvalidInput
	}
	return ref, nil
}

func mapBallot(ballot entities.Ballot) httptransport.BallotResponse {
	selections := make(map[string][]string, len(ballot.Selections))
	for positionID, candidateIDs := range ballot.Selections {
		selections[positionID] = append([]string(nil), candidateIDs...)
	}
	return httptransport.BallotResponse{
		BallotID:     ballot.BallotID,
		VoterID:      ballot.VoterID,
		ElectionKind: string(ballot.Election.Kind),
		ElectionID:   ballot.Election.ID,
		State:        string(ballot.State),
		StartedAt:    ballot.StartedAt,
		ExpiresAt:    ballot.ExpiresAt,
		SubmittedAt:  ballot.SubmittedAt,
		Selections:   selections,
		Version:      ballot.Version,
	}
}
