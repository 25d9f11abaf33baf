package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"evoting/contexts/voting-core/ballot-engine/adapters/memory"
	"evoting/contexts/voting-core/ballot-engine/domain/entities"
	domainerrors "evoting/contexts/voting-core/ballot-engine/domain/errors"
)

// interleavedBallots runs beforeRead once, ahead of the first GetBallot, so a
// transition can commit between the slot read and the ballot read.
type interleavedBallots struct {
	*memory.Store
	once       sync.Once
	beforeRead func()
}

func (b *interleavedBallots) GetBallot(ctx context.Context, ballotID string) (entities.Ballot, error) {
	b.once.Do(b.beforeRead)
	return b.Store.GetBallot(ctx, ballotID)
}

func TestStartObservesTransitionBetweenSlotAndBallotReads(t *testing.T) {
	cases := []struct {
		name       string
		transition func(t *testing.T, f fixture, ballot entities.Ballot)
		wantErr    error
		wantFresh  bool
	}{
		{
			name: "abandoned",
			transition: func(t *testing.T, f fixture, ballot entities.Ballot) {
				if _, err := f.uc.AbandonBallot(context.Background(), AbandonBallotCommand{BallotID: ballot.BallotID, VoterID: "voter-1"}); err != nil {
					t.Errorf("abandon: %v", err)
				}
			},
			wantFresh: true,
		},
		{
			name: "submitted",
			transition: func(t *testing.T, f fixture, ballot entities.Ballot) {
				if _, err := f.uc.SubmitBallot(context.Background(), SubmitBallotCommand{BallotID: ballot.BallotID, VoterID: "voter-1"}); err != nil {
					t.Errorf("submit: %v", err)
				}
			},
			wantErr: domainerrors.ErrAlreadyVoted,
		},
		{
			name: "reaped",
			transition: func(t *testing.T, f fixture, ballot entities.Ballot) {
				reaper := ReapUseCase{
					Ballots: f.store,
					Clock:   &testClock{now: ballot.ExpiresAt.Add(time.Minute)},
				}
				result, err := reaper.ReapExpired(context.Background())
				if err != nil || result.ExpiredCount != 1 {
					t.Errorf("reap: %+v err=%v", result, err)
				}
			},
			wantFresh: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			ballot := f.start(t, "voter-1")
			if _, err := f.uc.CastSelection(ctx, CastSelectionCommand{
				BallotID: ballot.BallotID, VoterID: "voter-1", PositionID: "president", CandidateIDs: []string{"p-ana"},
			}); err != nil {
				t.Fatalf("cast: %v", err)
			}

			racing := f.uc
			racing.Ballots = &interleavedBallots{
				Store:      f.store,
				beforeRead: func() { tc.transition(t, f, ballot) },
			}
			result, err := racing.StartBallot(ctx, StartBallotCommand{VoterID: "voter-1", Election: testRef})
			if errors.Is(err, domainerrors.ErrInvariantViolation) {
				t.Fatalf("a committed transition must not read as an invariant violation: %v", err)
			}
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("start: %v", err)
			}
			if result.Resumed || result.Ballot.BallotID == ballot.BallotID {
				t.Fatalf("expected a fresh ballot, got %+v", result)
			}
			if result.Ballot.State != entities.BallotStateOpen {
				t.Fatalf("expected open ballot, got %s", result.Ballot.State)
			}
		})
	}
}

func TestConcurrentDistinctSubmitsCountExactly(t *testing.T) {
	f := newFixture(t)
	f.uc.Retry.MaxAttempts = 8
	ctx := context.Background()

	const voters = 24
	ballots := make([]entities.Ballot, 0, voters)
	for i := 0; i < voters; i++ {
		voterID := fmt.Sprintf("student-%02d", i)
		f.store.SetVoter(entities.Voter{VoterID: voterID, Registered: true, Active: true})
		ballot := f.start(t, voterID)
		if _, err := f.uc.CastSelection(ctx, CastSelectionCommand{
			BallotID: ballot.BallotID, VoterID: voterID, PositionID: "president", CandidateIDs: []string{"p-ana"},
		}); err != nil {
			t.Fatalf("cast for %s: %v", voterID, err)
		}
		ballots = append(ballots, ballot)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []error
		ready    = make(chan struct{})
	)
	for _, ballot := range ballots {
		wg.Add(1)
		go func(ballot entities.Ballot) {
			defer wg.Done()
			<-ready
			result, err := f.uc.SubmitBallot(ctx, SubmitBallotCommand{BallotID: ballot.BallotID, VoterID: ballot.VoterID})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			if result.Replayed {
				failures = append(failures, fmt.Errorf("first submit of %s reported as replay", ballot.BallotID))
			}
		}(ballot)
	}
	close(ready)
	wg.Wait()

	if len(failures) > 0 {
		t.Fatalf("unexpected submit failures: %v", failures)
	}
	if got := f.voteCount(t, "p-ana"); got != voters {
		t.Fatalf("expected %d votes for p-ana, got %d", voters, got)
	}
	submitted, err := f.store.CountSubmittedBallots(ctx, testRef)
	if err != nil {
		t.Fatalf("count submitted: %v", err)
	}
	if submitted != voters {
		t.Fatalf("expected %d submitted ballots, got %d", voters, submitted)
	}
}

func TestSubmitRacingReaper(t *testing.T) {
	f := newFixture(t)
	f.uc.Retry.MaxAttempts = 8
	ctx := context.Background()

	const voters = 16
	ballots := make([]entities.Ballot, 0, voters)
	for i := 0; i < voters; i++ {
		voterID := fmt.Sprintf("student-%02d", i)
		f.store.SetVoter(entities.Voter{VoterID: voterID, Registered: true, Active: true})
		ballot := f.start(t, voterID)
		if _, err := f.uc.CastSelection(ctx, CastSelectionCommand{
			BallotID: ballot.BallotID, VoterID: voterID, PositionID: "president", CandidateIDs: []string{"p-ben"},
		}); err != nil {
			t.Fatalf("cast for %s: %v", voterID, err)
		}
		ballots = append(ballots, ballot)
	}

	// The reaper runs on a clock past every deadline while submitters still
	// see their ballots as live, so each ballot is contested.
	reaper := ReapUseCase{
		Ballots:   f.store,
		Audit:     f.uc.Audit,
		Clock:     &testClock{now: f.clock.Now().Add(time.Hour)},
		BatchSize: 4,
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		won      = make(map[string]bool, voters)
		failures []error
		ready    = make(chan struct{})
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ready
		if _, err := reaper.ReapExpired(ctx); err != nil {
			mu.Lock()
			failures = append(failures, fmt.Errorf("reap: %w", err))
			mu.Unlock()
		}
	}()
	for _, ballot := range ballots {
		wg.Add(1)
		go func(ballot entities.Ballot) {
			defer wg.Done()
			<-ready
			_, err := f.uc.SubmitBallot(ctx, SubmitBallotCommand{BallotID: ballot.BallotID, VoterID: ballot.VoterID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won[ballot.BallotID] = true
			case errors.Is(err, domainerrors.ErrBallotExpired), errors.Is(err, domainerrors.ErrBallotNotOpen):
			default:
				failures = append(failures, fmt.Errorf("submit %s: %w", ballot.BallotID, err))
			}
		}(ballot)
	}
	close(ready)
	wg.Wait()

	if len(failures) > 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}
	for _, ballot := range ballots {
		current, err := f.store.GetBallot(ctx, ballot.BallotID)
		if err != nil {
			t.Fatalf("get ballot: %v", err)
		}
		want := entities.BallotStateExpired
		if won[ballot.BallotID] {
			want = entities.BallotStateSubmitted
		}
		if current.State != want {
			t.Fatalf("ballot %s: expected %s, got %s", ballot.BallotID, want, current.State)
		}
	}
	if got := f.voteCount(t, "p-ben"); got != int64(len(won)) {
		t.Fatalf("expected %d votes from winning submits, got %d", len(won), got)
	}
	records, err := f.store.ListVoteRecords(ctx, testRef)
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != len(won) {
		t.Fatalf("expected %d vote records, got %d", len(won), len(records))
	}
}
