// Package ballotengine implements the ballot lifecycle for student elections.
//
// A voter starts a ballot for one election (SSG or departmental), casts
// selections per position, and submits exactly once. Each (voter, election)
// pair is guarded by a voter slot row so at most one ballot is open and at
// most one is ever submitted. Submission increments candidate counters and
// writes vote records in the same unit of work. Abandoned and timed-out
// ballots release the slot without touching the tally. Lifecycle events are
// written to an audit outbox and relayed to the event bus by a worker.
package ballotengine
