// Package result reduces the ballots of a decision into its final outcome.
// Every function is pure: the same input always yields the same outcome.
package result

import (
	"fmt"
	"sort"

	"consentline/internal/domain"
)

// Input is everything needed to compute an outcome.
type Input struct {
	Algorithm       domain.Algorithm
	Participants    int
	Ballots         []domain.Ballot
	Proposals       []domain.Proposal
	AmendmentAction *domain.AmendmentAction
	Scale           int
	WinnerCount     int
}

// Outcome is a computed result plus its breakdown.
type Outcome struct {
	Result  domain.Result `json:"result"`
	Details Details       `json:"details"`
}

// Details holds counts only; rendering a closure message is left to callers.
type Details struct {
	Algorithm         domain.Algorithm `json:"algorithm"`
	TotalParticipants int              `json:"total_participants"`
	BallotCount       int              `json:"ballot_count"`
	NotVoted          int              `json:"not_voted"`
	AgreeCount        int              `json:"agree_count,omitempty"`
	DisagreeCount     int              `json:"disagree_count,omitempty"`
	NoObjectionCount  int              `json:"no_objection_count,omitempty"`
	ObjectionCount    int              `json:"objection_count,omitempty"`
	NoPositionCount   int              `json:"no_position_count,omitempty"`
	Withdrawn         bool             `json:"withdrawn,omitempty"`
	Tallies           []Tally          `json:"tallies,omitempty"`
	Ranking           []Rank           `json:"ranking,omitempty"`
	Winners           []string         `json:"winners,omitempty"`
}

// Tally is the ballot count of one proposal.
type Tally struct {
	ProposalID string `json:"proposal_id"`
	Count      int    `json:"count"`
}

// Compute dispatches on the decision algorithm.
func Compute(in Input) (Outcome, error) {
	active := activeBallots(in.Ballots)
	details := Details{
		Algorithm:         in.Algorithm,
		TotalParticipants: in.Participants,
		BallotCount:       len(active),
		NotVoted:          notVoted(in.Participants, len(active)),
	}
	switch in.Algorithm {
	case domain.AlgorithmConsensus:
		return consensus(active, details)
	case domain.AlgorithmConsent:
		return consent(in, active, details)
	case domain.AlgorithmMajority, domain.AlgorithmSupermajority:
		return majority(in, active, details)
	case domain.AlgorithmNuanced:
		return nuanced(in, active, details)
	case domain.AlgorithmAdvisory:
		return advisory(active, details), nil
	default:
		return Outcome{}, fmt.Errorf("unknown algorithm %q", in.Algorithm)
	}
}

// EarlyClosure reports whether the algorithm's convergence rule already
// holds, and the outcome to close with when it does.
func EarlyClosure(in Input) (Outcome, bool, error) {
	active := activeBallots(in.Ballots)
	switch in.Algorithm {
	case domain.AlgorithmConsent:
		if withdrawn(in.AmendmentAction) {
			out, err := Compute(in)
			return out, err == nil, err
		}
		if !fullTurnout(in.Participants, active) {
			return Outcome{}, false, nil
		}
		for _, b := range active {
			if b.Payload.Objection != domain.NoObjection {
				return Outcome{}, false, nil
			}
		}
	case domain.AlgorithmConsensus:
		if !fullTurnout(in.Participants, active) {
			return Outcome{}, false, nil
		}
		for _, b := range active {
			if b.Payload.Value != domain.Agree {
				return Outcome{}, false, nil
			}
		}
	case domain.AlgorithmMajority, domain.AlgorithmSupermajority, domain.AlgorithmNuanced, domain.AlgorithmAdvisory:
		return Outcome{}, false, nil
	default:
		return Outcome{}, false, fmt.Errorf("unknown algorithm %q", in.Algorithm)
	}
	out, err := Compute(in)
	if err != nil {
		return Outcome{}, false, err
	}
	return out, true, nil
}

func consensus(active []domain.Ballot, d Details) (Outcome, error) {
	for _, b := range active {
		switch b.Payload.Value {
		case domain.Agree:
			d.AgreeCount++
		case domain.Disagree:
			d.DisagreeCount++
		default:
			return Outcome{}, fmt.Errorf("ballot %s: invalid consensus value %q", b.ID, b.Payload.Value)
		}
	}
	res := domain.ResultRejected
	if d.AgreeCount > 0 && d.DisagreeCount == 0 {
		res = domain.ResultApproved
	}
	return Outcome{Result: res, Details: d}, nil
}

func consent(in Input, active []domain.Ballot, d Details) (Outcome, error) {
	for _, b := range active {
		switch b.Payload.Objection {
		case domain.NoObjection:
			d.NoObjectionCount++
		case domain.Objection:
			d.ObjectionCount++
		case domain.NoPosition:
			d.NoPositionCount++
		default:
			return Outcome{}, fmt.Errorf("ballot %s: invalid objection status %q", b.ID, b.Payload.Objection)
		}
	}
	switch {
	case withdrawn(in.AmendmentAction):
		d.Withdrawn = true
		return Outcome{Result: domain.ResultWithdrawn, Details: d}, nil
	case d.ObjectionCount > 0:
		return Outcome{Result: domain.ResultBlocked, Details: d}, nil
	default:
		return Outcome{Result: domain.ResultApproved, Details: d}, nil
	}
}

func majority(in Input, active []domain.Ballot, d Details) (Outcome, error) {
	counts := make(map[string]int, len(in.Proposals))
	for _, p := range orderedProposals(in.Proposals) {
		counts[p.ID] = 0
		d.Tallies = append(d.Tallies, Tally{ProposalID: p.ID})
	}
	for _, b := range active {
		if _, ok := counts[b.Payload.ProposalID]; !ok {
			return Outcome{}, fmt.Errorf("ballot %s references unknown proposal %q", b.ID, b.Payload.ProposalID)
		}
		counts[b.Payload.ProposalID]++
	}
	best := 0
	for i := range d.Tallies {
		d.Tallies[i].Count = counts[d.Tallies[i].ProposalID]
		if d.Tallies[i].Count > best {
			best = d.Tallies[i].Count
		}
	}
	if len(active) == 0 {
		return Outcome{Result: domain.ResultRejected, Details: d}, nil
	}
	for _, t := range d.Tallies {
		if t.Count == best {
			d.Winners = append(d.Winners, t.ProposalID)
		}
	}
	return Outcome{Result: domain.ResultApproved, Details: d}, nil
}

func advisory(active []domain.Ballot, d Details) Outcome {
	for _, b := range active {
		switch b.Payload.Value {
		case domain.Agree:
			d.AgreeCount++
		case domain.Disagree:
			d.DisagreeCount++
		}
	}
	if len(active) == 0 {
		return Outcome{Result: domain.ResultRejected, Details: d}
	}
	return Outcome{Result: domain.ResultApproved, Details: d}
}

// activeBallots drops withdrawn ballots and orders the rest by voter key.
func activeBallots(ballots []domain.Ballot) []domain.Ballot {
	out := make([]domain.Ballot, 0, len(ballots))
	for _, b := range ballots {
		if b.Withdrawn {
			continue
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].VoterKey != out[j].VoterKey {
			return out[i].VoterKey < out[j].VoterKey
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func orderedProposals(proposals []domain.Proposal) []domain.Proposal {
	out := append([]domain.Proposal(nil), proposals...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func notVoted(participants, active int) int {
	if participants <= active {
		return 0
	}
	return participants - active
}

func fullTurnout(participants int, active []domain.Ballot) bool {
	return participants > 0 && len(active) >= participants
}

func withdrawn(a *domain.AmendmentAction) bool {
	return a != nil && *a == domain.AmendmentWithdrawn
}
