package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"consentline/internal/domain"
	"consentline/internal/engine/auth"
	"consentline/internal/events"
	"consentline/internal/fingerprint"
	"consentline/internal/repo"
	"consentline/internal/stage"
)

// BallotInput is one vote, objection or ballot. INVITED decisions identify
// the voter by user id or invitee email; ANONYMOUS decisions by a dedup key.
type BallotInput struct {
	DecisionID string
	// Family is the ballot kind the caller submitted. MAJORITY also covers
	// SUPERMAJORITY decisions. Empty accepts the decision's own algorithm.
	Family       domain.Algorithm
	UserID       string
	InviteeEmail string
	DedupKey     string
	Payload      domain.BallotPayload
	// Withdraw marks a CONSENT objection as withdrawn.
	Withdraw bool
}

// RecordBallot upserts the voter's ballot. CONSENSUS and CONSENT ballots
// trigger an immediate closure evaluation once committed.
func (e Engine) RecordBallot(ctx context.Context, in BallotInput) (domain.Ballot, error) {
	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Ballot{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDecision(ctx, tx, in.DecisionID)
	if err != nil {
		return domain.Ballot{}, err
	}
	if d.Status != domain.StatusOpen {
		return domain.Ballot{}, invalidState("decision is not open for voting")
	}
	if d.EndTime == nil || !now.Before(*d.EndTime) {
		return domain.Ballot{}, invalidState("voting for this decision has ended")
	}
	if err := checkFamily(d.Algorithm, in.Family); err != nil {
		return domain.Ballot{}, err
	}
	proposals, err := e.Repo.ListProposals(ctx, tx, d.ID)
	if err != nil {
		return domain.Ballot{}, err
	}
	payload, err := normalizePayload(d, proposals, in.Payload, in.Withdraw)
	if err != nil {
		return domain.Ballot{}, err
	}

	b := domain.Ballot{
		DecisionID: d.ID,
		Kind:       d.Algorithm,
		Payload:    payload,
		Withdrawn:  in.Withdraw,
		UpdatedAt:  now,
	}
	var participant *domain.Participant
	switch d.Mode {
	case domain.ModeInvited:
		p, err := e.Repo.FindParticipant(ctx, tx, d.ID, strings.TrimSpace(in.UserID), strings.ToLower(strings.TrimSpace(in.InviteeEmail)))
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Ballot{}, auth.ForbiddenError{Reason: "you are not a participant of this decision"}
		}
		if err != nil {
			return domain.Ballot{}, err
		}
		participant = &p
		b.ParticipantID = &p.ID
		b.VoterKey = "p:" + p.ID
	case domain.ModeAnonymous:
		key := in.DedupKey
		if strings.TrimSpace(key) == "" {
			key = in.UserID
		}
		fp, err := fingerprint.Derive([]byte(e.config().Secrets.Fingerprint), d.ID, key)
		if errors.Is(err, fingerprint.ErrEmptyInput) {
			return domain.Ballot{}, invalidField("dedup_key", "anonymous ballots need a deduplication key")
		}
		if err != nil {
			return domain.Ballot{}, err
		}
		b.Fingerprint = &fp
		b.VoterKey = "f:" + fp
	default:
		return domain.Ballot{}, fmt.Errorf("unknown decision mode %q", d.Mode)
	}

	if d.Algorithm == domain.AlgorithmConsent {
		t, err := stage.TimelineOf(d)
		if err != nil {
			return domain.Ballot{}, err
		}
		current, err := stage.Current(t, now)
		if err != nil {
			return domain.Ballot{}, err
		}
		if !stage.CanObject(current) {
			return domain.Ballot{}, auth.ForbiddenError{Reason: fmt.Sprintf(
				"objections are only open during the OBJECTIONS stage (current stage: %s)", current)}
		}
	}

	prev, err := e.Repo.GetBallotByVoter(ctx, tx, d.ID, b.VoterKey)
	updated := err == nil
	switch {
	case updated:
		b.ID = prev.ID
		b.CreatedAt = prev.CreatedAt
	case errors.Is(err, repo.ErrNotFound):
		b.ID = uuid.NewString()
		b.CreatedAt = now
	default:
		return domain.Ballot{}, err
	}
	if err := e.Repo.UpsertBallot(ctx, tx, b); err != nil {
		return domain.Ballot{}, fmt.Errorf("upsert ballot: %w", err)
	}
	if participant != nil && !participant.HasVoted {
		if err := e.Repo.MarkVoted(ctx, tx, participant.ID); err != nil {
			return domain.Ballot{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Ballot{}, err
	}

	entry := events.Entry{
		DecisionID: d.ID,
		Type:       events.BallotRecorded,
		ActorID:    strings.TrimSpace(in.UserID),
		NewValue:   payloadString(b.Payload, b.Withdrawn),
		Metadata:   map[string]any{"ballot_id": b.ID, "kind": b.Kind},
	}
	if d.Mode == domain.ModeAnonymous {
		entry.ActorID = ""
	}
	if updated {
		entry.Type = events.BallotUpdated
		entry.OldValue = payloadString(prev.Payload, prev.Withdrawn)
	}
	e.events().Append(ctx, entry)
	e.Metrics.RecordBallot(ctx, string(d.Algorithm), updated)

	if d.Algorithm == domain.AlgorithmConsensus || d.Algorithm == domain.AlgorithmConsent {
		e.evaluateAfterBallot(ctx, d.ID)
	}
	b.Fingerprint = nil
	return b, nil
}

func checkFamily(algorithm, family domain.Algorithm) error {
	if family == "" || family == algorithm {
		return nil
	}
	if family == domain.AlgorithmMajority && algorithm == domain.AlgorithmSupermajority {
		return nil
	}
	return invalidField("kind", "this decision takes %s ballots", algorithm)
}

// normalizePayload validates a payload against the decision and keeps only
// the fields its algorithm uses.
func normalizePayload(d domain.Decision, proposals []domain.Proposal, p domain.BallotPayload, withdraw bool) (domain.BallotPayload, error) {
	if withdraw && d.Algorithm != domain.AlgorithmConsent {
		return domain.BallotPayload{}, invalidField("withdraw", "only CONSENT objections can be withdrawn")
	}
	switch d.Algorithm {
	case domain.AlgorithmConsensus:
		if !p.Value.Valid() {
			return domain.BallotPayload{}, invalidField("value", "must be AGREE or DISAGREE")
		}
		return domain.BallotPayload{Value: p.Value}, nil
	case domain.AlgorithmAdvisory:
		if !p.Value.Valid() {
			return domain.BallotPayload{}, invalidField("value", "must be AGREE or DISAGREE")
		}
		return domain.BallotPayload{Value: p.Value, Text: strings.TrimSpace(p.Text)}, nil
	case domain.AlgorithmConsent:
		if !p.Objection.Valid() {
			return domain.BallotPayload{}, invalidField("objection", "must be NO_OBJECTION, OBJECTION or NO_POSITION")
		}
		text := strings.TrimSpace(p.Text)
		if p.Objection == domain.Objection && text == "" && !withdraw {
			return domain.BallotPayload{}, invalidField("text", "an objection needs a reason")
		}
		return domain.BallotPayload{Objection: p.Objection, Text: text}, nil
	case domain.AlgorithmMajority, domain.AlgorithmSupermajority:
		for _, prop := range proposals {
			if prop.ID == p.ProposalID {
				return domain.BallotPayload{ProposalID: p.ProposalID}, nil
			}
		}
		return domain.BallotPayload{}, invalidField("proposal_id", "unknown proposal %q", p.ProposalID)
	case domain.AlgorithmNuanced:
		if len(p.Mentions) != len(proposals) {
			return domain.BallotPayload{}, invalidField("mentions", "rate every proposal exactly once")
		}
		mentions := make(map[string]int, len(proposals))
		for _, prop := range proposals {
			m, ok := p.Mentions[prop.ID]
			if !ok {
				return domain.BallotPayload{}, invalidField("mentions", "missing mention for proposal %q", prop.ID)
			}
			if m < 0 || m >= d.NuancedScale {
				return domain.BallotPayload{}, invalidField("mentions", "mention %d outside the %d level scale", m, d.NuancedScale)
			}
			mentions[prop.ID] = m
		}
		return domain.BallotPayload{Mentions: mentions}, nil
	default:
		return domain.BallotPayload{}, fmt.Errorf("unknown algorithm %q", d.Algorithm)
	}
}

func payloadString(p domain.BallotPayload, withdrawn bool) string {
	data, err := json.Marshal(struct {
		domain.BallotPayload
		Withdrawn bool `json:"withdrawn,omitempty"`
	}{p, withdrawn})
	if err != nil {
		return ""
	}
	return string(data)
}
