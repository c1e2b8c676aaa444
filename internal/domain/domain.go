package domain

import (
	"encoding/json"
	"time"
)

type Algorithm string

const (
	AlgorithmConsensus     Algorithm = "CONSENSUS"
	AlgorithmConsent       Algorithm = "CONSENT"
	AlgorithmMajority      Algorithm = "MAJORITY"
	AlgorithmSupermajority Algorithm = "SUPERMAJORITY"
	AlgorithmNuanced       Algorithm = "NUANCED"
	AlgorithmAdvisory      Algorithm = "ADVISORY"
)

func (a Algorithm) Valid() bool {
	switch a {
	case AlgorithmConsensus, AlgorithmConsent, AlgorithmMajority, AlgorithmSupermajority, AlgorithmNuanced, AlgorithmAdvisory:
		return true
	}
	return false
}

// UsesProposals reports whether ballots reference proposals.
func (a Algorithm) UsesProposals() bool {
	switch a {
	case AlgorithmMajority, AlgorithmSupermajority, AlgorithmNuanced:
		return true
	}
	return false
}

type Status string

const (
	StatusDraft       Status = "DRAFT"
	StatusOpen        Status = "OPEN"
	StatusClosed      Status = "CLOSED"
	StatusImplemented Status = "IMPLEMENTED"
	StatusArchived    Status = "ARCHIVED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusOpen, StatusClosed, StatusImplemented, StatusArchived:
		return true
	}
	return false
}

// Decided reports whether a status carries a result.
func (s Status) Decided() bool {
	switch s {
	case StatusClosed, StatusImplemented, StatusArchived:
		return true
	}
	return false
}

type Result string

const (
	ResultApproved  Result = "APPROVED"
	ResultRejected  Result = "REJECTED"
	ResultBlocked   Result = "BLOCKED"
	ResultWithdrawn Result = "WITHDRAWN"
)

func (r Result) Valid() bool {
	switch r {
	case ResultApproved, ResultRejected, ResultBlocked, ResultWithdrawn:
		return true
	}
	return false
}

type Stage string

const (
	StageClarifications Stage = "CLARIFICATIONS"
	StageAvis           Stage = "AVIS"
	StageClarifavis     Stage = "CLARIFAVIS"
	StageAmendements    Stage = "AMENDEMENTS"
	StageObjections     Stage = "OBJECTIONS"
	StageTerminee       Stage = "TERMINEE"
)

func (s Stage) Valid() bool {
	switch s {
	case StageClarifications, StageAvis, StageClarifavis, StageAmendements, StageObjections, StageTerminee:
		return true
	}
	return false
}

type StageLayout string

const (
	LayoutMerged   StageLayout = "MERGED"
	LayoutDistinct StageLayout = "DISTINCT"
)

func (l StageLayout) Valid() bool {
	return l == LayoutMerged || l == LayoutDistinct
}

type AmendmentAction string

const (
	AmendmentAmended   AmendmentAction = "AMENDED"
	AmendmentKept      AmendmentAction = "KEPT"
	AmendmentWithdrawn AmendmentAction = "WITHDRAWN"
)

func (a AmendmentAction) Valid() bool {
	switch a {
	case AmendmentAmended, AmendmentKept, AmendmentWithdrawn:
		return true
	}
	return false
}

type Mode string

const (
	ModeInvited   Mode = "INVITED"
	ModeAnonymous Mode = "ANONYMOUS"
)

func (m Mode) Valid() bool {
	return m == ModeInvited || m == ModeAnonymous
}

type BinaryValue string

const (
	Agree    BinaryValue = "AGREE"
	Disagree BinaryValue = "DISAGREE"
)

func (v BinaryValue) Valid() bool {
	return v == Agree || v == Disagree
}

type ObjectionStatus string

const (
	NoObjection ObjectionStatus = "NO_OBJECTION"
	Objection   ObjectionStatus = "OBJECTION"
	NoPosition  ObjectionStatus = "NO_POSITION"
)

func (o ObjectionStatus) Valid() bool {
	switch o {
	case NoObjection, Objection, NoPosition:
		return true
	}
	return false
}

type CommentKind string

const (
	CommentClarification CommentKind = "CLARIFICATION"
	CommentOpinion       CommentKind = "OPINION"
	CommentGeneral       CommentKind = "GENERAL"
)

func (k CommentKind) Valid() bool {
	switch k {
	case CommentClarification, CommentOpinion, CommentGeneral:
		return true
	}
	return false
}

type Decision struct {
	ID              string           `json:"id"`
	Title           string           `json:"title"`
	Description     string           `json:"description,omitempty"`
	Algorithm       Algorithm        `json:"algorithm" enum:"CONSENSUS,CONSENT,MAJORITY,SUPERMAJORITY,NUANCED,ADVISORY"`
	Mode            Mode             `json:"mode" enum:"INVITED,ANONYMOUS"`
	Status          Status           `json:"status" enum:"DRAFT,OPEN,CLOSED,IMPLEMENTED,ARCHIVED"`
	Result          *Result          `json:"result,omitempty"`
	ResultDetails   json.RawMessage  `json:"result_details,omitempty"`
	CreatorID       string           `json:"creator_id"`
	StartTime       *time.Time       `json:"start_time,omitempty"`
	EndTime         *time.Time       `json:"end_time,omitempty"`
	DecidedAt       *time.Time       `json:"decided_at,omitempty"`
	StageLayout     StageLayout      `json:"stage_layout,omitempty"`
	CurrentStage    *Stage           `json:"current_stage,omitempty"`
	AmendmentAction *AmendmentAction `json:"amendment_action,omitempty"`
	NuancedScale    int              `json:"nuanced_scale,omitempty"`
	WinnerCount     int              `json:"winner_count,omitempty"`
	BindingDeadline bool             `json:"binding_deadline"`
	Version         int64            `json:"version"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// IsCreator reports whether actorID created the decision.
func (d Decision) IsCreator(actorID string) bool {
	return actorID != "" && d.CreatorID == actorID
}

type Participant struct {
	ID           string    `json:"id"`
	DecisionID   string    `json:"decision_id"`
	UserID       *string   `json:"user_id,omitempty"`
	InviteeEmail *string   `json:"invitee_email,omitempty"`
	HasVoted     bool      `json:"has_voted"`
	CreatedAt    time.Time `json:"created_at"`
}

// Recipient returns the identity notifications are addressed to.
func (p Participant) Recipient() string {
	if p.UserID != nil {
		return *p.UserID
	}
	if p.InviteeEmail != nil {
		return *p.InviteeEmail
	}
	return ""
}

type Proposal struct {
	ID         string    `json:"id"`
	DecisionID string    `json:"decision_id"`
	Title      string    `json:"title"`
	Position   int       `json:"position"`
	CreatedAt  time.Time `json:"created_at"`
}

// BallotPayload carries the algorithm-specific part of a ballot. Exactly the
// fields matching the decision's algorithm are set.
type BallotPayload struct {
	Value      BinaryValue     `json:"value,omitempty"`
	ProposalID string          `json:"proposal_id,omitempty"`
	Mentions   map[string]int  `json:"mentions,omitempty"`
	Objection  ObjectionStatus `json:"objection,omitempty"`
	Text       string          `json:"text,omitempty"`
}

type Ballot struct {
	ID            string        `json:"id"`
	DecisionID    string        `json:"decision_id"`
	VoterKey      string        `json:"-"`
	ParticipantID *string       `json:"participant_id,omitempty"`
	Fingerprint   *string       `json:"fingerprint,omitempty"`
	Kind          Algorithm     `json:"kind"`
	Payload       BallotPayload `json:"payload"`
	Withdrawn     bool          `json:"withdrawn"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type Comment struct {
	ID         string      `json:"id"`
	DecisionID string      `json:"decision_id"`
	Kind       CommentKind `json:"kind" enum:"CLARIFICATION,OPINION,GENERAL"`
	AuthorID   string      `json:"author_id"`
	Body       string      `json:"body"`
	CreatedAt  time.Time   `json:"created_at"`
}

type LogEntry struct {
	ID         int64          `json:"id"`
	DecisionID string         `json:"decision_id"`
	EventType  string         `json:"event_type"`
	ActorID    *string        `json:"actor_id,omitempty"`
	OldValue   *string        `json:"old_value,omitempty"`
	NewValue   *string        `json:"new_value,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
