package server

import (
	"time"

	"consentline/internal/domain"
	"consentline/internal/engine"
	"consentline/internal/stage"
)

// Request payloads

type CreateDecisionRequest struct {
	Title           string   `json:"title" minLength:"1"`
	Description     string   `json:"description,omitempty"`
	Algorithm       string   `json:"algorithm" enum:"CONSENSUS,CONSENT,MAJORITY,SUPERMAJORITY,NUANCED,ADVISORY"`
	Mode            string   `json:"mode,omitempty" enum:"INVITED,ANONYMOUS"`
	StageLayout     string   `json:"stage_layout,omitempty" enum:"MERGED,DISTINCT"`
	NuancedScale    int      `json:"nuanced_scale,omitempty" enum:"3,5,7"`
	WinnerCount     int      `json:"winner_count,omitempty" minimum:"1"`
	BindingDeadline *bool    `json:"binding_deadline,omitempty"`
	Proposals       []string `json:"proposals,omitempty"`
}

func (r CreateDecisionRequest) options(actorID string) engine.CreateOptions {
	return engine.CreateOptions{
		Title:           r.Title,
		Description:     r.Description,
		Algorithm:       domain.Algorithm(r.Algorithm),
		Mode:            domain.Mode(r.Mode),
		Layout:          domain.StageLayout(r.StageLayout),
		Scale:           r.NuancedScale,
		WinnerCount:     r.WinnerCount,
		BindingDeadline: r.BindingDeadline,
		Proposals:       r.Proposals,
		ActorID:         actorID,
	}
}

type UpdateDecisionRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

type LaunchDecisionRequest struct {
	EndTime time.Time `json:"end_time" format:"date-time"`
}

type StatusRequest struct {
	Status string `json:"status" enum:"IMPLEMENTED,ARCHIVED"`
}

type AmendmentRequest struct {
	Action      string  `json:"action" enum:"AMENDED,KEPT,WITHDRAWN"`
	Title       *string `json:"title,omitempty" doc:"Amended title, AMENDED only"`
	Description *string `json:"description,omitempty" doc:"Amended description, AMENDED only"`
}

type AddParticipantRequest struct {
	UserID       string `json:"user_id,omitempty"`
	InviteeEmail string `json:"invitee_email,omitempty" format:"email"`
}

type AddProposalRequest struct {
	Title string `json:"title" minLength:"1"`
}

type CommentRequest struct {
	Kind string `json:"kind,omitempty" enum:"CLARIFICATION,OPINION,GENERAL"`
	Body string `json:"body" minLength:"1"`
}

// Ballot bodies, one per algorithm family.

type BinaryBallotRequest struct {
	Value string `json:"value" enum:"AGREE,DISAGREE"`
}

type ConsentBallotRequest struct {
	Objection string `json:"objection" enum:"NO_OBJECTION,OBJECTION,NO_POSITION"`
	Text      string `json:"text,omitempty"`
	Withdraw  bool   `json:"withdraw,omitempty"`
}

type MajorityBallotRequest struct {
	ProposalID string `json:"proposal_id" minLength:"1"`
}

type NuancedBallotRequest struct {
	Mentions map[string]int `json:"mentions"`
}

type AdvisoryBallotRequest struct {
	Value string `json:"value" enum:"AGREE,DISAGREE"`
	Text  string `json:"text,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id" minLength:"1"`
	Email   string `json:"email,omitempty" format:"email"`
}

// Response payloads

type DecisionListResponse struct {
	Items []domain.Decision `json:"items"`
}

type ParticipantListResponse struct {
	Items []domain.Participant `json:"items"`
}

type ProposalListResponse struct {
	Items []domain.Proposal `json:"items"`
}

type BallotListResponse struct {
	Items []domain.Ballot `json:"items"`
}

type CommentListResponse struct {
	Items []domain.Comment `json:"items"`
}

type LogResponse struct {
	Items []domain.LogEntry `json:"items"`
}

type TimelineResponse struct {
	DecisionID string         `json:"decision_id"`
	Windows    []stage.Window `json:"windows"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
