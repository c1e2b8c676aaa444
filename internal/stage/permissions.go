package stage

import "consentline/internal/domain"

func CanAskClarification(s domain.Stage) bool {
	switch s {
	case domain.StageClarifications, domain.StageAvis, domain.StageClarifavis:
		return true
	}
	return false
}

func CanGiveOpinion(s domain.Stage) bool {
	return s == domain.StageAvis || s == domain.StageClarifavis
}

// CanAmend allows only the creator to amend, and only during AMENDEMENTS.
func CanAmend(s domain.Stage, actorID, creatorID string) bool {
	return s == domain.StageAmendements && actorID != "" && actorID == creatorID
}

func CanObject(s domain.Stage) bool {
	return s == domain.StageObjections
}
