package services

import (
	"strings"

	"evoting/contexts/voting-core/ballot-engine/domain/entities"
)

const (
	ReasonEligible           = "eligible"
	ReasonNotRegistered      = "not_registered"
	ReasonAccountInactive    = "account_inactive"
	ReasonDepartmentMismatch = "department_mismatch"
	ReasonOfficersOnly       = "officers_only"
)

// EvaluateEligibility applies the registration, department and officer rules.
// Prior participation is enforced by the voter slot, not here.
func EvaluateEligibility(voter entities.Voter, election entities.Election) entities.Eligibility {
	if !voter.Registered {
		return entities.Eligibility{Reason: ReasonNotRegistered}
	}
	if !voter.Active {
		return entities.Eligibility{Reason: ReasonAccountInactive}
	}
	if election.Ref.Kind == entities.ElectionKindDepartmental &&
		!strings.EqualFold(strings.TrimSpace(voter.DepartmentID), strings.TrimSpace(election.DepartmentID)) {
		return entities.Eligibility{Reason: ReasonDepartmentMismatch}
	}
	if election.OfficersOnly && !voter.Officer {
		return entities.Eligibility{Reason: ReasonOfficersOnly}
	}
	return entities.Eligibility{Eligible: true, Reason: ReasonEligible}
}
