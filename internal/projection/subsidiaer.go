package projection

import (
	"kravsak/internal/domain"
)

// Resolve applies the cross-track subsidiary rules to a reduced vederlag or
// frist state. It runs on every replay rather than caching a one-shot
// decision, so a grunnlag rejection that is later reversed flips the track
// back to its principal outcome on the next projection.
func Resolve(grunnlag domain.TrackState, st domain.TrackState) domain.TrackState {
	if st.Track == domain.TrackGrunnlag {
		return st
	}
	switch st.Status {
	case domain.StatusNotApplicable, domain.StatusDraft, domain.StatusWithdrawn, domain.StatusLocked:
		// No live claim to void.
		st.Triggere = nil
		st.Subsidiary = nil
		st.Governs = domain.GovernsPrincipal
		return st
	}

	triggers := append([]domain.SubsidiaerTrigger(nil), st.Triggere...)
	if grunnlag.Status == domain.StatusRejected {
		triggers = append([]domain.SubsidiaerTrigger{domain.TriggerGrunnlagAvvist}, triggers...)
	}
	st.Triggere = triggers

	if len(triggers) == 0 {
		st.Subsidiary = nil
		st.Governs = domain.GovernsPrincipal
		return st
	}
	if st.ResponseSubsidiary != nil {
		sub := *st.ResponseSubsidiary
		st.Subsidiary = &sub
		st.Governs = domain.GovernsSubsidiary
		return st
	}
	// Voided but not yet specified: the under_negotiation-adjacent waiting
	// state pending a subsidiary outcome.
	st.Subsidiary = nil
	st.Governs = domain.GovernsAwaiting
	return st
}

// VerifyExclusive checks the resolver invariant: exactly one of principal
// governs, subsidiary governs, or awaiting holds, and subsidiaryOutcome is
// present iff a trigger applies. A failure here is a defect in the resolver
// itself and must surface, not be swallowed.
func VerifyExclusive(st domain.TrackState) error {
	switch st.Governs {
	case domain.GovernsPrincipal:
		if st.Subsidiary != nil {
			return domain.InconsistentSubsidiaryStateError{Track: st.Track}
		}
	case domain.GovernsSubsidiary:
		if st.Subsidiary == nil || len(st.Triggere) == 0 {
			return domain.InconsistentSubsidiaryStateError{Track: st.Track}
		}
	case domain.GovernsAwaiting:
		if st.Subsidiary != nil || len(st.Triggere) == 0 {
			return domain.InconsistentSubsidiaryStateError{Track: st.Track}
		}
	default:
		return domain.InconsistentSubsidiaryStateError{Track: st.Track}
	}
	return nil
}
