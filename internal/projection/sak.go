package projection

import (
	"kravsak/internal/domain"
)

// Project replays a case log from empty initial tracks into its SakState.
// Deterministic: the same log always yields the same state, no matter how
// many times it is replayed.
func Project(sakID string, events []domain.Event) (domain.SakState, error) {
	ordered := Ordered(events)

	g := ReduceTrack(domain.TrackGrunnlag, ordered)
	v := Resolve(g, ReduceTrack(domain.TrackVederlag, ordered))
	f := Resolve(g, ReduceTrack(domain.TrackFrist, ordered))

	for _, st := range []domain.TrackState{g, v, f} {
		if st.Track == domain.TrackGrunnlag {
			continue
		}
		if err := VerifyExclusive(st); err != nil {
			return domain.SakState{}, err
		}
	}

	state := domain.SakState{
		SakID:      sakID,
		Grunnlag:   g,
		Vederlag:   v,
		Frist:      f,
		EventCount: len(ordered),
	}
	for _, ev := range ordered {
		switch ev.Type {
		case domain.ForseringVarsel:
			state.ForseringVarslet = true
		case domain.EOUtstedt:
			state.EOUtstedt = true
		}
	}
	if state.EOUtstedt {
		state.Grunnlag.Status = domain.StatusLocked
		state.Vederlag.Status = domain.StatusLocked
		state.Frist.Status = domain.StatusLocked
	}

	state.TotalClaimed = totalClaimed(state.Vederlag)
	state.TotalApproved = totalApproved(state.Vederlag)
	state.CanIssueChangeOrder = canIssueChangeOrder(state)
	state.OverallStatus = overallStatus(state)
	return state, nil
}

func totalClaimed(v domain.TrackState) int64 {
	if v.Principal == nil || v.Status == domain.StatusWithdrawn {
		return 0
	}
	return v.Principal.Beloep
}

func totalApproved(v domain.TrackState) int64 {
	if v.Governs == domain.GovernsSubsidiary && v.Subsidiary != nil {
		return v.Subsidiary.Beloep
	}
	return v.GodkjentBeloep
}

// canIssueChangeOrder requires an approved grunnlag and both money and time
// tracks settled without withdrawal. A subsidiary-only resolution never
// qualifies: it presupposes the grunnlag rejection stood.
func canIssueChangeOrder(s domain.SakState) bool {
	if s.EOUtstedt {
		return false
	}
	if s.Grunnlag.Status != domain.StatusApproved {
		return false
	}
	return settledTrack(s.Vederlag) && settledTrack(s.Frist)
}

func settledTrack(st domain.TrackState) bool {
	if st.Governs == domain.GovernsAwaiting {
		return false
	}
	switch st.Status {
	case domain.StatusNotApplicable, domain.StatusApproved, domain.StatusPartiallyApproved, domain.StatusRejected:
		return true
	}
	return false
}

func overallStatus(s domain.SakState) domain.OverallStatus {
	if s.EOUtstedt {
		return domain.OverallClosed
	}
	if s.Grunnlag.Status == domain.StatusDraft {
		return domain.OverallDraft
	}
	if s.Grunnlag.Status == domain.StatusWithdrawn {
		return domain.OverallClosedWithdrawn
	}

	// Mirror the least-resolved open track.
	anySent, anyReview, anyNegotiation := false, false, false
	for _, st := range []domain.TrackState{s.Grunnlag, s.Vederlag, s.Frist} {
		if st.Governs == domain.GovernsAwaiting {
			anyNegotiation = true
			continue
		}
		switch st.Status {
		case domain.StatusSent:
			anySent = true
		case domain.StatusUnderReview:
			anyReview = true
		case domain.StatusUnderNegotiation:
			anyNegotiation = true
		}
	}
	switch {
	case anySent:
		return domain.OverallSent
	case anyReview:
		return domain.OverallUnderReview
	case anyNegotiation:
		return domain.OverallUnderNegotiation
	}
	return domain.OverallClosed
}
