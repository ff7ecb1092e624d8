package projection

import (
	"sort"
	"time"

	"kravsak/internal/domain"
)

// Ordered returns the events in fold order: ascending timestamp with ties
// broken by log sequence number. Two events can share a timestamp, so
// wall-clock comparison alone never decides the order.
func Ordered(events []domain.Event) []domain.Event {
	out := make([]domain.Event, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := parseTime(out[i].Time), parseTime(out[j].Time)
		if ti.Equal(tj) {
			return out[i].Seq < out[j].Seq
		}
		return ti.Before(tj)
	})
	return out
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ReduceTrack folds the track's subsequence of events into a TrackState.
// Pure and total: any well-formed prefix of a log reduces without error,
// and a track with zero events reduces to its initial status. Events is
// assumed to already be in fold order (see Ordered).
func ReduceTrack(track domain.Track, events []domain.Event) domain.TrackState {
	st := domain.TrackState{
		Track:   track,
		Status:  initialStatus(track),
		Governs: domain.GovernsPrincipal,
	}
	for _, ev := range events {
		if domain.TrackOf(ev.Type) != track {
			continue
		}
		foldEvent(&st, ev)
	}
	return st
}

// The grunnlag track starts as the case draft; vederlag and frist are not
// applicable until a claim arrives.
func initialStatus(track domain.Track) domain.TrackStatus {
	if track == domain.TrackGrunnlag {
		return domain.StatusDraft
	}
	return domain.StatusNotApplicable
}

func foldEvent(st *domain.TrackState, ev domain.Event) {
	switch ev.Type {
	case domain.GrunnlagOpprettet, domain.VederlagKravSendt, domain.FristKravSendt:
		st.Status = domain.StatusSent
		st.Principal = claimOutcome(st.Track, ev.Data)
		st.RevisionCount = 0

	case domain.GrunnlagOppdatert, domain.VederlagKravOppdatert, domain.FristKravOppdatert:
		if !revisable(st.Status) {
			return
		}
		// Overwrites the principal claim only; any existing response or
		// subsidiary data persists until a new response supersedes it.
		st.RevisionCount++
		st.Principal = claimOutcome(st.Track, ev.Data)

	case domain.GrunnlagTrukket, domain.VederlagKravTrukket, domain.FristKravTrukket:
		if st.Status == domain.StatusNotApplicable || st.Status == domain.StatusDraft {
			return
		}
		st.Status = domain.StatusWithdrawn

	case domain.ResponsGrunnlag, domain.ResponsVederlag, domain.ResponsFrist:
		if !respondable(st.Status) {
			return
		}
		st.HasResponse = true
		st.ResponseRevised = false
		st.ResponseRevision = st.RevisionCount
		applyRespons(st, ev.Data)

	case domain.ResponsGrunnlagOppdatert, domain.ResponsVederlagOppdatert, domain.ResponsFristOppdatert:
		if !st.HasResponse || st.Status == domain.StatusWithdrawn || st.Status == domain.StatusLocked {
			return
		}
		// Re-sets status and outcome; the answered claim revision stays at
		// the value recorded by the original response.
		st.ResponseRevised = true
		applyRespons(st, ev.Data)
	}
}

// revisable: a TE claim update is only legal while the claim is in play.
func revisable(s domain.TrackStatus) bool {
	switch s {
	case domain.StatusSent, domain.StatusUnderReview, domain.StatusUnderNegotiation:
		return true
	}
	return false
}

func respondable(s domain.TrackStatus) bool {
	switch s {
	case domain.StatusNotApplicable, domain.StatusDraft, domain.StatusWithdrawn, domain.StatusLocked:
		return false
	}
	return true
}

func applyRespons(st *domain.TrackState, d domain.EventData) {
	st.Resultat = d.Resultat
	if status, ok := domain.StatusForResultat(d.Resultat); ok {
		st.Status = status
	}
	st.Triggere = append([]domain.SubsidiaerTrigger(nil), d.Triggere...)
	if d.SubsidiaerResultat != nil {
		sub := *d.SubsidiaerResultat
		st.ResponseSubsidiary = &sub
	} else {
		st.ResponseSubsidiary = nil
	}
	st.GodkjentBeloep = grantedAmount(st, d)
	st.GodkjentDager = grantedDays(st, d)
}

func grantedAmount(st *domain.TrackState, d domain.EventData) int64 {
	if d.GodkjentBeloep != nil {
		return *d.GodkjentBeloep
	}
	if d.Resultat == domain.ResultatGodkjent && st.Principal != nil {
		return st.Principal.Beloep
	}
	return 0
}

func grantedDays(st *domain.TrackState, d domain.EventData) int {
	if d.GodkjentDager != nil {
		return *d.GodkjentDager
	}
	if d.Resultat == domain.ResultatGodkjent && st.Principal != nil {
		return st.Principal.Dager
	}
	return 0
}

func claimOutcome(track domain.Track, d domain.EventData) *domain.Outcome {
	switch track {
	case domain.TrackGrunnlag:
		return &domain.Outcome{Kategori: d.Kategori}
	case domain.TrackVederlag:
		return &domain.Outcome{Metode: d.Metode, Beloep: d.Beloep}
	case domain.TrackFrist:
		return &domain.Outcome{Dager: d.Dager}
	}
	return nil
}
