package projection_test

import (
	"fmt"
	"reflect"
	"testing"

	"kravsak/internal/domain"
	"kravsak/internal/projection"
)

func ev(seq int, ts string, t domain.EventType, data domain.EventData) domain.Event {
	return domain.Event{
		ID:    fmt.Sprintf("ev-%d", seq),
		SakID: "sak-1",
		Seq:   seq,
		Time:  ts,
		Actor: "tester",
		Role:  roleOf(t),
		Track: domain.TrackOf(t),
		Type:  t,
		Data:  data,
	}
}

func roleOf(t domain.EventType) domain.Role {
	switch t {
	case domain.ResponsGrunnlag, domain.ResponsGrunnlagOppdatert,
		domain.ResponsVederlag, domain.ResponsVederlagOppdatert,
		domain.ResponsFrist, domain.ResponsFristOppdatert, domain.EOUtstedt:
		return domain.RoleBH
	}
	return domain.RoleTE
}

func mustProject(t *testing.T, events []domain.Event) domain.SakState {
	t.Helper()
	st, err := projection.Project("sak-1", events)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	return st
}

func TestProjectDeterministic(t *testing.T) {
	events := []domain.Event{
		ev(1, "2024-01-01T10:00:00Z", domain.GrunnlagOpprettet, domain.EventData{Kategori: "endring"}),
		ev(2, "2024-01-02T10:00:00Z", domain.VederlagKravSendt, domain.EventData{Metode: "regningsarbeid", Beloep: 120000}),
		ev(3, "2024-01-03T10:00:00Z", domain.GrunnlagOppdatert, domain.EventData{Kategori: "svikt"}),
		ev(4, "2024-01-04T10:00:00Z", domain.ResponsGrunnlag, domain.EventData{Resultat: domain.ResultatGodkjent}),
	}
	first := mustProject(t, events)
	second := mustProject(t, events)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("replay not deterministic:\n%+v\n%+v", first, second)
	}
	// Input order must not matter either.
	shuffled := []domain.Event{events[3], events[0], events[2], events[1]}
	third := mustProject(t, shuffled)
	if !reflect.DeepEqual(first, third) {
		t.Fatalf("order-sensitive projection:\n%+v\n%+v", first, third)
	}
}

func TestTieBreakBySeq(t *testing.T) {
	ts := "2024-01-01T10:00:00Z"
	events := []domain.Event{
		ev(2, ts, domain.GrunnlagOppdatert, domain.EventData{Kategori: "svikt"}),
		ev(1, ts, domain.GrunnlagOpprettet, domain.EventData{Kategori: "endring"}),
	}
	st := mustProject(t, events)
	if st.Grunnlag.RevisionCount != 1 {
		t.Fatalf("revisionCount = %d, want 1", st.Grunnlag.RevisionCount)
	}
	if st.Grunnlag.Principal == nil || st.Grunnlag.Principal.Kategori != "svikt" {
		t.Fatalf("principal = %+v, want kategori svikt", st.Grunnlag.Principal)
	}
}

func TestClaimSentInitialState(t *testing.T) {
	st := mustProject(t, []domain.Event{
		ev(1, "2024-01-01T10:00:00Z", domain.GrunnlagOpprettet, domain.EventData{Kategori: "endring"}),
	})
	if st.Grunnlag.Status != domain.StatusSent {
		t.Fatalf("status = %s, want sent", st.Grunnlag.Status)
	}
	if st.Grunnlag.RevisionCount != 0 {
		t.Fatalf("revisionCount = %d, want 0", st.Grunnlag.RevisionCount)
	}
	if st.OverallStatus != domain.OverallSent {
		t.Fatalf("overallStatus = %s, want sent", st.OverallStatus)
	}
	if st.Vederlag.Status != domain.StatusNotApplicable || st.Frist.Status != domain.StatusNotApplicable {
		t.Fatalf("unclaimed tracks should stay not_applicable")
	}
}

func TestMonotonicRevisions(t *testing.T) {
	events := []domain.Event{
		ev(1, "2024-01-01T10:00:00Z", domain.VederlagKravSendt, domain.EventData{Metode: "enhetspriser", Beloep: 100000}),
	}
	for n := 1; n <= 4; n++ {
		events = append(events, ev(n+1, fmt.Sprintf("2024-01-0%dT10:00:00Z", n+1),
			domain.VederlagKravOppdatert, domain.EventData{Metode: "enhetspriser", Beloep: int64(100000 + n)}))
		st := mustProject(t, events)
		if st.Vederlag.RevisionCount != n {
			t.Fatalf("after %d updates revisionCount = %d", n, st.Vederlag.RevisionCount)
		}
	}
}

func TestResponseAnswersCurrentRevision(t *testing.T) {
	events := []domain.Event{
		ev(1, "2024-01-01T10:00:00Z", domain.GrunnlagOpprettet, domain.EventData{Kategori: "endring"}),
		ev(2, "2024-01-02T10:00:00Z", domain.GrunnlagOppdatert, domain.EventData{Kategori: "endring", Beskrivelse: "utdypet"}),
		ev(3, "2024-01-03T10:00:00Z", domain.ResponsGrunnlag, domain.EventData{Resultat: domain.ResultatAvventerSpesifikasjon}),
	}
	st := mustProject(t, events)
	if st.Grunnlag.ResponseRevision != 1 {
		t.Fatalf("lastResponseRevisionRef = %d, want 1", st.Grunnlag.ResponseRevision)
	}
	if st.Grunnlag.Status != domain.StatusUnderReview {
		t.Fatalf("status = %s, want under_review", st.Grunnlag.Status)
	}

	// A later claim revision does not move the recorded reference.
	events = append(events, ev(4, "2024-01-04T10:00:00Z", domain.GrunnlagOppdatert, domain.EventData{Kategori: "endring", Beskrivelse: "mer"}))
	st = mustProject(t, events)
	if st.Grunnlag.RevisionCount != 2 {
		t.Fatalf("revisionCount = %d, want 2", st.Grunnlag.RevisionCount)
	}
	if st.Grunnlag.ResponseRevision != 1 {
		t.Fatalf("lastResponseRevisionRef moved to %d", st.Grunnlag.ResponseRevision)
	}
}

func TestResponseUpdateKeepsOriginalReference(t *testing.T) {
	events := []domain.Event{
		ev(1, "2024-01-01T10:00:00Z", domain.GrunnlagOpprettet, domain.EventData{Kategori: "endring"}),
		ev(2, "2024-01-02T10:00:00Z", domain.GrunnlagOppdatert, domain.EventData{Kategori: "endring"}),
		ev(3, "2024-01-03T10:00:00Z", domain.ResponsGrunnlag, domain.EventData{Resultat: domain.ResultatAvvist}),
		ev(4, "2024-01-04T10:00:00Z", domain.GrunnlagOppdatert, domain.EventData{Kategori: "endring"}),
		ev(5, "2024-01-05T10:00:00Z", domain.ResponsGrunnlagOppdatert, domain.EventData{Resultat: domain.ResultatGodkjent}),
	}
	st := mustProject(t, events)
	if !st.Grunnlag.ResponseRevised {
		t.Fatalf("responseRevised should be true")
	}
	if st.Grunnlag.Status != domain.StatusApproved {
		t.Fatalf("status = %s, want approved", st.Grunnlag.Status)
	}

	anns := projection.Annotate(events)
	if got := anns[3].AnswersRevision; got != 1 {
		t.Fatalf("original response answers revision %d, want 1", got)
	}
	// The update revises the original answer, so it reports the original's
	// revision reference even though two claim updates precede it.
	if got := anns[5].AnswersRevision; got != 1 {
		t.Fatalf("response update answers revision %d, want 1", got)
	}
	if !anns[5].IsUpdate || !anns[5].IsResponse {
		t.Fatalf("annotation flags wrong: %+v", anns[5])
	}
	if anns[4].Revision != 2 {
		t.Fatalf("second claim update revision = %d, want 2", anns[4].Revision)
	}
}

func TestPreclusionSubsidiaryGoverns(t *testing.T) {
	sub := int64(50000)
	events := []domain.Event{
		ev(1, "2024-01-01T10:00:00Z", domain.GrunnlagOpprettet, domain.EventData{Kategori: "endring"}),
		ev(2, "2024-01-02T10:00:00Z", domain.ResponsGrunnlag, domain.EventData{Resultat: domain.ResultatGodkjent}),
		ev(3, "2024-01-03T10:00:00Z", domain.VederlagKravSendt, domain.EventData{Metode: "regningsarbeid", Beloep: 120000}),
		ev(4, "2024-01-04T10:00:00Z", domain.ResponsVederlag, domain.EventData{
			Resultat:           domain.ResultatAvvist,
			Triggere:           []domain.SubsidiaerTrigger{domain.TriggerPreklusjonRigg},
			SubsidiaerResultat: &domain.Outcome{Beloep: sub},
		}),
	}
	st := mustProject(t, events)
	if st.Vederlag.Status != domain.StatusRejected {
		t.Fatalf("principal status = %s, want rejected", st.Vederlag.Status)
	}
	if st.Vederlag.Governs != domain.GovernsSubsidiary {
		t.Fatalf("governs = %s, want subsidiary", st.Vederlag.Governs)
	}
	if st.Vederlag.Subsidiary == nil || st.Vederlag.Subsidiary.Beloep != sub {
		t.Fatalf("subsidiaryOutcome = %+v, want beloep %d", st.Vederlag.Subsidiary, sub)
	}
	if st.TotalApproved != sub {
		t.Fatalf("totalApproved = %d, want %d", st.TotalApproved, sub)
	}
}

func TestGrunnlagRejectionVoidsOtherTracks(t *testing.T) {
	events := []domain.Event{
		ev(1, "2024-01-01T10:00:00Z", domain.GrunnlagOpprettet, domain.EventData{Kategori: "endring"}),
		ev(2, "2024-01-02T10:00:00Z", domain.VederlagKravSendt, domain.EventData{Metode: "enhetspriser", Beloep: 80000}),
		ev(3, "2024-01-03T10:00:00Z", domain.ResponsVederlag, domain.EventData{
			Resultat:           domain.ResultatGodkjent,
			SubsidiaerResultat: &domain.Outcome{Beloep: 80000},
		}),
		ev(4, "2024-01-04T10:00:00Z", domain.ResponsGrunnlag, domain.EventData{Resultat: domain.ResultatAvvist}),
	}
	st := mustProject(t, events)
	if st.Vederlag.Governs != domain.GovernsSubsidiary {
		t.Fatalf("governs = %s, want subsidiary after grunnlag rejection", st.Vederlag.Governs)
	}
	if len(st.Vederlag.Triggere) == 0 || st.Vederlag.Triggere[0] != domain.TriggerGrunnlagAvvist {
		t.Fatalf("triggere = %v, want grunnlag_avvist first", st.Vederlag.Triggere)
	}

	// Reversal: approving grunnlag later puts the principal back in force.
	events = append(events, ev(5, "2024-01-05T10:00:00Z", domain.ResponsGrunnlagOppdatert, domain.EventData{Resultat: domain.ResultatGodkjent}))
	st = mustProject(t, events)
	if st.Vederlag.Governs != domain.GovernsPrincipal {
		t.Fatalf("governs = %s, want principal after reversal", st.Vederlag.Governs)
	}
	if st.Vederlag.Subsidiary != nil {
		t.Fatalf("subsidiaryOutcome should be cleared after reversal")
	}
	if st.TotalApproved != 80000 {
		t.Fatalf("totalApproved = %d, want 80000", st.TotalApproved)
	}
}

func TestPreclusionSurvivesGrunnlagReversal(t *testing.T) {
	events := []domain.Event{
		ev(1, "2024-01-01T10:00:00Z", domain.GrunnlagOpprettet, domain.EventData{Kategori: "endring"}),
		ev(2, "2024-01-02T10:00:00Z", domain.ResponsGrunnlag, domain.EventData{Resultat: domain.ResultatAvvist}),
		ev(3, "2024-01-03T10:00:00Z", domain.FristKravSendt, domain.EventData{Dager: 14}),
		ev(4, "2024-01-04T10:00:00Z", domain.ResponsFrist, domain.EventData{
			Resultat:           domain.ResultatAvvist,
			Triggere:           []domain.SubsidiaerTrigger{domain.TriggerIngenHindring},
			SubsidiaerResultat: &domain.Outcome{Dager: 4},
		}),
		ev(5, "2024-01-05T10:00:00Z", domain.ResponsGrunnlagOppdatert, domain.EventData{Resultat: domain.ResultatGodkjent}),
	}
	st := mustProject(t, events)
	// The track's own trigger keeps the subsidiary in force even though
	// grunnlag_avvist no longer applies.
	if st.Frist.Governs != domain.GovernsSubsidiary {
		t.Fatalf("governs = %s, want subsidiary", st.Frist.Governs)
	}
	for _, tr := range st.Frist.Triggere {
		if tr == domain.TriggerGrunnlagAvvist {
			t.Fatalf("derived grunnlag_avvist should be gone after reversal: %v", st.Frist.Triggere)
		}
	}
}

func TestAwaitingSubsidiaryBlocks(t *testing.T) {
	events := []domain.Event{
		ev(1, "2024-01-01T10:00:00Z", domain.GrunnlagOpprettet, domain.EventData{Kategori: "endring"}),
		ev(2, "2024-01-02T10:00:00Z", domain.ResponsGrunnlag, domain.EventData{Resultat: domain.ResultatGodkjent}),
		ev(3, "2024-01-03T10:00:00Z", domain.VederlagKravSendt, domain.EventData{Metode: "regningsarbeid", Beloep: 60000}),
		ev(4, "2024-01-04T10:00:00Z", domain.ResponsVederlag, domain.EventData{
			Resultat: domain.ResultatAvvist,
			Triggere: []domain.SubsidiaerTrigger{domain.TriggerMetodeAvvist},
		}),
	}
	st := mustProject(t, events)
	if st.Vederlag.Governs != domain.GovernsAwaiting {
		t.Fatalf("governs = %s, want awaiting_subsidiary", st.Vederlag.Governs)
	}
	if st.OverallStatus != domain.OverallUnderNegotiation {
		t.Fatalf("overallStatus = %s, want under_negotiation", st.OverallStatus)
	}
	if st.CanIssueChangeOrder {
		t.Fatalf("change order must wait for the subsidiary outcome")
	}
}

func TestSubsidiaryOnlyResolutionBlocksChangeOrder(t *testing.T) {
	events := []domain.Event{
		ev(1, "2024-01-01T10:00:00Z", domain.GrunnlagOpprettet, domain.EventData{Kategori: "endring"}),
		ev(2, "2024-01-02T10:00:00Z", domain.VederlagKravSendt, domain.EventData{Metode: "enhetspriser", Beloep: 90000}),
		ev(3, "2024-01-03T10:00:00Z", domain.FristKravSendt, domain.EventData{Dager: 10}),
		ev(4, "2024-01-04T10:00:00Z", domain.ResponsGrunnlag, domain.EventData{Resultat: domain.ResultatAvvist}),
		ev(5, "2024-01-05T10:00:00Z", domain.ResponsVederlag, domain.EventData{
			Resultat:           domain.ResultatAvvist,
			SubsidiaerResultat: &domain.Outcome{Beloep: 90000},
		}),
		ev(6, "2024-01-06T10:00:00Z", domain.ResponsFrist, domain.EventData{
			Resultat:           domain.ResultatAvvist,
			SubsidiaerResultat: &domain.Outcome{Dager: 10},
		}),
	}
	st := mustProject(t, events)
	if st.Vederlag.Governs != domain.GovernsSubsidiary || st.Frist.Governs != domain.GovernsSubsidiary {
		t.Fatalf("both tracks should be subsidiary-governed: %s / %s", st.Vederlag.Governs, st.Frist.Governs)
	}
	if st.CanIssueChangeOrder {
		t.Fatalf("canIssueChangeOrder must be false when grunnlag is rejected")
	}
	if st.OverallStatus != domain.OverallClosed {
		t.Fatalf("overallStatus = %s, want closed", st.OverallStatus)
	}
}

func TestCanIssueChangeOrderWithUnclaimedFrist(t *testing.T) {
	events := []domain.Event{
		ev(1, "2024-01-01T10:00:00Z", domain.GrunnlagOpprettet, domain.EventData{Kategori: "endring"}),
		ev(2, "2024-01-02T10:00:00Z", domain.ResponsGrunnlag, domain.EventData{Resultat: domain.ResultatGodkjent}),
		ev(3, "2024-01-03T10:00:00Z", domain.VederlagKravSendt, domain.EventData{Metode: "regningsarbeid", Beloep: 50000}),
		ev(4, "2024-01-04T10:00:00Z", domain.ResponsVederlag, domain.EventData{Resultat: domain.ResultatDelvisGodkjent, GodkjentBeloep: ptr64(30000)}),
	}
	st := mustProject(t, events)
	if !st.CanIssueChangeOrder {
		t.Fatalf("change order should be allowed with frist never claimed")
	}
	if st.TotalApproved != 30000 {
		t.Fatalf("totalApproved = %d, want 30000", st.TotalApproved)
	}
}

func TestWithdrawnClaimDropsFromTotals(t *testing.T) {
	events := []domain.Event{
		ev(1, "2024-01-01T10:00:00Z", domain.GrunnlagOpprettet, domain.EventData{Kategori: "endring"}),
		ev(2, "2024-01-02T10:00:00Z", domain.VederlagKravSendt, domain.EventData{Metode: "regningsarbeid", Beloep: 70000}),
		ev(3, "2024-01-03T10:00:00Z", domain.VederlagKravTrukket, domain.EventData{Begrunnelse: "forlik"}),
	}
	st := mustProject(t, events)
	if st.Vederlag.Status != domain.StatusWithdrawn {
		t.Fatalf("status = %s, want withdrawn", st.Vederlag.Status)
	}
	if st.TotalClaimed != 0 {
		t.Fatalf("totalClaimed = %d, want 0", st.TotalClaimed)
	}
}

func TestChangeOrderLocksEverything(t *testing.T) {
	events := []domain.Event{
		ev(1, "2024-01-01T10:00:00Z", domain.GrunnlagOpprettet, domain.EventData{Kategori: "endring"}),
		ev(2, "2024-01-02T10:00:00Z", domain.ResponsGrunnlag, domain.EventData{Resultat: domain.ResultatGodkjent}),
		ev(3, "2024-01-03T10:00:00Z", domain.VederlagKravSendt, domain.EventData{Metode: "regningsarbeid", Beloep: 50000}),
		ev(4, "2024-01-04T10:00:00Z", domain.ResponsVederlag, domain.EventData{Resultat: domain.ResultatGodkjent}),
		ev(5, "2024-01-05T10:00:00Z", domain.EOUtstedt, domain.EventData{EONummer: "EO-7"}),
	}
	st := mustProject(t, events)
	if st.OverallStatus != domain.OverallClosed {
		t.Fatalf("overallStatus = %s, want closed", st.OverallStatus)
	}
	for _, track := range []domain.TrackState{st.Grunnlag, st.Vederlag, st.Frist} {
		if track.Status != domain.StatusLocked {
			t.Fatalf("%s status = %s, want locked", track.Track, track.Status)
		}
	}
	if st.CanIssueChangeOrder {
		t.Fatalf("a closed case cannot issue another change order")
	}
}

func TestGrunnlagWithdrawnClosesCase(t *testing.T) {
	events := []domain.Event{
		ev(1, "2024-01-01T10:00:00Z", domain.GrunnlagOpprettet, domain.EventData{Kategori: "endring"}),
		ev(2, "2024-01-02T10:00:00Z", domain.GrunnlagTrukket, domain.EventData{Begrunnelse: "feil"}),
	}
	st := mustProject(t, events)
	if st.OverallStatus != domain.OverallClosedWithdrawn {
		t.Fatalf("overallStatus = %s, want closed_withdrawn", st.OverallStatus)
	}
}

func ptr64(v int64) *int64 { return &v }
