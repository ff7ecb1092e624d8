package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"kravsak/internal/config"
	"kravsak/internal/db"
	"kravsak/internal/domain"
	"kravsak/internal/engine"
	"kravsak/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	SakID  string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	eng.Now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Minute)
	}
	ctx := context.Background()
	sak, err := eng.CreateSak(ctx, engine.SakCreateOptions{Tittel: "Omlegging VVS", KontraktRef: "K-42"})
	if err != nil {
		t.Fatalf("create sak: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, SakID: sak.ID}
}

func (env testEnv) version(t *testing.T) int {
	t.Helper()
	v, err := env.Engine.Store.CountEvents(env.Ctx, env.SakID)
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	return v
}

func (env testEnv) claim(t *testing.T, track domain.Track, data domain.EventData) domain.SakState {
	t.Helper()
	st, err := env.Engine.SubmitClaim(env.Ctx, engine.ClaimOptions{
		SakID: env.SakID, Track: track, Actor: "te-1", Data: data, ExpectedVersion: env.version(t),
	})
	if err != nil {
		t.Fatalf("submit %s claim: %v", track, err)
	}
	return st
}

func (env testEnv) respond(t *testing.T, track domain.Track, data domain.EventData) domain.SakState {
	t.Helper()
	st, err := env.Engine.SubmitResponse(env.Ctx, engine.ResponseOptions{
		SakID: env.SakID, Track: track, Actor: "bh-1", Data: data, ExpectedVersion: env.version(t),
	})
	if err != nil {
		t.Fatalf("respond %s: %v", track, err)
	}
	return st
}

func TestSubmitClaimLifecycle(t *testing.T) {
	env := newTestEnv(t)
	st := env.claim(t, domain.TrackGrunnlag, domain.EventData{Kategori: "endring"})
	if st.Grunnlag.Status != domain.StatusSent {
		t.Fatalf("status = %s, want sent", st.Grunnlag.Status)
	}
	if st.Grunnlag.RevisionCount != 0 || st.EventCount != 1 {
		t.Fatalf("revisionCount=%d eventCount=%d", st.Grunnlag.RevisionCount, st.EventCount)
	}

	// A second grunnlag claim is a revision, not a new claim.
	_, err := env.Engine.SubmitClaim(env.Ctx, engine.ClaimOptions{
		SakID: env.SakID, Track: domain.TrackGrunnlag, Actor: "te-1",
		Data: domain.EventData{Kategori: "endring"}, ExpectedVersion: 1,
	})
	var invalid domain.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("want InvalidTransitionError, got %v", err)
	}

	st, err = env.Engine.ReviseClaim(env.Ctx, engine.ClaimOptions{
		SakID: env.SakID, Track: domain.TrackGrunnlag, Actor: "te-1",
		Data: domain.EventData{Kategori: "svikt"}, ExpectedVersion: 1,
	})
	if err != nil {
		t.Fatalf("revise: %v", err)
	}
	if st.Grunnlag.RevisionCount != 1 {
		t.Fatalf("revisionCount = %d, want 1", st.Grunnlag.RevisionCount)
	}

	st = env.respond(t, domain.TrackGrunnlag, domain.EventData{Resultat: domain.ResultatGodkjent})
	if st.Grunnlag.Status != domain.StatusApproved {
		t.Fatalf("status = %s, want approved", st.Grunnlag.Status)
	}
	if st.Grunnlag.ResponseRevision != 1 {
		t.Fatalf("lastResponseRevisionRef = %d, want 1", st.Grunnlag.ResponseRevision)
	}
}

func TestVederlagRequiresGrunnlag(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.SubmitClaim(env.Ctx, engine.ClaimOptions{
		SakID: env.SakID, Track: domain.TrackVederlag, Actor: "te-1",
		Data: domain.EventData{Metode: "regningsarbeid", Beloep: 10000}, ExpectedVersion: 0,
	})
	var invalid domain.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("want InvalidTransitionError, got %v", err)
	}
}

func TestMalformedPayloadRejectedBeforeAppend(t *testing.T) {
	env := newTestEnv(t)
	env.claim(t, domain.TrackGrunnlag, domain.EventData{Kategori: "endring"})
	_, err := env.Engine.SubmitClaim(env.Ctx, engine.ClaimOptions{
		SakID: env.SakID, Track: domain.TrackVederlag, Actor: "te-1",
		Data: domain.EventData{Beloep: 10000}, ExpectedVersion: env.version(t),
	})
	var malformed domain.MalformedPayloadError
	if !errors.As(err, &malformed) {
		t.Fatalf("want MalformedPayloadError, got %v", err)
	}
	if got := env.version(t); got != 1 {
		t.Fatalf("rejected command appended an event: count %d", got)
	}
}

func TestVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	env.claim(t, domain.TrackGrunnlag, domain.EventData{Kategori: "endring"})

	// Two commands racing against the same observed version: the second
	// must fail, not merge.
	_, err := env.Engine.SubmitResponse(env.Ctx, engine.ResponseOptions{
		SakID: env.SakID, Track: domain.TrackGrunnlag, Actor: "bh-1",
		Data: domain.EventData{Resultat: domain.ResultatGodkjent}, ExpectedVersion: 1,
	})
	if err != nil {
		t.Fatalf("first command: %v", err)
	}
	_, err = env.Engine.ReviseClaim(env.Ctx, engine.ClaimOptions{
		SakID: env.SakID, Track: domain.TrackGrunnlag, Actor: "te-1",
		Data: domain.EventData{Kategori: "endring"}, ExpectedVersion: 1,
	})
	var conflict domain.VersionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("want VersionConflictError, got %v", err)
	}
	if conflict.Expected != 1 || conflict.Actual != 2 {
		t.Fatalf("conflict = %+v", conflict)
	}
}

func TestResponseRequiresClaim(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.SubmitResponse(env.Ctx, engine.ResponseOptions{
		SakID: env.SakID, Track: domain.TrackGrunnlag, Actor: "bh-1",
		Data: domain.EventData{Resultat: domain.ResultatGodkjent}, ExpectedVersion: 0,
	})
	var invalid domain.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("want InvalidTransitionError, got %v", err)
	}
}

func TestSubsidiaryResponseFlow(t *testing.T) {
	env := newTestEnv(t)
	env.claim(t, domain.TrackGrunnlag, domain.EventData{Kategori: "endring"})
	env.respond(t, domain.TrackGrunnlag, domain.EventData{Resultat: domain.ResultatGodkjent})
	env.claim(t, domain.TrackVederlag, domain.EventData{Metode: "regningsarbeid", Beloep: 120000})
	st := env.respond(t, domain.TrackVederlag, domain.EventData{
		Resultat:           domain.ResultatAvvist,
		Triggere:           []domain.SubsidiaerTrigger{domain.TriggerPreklusjonRigg},
		SubsidiaerResultat: &domain.Outcome{Beloep: 50000},
	})
	if st.Vederlag.Status != domain.StatusRejected {
		t.Fatalf("status = %s, want rejected", st.Vederlag.Status)
	}
	if st.Vederlag.Governs != domain.GovernsSubsidiary || st.Vederlag.Subsidiary == nil || st.Vederlag.Subsidiary.Beloep != 50000 {
		t.Fatalf("subsidiary not in force: %+v", st.Vederlag)
	}
	if st.TotalApproved != 50000 {
		t.Fatalf("totalApproved = %d, want 50000", st.TotalApproved)
	}
}

func TestForseringThreshold(t *testing.T) {
	env := newTestEnv(t)
	env.claim(t, domain.TrackGrunnlag, domain.EventData{Kategori: "endring"})
	env.claim(t, domain.TrackFrist, domain.EventData{Dager: 10})
	env.respond(t, domain.TrackFrist, domain.EventData{Resultat: domain.ResultatAvvist})

	// Default config: dagmulkt 15000/day, 30% margin. Ten denied days give
	// a 195000 ceiling.
	_, err := env.Engine.NotifyForsering(env.Ctx, engine.ForseringOptions{
		SakID: env.SakID, Actor: "te-1", EstimertKostnad: 200000, ExpectedVersion: env.version(t),
	})
	var invalid domain.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("cost above ceiling should fail, got %v", err)
	}

	st, err := env.Engine.NotifyForsering(env.Ctx, engine.ForseringOptions{
		SakID: env.SakID, Actor: "te-1", EstimertKostnad: 190000, ExpectedVersion: env.version(t),
	})
	if err != nil {
		t.Fatalf("forsering: %v", err)
	}
	if !st.ForseringVarslet {
		t.Fatalf("forseringVarslet not set")
	}

	_, err = env.Engine.NotifyForsering(env.Ctx, engine.ForseringOptions{
		SakID: env.SakID, Actor: "te-1", EstimertKostnad: 100000, ExpectedVersion: env.version(t),
	})
	if !errors.As(err, &invalid) {
		t.Fatalf("second notice should fail, got %v", err)
	}
}

func TestForseringRequiresRejectedFrist(t *testing.T) {
	env := newTestEnv(t)
	env.claim(t, domain.TrackGrunnlag, domain.EventData{Kategori: "endring"})
	_, err := env.Engine.NotifyForsering(env.Ctx, engine.ForseringOptions{
		SakID: env.SakID, Actor: "te-1", EstimertKostnad: 10000, ExpectedVersion: env.version(t),
	})
	var invalid domain.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("want InvalidTransitionError, got %v", err)
	}
}

func TestChangeOrderClosesCase(t *testing.T) {
	env := newTestEnv(t)
	env.claim(t, domain.TrackGrunnlag, domain.EventData{Kategori: "endring"})
	env.respond(t, domain.TrackGrunnlag, domain.EventData{Resultat: domain.ResultatGodkjent})
	env.claim(t, domain.TrackVederlag, domain.EventData{Metode: "enhetspriser", Beloep: 90000})
	st := env.respond(t, domain.TrackVederlag, domain.EventData{Resultat: domain.ResultatGodkjent})
	if !st.CanIssueChangeOrder {
		t.Fatalf("canIssueChangeOrder should be true: %+v", st)
	}

	st, err := env.Engine.IssueChangeOrder(env.Ctx, engine.ChangeOrderOptions{
		SakID: env.SakID, Actor: "bh-1", EONummer: "EO-12", ExpectedVersion: env.version(t),
	})
	if err != nil {
		t.Fatalf("issue change order: %v", err)
	}
	if st.OverallStatus != domain.OverallClosed || !st.EOUtstedt {
		t.Fatalf("case not closed: %+v", st)
	}

	// Every later command hits the locked tracks.
	_, err = env.Engine.ReviseClaim(env.Ctx, engine.ClaimOptions{
		SakID: env.SakID, Track: domain.TrackVederlag, Actor: "te-1",
		Data: domain.EventData{Metode: "enhetspriser", Beloep: 5}, ExpectedVersion: env.version(t),
	})
	var invalid domain.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("claim on closed case should fail, got %v", err)
	}
}

func TestChangeOrderRequiresApproval(t *testing.T) {
	env := newTestEnv(t)
	env.claim(t, domain.TrackGrunnlag, domain.EventData{Kategori: "endring"})
	env.respond(t, domain.TrackGrunnlag, domain.EventData{Resultat: domain.ResultatAvvist})
	_, err := env.Engine.IssueChangeOrder(env.Ctx, engine.ChangeOrderOptions{
		SakID: env.SakID, Actor: "bh-1", EONummer: "EO-1", ExpectedVersion: env.version(t),
	})
	var invalid domain.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("want InvalidTransitionError, got %v", err)
	}
}

func TestWithdrawGrunnlag(t *testing.T) {
	env := newTestEnv(t)
	env.claim(t, domain.TrackGrunnlag, domain.EventData{Kategori: "endring"})
	st, err := env.Engine.WithdrawClaim(env.Ctx, engine.WithdrawOptions{
		SakID: env.SakID, Track: domain.TrackGrunnlag, Actor: "te-1",
		Begrunnelse: "enighet utenfor saken", ExpectedVersion: env.version(t),
	})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if st.OverallStatus != domain.OverallClosedWithdrawn {
		t.Fatalf("overallStatus = %s, want closed_withdrawn", st.OverallStatus)
	}
	_, err = env.Engine.WithdrawClaim(env.Ctx, engine.WithdrawOptions{
		SakID: env.SakID, Track: domain.TrackGrunnlag, Actor: "te-1", ExpectedVersion: env.version(t),
	})
	var invalid domain.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("double withdraw should fail, got %v", err)
	}
}

func TestEventsAnnotated(t *testing.T) {
	env := newTestEnv(t)
	env.claim(t, domain.TrackGrunnlag, domain.EventData{Kategori: "endring"})
	if _, err := env.Engine.ReviseClaim(env.Ctx, engine.ClaimOptions{
		SakID: env.SakID, Track: domain.TrackGrunnlag, Actor: "te-1",
		Data: domain.EventData{Kategori: "endring"}, ExpectedVersion: 1,
	}); err != nil {
		t.Fatalf("revise: %v", err)
	}
	env.respond(t, domain.TrackGrunnlag, domain.EventData{Resultat: domain.ResultatGodkjent})

	items, err := env.Engine.Events(env.Ctx, env.SakID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d events, want 3", len(items))
	}
	if items[1].Annotation.Revision != 1 {
		t.Fatalf("update revision = %d, want 1", items[1].Annotation.Revision)
	}
	if !items[2].Annotation.IsResponse || items[2].Annotation.AnswersRevision != 1 {
		t.Fatalf("response annotation = %+v", items[2].Annotation)
	}
}
