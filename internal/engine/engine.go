package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kravsak/internal/config"
	"kravsak/internal/domain"
	"kravsak/internal/events"
	"kravsak/internal/projection"
	"kravsak/internal/store"
)

// Engine is the only mutation surface over a case log. Every command is one
// synchronous transaction: read the current event count, validate against a
// freshly projected state, append exactly one event with an expected-version
// check, re-project, return. Nothing is ever retracted; corrections are
// additional events.
type Engine struct {
	DB     *sql.DB
	Store  store.Store
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Store:  store.Store{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// SakCreateOptions are parameters for registering a new case.
type SakCreateOptions struct {
	ID          string
	Tittel      string
	KontraktRef string
	TENavn      string
	BHNavn      string
}

func (e Engine) CreateSak(ctx context.Context, opts SakCreateOptions) (domain.Sak, error) {
	if opts.Tittel == "" {
		return domain.Sak{}, errors.New("tittel is required")
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	sak := domain.Sak{
		ID:          id,
		Tittel:      opts.Tittel,
		KontraktRef: opts.KontraktRef,
		TENavn:      opts.TENavn,
		BHNavn:      opts.BHNavn,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Store.InsertSak(ctx, sak); err != nil {
		return domain.Sak{}, fmt.Errorf("insert sak: %w", err)
	}
	return sak, nil
}

// State replays the case log into its current SakState.
func (e Engine) State(ctx context.Context, sakID string) (domain.SakState, error) {
	if _, err := e.Store.GetSak(ctx, sakID); err != nil {
		return domain.SakState{}, err
	}
	evs, err := e.Store.ListEvents(ctx, sakID)
	if err != nil {
		return domain.SakState{}, err
	}
	return projection.Project(sakID, evs)
}

// AnnotatedEvent is a log entry with its revision bookkeeping.
type AnnotatedEvent struct {
	Event      domain.Event          `json:"event"`
	Annotation projection.Annotation `json:"annotation"`
}

// Events returns the full ordered log with revision annotations, ready for
// timeline consumers that must not re-derive the numbering themselves.
func (e Engine) Events(ctx context.Context, sakID string) ([]AnnotatedEvent, error) {
	if _, err := e.Store.GetSak(ctx, sakID); err != nil {
		return nil, err
	}
	evs, err := e.Store.ListEvents(ctx, sakID)
	if err != nil {
		return nil, err
	}
	anns := projection.Annotate(evs)
	out := make([]AnnotatedEvent, 0, len(evs))
	for _, ev := range projection.Ordered(evs) {
		out = append(out, AnnotatedEvent{Event: ev, Annotation: anns[ev.Seq]})
	}
	return out, nil
}

// ClaimOptions are parameters for submitting or revising a TE claim.
type ClaimOptions struct {
	SakID           string
	Track           domain.Track
	Actor           string
	Data            domain.EventData
	ExpectedVersion int
}

// SubmitClaim opens a track with its first claim.
func (e Engine) SubmitClaim(ctx context.Context, opts ClaimOptions) (domain.SakState, error) {
	return e.command(ctx, opts.SakID, opts.ExpectedVersion, func(state domain.SakState) (domain.Event, error) {
		evType, ok := claimType(opts.Track)
		if !ok {
			return domain.Event{}, domain.InvalidTransitionError{Reason: fmt.Sprintf("unknown track %q", opts.Track)}
		}
		track := trackState(state, opts.Track)
		switch opts.Track {
		case domain.TrackGrunnlag:
			if track.Status != domain.StatusDraft {
				return domain.Event{}, domain.InvalidTransitionError{Track: opts.Track, Status: track.Status, Reason: "grunnlag claim already exists"}
			}
		default:
			if track.Status != domain.StatusNotApplicable {
				return domain.Event{}, domain.InvalidTransitionError{Track: opts.Track, Status: track.Status, Reason: "claim already exists"}
			}
			if state.Grunnlag.Status == domain.StatusDraft {
				return domain.Event{}, domain.InvalidTransitionError{Track: opts.Track, Status: track.Status, Reason: "grunnlag claim must be submitted first"}
			}
			if state.Grunnlag.Status == domain.StatusWithdrawn || state.Grunnlag.Status == domain.StatusLocked {
				return domain.Event{}, domain.InvalidTransitionError{Track: opts.Track, Status: track.Status, Reason: "case is closed"}
			}
		}
		if err := events.ValidateData(evType, opts.Data); err != nil {
			return domain.Event{}, err
		}
		return e.newEvent(opts.SakID, evType, domain.RoleTE, opts.Actor, opts.Data), nil
	})
}

// ReviseClaim appends a claim revision. Legal only while the claim is in
// play (sent, under review, or under negotiation).
func (e Engine) ReviseClaim(ctx context.Context, opts ClaimOptions) (domain.SakState, error) {
	return e.command(ctx, opts.SakID, opts.ExpectedVersion, func(state domain.SakState) (domain.Event, error) {
		evType, ok := reviseType(opts.Track)
		if !ok {
			return domain.Event{}, domain.InvalidTransitionError{Reason: fmt.Sprintf("unknown track %q", opts.Track)}
		}
		track := trackState(state, opts.Track)
		switch track.Status {
		case domain.StatusSent, domain.StatusUnderReview, domain.StatusUnderNegotiation:
		default:
			return domain.Event{}, domain.InvalidTransitionError{Track: opts.Track, Status: track.Status, Reason: "claim cannot be revised"}
		}
		if err := events.ValidateData(evType, opts.Data); err != nil {
			return domain.Event{}, err
		}
		return e.newEvent(opts.SakID, evType, domain.RoleTE, opts.Actor, opts.Data), nil
	})
}

// WithdrawOptions are parameters for withdrawing a claim.
type WithdrawOptions struct {
	SakID           string
	Track           domain.Track
	Actor           string
	Begrunnelse     string
	ExpectedVersion int
}

// WithdrawClaim appends the explicit withdrawal event for a track. The log
// keeps the claim's history; nothing is deleted.
func (e Engine) WithdrawClaim(ctx context.Context, opts WithdrawOptions) (domain.SakState, error) {
	return e.command(ctx, opts.SakID, opts.ExpectedVersion, func(state domain.SakState) (domain.Event, error) {
		evType, ok := withdrawType(opts.Track)
		if !ok {
			return domain.Event{}, domain.InvalidTransitionError{Reason: fmt.Sprintf("unknown track %q", opts.Track)}
		}
		track := trackState(state, opts.Track)
		switch track.Status {
		case domain.StatusNotApplicable, domain.StatusDraft:
			return domain.Event{}, domain.InvalidTransitionError{Track: opts.Track, Status: track.Status, Reason: "no claim to withdraw"}
		case domain.StatusWithdrawn:
			return domain.Event{}, domain.InvalidTransitionError{Track: opts.Track, Status: track.Status, Reason: "claim already withdrawn"}
		case domain.StatusLocked:
			return domain.Event{}, domain.InvalidTransitionError{Track: opts.Track, Status: track.Status, Reason: "case is closed"}
		}
		return e.newEvent(opts.SakID, evType, domain.RoleTE, opts.Actor, domain.EventData{Begrunnelse: opts.Begrunnelse}), nil
	})
}

// ResponseOptions are parameters for a BH response.
type ResponseOptions struct {
	SakID           string
	Track           domain.Track
	Actor           string
	Data            domain.EventData
	ExpectedVersion int
}

// SubmitResponse records the owner's first answer to a track's claim.
func (e Engine) SubmitResponse(ctx context.Context, opts ResponseOptions) (domain.SakState, error) {
	return e.command(ctx, opts.SakID, opts.ExpectedVersion, func(state domain.SakState) (domain.Event, error) {
		evType, ok := responseType(opts.Track)
		if !ok {
			return domain.Event{}, domain.InvalidTransitionError{Reason: fmt.Sprintf("unknown track %q", opts.Track)}
		}
		track := trackState(state, opts.Track)
		if err := respondableState(opts.Track, track); err != nil {
			return domain.Event{}, err
		}
		if track.HasResponse {
			return domain.Event{}, domain.InvalidTransitionError{Track: opts.Track, Status: track.Status, Reason: "response already exists; revise it instead"}
		}
		if err := events.ValidateData(evType, opts.Data); err != nil {
			return domain.Event{}, err
		}
		return e.newEvent(opts.SakID, evType, domain.RoleBH, opts.Actor, opts.Data), nil
	})
}

// ReviseResponse revises the owner's own earlier response. The claim
// revision the original answered stays on record.
func (e Engine) ReviseResponse(ctx context.Context, opts ResponseOptions) (domain.SakState, error) {
	return e.command(ctx, opts.SakID, opts.ExpectedVersion, func(state domain.SakState) (domain.Event, error) {
		evType, ok := responseUpdateType(opts.Track)
		if !ok {
			return domain.Event{}, domain.InvalidTransitionError{Reason: fmt.Sprintf("unknown track %q", opts.Track)}
		}
		track := trackState(state, opts.Track)
		if !track.HasResponse {
			return domain.Event{}, domain.InvalidTransitionError{Track: opts.Track, Status: track.Status, Reason: "no response to revise"}
		}
		if track.Status == domain.StatusWithdrawn || track.Status == domain.StatusLocked {
			return domain.Event{}, domain.InvalidTransitionError{Track: opts.Track, Status: track.Status, Reason: "track is closed"}
		}
		if err := events.ValidateData(evType, opts.Data); err != nil {
			return domain.Event{}, err
		}
		return e.newEvent(opts.SakID, evType, domain.RoleBH, opts.Actor, opts.Data), nil
	})
}

// ForseringOptions are parameters for an acceleration notice.
type ForseringOptions struct {
	SakID           string
	Actor           string
	EstimertKostnad int64
	DagmulktPerDag  int64
	ExpectedVersion int
}

// NotifyForsering records the contractor's acceleration notice after a
// rejected deadline-extension claim. The estimated cost must stay within
// the daymulkt value of the denied days plus the configured margin.
func (e Engine) NotifyForsering(ctx context.Context, opts ForseringOptions) (domain.SakState, error) {
	return e.command(ctx, opts.SakID, opts.ExpectedVersion, func(state domain.SakState) (domain.Event, error) {
		if state.ForseringVarslet {
			return domain.Event{}, domain.InvalidTransitionError{Reason: "forsering already notified"}
		}
		if state.Frist.Status != domain.StatusRejected {
			return domain.Event{}, domain.InvalidTransitionError{Track: domain.TrackFrist, Status: state.Frist.Status, Reason: "forsering requires a rejected frist claim"}
		}
		dagmulkt := opts.DagmulktPerDag
		if dagmulkt == 0 && e.Config != nil {
			dagmulkt = e.Config.Kontrakt.DagmulktPerDag
		}
		data := domain.EventData{EstimertKostnad: opts.EstimertKostnad, DagmulktPerDag: dagmulkt}
		if err := events.ValidateData(domain.ForseringVarsel, data); err != nil {
			return domain.Event{}, err
		}
		deniedDays := 0
		if state.Frist.Principal != nil {
			deniedDays = state.Frist.Principal.Dager - state.Frist.GodkjentDager
		}
		if deniedDays <= 0 {
			return domain.Event{}, domain.InvalidTransitionError{Track: domain.TrackFrist, Status: state.Frist.Status, Reason: "no denied days to accelerate"}
		}
		limit := dagmulkt * int64(deniedDays) * int64(100+e.paaslagProsent()) / 100
		if opts.EstimertKostnad > limit {
			return domain.Event{}, domain.InvalidTransitionError{Track: domain.TrackFrist, Status: state.Frist.Status,
				Reason: fmt.Sprintf("estimated forsering cost %d exceeds limit %d", opts.EstimertKostnad, limit)}
		}
		return e.newEvent(opts.SakID, domain.ForseringVarsel, domain.RoleTE, opts.Actor, data), nil
	})
}

func (e Engine) paaslagProsent() int {
	if e.Config != nil && e.Config.Forsering.PaaslagProsent > 0 {
		return e.Config.Forsering.PaaslagProsent
	}
	return 30
}

// ChangeOrderOptions are parameters for issuing the final change order.
type ChangeOrderOptions struct {
	SakID           string
	Actor           string
	EONummer        string
	ExpectedVersion int
}

// IssueChangeOrder closes the case with a change order. Only legal once the
// projection says a compatible terminal state has been reached on all
// tracks.
func (e Engine) IssueChangeOrder(ctx context.Context, opts ChangeOrderOptions) (domain.SakState, error) {
	return e.command(ctx, opts.SakID, opts.ExpectedVersion, func(state domain.SakState) (domain.Event, error) {
		if !state.CanIssueChangeOrder {
			return domain.Event{}, domain.InvalidTransitionError{Reason: "change order cannot be issued in the current state"}
		}
		data := domain.EventData{EONummer: opts.EONummer}
		if err := events.ValidateData(domain.EOUtstedt, data); err != nil {
			return domain.Event{}, err
		}
		return e.newEvent(opts.SakID, domain.EOUtstedt, domain.RoleBH, opts.Actor, data), nil
	})
}

// command runs the shared read-validate-append-reproject cycle. build sees
// the state projected from the log as it currently is; the append then
// either lands the single event or fails atomically.
func (e Engine) command(ctx context.Context, sakID string, expectedVersion int, build func(domain.SakState) (domain.Event, error)) (domain.SakState, error) {
	if _, err := e.Store.GetSak(ctx, sakID); err != nil {
		return domain.SakState{}, err
	}
	evs, err := e.Store.ListEvents(ctx, sakID)
	if err != nil {
		return domain.SakState{}, err
	}
	state, err := projection.Project(sakID, evs)
	if err != nil {
		return domain.SakState{}, err
	}
	if expectedVersion != state.EventCount {
		return domain.SakState{}, domain.VersionConflictError{SakID: sakID, Expected: expectedVersion, Actual: state.EventCount}
	}
	ev, err := build(state)
	if err != nil {
		return domain.SakState{}, err
	}
	appended, err := e.Store.Append(ctx, ev, expectedVersion)
	if err != nil {
		return domain.SakState{}, err
	}
	state, err = projection.Project(sakID, append(evs, appended))
	if err != nil {
		return domain.SakState{}, err
	}
	return state, nil
}

func (e Engine) newEvent(sakID string, t domain.EventType, role domain.Role, actor string, data domain.EventData) domain.Event {
	return domain.Event{
		ID:    uuid.New().String(),
		SakID: sakID,
		Time:  e.now().UTC().Format(time.RFC3339),
		Actor: actor,
		Role:  role,
		Track: domain.TrackOf(t),
		Type:  t,
		Data:  data,
	}
}

func respondableState(track domain.Track, st domain.TrackState) error {
	switch st.Status {
	case domain.StatusNotApplicable, domain.StatusDraft:
		return domain.InvalidTransitionError{Track: track, Status: st.Status, Reason: "no claim to respond to"}
	case domain.StatusWithdrawn:
		return domain.InvalidTransitionError{Track: track, Status: st.Status, Reason: "claim is withdrawn"}
	case domain.StatusLocked:
		return domain.InvalidTransitionError{Track: track, Status: st.Status, Reason: "case is closed"}
	}
	return nil
}

func trackState(s domain.SakState, track domain.Track) domain.TrackState {
	switch track {
	case domain.TrackGrunnlag:
		return s.Grunnlag
	case domain.TrackVederlag:
		return s.Vederlag
	case domain.TrackFrist:
		return s.Frist
	}
	return domain.TrackState{}
}

func claimType(track domain.Track) (domain.EventType, bool) {
	switch track {
	case domain.TrackGrunnlag:
		return domain.GrunnlagOpprettet, true
	case domain.TrackVederlag:
		return domain.VederlagKravSendt, true
	case domain.TrackFrist:
		return domain.FristKravSendt, true
	}
	return "", false
}

func reviseType(track domain.Track) (domain.EventType, bool) {
	switch track {
	case domain.TrackGrunnlag:
		return domain.GrunnlagOppdatert, true
	case domain.TrackVederlag:
		return domain.VederlagKravOppdatert, true
	case domain.TrackFrist:
		return domain.FristKravOppdatert, true
	}
	return "", false
}

func withdrawType(track domain.Track) (domain.EventType, bool) {
	switch track {
	case domain.TrackGrunnlag:
		return domain.GrunnlagTrukket, true
	case domain.TrackVederlag:
		return domain.VederlagKravTrukket, true
	case domain.TrackFrist:
		return domain.FristKravTrukket, true
	}
	return "", false
}

func responseType(track domain.Track) (domain.EventType, bool) {
	switch track {
	case domain.TrackGrunnlag:
		return domain.ResponsGrunnlag, true
	case domain.TrackVederlag:
		return domain.ResponsVederlag, true
	case domain.TrackFrist:
		return domain.ResponsFrist, true
	}
	return "", false
}

func responseUpdateType(track domain.Track) (domain.EventType, bool) {
	switch track {
	case domain.TrackGrunnlag:
		return domain.ResponsGrunnlagOppdatert, true
	case domain.TrackVederlag:
		return domain.ResponsVederlagOppdatert, true
	case domain.TrackFrist:
		return domain.ResponsFristOppdatert, true
	}
	return "", false
}
