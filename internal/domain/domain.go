package domain

// Track identifies one of the three claim tracks of an NS 8407 change case.
// Case-level events (forsering, change order) carry an empty track.
type Track string

const (
	TrackGrunnlag Track = "grunnlag"
	TrackVederlag Track = "vederlag"
	TrackFrist    Track = "frist"
)

// Role is the actor role on an event: TE (totalentreprenør, contractor)
// raises claims, BH (byggherre, owner) responds.
type Role string

const (
	RoleTE Role = "TE"
	RoleBH Role = "BH"
)

// EventType is the closed enumeration of facts a case log may contain.
type EventType string

const (
	GrunnlagOpprettet        EventType = "grunnlag_opprettet"
	GrunnlagOppdatert        EventType = "grunnlag_oppdatert"
	GrunnlagTrukket          EventType = "grunnlag_trukket"
	VederlagKravSendt        EventType = "vederlag_krav_sendt"
	VederlagKravOppdatert    EventType = "vederlag_krav_oppdatert"
	VederlagKravTrukket      EventType = "vederlag_krav_trukket"
	FristKravSendt           EventType = "frist_krav_sendt"
	FristKravOppdatert       EventType = "frist_krav_oppdatert"
	FristKravTrukket         EventType = "frist_krav_trukket"
	ResponsGrunnlag          EventType = "respons_grunnlag"
	ResponsGrunnlagOppdatert EventType = "respons_grunnlag_oppdatert"
	ResponsVederlag          EventType = "respons_vederlag"
	ResponsVederlagOppdatert EventType = "respons_vederlag_oppdatert"
	ResponsFrist             EventType = "respons_frist"
	ResponsFristOppdatert    EventType = "respons_frist_oppdatert"
	ForseringVarsel          EventType = "forsering_varsel"
	EOUtstedt                EventType = "eo_utstedt"
)

// TrackOf returns the track an event type belongs to ("" for case-level).
func TrackOf(t EventType) Track {
	switch t {
	case GrunnlagOpprettet, GrunnlagOppdatert, GrunnlagTrukket, ResponsGrunnlag, ResponsGrunnlagOppdatert:
		return TrackGrunnlag
	case VederlagKravSendt, VederlagKravOppdatert, VederlagKravTrukket, ResponsVederlag, ResponsVederlagOppdatert:
		return TrackVederlag
	case FristKravSendt, FristKravOppdatert, FristKravTrukket, ResponsFrist, ResponsFristOppdatert:
		return TrackFrist
	}
	return ""
}

// KnownEventType reports whether t is part of the closed enumeration.
func KnownEventType(t EventType) bool {
	switch t {
	case GrunnlagOpprettet, GrunnlagOppdatert, GrunnlagTrukket,
		VederlagKravSendt, VederlagKravOppdatert, VederlagKravTrukket,
		FristKravSendt, FristKravOppdatert, FristKravTrukket,
		ResponsGrunnlag, ResponsGrunnlagOppdatert,
		ResponsVederlag, ResponsVederlagOppdatert,
		ResponsFrist, ResponsFristOppdatert,
		ForseringVarsel, EOUtstedt:
		return true
	}
	return false
}

// TrackStatus is the per-track state machine.
type TrackStatus string

const (
	StatusNotApplicable     TrackStatus = "not_applicable"
	StatusDraft             TrackStatus = "draft"
	StatusSent              TrackStatus = "sent"
	StatusUnderReview       TrackStatus = "under_review"
	StatusApproved          TrackStatus = "approved"
	StatusPartiallyApproved TrackStatus = "partially_approved"
	StatusRejected          TrackStatus = "rejected"
	StatusUnderNegotiation  TrackStatus = "under_negotiation"
	StatusWithdrawn         TrackStatus = "withdrawn"
	StatusLocked            TrackStatus = "locked"
)

// Terminal reports whether a track needs no further action.
func (s TrackStatus) Terminal() bool {
	switch s {
	case StatusNotApplicable, StatusApproved, StatusPartiallyApproved, StatusRejected, StatusWithdrawn, StatusLocked:
		return true
	}
	return false
}

// ResponsResultat is the BH response outcome carried in response payloads.
type ResponsResultat string

const (
	ResultatGodkjent              ResponsResultat = "godkjent"
	ResultatDelvisGodkjent        ResponsResultat = "delvis_godkjent"
	ResultatAvvist                ResponsResultat = "avvist"
	ResultatAvventerSpesifikasjon ResponsResultat = "avventer_spesifikasjon"
	ResultatFrafalt               ResponsResultat = "frafalt"
)

// StatusForResultat maps a response outcome to a track status. The mapping
// is identical for all three tracks; frafalt is only accepted on grunnlag.
func StatusForResultat(r ResponsResultat) (TrackStatus, bool) {
	switch r {
	case ResultatGodkjent:
		return StatusApproved, true
	case ResultatDelvisGodkjent:
		return StatusPartiallyApproved, true
	case ResultatAvvist:
		return StatusRejected, true
	case ResultatAvventerSpesifikasjon:
		return StatusUnderReview, true
	case ResultatFrafalt:
		return StatusWithdrawn, true
	}
	return "", false
}

// SubsidiaerTrigger names a reason the principal outcome of a vederlag or
// frist track is voided. grunnlag_avvist is derived across tracks; the rest
// are asserted in the track's own response events. ingen_hindring is a pure
// calculation outcome on frist and stays apart from both the liability
// rejection and the preclusion kinds.
type SubsidiaerTrigger string

const (
	TriggerGrunnlagAvvist          SubsidiaerTrigger = "grunnlag_avvist"
	TriggerPreklusjonRigg          SubsidiaerTrigger = "preklusjon_rigg"
	TriggerPreklusjonProduktivitet SubsidiaerTrigger = "preklusjon_produktivitet"
	TriggerPreklusjonEPJustering   SubsidiaerTrigger = "preklusjon_ep_justering"
	TriggerPreklusjonNoytralt      SubsidiaerTrigger = "preklusjon_noytralt"
	TriggerPreklusjonSpesifisert   SubsidiaerTrigger = "preklusjon_spesifisert"
	TriggerIngenHindring           SubsidiaerTrigger = "ingen_hindring"
	TriggerMetodeAvvist            SubsidiaerTrigger = "metode_avvist"
)

// KnownTrigger reports whether t may be asserted on the given track.
// Grunnlag can never be subsidiary; ingen_hindring applies to frist only.
func KnownTrigger(t SubsidiaerTrigger, track Track) bool {
	switch t {
	case TriggerPreklusjonRigg, TriggerPreklusjonProduktivitet, TriggerPreklusjonEPJustering,
		TriggerPreklusjonNoytralt, TriggerPreklusjonSpesifisert, TriggerMetodeAvvist:
		return track == TrackVederlag || track == TrackFrist
	case TriggerIngenHindring:
		return track == TrackFrist
	}
	return false
}

// Governs tells which outcome currently rules a track.
type Governs string

const (
	GovernsPrincipal  Governs = "principal"
	GovernsSubsidiary Governs = "subsidiary"
	GovernsAwaiting   Governs = "awaiting_subsidiary"
)

// OverallStatus is the case-level roll-up.
type OverallStatus string

const (
	OverallDraft            OverallStatus = "draft"
	OverallSent             OverallStatus = "sent"
	OverallUnderReview      OverallStatus = "under_review"
	OverallUnderNegotiation OverallStatus = "under_negotiation"
	OverallClosed           OverallStatus = "closed"
	OverallClosedWithdrawn  OverallStatus = "closed_withdrawn"
)

// EventData is the type-specific payload of an event. Which fields are
// required depends on the event type; events.ValidateData enforces that
// before anything is stored.
type EventData struct {
	// Claim fields (TE).
	Kategori    string `json:"kategori,omitempty"`
	Beskrivelse string `json:"beskrivelse,omitempty"`
	Metode      string `json:"metode,omitempty"`
	Beloep      int64  `json:"beloep,omitempty"`
	Dager       int    `json:"dager,omitempty"`

	// Response fields (BH).
	Resultat           ResponsResultat     `json:"resultat,omitempty" enum:"godkjent,delvis_godkjent,avvist,avventer_spesifikasjon,frafalt,"`
	Begrunnelse        string              `json:"begrunnelse,omitempty"`
	GodkjentBeloep     *int64              `json:"godkjent_beloep,omitempty"`
	GodkjentDager      *int                `json:"godkjent_dager,omitempty"`
	Triggere           []SubsidiaerTrigger `json:"triggere,omitempty"`
	SubsidiaerResultat *Outcome            `json:"subsidiaer_resultat,omitempty"`

	// Forsering fields.
	EstimertKostnad int64 `json:"estimert_kostnad,omitempty"`
	DagmulktPerDag  int64 `json:"dagmulkt_per_dag,omitempty"`

	// Change order fields.
	EONummer string `json:"eo_nummer,omitempty"`
}

// Event is one immutable log entry of a case.
type Event struct {
	ID    string    `json:"id"`
	SakID string    `json:"caseId"`
	Seq   int       `json:"seq"`
	Time  string    `json:"time" format:"date-time"`
	Actor string    `json:"actor"`
	Role  Role      `json:"actorRole" enum:"TE,BH"`
	Track Track     `json:"track,omitempty"`
	Type  EventType `json:"type"`
	Data  EventData `json:"data"`
}

// Outcome is the claimed or granted result of a track: a liability category
// on grunnlag, an amount (NOK) on vederlag, days on frist.
type Outcome struct {
	Kategori string `json:"kategori,omitempty"`
	Metode   string `json:"metode,omitempty"`
	Beloep   int64  `json:"beloep,omitempty"`
	Dager    int    `json:"dager,omitempty"`
}

// TrackState is the folded state of one track.
type TrackState struct {
	Track            Track               `json:"track"`
	Status           TrackStatus         `json:"status"`
	Principal        *Outcome            `json:"principalOutcome,omitempty"`
	Subsidiary       *Outcome            `json:"subsidiaryOutcome,omitempty"`
	Triggere         []SubsidiaerTrigger `json:"triggere,omitempty"`
	Governs          Governs             `json:"governs"`
	RevisionCount    int                 `json:"revisionCount"`
	ResponseRevision int                 `json:"lastResponseRevisionRef"`
	HasResponse      bool                `json:"hasResponse"`
	ResponseRevised  bool                `json:"responseRevised"`
	Resultat         ResponsResultat     `json:"resultat,omitempty"`
	GodkjentBeloep   int64               `json:"godkjentBeloep,omitempty"`
	GodkjentDager    int                 `json:"godkjentDager,omitempty"`

	// ResponseSubsidiary holds the subsidiary outcome as supplied by the
	// latest response; the resolver decides whether it is in force.
	ResponseSubsidiary *Outcome `json:"-"`
}

// SakState is the case-level projection, derived from the log on every read.
type SakState struct {
	SakID               string        `json:"caseId"`
	Grunnlag            TrackState    `json:"grunnlag"`
	Vederlag            TrackState    `json:"vederlag"`
	Frist               TrackState    `json:"frist"`
	OverallStatus       OverallStatus `json:"overallStatus"`
	CanIssueChangeOrder bool          `json:"canIssueChangeOrder"`
	TotalClaimed        int64         `json:"totalClaimed"`
	TotalApproved       int64         `json:"totalApproved"`
	ForseringVarslet    bool          `json:"forseringVarslet"`
	EOUtstedt           bool          `json:"eoUtstedt"`
	EventCount          int           `json:"eventCount"`
}

// Sak is the registry row for a case. State is never stored on it; it is
// always replayed from the log.
type Sak struct {
	ID          string `json:"id"`
	Tittel      string `json:"tittel"`
	KontraktRef string `json:"kontrakt_ref,omitempty"`
	TENavn      string `json:"te_navn,omitempty"`
	BHNavn      string `json:"bh_navn,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
