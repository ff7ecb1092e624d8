package server

import (
	"kravsak/internal/domain"
	"kravsak/internal/engine"
)

// Request payloads

type CreateSakRequest struct {
	ID          *string `json:"id,omitempty"`
	Tittel      string  `json:"tittel"`
	KontraktRef *string `json:"kontrakt_ref,omitempty"`
	TENavn      *string `json:"te_navn,omitempty"`
	BHNavn      *string `json:"bh_navn,omitempty"`
}

// ClaimRequest covers both creating and revising a TE claim; the server
// picks based on whether the track already has a claim.
type ClaimRequest struct {
	ExpectedVersion int              `json:"expectedVersion"`
	Data            domain.EventData `json:"data"`
}

type WithdrawRequest struct {
	ExpectedVersion int    `json:"expectedVersion"`
	Begrunnelse     string `json:"begrunnelse,omitempty"`
}

type ResponseRequest struct {
	ExpectedVersion int              `json:"expectedVersion"`
	Data            domain.EventData `json:"data"`
}

type ForseringRequest struct {
	ExpectedVersion int   `json:"expectedVersion"`
	EstimertKostnad int64 `json:"estimert_kostnad"`
	DagmulktPerDag  int64 `json:"dagmulkt_per_dag,omitempty"`
}

type ChangeOrderRequest struct {
	ExpectedVersion int    `json:"expectedVersion"`
	EONummer        string `json:"eo_nummer"`
}

// Response payloads

type SakResponse struct {
	domain.Sak
}

type SakSummary struct {
	domain.Sak
	OverallStatus domain.OverallStatus `json:"overallStatus"`
	TotalClaimed  int64                `json:"totalClaimed"`
	TotalApproved int64                `json:"totalApproved"`
	EventCount    int                  `json:"eventCount"`
}

type EventFeedResponse struct {
	Items []engine.AnnotatedEvent `json:"items"`
}
