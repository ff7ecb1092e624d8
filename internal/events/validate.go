package events

import (
	"kravsak/internal/domain"
)

// ValidateData checks that an event payload carries the fields its type
// requires. Runs at the command boundary; a payload that fails here is
// never stored.
func ValidateData(t domain.EventType, d domain.EventData) error {
	switch t {
	case domain.GrunnlagOpprettet, domain.GrunnlagOppdatert:
		if d.Kategori == "" {
			return domain.MalformedPayloadError{Type: t, Field: "kategori"}
		}
	case domain.VederlagKravSendt, domain.VederlagKravOppdatert:
		if d.Metode == "" {
			return domain.MalformedPayloadError{Type: t, Field: "metode"}
		}
		if d.Beloep <= 0 {
			return domain.MalformedPayloadError{Type: t, Field: "beloep"}
		}
	case domain.FristKravSendt, domain.FristKravOppdatert:
		if d.Dager <= 0 {
			return domain.MalformedPayloadError{Type: t, Field: "dager"}
		}
	case domain.GrunnlagTrukket, domain.VederlagKravTrukket, domain.FristKravTrukket:
		// No required fields; a reason is optional.
	case domain.ResponsGrunnlag, domain.ResponsGrunnlagOppdatert:
		if err := validateResultat(t, d.Resultat, true); err != nil {
			return err
		}
		if len(d.Triggere) > 0 {
			return domain.MalformedPayloadError{Type: t, Field: "triggere (grunnlag cannot be subsidiary)"}
		}
	case domain.ResponsVederlag, domain.ResponsVederlagOppdatert:
		if err := validateResultat(t, d.Resultat, false); err != nil {
			return err
		}
		if err := validateTriggere(t, domain.TrackVederlag, d); err != nil {
			return err
		}
	case domain.ResponsFrist, domain.ResponsFristOppdatert:
		if err := validateResultat(t, d.Resultat, false); err != nil {
			return err
		}
		if err := validateTriggere(t, domain.TrackFrist, d); err != nil {
			return err
		}
	case domain.ForseringVarsel:
		if d.EstimertKostnad <= 0 {
			return domain.MalformedPayloadError{Type: t, Field: "estimert_kostnad"}
		}
		if d.DagmulktPerDag <= 0 {
			return domain.MalformedPayloadError{Type: t, Field: "dagmulkt_per_dag"}
		}
	case domain.EOUtstedt:
		if d.EONummer == "" {
			return domain.MalformedPayloadError{Type: t, Field: "eo_nummer"}
		}
	default:
		return domain.MalformedPayloadError{Type: t, Field: "type unknown"}
	}
	return nil
}

func validateResultat(t domain.EventType, r domain.ResponsResultat, grunnlag bool) error {
	if r == "" {
		return domain.MalformedPayloadError{Type: t, Field: "resultat"}
	}
	if _, ok := domain.StatusForResultat(r); !ok {
		return domain.MalformedPayloadError{Type: t, Field: "resultat"}
	}
	if r == domain.ResultatFrafalt && !grunnlag {
		return domain.MalformedPayloadError{Type: t, Field: "resultat (frafalt is grunnlag only)"}
	}
	return nil
}

func validateTriggere(t domain.EventType, track domain.Track, d domain.EventData) error {
	for _, tr := range d.Triggere {
		if tr == domain.TriggerGrunnlagAvvist {
			// Derived cross-track by the resolver, never asserted directly.
			return domain.MalformedPayloadError{Type: t, Field: "triggere (grunnlag_avvist is derived)"}
		}
		if !domain.KnownTrigger(tr, track) {
			return domain.MalformedPayloadError{Type: t, Field: "triggere"}
		}
	}
	// A subsidiaer_resultat with no local trigger is legal: the claim may be
	// voided cross-track by a rejected grunnlag. The resolver decides.
	return nil
}
