package projection

import (
	"kravsak/internal/domain"
)

// Annotation is the revision bookkeeping for one event, as displayed on a
// timeline: TE claim updates get a 1-indexed revision number, BH responses
// get the claim revision they answered.
type Annotation struct {
	Seq             int  `json:"seq"`
	Revision        int  `json:"revision,omitempty"`
	AnswersRevision int  `json:"answersRevision"`
	IsResponse      bool `json:"isResponse"`
	IsUpdate        bool `json:"isUpdate"`
}

// ClaimRevisionAt computes which claim revision the event ref relates to:
// the count of TE claim-update events on the track with timestamp at or
// before ref's, ties broken by sequence number. It re-scans the prefix
// instead of reading a running counter off the event, so a response that is
// itself revised later still resolves to the revision count at its own
// original time.
func ClaimRevisionAt(events []domain.Event, track domain.Track, ref domain.Event) int {
	n := 0
	for _, ev := range events {
		if !isClaimUpdate(ev.Type) || domain.TrackOf(ev.Type) != track {
			continue
		}
		if atOrBefore(ev, ref) {
			n++
		}
	}
	return n
}

// Annotate computes annotations for every event in the log, keyed by
// sequence number. Response updates reference the revision answered by the
// original response they revise, not the count at their own later time.
func Annotate(events []domain.Event) map[int]Annotation {
	ordered := Ordered(events)
	out := make(map[int]Annotation, len(ordered))
	revs := map[domain.Track]int{}
	for _, ev := range ordered {
		track := domain.TrackOf(ev.Type)
		ann := Annotation{Seq: ev.Seq}
		switch {
		case isClaimUpdate(ev.Type):
			revs[track]++
			ann.Revision = revs[track]
		case isResponse(ev.Type):
			ann.IsResponse = true
			ann.AnswersRevision = ClaimRevisionAt(ordered, track, ev)
		case isResponseUpdate(ev.Type):
			ann.IsResponse = true
			ann.IsUpdate = true
			if orig, ok := originalResponse(ordered, track, ev); ok {
				ann.AnswersRevision = ClaimRevisionAt(ordered, track, orig)
			}
		}
		out[ev.Seq] = ann
	}
	return out
}

// originalResponse finds the latest respons event for the track at or
// before ref in fold order.
func originalResponse(ordered []domain.Event, track domain.Track, ref domain.Event) (domain.Event, bool) {
	var found domain.Event
	ok := false
	for _, ev := range ordered {
		if isResponse(ev.Type) && domain.TrackOf(ev.Type) == track && atOrBefore(ev, ref) {
			found, ok = ev, true
		}
	}
	return found, ok
}

// atOrBefore orders a against b in the total (timestamp, seq) order.
func atOrBefore(a, b domain.Event) bool {
	ta, tb := parseTime(a.Time), parseTime(b.Time)
	if ta.Equal(tb) {
		return a.Seq <= b.Seq
	}
	return ta.Before(tb)
}

func isClaimUpdate(t domain.EventType) bool {
	switch t {
	case domain.GrunnlagOppdatert, domain.VederlagKravOppdatert, domain.FristKravOppdatert:
		return true
	}
	return false
}

func isResponse(t domain.EventType) bool {
	switch t {
	case domain.ResponsGrunnlag, domain.ResponsVederlag, domain.ResponsFrist:
		return true
	}
	return false
}

func isResponseUpdate(t domain.EventType) bool {
	switch t {
	case domain.ResponsGrunnlagOppdatert, domain.ResponsVederlagOppdatert, domain.ResponsFristOppdatert:
		return true
	}
	return false
}
