package eventsub

import (
	"cmp"
	"slices"

	v1 "github.com/DJDavid98/DoubleColonBot/shared/contracts/eventsub/v1"
)

// Subscription is one tracked (type, subject) pair. ExternalID is the id
// the platform assigned for the current session; it is empty until the
// create call succeeds and is cleared whenever the session is replaced.
type Subscription struct {
	Type       string `json:"type"`
	SubjectID  string `json:"subject_id"`
	ExternalID string `json:"external_id,omitempty"`
}

// Registered reports whether the subscription is live on the current
// session.
func (s Subscription) Registered() bool { return s.ExternalID != "" }

type subKey struct {
	typ     string
	subject string
}

func (s Subscription) key() subKey { return subKey{typ: s.Type, subject: s.SubjectID} }

func supportedType(subType string) bool {
	switch subType {
	case v1.SubscriptionFollow, v1.SubscriptionBan:
		return true
	default:
		return false
	}
}

// snapshot is the read-only view published by the manager goroutine after
// every state change.
type snapshot struct {
	sessionID string
	subs      []Subscription
}

func newSnapshot(sessionID string, subs map[subKey]Subscription) *snapshot {
	out := make([]Subscription, 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Subscription) int {
		if c := cmp.Compare(a.Type, b.Type); c != 0 {
			return c
		}
		return cmp.Compare(a.SubjectID, b.SubjectID)
	})
	return &snapshot{sessionID: sessionID, subs: out}
}
