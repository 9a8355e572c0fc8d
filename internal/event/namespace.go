package event

import "strings"

// KG is a tenant namespace. The graph is partitioned into exactly two.
type KG string

const (
	KGPersonal KG = "personal"
	KGWork     KG = "work"
)

// HubTopic is the fallback topic used when an event carries none, so that
// topic-less events still land in a deterministic thread.
const HubTopic = "ucs://local/ucs_hub"

// NormalizeKG coerces any input to a valid namespace. Unknown values map to
// "personal" rather than erroring; ingest producers predate strict
// validation. Read paths that want strictness use ValidKG instead.
func NormalizeKG(s string) KG {
	switch KG(strings.ToLower(strings.TrimSpace(s))) {
	case KGWork:
		return KGWork
	default:
		return KGPersonal
	}
}

// ValidKG reports whether s names a known namespace exactly.
func ValidKG(s string) bool {
	k := KG(strings.ToLower(strings.TrimSpace(s)))
	return k == KGPersonal || k == KGWork
}

// CanonicalTopic normalizes a topic to its single stored/compared form:
// trimmed, lowercased, trailing slashes stripped. "Example/" and "example"
// are the same topic.
func CanonicalTopic(s string) string {
	t := strings.ToLower(strings.TrimSpace(s))
	for strings.HasSuffix(t, "/") {
		t = strings.TrimSuffix(t, "/")
	}
	return t
}

// ThreadID derives the thread for a (kg, canonical topic) pair. Empty topic
// falls back to HubTopic. Pure function: two independent submissions about
// the same topic always land in the same thread without coordination.
func ThreadID(kg KG, topic string) string {
	if topic == "" {
		topic = HubTopic
	}
	return "kg:" + string(kg) + ":" + topic
}

// Namespace is a fully resolved tenant position for an event.
type Namespace struct {
	KG       KG
	Owner    string
	ThreadID string
	Topic    string // canonical form, "" when absent
}

// ResolveNamespace fills in a partial (kg, owner, thread_id, topic) tuple.
// A supplied thread_id is kept only if it is already namespaced for the
// resolved kg; otherwise it is recomputed from the topic. Empty owner is the
// one hard precondition.
func ResolveNamespace(kg, owner, threadID, topic string) (Namespace, error) {
	k := NormalizeKG(kg)
	o := strings.TrimSpace(owner)
	if o == "" {
		return Namespace{}, Validation("owner_required", "owner")
	}

	t := CanonicalTopic(topic)
	tid := threadID
	if !strings.HasPrefix(tid, "kg:"+string(k)+":") {
		tid = ThreadID(k, t)
	}

	return Namespace{KG: k, Owner: o, ThreadID: tid, Topic: t}, nil
}
