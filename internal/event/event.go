package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RawEvent is the wire shape of an event as submitted by a client. Most
// fields are optional; Resolve fills the gaps.
type RawEvent struct {
	ID       string          `json:"id,omitempty"`
	ThreadID string          `json:"thread_id,omitempty"`
	Topic    string          `json:"topic_wa,omitempty"`
	Type     string          `json:"type"`
	Kind     string          `json:"kind,omitempty"`
	TS       int64           `json:"ts,omitempty"`
	Size     *int64          `json:"size,omitempty"`
	SHA256   string          `json:"sha256,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Event is a fully resolved, validated event ready for the ingestion
// pipeline. Immutable once stored; only retention deletes it.
type Event struct {
	ID       string
	KG       KG
	Owner    string
	ThreadID string
	Topic    string // canonical, "" when absent
	Type     Type
	Kind     string
	TS       int64
	Size     *int64
	SHA256   string
	Payload  Payload
	// PayloadJSON is the normalized payload body as stored in the log.
	PayloadJSON []byte
}

// Resolve validates and completes a raw event: namespace resolution, id
// assignment, payload decoding, and visit URL normalization. referer is the
// request Referer/Origin for resolving relative visit hrefs.
func Resolve(kg KG, owner string, raw RawEvent, referer string) (*Event, error) {
	ns, err := ResolveNamespace(string(kg), owner, raw.ThreadID, raw.Topic)
	if err != nil {
		return nil, err
	}

	t := Type(raw.Type)
	payload, err := DecodePayload(t, raw.Payload)
	if err != nil {
		return nil, err
	}

	if vp, ok := payload.(*VisitPayload); ok {
		NormalizeVisit(vp, referer)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Validation("bad_payload", string(t))
	}

	id := raw.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := raw.TS
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	return &Event{
		ID:          id,
		KG:          ns.KG,
		Owner:       ns.Owner,
		ThreadID:    ns.ThreadID,
		Topic:       ns.Topic,
		Type:        t,
		Kind:        raw.Kind,
		TS:          ts,
		Size:        raw.Size,
		SHA256:      raw.SHA256,
		Payload:     payload,
		PayloadJSON: body,
	}, nil
}
