package engine

import (
	"github.com/wavetp/kgraph/internal/event"
	"github.com/wavetp/kgraph/internal/store"
)

// EntityUpsert is an explicit registry write from a caller (as opposed to
// the implicit enrichment the pipeline does on every event).
type EntityUpsert struct {
	Entity      string  `json:"entity"` // "topic" | "thread" | "container"
	Topic       string  `json:"topic_wa,omitempty"`
	ThreadID    string  `json:"thread_id,omitempty"`
	ContainerID string  `json:"container_id,omitempty"`
	Path        string  `json:"path,omitempty"`
	Label       *string `json:"label,omitempty"`
	Title       *string `json:"title,omitempty"`
	Kind        *string `json:"kind,omitempty"`
}

// UpsertEntity merge-upserts one registry row and returns the merged result.
// Existing non-null fields always win; a null incoming field never erases a
// known value.
func (e *Engine) UpsertEntity(kg event.KG, req EntityUpsert) (any, error) {
	switch req.Entity {
	case "topic":
		topic := event.CanonicalTopic(req.Topic)
		if topic == "" {
			return nil, event.Validation("bad_request", "topic_wa")
		}
		t := &store.Topic{KG: string(kg), Topic: topic, Label: req.Label}
		if err := e.DB.WithTx(func(tx *store.Tx) error {
			return tx.UpsertTopic(t)
		}); err != nil {
			return nil, err
		}
		return e.DB.GetTopic(string(kg), topic)

	case "thread":
		topic := event.CanonicalTopic(req.Topic)
		threadID := req.ThreadID
		if threadID == "" {
			if topic == "" {
				return nil, event.Validation("bad_request", "thread_id")
			}
			threadID = event.ThreadID(kg, topic)
		}
		th := &store.Thread{
			KG: string(kg), ThreadID: threadID,
			Topic: optional(topic), Title: req.Title,
		}
		if err := e.DB.WithTx(func(tx *store.Tx) error {
			return tx.UpsertThread(th)
		}); err != nil {
			return nil, err
		}
		return e.DB.GetThread(string(kg), threadID)

	case "container":
		if req.ContainerID == "" {
			return nil, event.Validation("bad_request", "container_id")
		}
		c := &store.ContainerRef{
			KG: string(kg), ContainerID: req.ContainerID, Path: req.Path,
			Kind: req.Kind, Title: req.Title,
		}
		if err := e.DB.WithTx(func(tx *store.Tx) error {
			return tx.UpsertContainerRef(c)
		}); err != nil {
			return nil, err
		}
		return e.DB.GetContainerRef(string(kg), req.ContainerID, req.Path)

	default:
		return nil, event.Validation("bad_entity", req.Entity)
	}
}

// ForgetRequest is a bounded deletion of visit history.
type ForgetRequest struct {
	KG     string `json:"kg"`
	Scope  string `json:"scope,omitempty"` // only "visits" is supported
	Host   string `json:"host,omitempty"`
	Topic  string `json:"topic_wa,omitempty"`
	FromMS *int64 `json:"from_ms,omitempty"`
	ToMS   *int64 `json:"to_ms,omitempty"`
}

// Forget deletes visit events matching the request. At least one filter
// beyond the namespace is required — a bare request is rejected rather than
// wiping a table.
func (e *Engine) Forget(req ForgetRequest) (int64, error) {
	if !event.ValidKG(req.KG) {
		return 0, event.Validation("bad_kg", "kg")
	}
	if req.Scope != "" && req.Scope != "visits" {
		return 0, event.Validation("bad_request", "scope")
	}
	if req.Host == "" && req.Topic == "" && req.FromMS == nil && req.ToMS == nil {
		return 0, event.Validation("too_broad", "")
	}

	return e.DB.ForgetVisits(store.ForgetFilter{
		KG:     string(event.NormalizeKG(req.KG)),
		Host:   req.Host,
		Topic:  event.CanonicalTopic(req.Topic),
		FromMS: req.FromMS,
		ToMS:   req.ToMS,
	})
}
