package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/wavetp/kgraph/internal/engine"
	"github.com/wavetp/kgraph/internal/event"
	"github.com/wavetp/kgraph/internal/store"
)

// eventJSON is the wire shape of a stored event.
type eventJSON struct {
	ID       string          `json:"id"`
	KG       string          `json:"kg"`
	Owner    string          `json:"owner_wa"`
	ThreadID string          `json:"thread_id"`
	Topic    string          `json:"topic_wa,omitempty"`
	Type     string          `json:"type"`
	Kind     string          `json:"kind,omitempty"`
	TS       int64           `json:"ts"`
	Size     *int64          `json:"size,omitempty"`
	SHA256   string          `json:"sha256,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

func toEventJSON(r store.EventRow) eventJSON {
	payload := json.RawMessage(r.Payload)
	if !json.Valid(payload) {
		payload = json.RawMessage("{}")
	}
	return eventJSON{
		ID: r.ID, KG: r.KG, Owner: r.Owner, ThreadID: r.ThreadID, Topic: r.Topic,
		Type: r.Type, Kind: r.Kind, TS: r.TS, Size: r.Size, SHA256: r.SHA256,
		Payload: payload,
	}
}

func clampLimit(raw string) int {
	limit := 200
	if raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 500 {
		limit = 500
	}
	return limit
}

func cursorParam(raw string) *store.Cursor {
	if c, ok := store.ParseCursor(raw); ok {
		return &c
	}
	return nil
}

func nextCursor(rows []store.EventRow) *string {
	if len(rows) == 0 {
		return nil
	}
	last := rows[len(rows)-1]
	s := store.Cursor{TS: last.TS, ID: last.ID}.String()
	return &s
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KG     string           `json:"kg"`
		Owner  string           `json:"owner"`
		Events []event.RawEvent `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request")
		return
	}
	if req.Owner == "" || len(req.Events) == 0 {
		writeErr(w, http.StatusBadRequest, "bad_request")
		return
	}

	referer := r.Header.Get("Referer")
	if referer == "" {
		referer = r.Header.Get("Origin")
	}

	res, err := s.engine.Apply(event.NormalizeKG(req.KG), req.Owner, req.Events, referer)
	if err != nil {
		fail(w, "kg/events", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"applied":       res.Applied,
		"last_event_id": res.LastEventID,
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	kg := event.NormalizeKG(r.URL.Query().Get("kg"))
	topic := event.CanonicalTopic(r.URL.Query().Get("topic_wa"))
	threadID := r.URL.Query().Get("thread_id")
	if threadID == "" && topic != "" {
		threadID = event.ThreadID(kg, topic)
	}

	rows, err := s.db.QueryEvents(store.EventQuery{
		KG:       string(kg),
		ThreadID: threadID,
		Topic:    topic,
		After:    cursorParam(r.URL.Query().Get("after")),
		Limit:    clampLimit(r.URL.Query().Get("limit")),
	})
	if err != nil {
		fail(w, "kg/query", err)
		return
	}

	items := make([]eventJSON, 0, len(rows))
	for _, row := range rows {
		items = append(items, toEventJSON(row))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"items":       items,
		"next_cursor": nextCursor(rows),
	})
}

// threadViewTypes are the event types a thread hydrate shows.
var threadViewTypes = []string{"message", "file", "call", "ptt_session"}

func (s *Server) handleViewThread(w http.ResponseWriter, r *http.Request) {
	kgRaw := r.URL.Query().Get("kg")
	if kgRaw == "" {
		kgRaw = "personal"
	}
	if !event.ValidKG(kgRaw) {
		writeErr(w, http.StatusBadRequest, "bad_kg")
		return
	}
	kg := event.NormalizeKG(kgRaw)

	topic := event.CanonicalTopic(r.URL.Query().Get("topic_wa"))
	threadID := r.URL.Query().Get("thread_id")
	if threadID == "" && topic != "" {
		threadID = event.ThreadID(kg, topic)
	}
	if threadID == "" {
		writeErr(w, http.StatusBadRequest, "bad_request")
		return
	}

	rows, err := s.db.QueryEvents(store.EventQuery{
		KG:       string(kg),
		ThreadID: threadID,
		Types:    threadViewTypes,
		After:    cursorParam(r.URL.Query().Get("after")),
		Limit:    clampLimit(r.URL.Query().Get("limit")),
	})
	if err != nil {
		fail(w, "kg/view/thread", err)
		return
	}

	items := make([]eventJSON, 0, len(rows))
	for _, row := range rows {
		items = append(items, toEventJSON(row))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"items":       items,
		"aggregates":  engine.AggregateThread(rows),
		"next_cursor": nextCursor(rows),
	})
}

func (s *Server) handleViewVisits(w http.ResponseWriter, r *http.Request) {
	kgRaw := r.URL.Query().Get("kg")
	if kgRaw == "" {
		kgRaw = "personal"
	}
	if !event.ValidKG(kgRaw) {
		writeErr(w, http.StatusBadRequest, "bad_kg")
		return
	}
	kg := event.NormalizeKG(kgRaw)

	topic := event.CanonicalTopic(r.URL.Query().Get("topic_wa"))
	threadID := r.URL.Query().Get("thread_id")
	if threadID == "" && topic != "" {
		threadID = event.ThreadID(kg, topic)
	}
	if threadID == "" && topic == "" {
		writeErr(w, http.StatusBadRequest, "bad_request")
		return
	}

	rows, err := s.db.QueryEvents(store.EventQuery{
		KG:       string(kg),
		ThreadID: threadID,
		Types:    []string{"visit"},
		Kinds:    []string{"page", "dwell"},
		After:    cursorParam(r.URL.Query().Get("after")),
		Limit:    clampLimit(r.URL.Query().Get("limit")),
	})
	if err != nil {
		fail(w, "kg/view/visits", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"items":       engine.VisitItems(rows),
		"next_cursor": nextCursor(rows),
	})
}

func (s *Server) handleViewMemory(w http.ResponseWriter, r *http.Request) {
	kg := event.NormalizeKG(r.URL.Query().Get("kg"))
	scope := r.URL.Query().Get("scope")
	switch scope {
	case "", "agent", "thread", "topic":
	case "all":
		scope = ""
	default:
		writeErr(w, http.StatusBadRequest, "bad_request")
		return
	}

	view, err := s.engine.Memory(string(kg), scope)
	if err != nil {
		fail(w, "kg/view/memory", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"habits":  view.Habits,
		"threads": view.Threads,
		"topics":  view.Topics,
	})
}

const searchLimitMax = 100

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeErr(w, http.StatusBadRequest, "bad_request")
		return
	}
	kg := event.NormalizeKG(r.URL.Query().Get("kg"))
	scope := engine.ParseSearchScope(r.URL.Query().Get("scope"))

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > searchLimitMax {
		limit = searchLimitMax
	}

	res, err := s.engine.Search(string(kg), q, scope, limit)
	if err != nil {
		fail(w, "kg/search", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"messages": res.Messages,
		"visits":   res.Visits,
		"files":    res.Files,
	})
}

func (s *Server) handleUpsertEntity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KG string `json:"kg"`
		engine.EntityUpsert
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request")
		return
	}

	row, err := s.engine.UpsertEntity(event.NormalizeKG(req.KG), req.EntityUpsert)
	if err != nil {
		fail(w, "kg/upsert-entity", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "entity": row})
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	var req engine.ForgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request")
		return
	}
	if req.KG == "" {
		req.KG = "personal"
	}

	deleted, err := s.engine.Forget(req)
	if err != nil {
		fail(w, "kg/forget", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": deleted})
}

// handleThread resolves a namespace without touching storage: a helper for
// clients that need the derived thread id for a topic.
func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	kg := event.NormalizeKG(r.URL.Query().Get("kg"))
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = r.URL.Query().Get("topic_wa")
	}
	owner := r.URL.Query().Get("owner")

	t := event.CanonicalTopic(topic)
	threadID := event.ThreadID(kg, t)
	if t == "" {
		t = event.HubTopic // report the effective topic, matching thread_id
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"kg":        kg,
		"owner_wa":  owner,
		"topic_wa":  t,
		"thread_id": threadID,
	})
}
