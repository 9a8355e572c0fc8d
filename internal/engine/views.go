package engine

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/wavetp/kgraph/internal/event"
	"github.com/wavetp/kgraph/internal/store"
)

// CallSummary condenses a call's lifecycle frames into one row.
type CallSummary struct {
	CallID      string `json:"call_id"`
	StartedTS   *int64 `json:"started_ts"`
	ConnectedTS *int64 `json:"connected_ts"`
	EndedTS     *int64 `json:"ended_ts"`
	Status      string `json:"status"`
	Secs        *int64 `json:"secs"`
}

// ThreadAggregates are read-time projections over one page of thread events.
type ThreadAggregates struct {
	CallSummaries []CallSummary `json:"call_summaries"`
	PTTTotalMS    int64         `json:"ptt_total_ms"`
	PTTSessions   int           `json:"ptt_sessions"`
	Attachments   int           `json:"attachments"`
}

type callFrame struct {
	ts   int64
	kind string
	secs *int64
}

// AggregateThread computes call summaries, push-to-talk totals, and
// attachment counts from a bounded window of events. Bad payload JSON never
// aborts the view; the frame is just skipped.
func AggregateThread(items []store.EventRow) ThreadAggregates {
	agg := ThreadAggregates{CallSummaries: []CallSummary{}}
	frames := map[string][]callFrame{}
	var order []string

	for _, it := range items {
		switch it.Type {
		case "call":
			var p event.CallPayload
			if err := json.Unmarshal([]byte(it.Payload), &p); err != nil || p.CallID == "" {
				continue
			}
			if _, seen := frames[p.CallID]; !seen {
				order = append(order, p.CallID)
			}
			frames[p.CallID] = append(frames[p.CallID], callFrame{ts: it.TS, kind: it.Kind, secs: p.Secs})

		case "ptt_session":
			var p event.PTTPayload
			if err := json.Unmarshal([]byte(it.Payload), &p); err == nil {
				agg.PTTTotalMS += p.TalkMS
			}
			agg.PTTSessions++

		case "file":
			agg.Attachments++

		case "message":
			if it.Kind == "voice" {
				agg.Attachments++
			}
		}
	}

	for _, callID := range order {
		fs := frames[callID]
		sort.Slice(fs, func(i, j int) bool { return fs[i].ts < fs[j].ts })
		agg.CallSummaries = append(agg.CallSummaries, summarizeCall(callID, fs))
	}
	return agg
}

func summarizeCall(callID string, fs []callFrame) CallSummary {
	s := CallSummary{CallID: callID}
	if len(fs) == 0 {
		s.Status = "open"
		return s
	}

	started := fs[0].ts
	s.StartedTS = &started

	var connected, end *callFrame
	for i := range fs {
		if connected == nil && fs[i].kind == "connected" {
			connected = &fs[i]
		}
		if end == nil && fs[i].kind == "end" {
			end = &fs[i]
		}
	}
	if end == nil {
		for i := range fs {
			if fs[i].kind == "cancel" || fs[i].kind == "reject" {
				end = &fs[i]
				break
			}
		}
	}

	if connected != nil {
		s.ConnectedTS = &connected.ts
	}
	if end != nil {
		s.EndedTS = &end.ts
	}

	switch {
	case end != nil:
		s.Status = end.kind
	case connected != nil:
		s.Status = "connected"
	case fs[len(fs)-1].kind != "":
		s.Status = fs[len(fs)-1].kind
	default:
		s.Status = "open"
	}

	switch {
	case end != nil && end.secs != nil:
		s.Secs = end.secs
	case connected != nil && end != nil:
		delta := end.ts - connected.ts
		if delta < 0 {
			delta = 0
		}
		secs := (delta + 500) / 1000 // round to nearest second
		s.Secs = &secs
	}
	return s
}

// VisitItem is the projected shape of a visit event for views and search.
type VisitItem struct {
	ID        string   `json:"id"`
	KG        string   `json:"kg"`
	ThreadID  string   `json:"thread_id"`
	Topic     string   `json:"topic_wa,omitempty"`
	Kind      string   `json:"kind,omitempty"`
	TS        int64    `json:"ts"`
	URI       string   `json:"uri,omitempty"`
	Href      string   `json:"href,omitempty"`
	Host      string   `json:"host,omitempty"`
	Title     string   `json:"title,omitempty"`
	Referrer  string   `json:"referrer,omitempty"`
	DurationS *float64 `json:"duration_s,omitempty"`
	OriginID  string   `json:"origin_id,omitempty"`
}

// VisitItems projects visit event rows into their payload fields.
func VisitItems(rows []store.EventRow) []VisitItem {
	out := make([]VisitItem, 0, len(rows))
	for _, r := range rows {
		var p event.VisitPayload
		json.Unmarshal([]byte(r.Payload), &p) // bad payload leaves fields empty
		out = append(out, VisitItem{
			ID: r.ID, KG: r.KG, ThreadID: r.ThreadID, Topic: r.Topic,
			Kind: r.Kind, TS: r.TS,
			URI: p.URI, Href: p.Href, Host: p.Host, Title: p.Title,
			Referrer: p.Referrer, DurationS: p.DurationS, OriginID: p.OriginID,
		})
	}
	return out
}

// HabitView is one cookie row as exposed by the memory snapshot. The value
// itself is only ever the hash; Meta carries whatever plaintext the writer
// chose to keep.
type HabitView struct {
	Scope     string          `json:"scope"`
	Key       string          `json:"key"`
	Actor     string          `json:"actor_wa,omitempty"`
	ThreadID  string          `json:"thread_id,omitempty"`
	Topic     string          `json:"topic_wa,omitempty"`
	ValueHash string          `json:"value_hash"`
	Meta      json.RawMessage `json:"meta"`
	UpdatedAt int64           `json:"updated_at"`
	ExpiresAt *int64          `json:"expires_at,omitempty"`
}

// TopicView is a topic registry row in the memory snapshot.
type TopicView struct {
	Topic   string  `json:"topic_wa"`
	Label   *string `json:"label"`
	FirstTS int64   `json:"first_ts"`
	LastTS  int64   `json:"last_ts"`
}

// MemoryView is the habit/topic snapshot for a namespace.
type MemoryView struct {
	Habits  []HabitView `json:"habits"`  // agent-scoped
	Threads []HabitView `json:"threads"` // thread-scoped
	Topics  []TopicView `json:"topics"`  // registry
}

const topicSnapshotLimit = 500

// Memory builds the habit snapshot. scope narrows to one section ("agent",
// "thread", "topic"); empty means everything.
func (e *Engine) Memory(kg, scope string) (*MemoryView, error) {
	view := &MemoryView{Habits: []HabitView{}, Threads: []HabitView{}, Topics: []TopicView{}}
	now := time.Now().UnixMilli()

	if scope == "" || scope == store.ScopeAgent || scope == store.ScopeThread {
		cookieScope := scope
		cookies, err := e.DB.ListCookies(kg, cookieScope, now)
		if err != nil {
			return nil, err
		}
		for _, c := range cookies {
			h := HabitView{
				Scope: c.Scope, Key: c.Key, Actor: c.Actor, ThreadID: c.ThreadID,
				Topic: c.Topic, ValueHash: c.ValueHash, Meta: json.RawMessage(c.Meta),
				UpdatedAt: c.UpdatedAt, ExpiresAt: c.ExpiresAt,
			}
			switch c.Scope {
			case store.ScopeThread:
				view.Threads = append(view.Threads, h)
			default:
				view.Habits = append(view.Habits, h)
			}
		}
	}

	if scope == "" || scope == store.ScopeTopic {
		topics, err := e.DB.ListTopics(kg, topicSnapshotLimit)
		if err != nil {
			return nil, err
		}
		for _, t := range topics {
			view.Topics = append(view.Topics, TopicView{
				Topic: t.Topic, Label: t.Label, FirstTS: t.FirstTS, LastTS: t.LastTS,
			})
		}
	}

	return view, nil
}
