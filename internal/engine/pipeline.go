package engine

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/wavetp/kgraph/internal/config"
	"github.com/wavetp/kgraph/internal/event"
	"github.com/wavetp/kgraph/internal/store"
)

// Engine owns the ingestion pipeline and the retention sweeper. All mutation
// of the graph goes through here.
type Engine struct {
	DB        *store.DB
	Retention config.RetentionConfig

	mu        sync.Mutex
	lastSweep map[event.KG]time.Time
	stopCh    chan struct{}
}

// New creates an Engine over an open store.
func New(db *store.DB, retention config.RetentionConfig) *Engine {
	return &Engine{
		DB:        db,
		Retention: retention,
		lastSweep: make(map[event.KG]time.Time),
		stopCh:    make(chan struct{}),
	}
}

// ApplyResult reports a committed ingestion batch.
type ApplyResult struct {
	Applied     int
	LastEventID string
}

// Apply ingests a batch of raw events for (kg, owner) inside one
// transaction. Any malformed event aborts the whole batch; partial
// application is not an outcome. referer is the request Referer/Origin used
// to resolve relative visit URLs.
func (e *Engine) Apply(kg event.KG, owner string, raws []event.RawEvent, referer string) (ApplyResult, error) {
	if len(raws) == 0 {
		return ApplyResult{}, event.Validation("bad_request", "events")
	}

	var res ApplyResult
	err := e.DB.WithTx(func(tx *store.Tx) error {
		for _, raw := range raws {
			ev, err := event.Resolve(kg, owner, raw, referer)
			if err != nil {
				return err
			}
			if err := tx.InsertEvent(toRow(ev)); err != nil {
				return err
			}
			if err := e.derive(tx, ev); err != nil {
				return err
			}
			res.Applied++
			res.LastEventID = ev.ID
		}
		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}

	// Opportunistic default-policy sweep for the namespace we just touched.
	// Failures are logged inside and never surface to the caller.
	e.maybeSweepDefaults(kg)

	return res, nil
}

func toRow(ev *event.Event) *store.EventRow {
	return &store.EventRow{
		ID:       ev.ID,
		KG:       string(ev.KG),
		Owner:    ev.Owner,
		ThreadID: ev.ThreadID,
		Topic:    ev.Topic,
		Type:     string(ev.Type),
		Kind:     ev.Kind,
		TS:       ev.TS,
		Size:     ev.Size,
		SHA256:   ev.SHA256,
		Payload:  string(ev.PayloadJSON),
	}
}

// derive writes the typed edges and satellite records for one event. The
// switch is exhaustive over the payload union; a type with no derivations is
// an explicit no-op, not a missing case.
func (e *Engine) derive(tx *store.Tx, ev *event.Event) error {
	kg := string(ev.KG)

	edge := func(kind, srcType, srcID, dstType, dstID string) error {
		return tx.InsertEdge(store.Edge{
			KG: kg, Kind: kind,
			SrcType: srcType, SrcID: srcID,
			DstType: dstType, DstID: dstID,
			CreatedAt: ev.TS,
		})
	}

	// Every event with a topic enriches the topic and thread registries.
	if ev.Topic != "" {
		if err := tx.UpsertTopic(&store.Topic{
			KG: kg, Topic: ev.Topic, FirstTS: ev.TS, LastTS: ev.TS,
		}); err != nil {
			return err
		}
	}
	topicRef := ev.Topic
	if err := tx.UpsertThread(&store.Thread{
		KG: kg, ThreadID: ev.ThreadID,
		Topic:   optional(topicRef),
		FirstTS: ev.TS, LastTS: ev.TS,
	}); err != nil {
		return err
	}

	switch p := ev.Payload.(type) {
	case *event.MessagePayload:
		if err := edge(store.EdgeSentBy, "message", ev.ID, "agent", ev.Owner); err != nil {
			return err
		}
		if err := edge(store.EdgeInThread, "message", ev.ID, "thread", ev.ThreadID); err != nil {
			return err
		}
		if ev.Topic != "" {
			if err := edge(store.EdgeOnTopic, "message", ev.ID, "topic", ev.Topic); err != nil {
				return err
			}
		}
		if err := e.attachFile(tx, ev, p.SHA256, p.Fingerprint, p.Size, p.Mime, p.Name, false); err != nil {
			return err
		}
		if err := e.messageCookies(tx, ev); err != nil {
			return err
		}

	case *event.VisitPayload:
		if err := edge(store.EdgeVisitedBy, "visit", ev.ID, "agent", ev.Owner); err != nil {
			return err
		}
		if ev.Topic != "" {
			if err := edge(store.EdgeObservedFor, "visit", ev.ID, "topic", ev.Topic); err != nil {
				return err
			}
		}
		if p.Host != "" {
			if err := e.putCookie(tx, ev, store.ScopeAgent, "last_visit_host", p.Host,
				map[string]string{"host": p.Host}); err != nil {
				return err
			}
		}

	case *event.CallPayload:
		if err := edge(store.EdgePartOf, "call", ev.ID, "thread", ev.ThreadID); err != nil {
			return err
		}

	case *event.FloorLockPayload:
		if err := edge(store.EdgeInThread, "floor_lock", ev.ID, "thread", ev.ThreadID); err != nil {
			return err
		}
		if ev.Topic != "" {
			if err := edge(store.EdgeOnTopic, "floor_lock", ev.ID, "topic", ev.Topic); err != nil {
				return err
			}
		}
		holder := p.HolderWA
		if holder == "" {
			holder = ev.Owner
		}
		if err := edge(store.EdgeHeldBy, "floor_lock", ev.ID, "agent", holder); err != nil {
			return err
		}

	case *event.ContainerRefPayload:
		if p.ContainerID == "" {
			return event.Validation("bad_payload", "container_id")
		}
		if err := tx.UpsertContainerRef(&store.ContainerRef{
			KG: kg, ContainerID: p.ContainerID, Path: p.Path,
			Kind: optional(p.Kind), Title: optional(p.Title),
			FirstTS: ev.TS, LastTS: ev.TS,
		}); err != nil {
			return err
		}
		if err := edge(store.EdgeAbout, "container", p.ContainerID, "thread", ev.ThreadID); err != nil {
			return err
		}
		if ev.Topic != "" {
			if err := edge(store.EdgeAbout, "container", p.ContainerID, "topic", ev.Topic); err != nil {
				return err
			}
		}

	case *event.EntanglementPayload:
		if p.ContainerA == "" || p.ContainerB == "" {
			return event.Validation("bad_payload", "container_a/container_b")
		}
		// Undirected in meaning; store with the smaller id as src so A~B and
		// B~A dedup to one edge.
		a, b := p.ContainerA, p.ContainerB
		if b < a {
			a, b = b, a
		}
		if err := edge(store.EdgeEntanglement, "container", a, "container", b); err != nil {
			return err
		}

	case *event.PTTPayload:
		if err := edge(store.EdgeInThread, "ptt_session", ev.ID, "thread", ev.ThreadID); err != nil {
			return err
		}

	case *event.FilePayload:
		if err := e.attachFile(tx, ev, p.SHA256, p.Fingerprint, p.Size, p.Mime, p.Name, true); err != nil {
			return err
		}
	}

	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// attachFile find-or-creates the content-addressed file row for an event and
// joins it via an attachment. always forces a metadata-derived identity when
// the payload carries neither a hash nor a fingerprint; messages without any
// identity simply carry no attachment.
func (e *Engine) attachFile(tx *store.Tx, ev *event.Event, sha256, fingerprint string, size *int64, mime, name string, always bool) error {
	hash := sha256
	if hash == "" {
		hash = ev.SHA256
	}
	src := store.HashSrcBytes

	if hash == "" && fingerprint != "" {
		hash = derivedHash("fp:" + fingerprint)
		src = store.HashSrcFingerprint
	}
	if hash == "" {
		if !always {
			return nil
		}
		// Best-effort identity from stable event metadata. Weaker than a
		// byte hash: identical content resubmitted under a new event id gets
		// a new row.
		hash = derivedHash("meta:" + ev.ID + "|" + string(ev.Type) + "|" + mime + "|" + strconv.FormatInt(ev.TS, 10))
		src = store.HashSrcMetadata
	}

	if size == nil {
		size = ev.Size
	}

	fileID, _, err := tx.FindOrCreateFile(&store.File{
		KG: string(ev.KG), SHA256: hash, Size: size, Mime: mime, Name: name, HashSrc: src,
	})
	if err != nil {
		return err
	}
	if err := tx.AddAttachment(string(ev.KG), ev.ID, fileID); err != nil {
		return err
	}
	return tx.InsertEdge(store.Edge{
		KG: string(ev.KG), Kind: store.EdgeHasAttachment,
		SrcType: string(ev.Type), SrcID: ev.ID,
		DstType: "file", DstID: fileID,
		CreatedAt: ev.TS,
	})
}

func derivedHash(seed string) string {
	sum := blake3.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

func (e *Engine) messageCookies(tx *store.Tx, ev *event.Event) error {
	if ev.Topic != "" {
		if err := e.putCookie(tx, ev, store.ScopeAgent, "last_active_topic", ev.Topic,
			map[string]string{"topic": ev.Topic}); err != nil {
			return err
		}
	}
	ts := strconv.FormatInt(ev.TS, 10)
	return e.putCookie(tx, ev, store.ScopeThread, "last_message_ts", ts,
		map[string]string{"ts": ts})
}

func (e *Engine) putCookie(tx *store.Tx, ev *event.Event, scope, key, value string, meta map[string]string) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("cookie meta: %w", err)
	}

	c := store.Cookie{
		KG:        string(ev.KG),
		Scope:     scope,
		Key:       key,
		ValueHash: store.HashCookieValue(value),
		Meta:      string(metaJSON),
	}
	switch scope {
	case store.ScopeAgent:
		c.Actor = ev.Owner
	case store.ScopeThread:
		c.ThreadID = ev.ThreadID
	case store.ScopeTopic:
		c.Topic = ev.Topic
	}
	if days := e.Retention.CookieDays; days > 0 {
		exp := time.Now().UnixMilli() + int64(days)*dayMS
		c.ExpiresAt = &exp
	}
	return tx.UpsertCookie(&c)
}

const dayMS = int64(24 * time.Hour / time.Millisecond)
