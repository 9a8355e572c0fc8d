package engine

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/wavetp/kgraph/internal/config"
	"github.com/wavetp/kgraph/internal/event"
	"github.com/wavetp/kgraph/internal/store"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, config.Default().Retention)
}

func raw(typ, topic string, ts int64, payload string) event.RawEvent {
	e := event.RawEvent{Type: typ, Topic: topic, TS: ts}
	if payload != "" {
		e.Payload = json.RawMessage(payload)
	}
	return e
}

func TestApplyMessage(t *testing.T) {
	e := testEngine(t)

	res, err := e.Apply(event.KGPersonal, "a@x", []event.RawEvent{
		raw("message", "Example/", 1000, `{"text":"hello"}`),
	}, "")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Applied != 1 || res.LastEventID == "" {
		t.Fatalf("result = %+v", res)
	}

	// Topic canonicalized into the derived thread.
	rows, err := e.DB.QueryEvents(store.EventQuery{KG: "personal", ThreadID: "kg:personal:example"})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	if rows[0].Topic != "example" {
		t.Errorf("Topic = %q, want example", rows[0].Topic)
	}

	edges, err := e.DB.EdgesFrom("personal", "message", res.LastEventID)
	if err != nil {
		t.Fatalf("EdgesFrom: %v", err)
	}
	kinds := map[string]bool{}
	for _, ed := range edges {
		kinds[ed.Kind] = true
	}
	for _, want := range []string{store.EdgeSentBy, store.EdgeInThread, store.EdgeOnTopic} {
		if !kinds[want] {
			t.Errorf("missing edge %s", want)
		}
	}

	// Registries enriched.
	topic, err := e.DB.GetTopic("personal", "example")
	if err != nil || topic == nil {
		t.Fatalf("GetTopic: %v, %v", topic, err)
	}
	thread, err := e.DB.GetThread("personal", "kg:personal:example")
	if err != nil || thread == nil {
		t.Fatalf("GetThread: %v, %v", thread, err)
	}

	// Habit cookies written.
	cookies, err := e.DB.ListCookies("personal", "", time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("ListCookies: %v", err)
	}
	keys := map[string]bool{}
	for _, c := range cookies {
		keys[c.Key] = true
	}
	if !keys["last_active_topic"] || !keys["last_message_ts"] {
		t.Errorf("cookie keys = %v, want last_active_topic and last_message_ts", keys)
	}
}

// The same topic in different case/slash form lands in the same thread.
func TestApplyCanonicalizationSharedThread(t *testing.T) {
	e := testEngine(t)

	now := time.Now().UnixMilli()
	if _, err := e.Apply(event.KGPersonal, "a@x", []event.RawEvent{
		raw("message", "Example/", now, `{"text":"hi"}`),
	}, ""); err != nil {
		t.Fatalf("Apply message: %v", err)
	}
	if _, err := e.Apply(event.KGPersonal, "a@x", []event.RawEvent{
		raw("visit", "example", now+1000, `{"href":"https://x.example/a","host":"x.example"}`),
	}, ""); err != nil {
		t.Fatalf("Apply visit: %v", err)
	}

	rows, err := e.DB.QueryEvents(store.EventQuery{KG: "personal", ThreadID: "kg:personal:example"})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want both events in one thread", len(rows))
	}
}

func TestApplyDuplicateBatchNoEdgeDuplication(t *testing.T) {
	e := testEngine(t)

	batch := []event.RawEvent{{
		ID: "fixed-id", Type: "message", Topic: "example", TS: 1000,
		Payload: json.RawMessage(`{"text":"hi"}`),
	}}

	if _, err := e.Apply(event.KGPersonal, "a@x", batch, ""); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	before, err := e.DB.CountEdges("personal")
	if err != nil {
		t.Fatalf("CountEdges: %v", err)
	}

	if _, err := e.Apply(event.KGPersonal, "a@x", batch, ""); err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	after, err := e.DB.CountEdges("personal")
	if err != nil {
		t.Fatalf("CountEdges: %v", err)
	}
	if before != after {
		t.Errorf("edge count grew from %d to %d on duplicate batch", before, after)
	}
}

// Identical attachment bytes across two messages: one file row, two
// attachment rows.
func TestApplyAttachmentDedup(t *testing.T) {
	e := testEngine(t)

	const hash = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	_, err := e.Apply(event.KGPersonal, "a@x", []event.RawEvent{
		raw("message", "t", 1000, `{"text":"one","sha256":"`+hash+`","name":"f.bin"}`),
		raw("message", "t", 2000, `{"text":"two","sha256":"`+hash+`","name":"f.bin"}`),
	}, "")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	f, err := e.DB.GetFileByHash("personal", hash)
	if err != nil {
		t.Fatalf("GetFileByHash: %v", err)
	}
	if f == nil {
		t.Fatal("file row not created")
	}

	n, err := e.DB.CountAttachmentsForFile("personal", f.ID)
	if err != nil {
		t.Fatalf("CountAttachmentsForFile: %v", err)
	}
	if n != 2 {
		t.Errorf("attachment count = %d, want 2", n)
	}
}

func TestApplyFileEventMetadataFallback(t *testing.T) {
	e := testEngine(t)

	// No sha256, no fingerprint: file events still get a stable identity.
	res, err := e.Apply(event.KGPersonal, "a@x", []event.RawEvent{
		raw("file", "t", 1000, `{"name":"scan.pdf","mime":"application/pdf"}`),
	}, "")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	edges, err := e.DB.EdgesFrom("personal", "file", res.LastEventID)
	if err != nil {
		t.Fatalf("EdgesFrom: %v", err)
	}
	var fileID string
	for _, ed := range edges {
		if ed.Kind == store.EdgeHasAttachment {
			fileID = ed.DstID
		}
	}
	if fileID == "" {
		t.Fatal("missing HAS_ATTACHMENT edge for file event")
	}
	n, err := e.DB.CountAttachmentsForFile("personal", fileID)
	if err != nil {
		t.Fatalf("CountAttachmentsForFile: %v", err)
	}
	if n != 1 {
		t.Errorf("attachment count = %d, want 1", n)
	}
}

func TestApplyBatchAtomicity(t *testing.T) {
	e := testEngine(t)

	_, err := e.Apply(event.KGPersonal, "a@x", []event.RawEvent{
		raw("message", "t", 1000, `{"text":"good"}`),
		raw("bogus_type", "t", 2000, ""),
	}, "")
	if err == nil {
		t.Fatal("expected error for malformed event in batch")
	}
	var verr *event.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	// Nothing from the batch was applied.
	rows, err := e.DB.QueryEvents(store.EventQuery{KG: "personal", ThreadID: "kg:personal:t"})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("len(rows) = %d, want 0 after rollback", len(rows))
	}
	if n, _ := e.DB.CountEdges("personal"); n != 0 {
		t.Errorf("edges = %d, want 0 after rollback", n)
	}
}

func TestApplyEntanglementCanonicalOrder(t *testing.T) {
	e := testEngine(t)

	_, err := e.Apply(event.KGPersonal, "a@x", []event.RawEvent{
		raw("entanglement", "", 1000, `{"container_a":"beta","container_b":"alpha"}`),
		raw("entanglement", "", 2000, `{"container_a":"alpha","container_b":"beta"}`),
	}, "")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	edges, err := e.DB.EdgesFrom("personal", "container", "alpha")
	if err != nil {
		t.Fatalf("EdgesFrom: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("len(edges) = %d, want 1 (A~B dedups with B~A)", len(edges))
	}
	if edges[0].Kind != store.EdgeEntanglement || edges[0].DstID != "beta" {
		t.Errorf("edge = %+v", edges[0])
	}
}

func TestApplyContainerRef(t *testing.T) {
	e := testEngine(t)

	_, err := e.Apply(event.KGWork, "a@x", []event.RawEvent{
		raw("container_ref", "proj", 1000, `{"container_id":"cont-1","path":"a/b","title":"Board"}`),
	}, "")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	ref, err := e.DB.GetContainerRef("work", "cont-1", "a/b")
	if err != nil {
		t.Fatalf("GetContainerRef: %v", err)
	}
	if ref == nil {
		t.Fatal("container ref not upserted")
	}
	if ref.Title == nil || *ref.Title != "Board" {
		t.Errorf("Title = %v", ref.Title)
	}

	edges, err := e.DB.EdgesFrom("work", "container", "cont-1")
	if err != nil {
		t.Fatalf("EdgesFrom: %v", err)
	}
	if len(edges) != 2 { // ABOUT thread + ABOUT topic
		t.Errorf("len(edges) = %d, want 2", len(edges))
	}
}

func TestApplyFloorLockHolder(t *testing.T) {
	e := testEngine(t)

	res, err := e.Apply(event.KGPersonal, "owner@x", []event.RawEvent{
		raw("floor_lock", "room", 1000, `{"holder_wa":"speaker@x"}`),
	}, "")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	edges, err := e.DB.EdgesFrom("personal", "floor_lock", res.LastEventID)
	if err != nil {
		t.Fatalf("EdgesFrom: %v", err)
	}
	var holder string
	for _, ed := range edges {
		if ed.Kind == store.EdgeHeldBy {
			holder = ed.DstID
		}
	}
	if holder != "speaker@x" {
		t.Errorf("HELD_BY dst = %q, want speaker@x", holder)
	}
}

func TestApplyEmptyBatchRejected(t *testing.T) {
	e := testEngine(t)

	_, err := e.Apply(event.KGPersonal, "a@x", nil, "")
	var verr *event.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestApplyVisitRefererResolution(t *testing.T) {
	e := testEngine(t)

	res, err := e.Apply(event.KGPersonal, "a@x", []event.RawEvent{
		raw("visit", "t", time.Now().UnixMilli(), `{"href":"/page"}`),
	}, "https://site.example/root")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	rows, err := e.DB.QueryEvents(store.EventQuery{KG: "personal", ThreadID: "kg:personal:t"})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d", len(rows))
	}
	var p event.VisitPayload
	if err := json.Unmarshal([]byte(rows[0].Payload), &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Href != "https://site.example/page" {
		t.Errorf("Href = %q, want resolved", p.Href)
	}
	if p.Host != "site.example" {
		t.Errorf("Host = %q", p.Host)
	}
	_ = res
}
