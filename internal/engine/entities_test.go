package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/wavetp/kgraph/internal/event"
	"github.com/wavetp/kgraph/internal/store"
)

func strp(s string) *string { return &s }

func wantCode(t *testing.T, err error, code string) {
	t.Helper()
	var verr *event.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError %s, got %v", code, err)
	}
	if verr.Code != code {
		t.Fatalf("code = %s, want %s", verr.Code, code)
	}
}

func TestUpsertEntityTopicMerge(t *testing.T) {
	e := testEngine(t)

	got, err := e.UpsertEntity(event.KGPersonal, EntityUpsert{
		Entity: "topic", Topic: "Plans/", Label: strp("Plans"),
	})
	if err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}
	topic, ok := got.(*store.Topic)
	if !ok || topic == nil {
		t.Fatalf("result = %T %v", got, got)
	}
	if topic.Topic != "plans" {
		t.Errorf("Topic = %q, want canonical plans", topic.Topic)
	}
	if topic.Label == nil || *topic.Label != "Plans" {
		t.Errorf("Label = %v", topic.Label)
	}

	// A later write with a null label does not erase the known one.
	got, err = e.UpsertEntity(event.KGPersonal, EntityUpsert{Entity: "topic", Topic: "plans"})
	if err != nil {
		t.Fatalf("second UpsertEntity: %v", err)
	}
	topic = got.(*store.Topic)
	if topic.Label == nil || *topic.Label != "Plans" {
		t.Errorf("Label after null write = %v, want Plans", topic.Label)
	}
}

func TestUpsertEntityThreadDerivedID(t *testing.T) {
	e := testEngine(t)

	got, err := e.UpsertEntity(event.KGWork, EntityUpsert{
		Entity: "thread", Topic: "standup", Title: strp("Standup"),
	})
	if err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}
	th := got.(*store.Thread)
	if th.ThreadID != "kg:work:standup" {
		t.Errorf("ThreadID = %q", th.ThreadID)
	}
	if th.Title == nil || *th.Title != "Standup" {
		t.Errorf("Title = %v", th.Title)
	}
}

func TestUpsertEntityContainer(t *testing.T) {
	e := testEngine(t)

	got, err := e.UpsertEntity(event.KGPersonal, EntityUpsert{
		Entity: "container", ContainerID: "c-1", Path: "docs", Kind: strp("board"),
	})
	if err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}
	ref := got.(*store.ContainerRef)
	if ref.ContainerID != "c-1" || ref.Kind == nil || *ref.Kind != "board" {
		t.Errorf("ref = %+v", ref)
	}
}

func TestUpsertEntityValidation(t *testing.T) {
	e := testEngine(t)

	_, err := e.UpsertEntity(event.KGPersonal, EntityUpsert{Entity: "widget"})
	wantCode(t, err, "bad_entity")

	_, err = e.UpsertEntity(event.KGPersonal, EntityUpsert{Entity: "topic"})
	wantCode(t, err, "bad_request")

	_, err = e.UpsertEntity(event.KGPersonal, EntityUpsert{Entity: "thread"})
	wantCode(t, err, "bad_request")

	_, err = e.UpsertEntity(event.KGPersonal, EntityUpsert{Entity: "container"})
	wantCode(t, err, "bad_request")
}

func TestForgetValidation(t *testing.T) {
	e := testEngine(t)

	_, err := e.Forget(ForgetRequest{KG: "shadow", Host: "x.example"})
	wantCode(t, err, "bad_kg")

	_, err = e.Forget(ForgetRequest{KG: "personal"})
	wantCode(t, err, "too_broad")

	_, err = e.Forget(ForgetRequest{KG: "personal", Scope: "messages", Host: "x.example"})
	wantCode(t, err, "bad_request")
}

func TestForgetByHost(t *testing.T) {
	e := testEngine(t)
	now := time.Now().UnixMilli()

	_, err := e.Apply(event.KGPersonal, "a@x", []event.RawEvent{
		raw("visit", "t", now, `{"href":"https://gone.example/a","host":"gone.example"}`),
		raw("visit", "t", now+1, `{"href":"https://keep.example/b","host":"keep.example"}`),
	}, "")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	n, err := e.Forget(ForgetRequest{KG: "personal", Scope: "visits", Host: "gone.example"})
	if err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}

	rows, err := e.DB.QueryEvents(store.EventQuery{KG: "personal", ThreadID: "kg:personal:t"})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].ID == "" {
		t.Fatal("missing survivor")
	}
}

func TestForgetByTopicAndRange(t *testing.T) {
	e := testEngine(t)
	now := time.Now().UnixMilli()

	_, err := e.Apply(event.KGPersonal, "a@x", []event.RawEvent{
		raw("visit", "Research/", now-1000, `{"href":"https://a.example/","host":"a.example"}`),
		raw("visit", "research", now+1000, `{"href":"https://b.example/","host":"b.example"}`),
	}, "")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// Topic is canonicalized before matching; the range keeps the later visit.
	n, err := e.Forget(ForgetRequest{KG: "personal", Topic: "Research/", ToMS: &now})
	if err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
}
