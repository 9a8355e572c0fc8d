package engine

import (
	"testing"
	"time"

	"github.com/wavetp/kgraph/internal/event"
)

func TestParseSearchScope(t *testing.T) {
	tests := []struct {
		in   string
		want SearchScope
	}{
		{"", SearchScope{Messages: true, Visits: true, Files: true}},
		{"messages", SearchScope{Messages: true}},
		{"visits,files", SearchScope{Visits: true, Files: true}},
		{" Messages , VISITS ", SearchScope{Messages: true, Visits: true}},
		{"bogus", SearchScope{}},
	}
	for _, tt := range tests {
		if got := ParseSearchScope(tt.in); got != tt.want {
			t.Errorf("ParseSearchScope(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestSearchScoped(t *testing.T) {
	e := testEngine(t)
	now := time.Now().UnixMilli()

	const hash = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
	_, err := e.Apply(event.KGPersonal, "a@x", []event.RawEvent{
		raw("message", "plans", now, `{"text":"quarterly roadmap review"}`),
		raw("visit", "plans", now+1, `{"href":"https://roadmap.example/q3","host":"roadmap.example","title":"Q3 roadmap"}`),
		raw("file", "plans", now+2, `{"name":"roadmap.pdf","mime":"application/pdf","sha256":"`+hash+`"}`),
		raw("message", "plans", now+3, `{"text":"lunch order"}`),
	}, "")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	res, err := e.Search("personal", "roadmap", SearchScope{Messages: true, Visits: true, Files: true}, 20)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Messages) != 1 || res.Messages[0].Text != "quarterly roadmap review" {
		t.Errorf("messages = %+v", res.Messages)
	}
	if len(res.Visits) != 1 || res.Visits[0].Host != "roadmap.example" {
		t.Errorf("visits = %+v", res.Visits)
	}
	if len(res.Files) != 1 || res.Files[0].Name != "roadmap.pdf" {
		t.Errorf("files = %+v", res.Files)
	}

	// Scope toggles suppress the other stores.
	res, err = e.Search("personal", "roadmap", SearchScope{Messages: true}, 20)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Messages) != 1 || len(res.Visits) != 0 || len(res.Files) != 0 {
		t.Errorf("scoped search leaked: %+v", res)
	}

	// Namespaces are isolated.
	res, err = e.Search("work", "roadmap", SearchScope{Messages: true, Visits: true, Files: true}, 20)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Messages)+len(res.Visits)+len(res.Files) != 0 {
		t.Errorf("work namespace saw personal rows: %+v", res)
	}
}
