package engine

import (
	"encoding/json"
	"strings"

	"github.com/wavetp/kgraph/internal/event"
)

// SearchScope toggles which stores a keyword search touches.
type SearchScope struct {
	Messages bool
	Visits   bool
	Files    bool
}

// ParseSearchScope parses a comma-separated scope list. Empty means all.
func ParseSearchScope(s string) SearchScope {
	if strings.TrimSpace(s) == "" {
		return SearchScope{Messages: true, Visits: true, Files: true}
	}
	var sc SearchScope
	for _, part := range strings.Split(s, ",") {
		switch strings.TrimSpace(strings.ToLower(part)) {
		case "messages":
			sc.Messages = true
		case "visits":
			sc.Visits = true
		case "files":
			sc.Files = true
		}
	}
	return sc
}

// MessageHit is a message search result.
type MessageHit struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Topic    string `json:"topic_wa,omitempty"`
	Kind     string `json:"kind,omitempty"`
	TS       int64  `json:"ts"`
	Text     string `json:"text"`
}

// FileHit is a file search result.
type FileHit struct {
	ID     string `json:"id"`
	SHA256 string `json:"sha256"`
	Size   *int64 `json:"size,omitempty"`
	Mime   string `json:"mime,omitempty"`
	Name   string `json:"name,omitempty"`
}

// SearchResults groups hits by store.
type SearchResults struct {
	Messages []MessageHit `json:"messages"`
	Visits   []VisitItem  `json:"visits"`
	Files    []FileHit    `json:"files"`
}

// Search runs a bounded substring search across the toggled scopes. Each
// scope is limited independently.
func (e *Engine) Search(kg, q string, scope SearchScope, limit int) (*SearchResults, error) {
	res := &SearchResults{Messages: []MessageHit{}, Visits: []VisitItem{}, Files: []FileHit{}}

	if scope.Messages {
		rows, err := e.DB.SearchMessages(kg, q, limit)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			var p event.MessagePayload
			json.Unmarshal([]byte(r.Payload), &p)
			res.Messages = append(res.Messages, MessageHit{
				ID: r.ID, ThreadID: r.ThreadID, Topic: r.Topic,
				Kind: r.Kind, TS: r.TS, Text: p.Text,
			})
		}
	}

	if scope.Visits {
		rows, err := e.DB.SearchVisits(kg, q, limit)
		if err != nil {
			return nil, err
		}
		res.Visits = VisitItems(rows)
	}

	if scope.Files {
		files, err := e.DB.SearchFiles(kg, q, limit)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			res.Files = append(res.Files, FileHit{
				ID: f.ID, SHA256: f.SHA256, Size: f.Size, Mime: f.Mime, Name: f.Name,
			})
		}
	}

	return res, nil
}
