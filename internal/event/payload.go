package event

import (
	"encoding/json"
	"net/url"
	"strings"
)

// Type is the closed set of event types the pipeline understands.
type Type string

const (
	TypeMessage      Type = "message"
	TypeVisit        Type = "visit"
	TypeCall         Type = "call"
	TypeFloorLock    Type = "floor_lock"
	TypeContainerRef Type = "container_ref"
	TypeEntanglement Type = "entanglement"
	TypePTT          Type = "ptt_session"
	TypeFile         Type = "file"
)

// Payload is the tagged union of per-type event bodies. Exactly one variant
// per Type; decoded and validated once at the ingestion boundary so the
// derivation switch downstream can be exhaustive.
type Payload interface {
	isPayload()
}

type MessagePayload struct {
	Text        string `json:"text,omitempty"`
	SHA256      string `json:"sha256,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Size        *int64 `json:"size,omitempty"`
	Mime        string `json:"mime,omitempty"`
	Name        string `json:"name,omitempty"`
}

type VisitPayload struct {
	URI       string   `json:"uri,omitempty"`
	Href      string   `json:"href,omitempty"`
	Host      string   `json:"host,omitempty"`
	Title     string   `json:"title,omitempty"`
	Referrer  string   `json:"referrer,omitempty"`
	DurationS *float64 `json:"duration_s,omitempty"`
	OriginID  string   `json:"origin_id,omitempty"`
}

type CallPayload struct {
	CallID string `json:"call_id,omitempty"`
	Secs   *int64 `json:"secs,omitempty"`
}

type FloorLockPayload struct {
	HolderWA string `json:"holder_wa,omitempty"`
}

type ContainerRefPayload struct {
	ContainerID string `json:"container_id,omitempty"`
	Path        string `json:"path,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Title       string `json:"title,omitempty"`
}

type EntanglementPayload struct {
	ContainerA string `json:"container_a,omitempty"`
	ContainerB string `json:"container_b,omitempty"`
}

type PTTPayload struct {
	TalkMS int64 `json:"talkMs,omitempty"`
}

type FilePayload struct {
	SHA256      string `json:"sha256,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Size        *int64 `json:"size,omitempty"`
	Mime        string `json:"mime,omitempty"`
	Name        string `json:"name,omitempty"`
}

func (MessagePayload) isPayload()      {}
func (VisitPayload) isPayload()        {}
func (CallPayload) isPayload()         {}
func (FloorLockPayload) isPayload()    {}
func (ContainerRefPayload) isPayload() {}
func (EntanglementPayload) isPayload() {}
func (PTTPayload) isPayload()          {}
func (FilePayload) isPayload()         {}

// DecodePayload parses a raw payload body for the given type. Nil or empty
// raw decodes to the zero variant. Unknown types are rejected here so the
// stored log only ever contains the closed set.
func DecodePayload(t Type, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	decode := func(v Payload) (Payload, error) {
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, Validation("bad_payload", string(t))
		}
		return v, nil
	}

	switch t {
	case TypeMessage:
		return decode(&MessagePayload{})
	case TypeVisit:
		return decode(&VisitPayload{})
	case TypeCall:
		return decode(&CallPayload{})
	case TypeFloorLock:
		return decode(&FloorLockPayload{})
	case TypeContainerRef:
		return decode(&ContainerRefPayload{})
	case TypeEntanglement:
		return decode(&EntanglementPayload{})
	case TypePTT:
		return decode(&PTTPayload{})
	case TypeFile:
		return decode(&FilePayload{})
	default:
		return nil, Validation("bad_payload", string(t))
	}
}

func isAbsoluteHTTP(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// NormalizeVisit resolves a visit's href to an absolute URL and fills in the
// host, using the request Referer/Origin as the base when the payload only
// carries a relative path. Runs before storage so the log never holds
// relative URLs.
func NormalizeVisit(p *VisitPayload, referer string) {
	href := p.Href
	if href == "" {
		href = p.URI
	}

	if !isAbsoluteHTTP(href) && isAbsoluteHTTP(referer) {
		if base, err := url.Parse(referer); err == nil {
			rel := href
			if rel == "" {
				rel = "/"
			}
			if u, err := base.Parse(rel); err == nil {
				href = u.String()
			}
		}
	}
	p.Href = href

	if p.Host == "" && isAbsoluteHTTP(href) {
		if u, err := url.Parse(href); err == nil {
			p.Host = u.Host
		}
	}
}
