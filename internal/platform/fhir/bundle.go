package fhir

import (
	"encoding/json"
	"strings"
)

// Bundle represents a FHIR searchset Bundle as returned by the remote server.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type,omitempty"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// NextURL returns the link with relation "next", or "".
func (b *Bundle) NextURL() string {
	if b == nil {
		return ""
	}
	for _, l := range b.Link {
		if strings.EqualFold(l.Relation, "next") {
			return l.URL
		}
	}
	return ""
}

// Resources returns the raw resource of every entry that carries one.
func (b *Bundle) Resources() []json.RawMessage {
	if b == nil {
		return nil
	}
	out := make([]json.RawMessage, 0, len(b.Entry))
	for _, e := range b.Entry {
		if len(e.Resource) == 0 || string(e.Resource) == "null" {
			continue
		}
		out = append(out, e.Resource)
	}
	return out
}

// Decode unmarshals each raw resource into T independently. A malformed
// record is skipped and counted rather than failing the whole batch.
func Decode[T any](raw []json.RawMessage) (out []*T, skipped int) {
	out = make([]*T, 0, len(raw))
	for _, r := range raw {
		v := new(T)
		if err := json.Unmarshal(r, v); err != nil {
			skipped++
			continue
		}
		out = append(out, v)
	}
	return out, skipped
}
