package crawler

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record is an opaque JSON object as returned by the upstream API. The engine
// reads a handful of fields and adds enrichment keys; everything else is
// forwarded untouched.
type Record map[string]any

// Enrichment keys added to outgoing records.
const (
	RelatedAvatarKey           = "$github-activities-related-avatar"
	RelatedOrganizationLogoKey = "$github-activities-related-organization-logo"
	RelatedEventKey            = "$github-activities-related-event"
)

// decodeRecords parses a JSON array of objects. Numbers are kept as json.Number
// so identifiers survive the round trip to downstream sinks.
func decodeRecords(body []byte) ([]any, error) {
	var items []any
	if err := newDecoder(body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode event batch: %w", err)
	}
	return items, nil
}

func decodeRecord(body []byte) (Record, error) {
	var rec Record
	if err := newDecoder(body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("decode record: body is not an object")
	}
	return rec, nil
}

func newDecoder(body []byte) *json.Decoder {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec
}

func asRecord(v any) (Record, bool) {
	switch m := v.(type) {
	case Record:
		return m, true
	case map[string]any:
		return Record(m), true
	default:
		return nil, false
	}
}

// Dig walks nested objects and returns the value at path.
func (r Record) Dig(path ...string) (any, bool) {
	var cur any = r
	for _, key := range path {
		m, ok := asRecord(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the string at path or "" when absent or not a string.
func (r Record) String(path ...string) string {
	v, ok := r.Dig(path...)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Bool returns the boolean at path or false.
func (r Record) Bool(path ...string) bool {
	v, ok := r.Dig(path...)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Object returns the nested object at path.
func (r Record) Object(path ...string) (Record, bool) {
	v, ok := r.Dig(path...)
	if !ok {
		return nil, false
	}
	return asRecord(v)
}

// Slice returns the array at path.
func (r Record) Slice(path ...string) ([]any, bool) {
	v, ok := r.Dig(path...)
	if !ok {
		return nil, false
	}
	s, ok := v.([]any)
	return s, ok
}

// Without returns a shallow copy of r lacking the given top-level keys.
func (r Record) Without(keys ...string) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// enrich copies the actor avatar and organization logo onto target.
func enrich(target Record, avatar, orgLogo string) {
	if avatar != "" {
		target[RelatedAvatarKey] = avatar
	}
	if orgLogo != "" {
		target[RelatedOrganizationLogoKey] = orgLogo
	}
}
