package bridge

import (
	"bytes"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// minDistinctAge is the minimum spacing between two distinct messages of
// the same (first field, topic) pair. The vendor link retransmits bursts
// of near-duplicate telemetry; identical content is always dropped,
// distinct content younger than this is too.
const minDistinctAge = 2000 * time.Millisecond

type dedupeEntry struct {
	content []byte
	seen    time.Time
}

// deduper suppresses retransmitted telemetry per (payload's first field
// name, topic) pair. Embedded timestamp fields are normalized out before
// comparison.
type deduper struct {
	mu   sync.Mutex
	last map[string]dedupeEntry
	now  func() time.Time
}

func newDeduper() *deduper {
	return &deduper{
		last: make(map[string]dedupeEntry),
		now:  time.Now,
	}
}

// Suppress reports whether the decoded payload should be dropped. fields
// is the flat decoded field map; firstField names the payload's leading
// field (schema discriminator).
func (d *deduper) Suppress(topic, firstField string, fields map[string]any) bool {
	content := canonicalContent(fields)
	key := firstField + "|" + topic

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	prev, ok := d.last[key]
	if ok {
		if bytes.Equal(prev.content, content) {
			// retransmit, regardless of spacing
			return true
		}
		if now.Sub(prev.seen) < minDistinctAge {
			// distinct but too soon after the previous distinct message
			return true
		}
	}
	d.last[key] = dedupeEntry{content: content, seen: now}
	return false
}

// canonicalContent serializes the field map with deterministic key order
// and without timestamp-ish fields.
func canonicalContent(fields map[string]any) []byte {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "timestamp" || k == "timeSnap" || k == "time" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(fields[k])
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}
