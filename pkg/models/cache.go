package models

import (
	"net/http"
	"time"
)

// Entry is a stored response: enough to reproduce status, headers and body.
type Entry struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// Clone returns a deep copy so callers can hand the entry out without
// sharing the body slice or header map.
func (e Entry) Clone() Entry {
	out := Entry{Status: e.Status, StoredAt: e.StoredAt}
	if e.Header != nil {
		out.Header = e.Header.Clone()
	}
	if e.Body != nil {
		out.Body = append([]byte(nil), e.Body...)
	}
	return out
}

// StoreInfo summarizes one named cache store.
type StoreInfo struct {
	Name    string `json:"name"`
	Entries int64  `json:"entries"`
	Bytes   int64  `json:"bytes"`
	Current bool   `json:"current"`
}

// WriterStats reports background cache write activity.
type WriterStats struct {
	Queued  int64 `json:"queued"`
	Written int64 `json:"written"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
}

// Status is a point-in-time view of a cache manager.
type Status struct {
	Instance   string      `json:"instance"`
	Version    string      `json:"version"`
	Phase      string      `json:"phase"`
	Origin     string      `json:"origin"`
	Attached   int         `json:"attached_clients"`
	Controlled int         `json:"controlled_clients"`
	Writer     WriterStats `json:"writer"`
}
