package downloader

import (
	"sort"
)

// CompletionKey identifies a history entry for change detection.
// Two entries are the same completion iff name, category and status all match
// exactly. Download managers give no stronger identity, so a job that
// finishes twice with the same triple is seen once.
type CompletionKey struct {
	Name     string
	Category string
	Status   string
}

// KeyOf returns the completion key of a history item.
func KeyOf(item HistoryItem) CompletionKey {
	return CompletionKey{
		Name:     item.Name,
		Category: item.Category,
		Status:   item.Status,
	}
}

// Payload converts the key into the event payload published for it.
func (k CompletionKey) Payload() CompletionPayload {
	return CompletionPayload(k)
}

// Snapshot is the set of completion keys observed in one poll cycle.
type Snapshot map[CompletionKey]struct{}

// NewSnapshot builds a snapshot from a history list. Duplicate triples collapse.
func NewSnapshot(items []HistoryItem) Snapshot {
	snap := make(Snapshot, len(items))
	for _, item := range items {
		snap[KeyOf(item)] = struct{}{}
	}
	return snap
}

// Contains reports whether key is in the snapshot.
func (s Snapshot) Contains(key CompletionKey) bool {
	_, ok := s[key]
	return ok
}

// Len returns the number of distinct keys.
func (s Snapshot) Len() int {
	return len(s)
}

// Keys returns the keys sorted by name, category, then status.
func (s Snapshot) Keys() []CompletionKey {
	keys := make([]CompletionKey, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Name != keys[j].Name {
			return keys[i].Name < keys[j].Name
		}
		if keys[i].Category != keys[j].Category {
			return keys[i].Category < keys[j].Category
		}
		return keys[i].Status < keys[j].Status
	})
	return keys
}

// Diff returns the keys present in current but absent from previous.
// Keys that disappeared from history are not reported. A nil previous is
// treated as empty.
func Diff(previous, current Snapshot) Snapshot {
	added := make(Snapshot)
	for k := range current {
		if _, seen := previous[k]; !seen {
			added[k] = struct{}{}
		}
	}
	return added
}
