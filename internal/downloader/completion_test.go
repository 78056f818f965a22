package downloader

import (
	"testing"

	"github.com/nzbwatch/nzbwatch/internal/testutil"
)

func TestNewSnapshot_CollapsesDuplicates(t *testing.T) {
	snap := NewSnapshot(testutil.History(
		[3]string{"A", "cat1", "SUCCESS"},
		[3]string{"A", "cat1", "SUCCESS"},
		[3]string{"A", "cat1", "FAILURE"},
	))

	if snap.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", snap.Len())
	}
	if !snap.Contains(CompletionKey{"A", "cat1", "SUCCESS"}) {
		t.Error("expected (A, cat1, SUCCESS) in snapshot")
	}
	if !snap.Contains(CompletionKey{"A", "cat1", "FAILURE"}) {
		t.Error("expected (A, cat1, FAILURE) in snapshot")
	}
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name     string
		previous Snapshot
		current  Snapshot
		want     []CompletionKey
	}{
		{
			name:     "nil previous returns everything",
			previous: nil,
			current:  NewSnapshot(testutil.History([3]string{"A", "cat1", "SUCCESS"})),
			want:     []CompletionKey{{"A", "cat1", "SUCCESS"}},
		},
		{
			name:     "identical snapshots",
			previous: NewSnapshot(testutil.History([3]string{"A", "cat1", "SUCCESS"})),
			current:  NewSnapshot(testutil.History([3]string{"A", "cat1", "SUCCESS"})),
			want:     nil,
		},
		{
			name:     "new item",
			previous: NewSnapshot(testutil.History([3]string{"A", "cat1", "SUCCESS"})),
			current: NewSnapshot(testutil.History(
				[3]string{"B", "cat1", "SUCCESS"},
				[3]string{"A", "cat1", "SUCCESS"},
			)),
			want: []CompletionKey{{"B", "cat1", "SUCCESS"}},
		},
		{
			name: "disappeared item is not reported",
			previous: NewSnapshot(testutil.History(
				[3]string{"A", "cat1", "SUCCESS"},
				[3]string{"B", "cat1", "SUCCESS"},
			)),
			current: NewSnapshot(testutil.History([3]string{"B", "cat1", "SUCCESS"})),
			want:    nil,
		},
		{
			name:     "status change is a new completion",
			previous: NewSnapshot(testutil.History([3]string{"A", "cat1", "FAILURE"})),
			current:  NewSnapshot(testutil.History([3]string{"A", "cat1", "SUCCESS"})),
			want:     []CompletionKey{{"A", "cat1", "SUCCESS"}},
		},
		{
			name:     "category change is a new completion",
			previous: NewSnapshot(testutil.History([3]string{"A", "cat1", "SUCCESS"})),
			current:  NewSnapshot(testutil.History([3]string{"A", "cat2", "SUCCESS"})),
			want:     []CompletionKey{{"A", "cat2", "SUCCESS"}},
		},
		{
			name:     "empty current",
			previous: NewSnapshot(testutil.History([3]string{"A", "cat1", "SUCCESS"})),
			current:  NewSnapshot(nil),
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(tt.previous, tt.current).Keys()
			if len(got) != len(tt.want) {
				t.Fatalf("Diff() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Diff()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDiff_DoesNotMutateInputs(t *testing.T) {
	previous := NewSnapshot(testutil.History([3]string{"A", "cat1", "SUCCESS"}))
	current := NewSnapshot(testutil.History(
		[3]string{"A", "cat1", "SUCCESS"},
		[3]string{"B", "cat1", "SUCCESS"},
	))

	_ = Diff(previous, current)

	if previous.Len() != 1 || current.Len() != 2 {
		t.Errorf("inputs mutated: previous=%d current=%d", previous.Len(), current.Len())
	}
}

func TestSnapshotKeys_Sorted(t *testing.T) {
	snap := NewSnapshot(testutil.History(
		[3]string{"B", "cat1", "SUCCESS"},
		[3]string{"A", "cat2", "SUCCESS"},
		[3]string{"A", "cat1", "SUCCESS"},
		[3]string{"A", "cat1", "FAILURE"},
	))

	want := []CompletionKey{
		{"A", "cat1", "FAILURE"},
		{"A", "cat1", "SUCCESS"},
		{"A", "cat2", "SUCCESS"},
		{"B", "cat1", "SUCCESS"},
	}
	got := snap.Keys()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keys()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCompletionKey_Payload(t *testing.T) {
	p := CompletionKey{Name: "A", Category: "cat1", Status: "SUCCESS"}.Payload()
	if p.Name != "A" || p.Category != "cat1" || p.Status != "SUCCESS" {
		t.Errorf("Payload() = %+v", p)
	}
}
