package main

import (
	"fmt"
	"testing"
	"time"
)

func newTestTracks(n int) []*Track {
	ts := make([]*Track, n)
	for i := range ts {
		ts[i] = NewTrack(fmt.Sprintf("https://example.com/t%d", i), 0, "tester")
		ts[i].Title = fmt.Sprintf("Track %d", i)
	}
	return ts
}

func TestQueueFIFOOrder(t *testing.T) {
	q := NewQueue()
	ts := newTestTracks(3)
	q.Enqueue(ts...)

	for i := range 3 {
		got := q.Advance()
		if got != ts[i] {
			t.Fatalf("advance %d: got %v, want %v", i, got, ts[i])
		}
	}
	if q.Advance() != nil {
		t.Fatal("expected nil after draining the queue")
	}
}

func TestQueueCurrentNotInPending(t *testing.T) {
	q := NewQueue()
	ts := newTestTracks(3)
	q.Enqueue(ts...)

	cur := q.Advance()
	_, pending, _, _ := q.Snapshot()
	for _, p := range pending {
		if p == cur {
			t.Fatal("current track aliased into pending")
		}
	}
	if q.PendingCount() != 2 {
		t.Fatalf("pending = %d, want 2", q.PendingCount())
	}
}

func TestQueueEnqueueFront(t *testing.T) {
	q := NewQueue()
	ts := newTestTracks(3)
	q.Enqueue(ts[0], ts[1])
	q.EnqueueFront(ts[2])

	if got := q.Advance(); got != ts[2] {
		t.Fatalf("front-queued track not played first, got %v", got)
	}
	if got := q.Advance(); got != ts[0] {
		t.Fatalf("original order lost behind the front insert, got %v", got)
	}
}

func TestQueueRemoveAtBounds(t *testing.T) {
	q := NewQueue()
	q.Enqueue(newTestTracks(2)...)

	for _, idx := range []int{-1, 2, 10} {
		if _, err := q.RemoveAt(idx); err == nil {
			t.Fatalf("RemoveAt(%d) succeeded on a 2-track queue", idx)
		} else if _, ok := err.(*UserInputError); !ok {
			t.Fatalf("RemoveAt(%d) error type = %T, want *UserInputError", idx, err)
		}
	}

	removed, err := q.RemoveAt(0)
	if err != nil {
		t.Fatalf("RemoveAt(0): %v", err)
	}
	if removed == nil || q.PendingCount() != 1 {
		t.Fatalf("removed=%v pending=%d, want track and 1", removed, q.PendingCount())
	}
}

func TestQueueShuffleTooFew(t *testing.T) {
	q := NewQueue()
	q.Enqueue(newTestTracks(1)...)

	if err := q.Shuffle(); err == nil {
		t.Fatal("shuffle of a 1-track queue should fail")
	}
	_, pending, _, _ := q.Snapshot()
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want unchanged 1", len(pending))
	}
}

func TestQueueRewindEmptyHistory(t *testing.T) {
	q := NewQueue()
	q.Enqueue(newTestTracks(2)...)
	cur := q.Advance()

	if err := q.Rewind(); err == nil {
		t.Fatal("rewind with empty history should fail")
	}
	if q.Current() != cur || q.PendingCount() != 1 || q.HistoryCount() != 0 {
		t.Fatal("failed rewind must leave the queue untouched")
	}
}

func TestQueueRewindReordersPending(t *testing.T) {
	q := NewQueue()
	ts := newTestTracks(4) // A B C D
	q.Enqueue(ts...)

	q.Advance() // current = A
	q.Advance() // history = [A], current = B
	q.Advance() // history = [A, B], current = C
	q.ToggleLoop()

	if err := q.Rewind(); err != nil {
		t.Fatalf("rewind: %v", err)
	}

	cur, pending, history, looping := q.Snapshot()
	if cur != nil {
		t.Fatal("rewind must unset current")
	}
	if looping {
		t.Fatal("rewind must clear the loop flag")
	}
	want := []*Track{ts[1], ts[2], ts[3]} // B at head, then departing C, then old pending D
	if len(pending) != len(want) {
		t.Fatalf("pending = %d tracks, want %d", len(pending), len(want))
	}
	for i := range want {
		if pending[i] != want[i] {
			t.Fatalf("pending[%d] = %s, want %s", i, pending[i].Title, want[i].Title)
		}
	}
	if len(history) != 1 || history[0] != ts[0] {
		t.Fatalf("history = %d entries, want just A", len(history))
	}
}

func TestQueueHistoryCapacity(t *testing.T) {
	q := NewQueue()
	ts := newTestTracks(HistoryCapacity + 10)
	q.Enqueue(ts...)

	for q.Advance() != nil {
	}

	_, _, history, _ := q.Snapshot()
	if len(history) != HistoryCapacity {
		t.Fatalf("history = %d, want capacity %d", len(history), HistoryCapacity)
	}
	// Oldest entries are evicted first.
	if history[0] != ts[10] {
		t.Fatalf("history[0] = %s, want %s", history[0].Title, ts[10].Title)
	}
	if history[len(history)-1] != ts[len(ts)-1] {
		t.Fatal("newest track missing from history")
	}
}

func TestQueueLoopReplaysCurrent(t *testing.T) {
	q := NewQueue()
	ts := newTestTracks(2)
	q.Enqueue(ts...)

	first := q.Advance()
	q.ToggleLoop()

	if got := q.Advance(); got != first {
		t.Fatalf("looped advance returned %v, want %v", got, first)
	}
	if q.HistoryCount() != 0 {
		t.Fatal("looped advance must not touch history")
	}

	q.ToggleLoop()
	if got := q.Advance(); got != ts[1] {
		t.Fatalf("after unloop, advance returned %v, want next track", got)
	}
	if q.HistoryCount() != 1 {
		t.Fatalf("history = %d, want 1", q.HistoryCount())
	}
}

func TestQueueDropCurrentIgnoresLoop(t *testing.T) {
	q := NewQueue()
	q.Enqueue(newTestTracks(1)...)
	q.Advance()
	q.ToggleLoop()

	q.DropCurrent()
	if q.Current() != nil {
		t.Fatal("DropCurrent must unset current even while looping")
	}
	if q.HistoryCount() != 1 {
		t.Fatal("dropped track must land in history")
	}
}

func TestQueueClearKeepsCurrent(t *testing.T) {
	q := NewQueue()
	q.Enqueue(newTestTracks(3)...)
	cur := q.Advance()

	if n := q.Clear(); n != 2 {
		t.Fatalf("Clear returned %d, want 2", n)
	}
	if q.Current() != cur {
		t.Fatal("Clear must not touch the current track")
	}
}

func TestTrackDisplayTitle(t *testing.T) {
	tr := NewTrack("https://example.com/x", 0, "tester")
	if tr.DisplayTitle() != "https://example.com/x" {
		t.Fatalf("placeholder title should fall back to locator, got %q", tr.DisplayTitle())
	}
	tr.Title = "Real Title"
	if tr.DisplayTitle() != "Real Title" {
		t.Fatalf("DisplayTitle = %q", tr.DisplayTitle())
	}
}

func TestTrackFormatDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "LIVE"},
		{45 * time.Second, "0:45"},
		{3*time.Minute + 7*time.Second, "3:07"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}
	for _, c := range cases {
		tr := &Track{Duration: c.d}
		if got := tr.FormatDuration(); got != c.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", c.d, got, c.want)
		}
	}
}
