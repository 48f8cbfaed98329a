package main

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// ============================================================================
// Tracks & Queue
// ============================================================================

const (
	MsgQueueRemoveOutOfRange = "no track at position %d"
	MsgQueueShuffleTooFew    = "need at least 2 queued tracks to shuffle"
	MsgQueueRewindEmpty      = "no previously played track to rewind to"

	TitlePlaceholder = "Loading..."
	HistoryCapacity  = 25
)

// UserInputError marks failures caused by the requester rather than the
// system; handlers surface these verbatim as ephemeral replies.
type UserInputError struct {
	Message string
}

func (e *UserInputError) Error() string {
	return e.Message
}

func NewUserInputError(format string, v ...any) *UserInputError {
	return &UserInputError{Message: fmt.Sprintf(format, v...)}
}

// Track is a playback request. Locator is fixed at creation and is the only
// field playback depends on; the rest is display metadata filled by
// resolution.
type Track struct {
	Locator        string
	Title          string
	Duration       time.Duration // 0 = live or unknown
	ThumbnailURL   string
	RequesterID    snowflake.ID
	RequesterName  string
	PlaylistOrigin string
	Resolved       bool
}

func NewTrack(locator string, requesterID snowflake.ID, requesterName string) *Track {
	return &Track{
		Locator:       locator,
		Title:         TitlePlaceholder,
		RequesterID:   requesterID,
		RequesterName: requesterName,
	}
}

// DisplayTitle returns the title, falling back to the locator for tracks
// whose metadata never resolved.
func (t *Track) DisplayTitle() string {
	if t.Title == "" || t.Title == TitlePlaceholder {
		return t.Locator
	}
	return t.Title
}

func (t *Track) FormatDuration() string {
	if t.Duration <= 0 {
		return "LIVE"
	}
	d := t.Duration.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// Queue holds the per-guild playback state: the pending FIFO, the bounded
// play history, the current track, and the loop flag. current is never
// aliased into pending.
type Queue struct {
	mu          sync.Mutex
	pending     []*Track
	history     []*Track
	current     *Track
	loopCurrent bool
	update      chan struct{}
}

func NewQueue() *Queue {
	return &Queue{
		update: make(chan struct{}, 1),
	}
}

// Wake returns the channel the player loop blocks on while the queue is empty.
func (q *Queue) Wake() <-chan struct{} {
	return q.update
}

func (q *Queue) signal() {
	select {
	case q.update <- struct{}{}:
	default:
	}
}

func (q *Queue) Enqueue(tracks ...*Track) {
	q.mu.Lock()
	q.pending = append(q.pending, tracks...)
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) EnqueueFront(tracks ...*Track) {
	q.mu.Lock()
	q.pending = append(append([]*Track{}, tracks...), q.pending...)
	q.mu.Unlock()
	q.signal()
}

// RemoveAt removes the pending track at the given zero-based position. The
// current track is not addressable through this.
func (q *Queue) RemoveAt(index int) (*Track, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || index >= len(q.pending) {
		return nil, NewUserInputError(MsgQueueRemoveOutOfRange, index+1)
	}
	t := q.pending[index]
	q.pending = append(q.pending[:index], q.pending[index+1:]...)
	return t, nil
}

func (q *Queue) Shuffle() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) < 2 {
		return NewUserInputError(MsgQueueShuffleTooFew)
	}
	rand.Shuffle(len(q.pending), func(i, j int) {
		q.pending[i], q.pending[j] = q.pending[j], q.pending[i]
	})
	return nil
}

// Rewind schedules the most recent history entry for replay. The departing
// current track goes back into pending right behind it, current is unset and
// looping is cleared so the player loop picks the previous track up next.
func (q *Queue) Rewind() error {
	q.mu.Lock()

	if len(q.history) == 0 {
		q.mu.Unlock()
		return NewUserInputError(MsgQueueRewindEmpty)
	}

	previous := q.history[len(q.history)-1]
	q.history = q.history[:len(q.history)-1]

	head := []*Track{previous}
	if q.current != nil {
		head = append(head, q.current)
		q.current = nil
	}
	q.pending = append(head, q.pending...)
	q.loopCurrent = false

	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *Queue) ToggleLoop() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.loopCurrent = !q.loopCurrent
	return q.loopCurrent
}

func (q *Queue) Looping() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loopCurrent
}

// Advance moves the queue forward and returns the next track to play, or nil
// when nothing is pending. With looping enabled the current track replays
// without touching pending or history. Only the player loop calls this.
func (q *Queue) Advance() *Track {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.loopCurrent && q.current != nil {
		return q.current
	}

	if q.current != nil {
		q.history = append(q.history, q.current)
		if len(q.history) > HistoryCapacity {
			q.history = q.history[len(q.history)-HistoryCapacity:]
		}
		q.current = nil
	}

	if len(q.pending) == 0 {
		return nil
	}

	q.current = q.pending[0]
	q.pending = q.pending[1:]
	return q.current
}

// DropCurrent retires the current track into history without queueing a
// replay, regardless of the loop flag. Used when a play attempt fails.
func (q *Queue) DropCurrent() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return
	}
	q.history = append(q.history, q.current)
	if len(q.history) > HistoryCapacity {
		q.history = q.history[len(q.history)-HistoryCapacity:]
	}
	q.current = nil
}

// Clear drops all pending tracks. Current and history are untouched.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	q.pending = nil
	return n
}

// Reset drops everything including the current track. Used on shutdown.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
	q.history = nil
	q.current = nil
	q.loopCurrent = false
}

func (q *Queue) Current() *Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) HistoryCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.history)
}

// Snapshot returns copies of the pending and history slices plus the current
// track, for building queue views without holding the lock.
func (q *Queue) Snapshot() (current *Track, pending []*Track, history []*Track, looping bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending = make([]*Track, len(q.pending))
	copy(pending, q.pending)
	history = make([]*Track, len(q.history))
	copy(history, q.history)
	return q.current, pending, history, q.loopCurrent
}
