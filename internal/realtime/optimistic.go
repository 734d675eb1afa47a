package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-community-api/internal/models"
	"github.com/noah-isme/gema-community-api/internal/observability"
)

// ErrSuperseded is returned to a toggle whose result was discarded because a newer toggle
// on the same key took over.
var ErrSuperseded = errors.New("toggle superseded by a newer request")

// ToggleKey identifies one membership fact.
type ToggleKey struct {
	Kind     models.RelationKind `json:"kind"`
	ActorID  string              `json:"actor_id"`
	TargetID string              `json:"target_id"`
}

func (k ToggleKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Kind, k.ActorID, k.TargetID)
}

// ToggleState is what the client displays for a key: membership plus the target's total.
type ToggleState struct {
	Active bool  `json:"active"`
	Count  int64 `json:"count"`
}

func (s ToggleState) flipped() ToggleState {
	next := ToggleState{Active: !s.Active, Count: s.Count}
	if next.Active {
		next.Count++
	} else if next.Count > 0 {
		next.Count--
	}
	return next
}

// RelationStore is the remote side of a toggle. SetRelation must be idempotent:
// insert-if-absent when active, delete-if-present otherwise.
type RelationStore interface {
	SetRelation(ctx context.Context, key ToggleKey, active bool) error
	RelationState(ctx context.Context, key ToggleKey) (ToggleState, error)
}

// ErrorReporter surfaces non-recoverable toggle failures to the user.
type ErrorReporter interface {
	ReportToggleFailure(key ToggleKey, err error)
}

// ErrorReporterFunc adapts a function to ErrorReporter.
type ErrorReporterFunc func(key ToggleKey, err error)

// ReportToggleFailure implements ErrorReporter.
func (f ErrorReporterFunc) ReportToggleFailure(key ToggleKey, err error) {
	f(key, err)
}

// ToggleUpdate is emitted whenever the displayed state of a key changes.
type ToggleUpdate struct {
	Key     ToggleKey   `json:"key"`
	State   ToggleState `json:"state"`
	Pending bool        `json:"pending"`
}

type toggleEntry struct {
	committed ToggleState
	display   ToggleState
	known     bool
	seq       uint64
	cancel    context.CancelFunc
	send      sync.Mutex
}

// Toggler applies like/upvote/follow toggles optimistically. Only the latest intent per key is
// ever committed; earlier in-flight requests are cancelled and their results discarded.
type Toggler struct {
	store    RelationStore
	reporter ErrorReporter
	observer func(ToggleUpdate)
	logger   zerolog.Logger

	mu      sync.Mutex
	entries map[ToggleKey]*toggleEntry
}

// NewToggler constructs a toggler. reporter and observer may be nil.
func NewToggler(store RelationStore, reporter ErrorReporter, observer func(ToggleUpdate), logger zerolog.Logger) *Toggler {
	return &Toggler{
		store:    store,
		reporter: reporter,
		observer: observer,
		logger:   logger.With().Str("component", "realtime_toggler").Logger(),
		entries:  make(map[ToggleKey]*toggleEntry),
	}
}

func (t *Toggler) entryLocked(key ToggleKey) *toggleEntry {
	entry, ok := t.entries[key]
	if !ok {
		entry = &toggleEntry{}
		t.entries[key] = entry
	}
	return entry
}

// Seed records a committed state for key unless a toggle for it is in flight.
func (t *Toggler) Seed(key ToggleKey, state ToggleState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := t.entryLocked(key)
	if entry.cancel != nil {
		return
	}
	entry.committed = state
	entry.display = state
	entry.known = true
}

// State returns the displayed state for key.
func (t *Toggler) State(key ToggleKey) (ToggleState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[key]
	if !ok || !entry.known {
		return ToggleState{}, false
	}
	return entry.display, true
}

// Load reads the committed state from the store and seeds it.
func (t *Toggler) Load(ctx context.Context, key ToggleKey) (ToggleState, error) {
	state, err := t.store.RelationState(ctx, key)
	if err != nil {
		return ToggleState{}, err
	}
	t.Seed(key, state)
	current, _ := t.State(key)
	return current, nil
}

// Toggle flips the displayed state of key immediately and sends the new intent to the store.
// It returns the final committed state, the rolled back state with the store error, or
// ErrSuperseded when a newer toggle on the same key took over.
func (t *Toggler) Toggle(ctx context.Context, key ToggleKey) (ToggleState, error) {
	t.mu.Lock()
	entry := t.entryLocked(key)
	known := entry.known
	t.mu.Unlock()

	if !known {
		if _, err := t.Load(ctx, key); err != nil {
			t.report(key, err)
			return ToggleState{}, fmt.Errorf("load %s: %w", key, err)
		}
	}

	t.mu.Lock()
	desired := entry.display.flipped()
	entry.display = desired
	entry.seq++
	seq := entry.seq
	if entry.cancel != nil {
		entry.cancel()
	}
	requestCtx, cancel := context.WithCancel(ctx)
	entry.cancel = cancel
	t.mu.Unlock()
	defer cancel()

	t.notify(ToggleUpdate{Key: key, State: desired, Pending: true})

	entry.send.Lock()
	if !t.latest(entry, seq) {
		entry.send.Unlock()
		return t.superseded(key)
	}
	err := t.store.SetRelation(requestCtx, key, desired.Active)
	if err == nil {
		// Sends are serialized per key, so the last landed send is the server state even
		// when a newer toggle has already superseded this one.
		t.mu.Lock()
		entry.committed = desired
		t.mu.Unlock()
	}
	entry.send.Unlock()

	t.mu.Lock()
	if entry.seq != seq {
		t.mu.Unlock()
		return t.superseded(key)
	}
	entry.cancel = nil

	if err != nil {
		rolledBack := entry.committed
		t.mu.Unlock()

		// A cancelled predecessor may still have landed without reporting success.
		if fresh, stateErr := t.store.RelationState(ctx, key); stateErr == nil {
			rolledBack = fresh
		}

		t.mu.Lock()
		if entry.seq != seq {
			t.mu.Unlock()
			return t.superseded(key)
		}
		entry.committed = rolledBack
		entry.display = rolledBack
		t.mu.Unlock()

		observability.RealtimeToggles().WithLabelValues(string(key.Kind), "rolled_back").Inc()
		t.logger.Warn().Err(err).Str("key", key.String()).Msg("toggle rejected; rolled back")
		t.notify(ToggleUpdate{Key: key, State: rolledBack})
		t.report(key, err)
		return rolledBack, fmt.Errorf("toggle %s: %w", key, err)
	}

	t.mu.Unlock()
	observability.RealtimeToggles().WithLabelValues(string(key.Kind), "committed").Inc()

	final := desired
	if fresh, err := t.store.RelationState(ctx, key); err == nil {
		t.mu.Lock()
		if entry.seq == seq && entry.cancel == nil {
			entry.committed = fresh
			entry.display = fresh
			final = fresh
		}
		t.mu.Unlock()
	} else {
		t.logger.Debug().Err(err).Str("key", key.String()).Msg("toggle resync failed")
	}

	t.notify(ToggleUpdate{Key: key, State: final})
	return final, nil
}

func (t *Toggler) latest(entry *toggleEntry, seq uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return entry.seq == seq
}

func (t *Toggler) superseded(key ToggleKey) (ToggleState, error) {
	observability.RealtimeToggles().WithLabelValues(string(key.Kind), "superseded").Inc()
	return ToggleState{}, ErrSuperseded
}

func (t *Toggler) notify(update ToggleUpdate) {
	if t.observer != nil {
		t.observer(update)
	}
}

func (t *Toggler) report(key ToggleKey, err error) {
	if t.reporter != nil {
		t.reporter.ReportToggleFailure(key, err)
	}
}

// Reset forgets every key and cancels in-flight requests.
func (t *Toggler) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, entry := range t.entries {
		if entry.cancel != nil {
			entry.cancel()
		}
		entry.seq++
	}
	t.entries = make(map[ToggleKey]*toggleEntry)
}
