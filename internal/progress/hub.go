package progress

import (
	"sync"
	"time"
)

// retention is how long a tracker stays registered before the hub drops
// it, terminal or not. Pollers arriving later get ErrNotFound.
const retention = 24 * time.Hour

// AccountEvent is the multiplexed form delivered on account streams.
type AccountEvent struct {
	RunID string `json:"runId"`
	Kind  string `json:"kind"`
	State State  `json:"state"`
}

type hubEntry struct {
	actor       *Actor
	accountID   string
	timer       *time.Timer
	unsubscribe func()
}

// Hub is the process-wide registry of run trackers. It also fans every
// tracker's events out to account-scoped subscribers.
type Hub struct {
	mu      sync.Mutex
	entries map[string]*hubEntry

	accMu       sync.Mutex
	accountSubs map[string]map[chan AccountEvent]struct{}
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{
		entries:     make(map[string]*hubEntry),
		accountSubs: make(map[string]map[chan AccountEvent]struct{}),
	}
}

// Register creates and tracks an actor for a run. Registering the same
// run twice returns the existing tracker.
func (h *Hub) Register(runID, accountID, subjectIdentifier, depth string, totalSteps int) *Actor {
	h.mu.Lock()
	defer h.mu.Unlock()
	if entry, ok := h.entries[runID]; ok {
		return entry.actor
	}
	actor := NewActor(runID, accountID, subjectIdentifier, depth, totalSteps)
	entry := &hubEntry{actor: actor, accountID: accountID}
	entry.timer = time.AfterFunc(retention, func() { h.remove(runID) })
	h.entries[runID] = entry
	h.forward(runID, accountID, entry)
	return actor
}

// Get returns the tracker for a run, or ErrNotFound.
func (h *Hub) Get(runID string) (*Actor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.entries[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.actor, nil
}

// forward pipes actor events into the account fan-out. Runs until the
// actor closes the subscription (terminal state or shutdown).
func (h *Hub) forward(runID, accountID string, entry *hubEntry) {
	ch, unsubscribe, err := entry.actor.Subscribe()
	if err != nil {
		return
	}
	entry.unsubscribe = unsubscribe
	go func() {
		for evt := range ch {
			h.publish(accountID, AccountEvent{RunID: runID, Kind: evt.Kind, State: evt.State})
		}
	}()
}

func (h *Hub) remove(runID string) {
	h.mu.Lock()
	entry, ok := h.entries[runID]
	if ok {
		delete(h.entries, runID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	entry.timer.Stop()
	entry.actor.Shutdown()
}

// SubscribeAccount registers a stream receiving events from every run
// owned by the account. The caller must invoke the returned unsubscribe.
func (h *Hub) SubscribeAccount(accountID string) (<-chan AccountEvent, func()) {
	ch := make(chan AccountEvent, subscriberBuffer)
	h.accMu.Lock()
	subs, ok := h.accountSubs[accountID]
	if !ok {
		subs = make(map[chan AccountEvent]struct{})
		h.accountSubs[accountID] = subs
	}
	subs[ch] = struct{}{}
	h.accMu.Unlock()

	unsubscribe := func() {
		h.accMu.Lock()
		defer h.accMu.Unlock()
		subs, ok := h.accountSubs[accountID]
		if !ok {
			return
		}
		if _, present := subs[ch]; present {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(h.accountSubs, accountID)
		}
	}
	return ch, unsubscribe
}

func (h *Hub) publish(accountID string, evt AccountEvent) {
	h.accMu.Lock()
	defer h.accMu.Unlock()
	subs, ok := h.accountSubs[accountID]
	if !ok {
		return
	}
	for ch := range subs {
		select {
		case ch <- evt:
		default:
			delete(subs, ch)
			close(ch)
		}
	}
	if len(subs) == 0 {
		delete(h.accountSubs, accountID)
	}
}

// Shutdown drops every tracker. Used on process exit and in tests.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	entries := h.entries
	h.entries = make(map[string]*hubEntry)
	h.mu.Unlock()
	for _, entry := range entries {
		entry.timer.Stop()
		entry.actor.Shutdown()
	}
}
