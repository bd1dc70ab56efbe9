package progress

import (
	"time"
)

// subscriberBuffer bounds each subscriber channel; slow consumers are
// dropped rather than blocking the actor loop.
const subscriberBuffer = 16

// Actor serializes all state access for a single run through a mailbox
// goroutine. The state and subscriber set are only touched from inside
// the loop, so no locking is needed.
type Actor struct {
	mailbox chan func()
	closed  chan struct{}
	now     func() time.Time

	state       State
	subscribers map[chan Event]struct{}
}

// NewActor starts the mailbox loop for a freshly initialized run.
func NewActor(runID, accountID, subjectIdentifier, depth string, totalSteps int) *Actor {
	return newActorAt(runID, accountID, subjectIdentifier, depth, totalSteps, time.Now)
}

func newActorAt(runID, accountID, subjectIdentifier, depth string, totalSteps int, now func() time.Time) *Actor {
	started := now().UTC()
	a := &Actor{
		mailbox: make(chan func(), 64),
		closed:  make(chan struct{}),
		now:     now,
		state: State{
			RunID:             runID,
			AccountID:         accountID,
			SubjectIdentifier: subjectIdentifier,
			AnalysisDepth:     depth,
			Status:            StatePending,
			CurrentStep:       "queued",
			TotalSteps:        totalSteps,
			StartedAt:         started,
			UpdatedAt:         started,
		},
		subscribers: make(map[chan Event]struct{}),
	}
	go a.loop()
	return a
}

func (a *Actor) loop() {
	for {
		select {
		case cmd := <-a.mailbox:
			cmd()
		case <-a.closed:
			for ch := range a.subscribers {
				close(ch)
			}
			a.subscribers = nil
			return
		}
	}
}

// post runs cmd inside the mailbox loop and waits for it to finish.
// It reports false if the actor is already shut down.
func (a *Actor) post(cmd func()) bool {
	done := make(chan struct{})
	select {
	case <-a.closed:
		return false
	case a.mailbox <- func() {
		cmd()
		close(done)
	}:
	}
	select {
	case <-done:
		return true
	case <-a.closed:
		return false
	}
}

// Get returns the current state snapshot.
func (a *Actor) Get() (State, error) {
	var state State
	if !a.post(func() { state = a.state }) {
		return State{}, ErrNotFound
	}
	return state, nil
}

// Update advances the run to a new step and progress percentage. Progress
// never moves backward. Returns ErrCancelled once the run was cancelled.
func (a *Actor) Update(step string, pct int) error {
	var err error
	if !a.post(func() { err = a.applyUpdate(step, pct) }) {
		return ErrNotFound
	}
	return err
}

// Complete marks the run finished and closes all subscriber streams.
func (a *Actor) Complete(resultDigest string) error {
	var err error
	if !a.post(func() { err = a.applyTerminal(StateComplete, EventComplete, resultDigest, "") }) {
		return ErrNotFound
	}
	return err
}

// Fail marks the run failed with a message and closes subscriber streams.
func (a *Actor) Fail(message string) error {
	var err error
	if !a.post(func() { err = a.applyTerminal(StateFailed, EventFailed, "", message) }) {
		return ErrNotFound
	}
	return err
}

// Cancel marks the run cancelled. Completed and failed runs cannot be
// cancelled; cancelling an already cancelled run is a no-op.
func (a *Actor) Cancel() error {
	var err error
	if !a.post(func() { err = a.applyCancel() }) {
		return ErrNotFound
	}
	return err
}

// Subscribe registers a stream that receives the current snapshot first,
// then every subsequent change. The channel is closed after a terminal
// event is delivered or when the returned unsubscribe func is called.
func (a *Actor) Subscribe() (<-chan Event, func(), error) {
	ch := make(chan Event, subscriberBuffer)
	var terminal bool
	ok := a.post(func() {
		ch <- Event{Kind: EventReady, State: a.state}
		if a.state.Terminal() {
			terminal = true
			return
		}
		a.subscribers[ch] = struct{}{}
	})
	if !ok {
		close(ch)
		return nil, nil, ErrNotFound
	}
	if terminal {
		close(ch)
		return ch, func() {}, nil
	}
	unsubscribe := func() {
		a.post(func() {
			if _, present := a.subscribers[ch]; present {
				delete(a.subscribers, ch)
				close(ch)
			}
		})
	}
	return ch, unsubscribe, nil
}

// Shutdown stops the mailbox loop and closes any remaining subscribers.
func (a *Actor) Shutdown() {
	select {
	case <-a.closed:
	default:
		close(a.closed)
	}
}

func (a *Actor) applyUpdate(step string, pct int) error {
	s := &a.state
	switch s.Status {
	case StateCancelled:
		return ErrCancelled
	case StateComplete, StateFailed:
		return ErrAlreadyComplete
	}
	if pct > s.Progress {
		s.Progress = pct
	}
	if s.Progress > 100 {
		s.Progress = 100
	}
	s.Status = StateProcessing
	s.CurrentStep = step
	s.UpdatedAt = a.now().UTC()
	a.broadcast(Event{Kind: EventProgress, State: *s})
	return nil
}

func (a *Actor) applyTerminal(status, kind, resultDigest, message string) error {
	s := &a.state
	if s.Status == StateCancelled {
		return ErrCancelled
	}
	if s.Terminal() {
		return ErrAlreadyComplete
	}
	now := a.now().UTC()
	s.Status = status
	s.UpdatedAt = now
	s.CompletedAt = &now
	if status == StateComplete {
		s.Progress = 100
		s.CurrentStep = "done"
		s.ResultDigest = resultDigest
	}
	if message != "" {
		s.ErrorMessage = message
	}
	a.broadcast(Event{Kind: kind, State: *s})
	a.closeSubscribers()
	return nil
}

func (a *Actor) applyCancel() error {
	s := &a.state
	if s.Status == StateCancelled {
		return nil
	}
	if s.Terminal() {
		return ErrAlreadyComplete
	}
	now := a.now().UTC()
	s.Status = StateCancelled
	s.UpdatedAt = now
	s.CompletedAt = &now
	a.broadcast(Event{Kind: EventCancelled, State: *s})
	a.closeSubscribers()
	return nil
}

func (a *Actor) broadcast(evt Event) {
	for ch := range a.subscribers {
		select {
		case ch <- evt:
		default:
			delete(a.subscribers, ch)
			close(ch)
		}
	}
}

func (a *Actor) closeSubscribers() {
	for ch := range a.subscribers {
		close(ch)
	}
	a.subscribers = make(map[chan Event]struct{})
}
