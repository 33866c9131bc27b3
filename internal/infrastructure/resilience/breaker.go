package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrOpen is returned while the breaker refuses starts
	ErrOpen = errors.New("start breaker is open")
	// ErrTrialInFlight is returned while a half-open trial start is running
	ErrTrialInFlight = errors.New("start breaker trial in progress")
)

// State represents the breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the breaker
type Settings struct {
	// Threshold is the number of consecutive failed starts that opens the breaker
	Threshold uint32
	// Cooldown is how long the breaker stays open before allowing one trial start
	Cooldown time.Duration
	// OnStateChange is called whenever the state changes
	OnStateChange func(name string, from State, to State)
	// Now overrides the clock
	Now func() time.Time
}

// Counts holds start statistics
type Counts struct {
	Starts              uint32
	Failures            uint32
	ConsecutiveFailures uint32
}

// Breaker guards worker starts. After Threshold consecutive failures, starts
// fail fast with ErrOpen until Cooldown elapses; then a single trial start is
// allowed and its outcome closes or reopens the breaker.
type Breaker struct {
	name     string
	settings Settings

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	trial    bool
}

// New creates a breaker with the given settings
func New(name string, settings Settings) *Breaker {
	if settings.Threshold == 0 {
		settings.Threshold = 3
	}
	if settings.Cooldown == 0 {
		settings.Cooldown = 10 * time.Second
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}

	return &Breaker{
		name:     name,
		settings: settings,
		state:    StateClosed,
	}
}

// Name returns the name of the breaker
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.currentState()
}

// Counts returns a copy of the internal counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.counts
}

// Execute runs start if the breaker accepts it and records the outcome
func (b *Breaker) Execute(start func() error) error {
	if err := b.before(); err != nil {
		return err
	}

	success := false
	defer func() {
		b.after(success)
	}()

	err := start()
	success = err == nil
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.trial {
			return ErrTrialInFlight
		}
		b.trial = true
	}

	b.counts.Starts++
	return nil
}

func (b *Breaker) after(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.currentState()
	b.trial = false

	if success {
		b.counts.ConsecutiveFailures = 0
		if state != StateClosed {
			b.setState(StateClosed)
		}
		return
	}

	b.counts.Failures++
	b.counts.ConsecutiveFailures++
	if state == StateHalfOpen || b.counts.ConsecutiveFailures >= b.settings.Threshold {
		b.setState(StateOpen)
	}
}

func (b *Breaker) currentState() State {
	if b.state == StateOpen && b.settings.Now().Sub(b.openedAt) >= b.settings.Cooldown {
		b.setState(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) setState(state State) {
	if b.state == state {
		return
	}

	prev := b.state
	b.state = state

	switch state {
	case StateOpen:
		b.openedAt = b.settings.Now()
	case StateClosed:
		b.counts.ConsecutiveFailures = 0
	}

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, prev, state)
	}
}
