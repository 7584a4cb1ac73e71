package circuit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"tribune/internal/logger"
)

// ErrOpen 熔断打开期间直接拒绝调用。
var ErrOpen = errors.New("circuit open")

// OpenError 说明哪个熔断器拒绝了调用以及剩余冷却时间；errors.Is(err, ErrOpen) 成立。
type OpenError struct {
	Name    string
	RetryIn time.Duration
}

func (e *OpenError) Error() string {
	if e.RetryIn <= 0 {
		return fmt.Sprintf("circuit open for %s (trial request in flight)", e.Name)
	}
	return fmt.Sprintf("circuit open for %s, retry in %s", e.Name, e.RetryIn.Round(time.Second))
}

func (e *OpenError) Is(target error) bool { return target == ErrOpen }

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker 连续失败达到阈值后打开，冷却期后放行一次探测请求。
type CircuitBreaker struct {
	mu            sync.Mutex
	state         State
	failures      int
	threshold     int
	cooldown      time.Duration
	lastFailure   time.Time
	probing       bool
	name          string
	now           func() time.Time
	onStateChange func(name string, from, to State)
	counts        func(error) bool
}

func NewCircuitBreaker(name string, threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateClosed,
		now:       time.Now,
	}
}

func (cb *CircuitBreaker) SetStateChangeHandler(handler func(name string, from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = handler
}

// SetFailureFilter 决定哪些 error 计入失败；返回 false 的 error 原样返回但不影响状态。
func (cb *CircuitBreaker) SetFailureFilter(counts func(error) bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.counts = counts
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow 半开状态下只允许一个探测请求在途。
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) > cb.cooldown {
			cb.transition(StateHalfOpen)
			cb.probing = true
			return true
		}
		return false
	default:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	switch cb.state {
	case StateHalfOpen:
		cb.failures = 0
		cb.transition(StateClosed)
	case StateClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()
	cb.probing = false

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.threshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// Failures 当前连续失败次数。
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

func (cb *CircuitBreaker) rejection() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	var wait time.Duration
	if cb.state == StateOpen {
		wait = cb.cooldown - cb.now().Sub(cb.lastFailure)
	}
	return &OpenError{Name: cb.name, RetryIn: wait}
}

// Execute 在熔断保护下执行 fn；fn 返回的 error 默认计为失败。
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return cb.rejection()
	}
	err := fn()
	switch {
	case err == nil:
		cb.RecordSuccess()
	case cb.countsAsFailure(err):
		cb.RecordFailure()
	default:
		cb.release()
	}
	return err
}

func (cb *CircuitBreaker) countsAsFailure(err error) bool {
	cb.mu.Lock()
	counts := cb.counts
	cb.mu.Unlock()
	return counts == nil || counts(err)
}

// release 归还半开探测名额，不改变状态与计数。
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	if cb.onStateChange != nil {
		go cb.onStateChange(cb.name, from, to)
	} else {
		logger.Warnf("CircuitBreaker %s state change: %s -> %s (failures=%d/%d, cooldown=%s)",
			cb.name, from, to, cb.failures, cb.threshold, cb.cooldown)
	}
}
