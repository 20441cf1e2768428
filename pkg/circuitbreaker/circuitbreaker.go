package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State 熔断器状态
type State int

const (
	StateClosed   State = iota // 正常放行
	StateOpen                  // 熔断，直接拒绝
	StateHalfOpen              // 试探恢复，只放行少量请求
)

// ErrCircuitBreakerOpen 熔断期间被拒绝；具体错误为 *OpenError
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// OpenError 被拒绝时携带熔断器名称和预计恢复时间
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, retry after %s", e.Name, e.RetryAfter)
}

// Is 让 errors.Is(err, ErrCircuitBreakerOpen) 成立
func (e *OpenError) Is(target error) bool {
	return target == ErrCircuitBreakerOpen
}

// Config 熔断器配置
type Config struct {
	// Name 用于日志和指标标签，例如 outbox_publish
	Name string
	// FailureThreshold 连续失败多少次后熔断
	FailureThreshold int
	// SuccessThreshold 半开状态下成功多少次后恢复
	SuccessThreshold int
	// Timeout 熔断持续多久后进入半开
	Timeout time.Duration
	// HalfOpenMaxRequests 半开状态下同时放行的请求数
	HalfOpenMaxRequests int

	// OnStateChange 状态变化回调，在持有锁时调用，不能回调熔断器自身
	OnStateChange func(name string, from, to State)
	// Now 时钟，测试时替换
	Now func() time.Time
}

// DefaultConfig 连续失败 5 次熔断 30 秒
func DefaultConfig() Config {
	return Config{
		Name:                "default",
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 3,
	}
}

type CircuitBreaker struct {
	config Config

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	inFlight      int
	lastStateTime time.Time
}

func NewCircuitBreaker(config Config) *CircuitBreaker {
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Name == "" {
		config.Name = "default"
	}
	return &CircuitBreaker{
		config:        config,
		state:         StateClosed,
		lastStateTime: config.Now(),
	}
}

// Name 熔断器名称
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Execute 在熔断保护下执行 fn；熔断期间返回 *OpenError 且不调用 fn
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.acquire(); err != nil {
		return err
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
	return err
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance()
	switch cb.state {
	case StateOpen:
		return cb.openError()
	case StateHalfOpen:
		if cb.inFlight >= cb.config.HalfOpenMaxRequests {
			return cb.openError()
		}
		cb.inFlight++
	}
	return nil
}

func (cb *CircuitBreaker) openError() error {
	retryAfter := cb.config.Timeout - cb.config.Now().Sub(cb.lastStateTime)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &OpenError{Name: cb.config.Name, RetryAfter: retryAfter}
}

// advance 熔断超时后进入半开
func (cb *CircuitBreaker) advance() {
	if cb.state == StateOpen && cb.config.Now().Sub(cb.lastStateTime) >= cb.config.Timeout {
		cb.setState(StateHalfOpen)
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	switch cb.state {
	case StateHalfOpen:
		cb.setState(StateOpen)
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.failures = 0
	if cb.state != StateHalfOpen {
		return
	}
	cb.successes++
	cb.inFlight--
	if cb.successes >= cb.config.SuccessThreshold {
		cb.setState(StateClosed)
	}
}

// setState 所有状态变化的唯一入口，重置计数并触发回调
func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.lastStateTime = cb.config.Now()
	cb.successes = 0
	cb.inFlight = 0
	if to == StateClosed {
		cb.failures = 0
	}
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}

// GetState 当前状态，会先处理到期的熔断
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return cb.state
}

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}
