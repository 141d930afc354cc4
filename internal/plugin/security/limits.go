package security

import (
	"sync"
	"sync/atomic"
	"time"
)

// ResourceLimits defines resource ceilings for a plugin.
//
// MaxMemoryMB and MaxCPUPercent are advisory: the Lua VM exposes no
// primitive to enforce them. Components that run plugin code must
// report the degradation, not hide it.
type ResourceLimits struct {
	// MaxMemoryMB is the memory ceiling in megabytes (advisory).
	MaxMemoryMB int

	// MaxCPUPercent is the cpu ceiling in percent (advisory).
	MaxCPUPercent int

	// MaxExecutionTime is the hard wall-clock ceiling per execution.
	MaxExecutionTime time.Duration

	// AllowedModules lists module names importable by the plugin in
	// addition to the built-in safe set.
	AllowedModules []string

	// BlockedModules lists module names that must never be importable.
	// The block list always wins over AllowedModules.
	BlockedModules []string

	// FileOpsPerSecond bounds workspace file operations.
	FileOpsPerSecond int

	// MaxOutputSize bounds captured plugin output in bytes.
	MaxOutputSize int64
}

// DefaultResourceLimits returns sensible default limits.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxMemoryMB:      64,
		MaxCPUPercent:    50,
		MaxExecutionTime: 30 * time.Second,
		FileOpsPerSecond: 100,
		MaxOutputSize:    1 * 1024 * 1024, // 1 MB
	}
}

// StrictResourceLimits returns stricter limits for untrusted plugins.
func StrictResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxMemoryMB:      16,
		MaxCPUPercent:    25,
		MaxExecutionTime: 5 * time.Second,
		FileOpsPerSecond: 10,
		MaxOutputSize:    256 * 1024,
	}
}

// Advisory returns the names of ceilings declared in the limits that
// the host cannot enforce for an in-process Lua VM.
func (l ResourceLimits) Advisory() []string {
	var adv []string
	if l.MaxMemoryMB > 0 {
		adv = append(adv, "max_memory_mb")
	}
	if l.MaxCPUPercent > 0 {
		adv = append(adv, "max_cpu_percent")
	}
	return adv
}

// ResourceMonitor tracks resource usage for one execution and enforces
// the enforceable subset of ResourceLimits.
type ResourceMonitor struct {
	mu sync.RWMutex

	limits ResourceLimits

	outputSize int64

	fileOps *RateLimiter

	exceeded bool
	reason   string
}

// NewResourceMonitor creates a resource monitor with the given limits.
func NewResourceMonitor(limits ResourceLimits) *ResourceMonitor {
	return &ResourceMonitor{
		limits:  limits,
		fileOps: NewRateLimiter(limits.FileOpsPerSecond),
	}
}

// AddOutput adds to the output size tracker.
// Returns true if the output ceiling is exceeded.
func (rm *ResourceMonitor) AddOutput(bytes int64) bool {
	newSize := atomic.AddInt64(&rm.outputSize, bytes)
	if rm.limits.MaxOutputSize > 0 && newSize > rm.limits.MaxOutputSize {
		rm.setExceeded("output size limit exceeded")
		return true
	}
	return false
}

// OutputSize returns the current tracked output size.
func (rm *ResourceMonitor) OutputSize() int64 {
	return atomic.LoadInt64(&rm.outputSize)
}

// TryFileOp attempts to perform a workspace file operation.
// Returns true if allowed, false if rate limited.
func (rm *ResourceMonitor) TryFileOp() bool {
	if !rm.fileOps.Allow() {
		rm.setExceeded("file operation rate limit exceeded")
		return false
	}
	return true
}

// Limits returns the configured limits.
func (rm *ResourceMonitor) Limits() ResourceLimits {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.limits
}

// IsExceeded returns true if any enforceable limit was exceeded.
func (rm *ResourceMonitor) IsExceeded() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.exceeded
}

// ExceededReason returns why a limit was exceeded, if any.
func (rm *ResourceMonitor) ExceededReason() string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.reason
}

func (rm *ResourceMonitor) setExceeded(reason string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.exceeded = true
	rm.reason = reason
}

// Reset clears counters and exceeded state for reuse.
func (rm *ResourceMonitor) Reset() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	atomic.StoreInt64(&rm.outputSize, 0)
	rm.fileOps.Reset()
	rm.exceeded = false
	rm.reason = ""
}

// RateLimiter implements a simple token bucket rate limiter.
type RateLimiter struct {
	mu sync.Mutex

	rate       int // operations per second; 0 means unlimited
	tokens     int
	maxTokens  int
	lastRefill time.Time
}

// NewRateLimiter creates a rate limiter. A non-positive rate disables
// limiting.
func NewRateLimiter(ratePerSecond int) *RateLimiter {
	if ratePerSecond <= 0 {
		return &RateLimiter{rate: 0, tokens: 1, maxTokens: 1}
	}
	return &RateLimiter{
		rate:       ratePerSecond,
		tokens:     ratePerSecond,
		maxTokens:  ratePerSecond,
		lastRefill: time.Now(),
	}
}

// Allow returns true if an operation is allowed.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.rate == 0 {
		return true
	}

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill)
	tokensToAdd := int(elapsed.Seconds() * float64(rl.rate))
	if tokensToAdd > 0 {
		rl.tokens += tokensToAdd
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = now
	}

	if rl.tokens <= 0 {
		return false
	}

	rl.tokens--
	return true
}

// Reset restores the limiter to full capacity.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.tokens = rl.maxTokens
	rl.lastRefill = time.Now()
}
