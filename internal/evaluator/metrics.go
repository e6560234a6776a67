package evaluator

import (
	"sync"
	"time"
)

// Metrics tracks statistics about intent execution.
type Metrics struct {
	IntentsExecuted     int
	IntentsSuccessful   int
	IntentsFailed       int
	IntentsRecoverable  int
	IntentsRetried      int
	TotalDuration       time.Duration
	LongestIntentTime   time.Duration
	ShortestIntentTime  time.Duration
	LastEvaluationStart time.Time

	mu sync.Mutex
}

// Copy returns a snapshot without the mutex.
func (m *Metrics) Copy() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Metrics{
		IntentsExecuted:     m.IntentsExecuted,
		IntentsSuccessful:   m.IntentsSuccessful,
		IntentsFailed:       m.IntentsFailed,
		IntentsRecoverable:  m.IntentsRecoverable,
		IntentsRetried:      m.IntentsRetried,
		TotalDuration:       m.TotalDuration,
		LongestIntentTime:   m.LongestIntentTime,
		ShortestIntentTime:  m.ShortestIntentTime,
		LastEvaluationStart: m.LastEvaluationStart,
	}
}

type intentOutcome int

const (
	outcomeSuccess intentOutcome = iota
	outcomeFailed
	outcomeRecoverable
	outcomeRetry
)

// record counts one tool invocation.
func (m *Metrics) record(o intentOutcome, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.IntentsExecuted++
	m.TotalDuration += d
	if d > m.LongestIntentTime {
		m.LongestIntentTime = d
	}
	if m.ShortestIntentTime == 0 || (d < m.ShortestIntentTime && d > 0) {
		m.ShortestIntentTime = d
	}
	switch o {
	case outcomeSuccess:
		m.IntentsSuccessful++
	case outcomeRecoverable:
		m.IntentsRecoverable++
	case outcomeRetry:
		m.IntentsRetried++
	default:
		m.IntentsFailed++
	}
}

func (m *Metrics) started() {
	m.mu.Lock()
	m.LastEvaluationStart = time.Now()
	m.mu.Unlock()
}
