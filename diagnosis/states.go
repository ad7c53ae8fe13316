package diagnosis

import "time"

// State 诊断流水线状态
type State string

const (
	StateFetchingBase        State = "FETCHING_BASE"
	StateFetchingHistory     State = "FETCHING_HISTORY"
	StateFingerprinting      State = "FINGERPRINTING"
	StateCacheCheck          State = "CACHE_CHECK"
	StateCacheHit            State = "CACHE_HIT"
	StateComputingIndicators State = "COMPUTING_INDICATORS"
	StatePromptingLLM        State = "PROMPTING_LLM"
	StateParsingResponse     State = "PARSING_RESPONSE"
	StateCacheWrite          State = "CACHE_WRITE"
	StateDone                State = "DONE"
	StateFailed              State = "FAILED"
)

// Event is published on every state transition.
type Event struct {
	RequestID string    `json:"request_id,omitempty"`
	Code      string    `json:"code"`
	Category  string    `json:"category"`
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Observer receives state events. Implementations must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Observers fans one event out to several observers in order.
type Observers []Observer

func (obs Observers) Observe(e Event) {
	for _, o := range obs {
		if o != nil {
			o.Observe(e)
		}
	}
}
