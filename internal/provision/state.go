// internal/provision/state.go
package provision

// State is the run state of one provisioning iteration. Exactly one run
// is active per loop iteration; any unrecoverable step failure resets
// to StateWaitingForDevice, discarding the iteration's partial progress
// (committed flash writes are not rolled back).
type State int

const (
	StateWaitingForDevice State = iota
	StateAwaitingTestResult
	StateMeasuring
	StateWritingEnvironment
	StateFlashing
	StateAwaitingMACInput
	StateSavingEnvironment
	StateComplete
	StateFailedRetryable
)

var stateNames = map[State]string{
	StateWaitingForDevice:   "waiting-for-device",
	StateAwaitingTestResult: "awaiting-test-result",
	StateMeasuring:          "measuring",
	StateWritingEnvironment: "writing-environment",
	StateFlashing:           "flashing",
	StateAwaitingMACInput:   "awaiting-mac-input",
	StateSavingEnvironment:  "saving-environment",
	StateComplete:           "complete",
	StateFailedRetryable:    "failed-retryable",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Event is a synthetic input to the transition function. The runner
// maps real I/O outcomes onto these; tests feed them directly.
type Event int

const (
	EventDeviceReady Event = iota
	EventDeviceMissing
	EventTestsPassed
	EventTestsFailed
	EventMeasured
	EventMeasureFailed
	EventEnvWritten
	EventFlashed
	EventMACAccepted
	EventEnvSaved
	EventTimeout
	EventStreamClosed
	EventProtocolFault
)

// Next is the pure transition function.
//
// Stream death always resets to device discovery. A timeout while
// awaiting the test verdict re-enters the same wait (the session
// survives); a timeout anywhere later is unrecoverable for the
// iteration. Protocol and measurement faults abort the run but are
// retryable on the next iteration.
func Next(s State, e Event) State {
	switch e {
	case EventStreamClosed:
		return StateWaitingForDevice
	case EventProtocolFault, EventMeasureFailed:
		return StateFailedRetryable
	}

	switch s {
	case StateWaitingForDevice:
		switch e {
		case EventDeviceReady:
			return StateAwaitingTestResult
		case EventDeviceMissing, EventTimeout:
			return StateWaitingForDevice
		}

	case StateAwaitingTestResult:
		switch e {
		case EventTestsPassed:
			return StateMeasuring
		case EventTestsFailed:
			return StateFailedRetryable
		case EventTimeout:
			return StateAwaitingTestResult
		}

	case StateMeasuring:
		if e == EventMeasured {
			return StateWritingEnvironment
		}

	case StateWritingEnvironment:
		switch e {
		case EventEnvWritten:
			return StateFlashing
		case EventTimeout:
			return StateFailedRetryable
		}

	case StateFlashing:
		switch e {
		case EventFlashed:
			return StateAwaitingMACInput
		case EventTimeout:
			return StateFailedRetryable
		}

	case StateAwaitingMACInput:
		// Invalid input re-prompts inside the state; only acceptance
		// or a dead stream moves on.
		if e == EventMACAccepted {
			return StateSavingEnvironment
		}

	case StateSavingEnvironment:
		switch e {
		case EventEnvSaved:
			return StateComplete
		case EventTimeout:
			return StateFailedRetryable
		}

	case StateComplete, StateFailedRetryable:
		// Terminal for the iteration; the next one starts fresh.
		return StateWaitingForDevice
	}

	return StateFailedRetryable
}
