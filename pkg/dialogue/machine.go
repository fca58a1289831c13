package dialogue

import "fmt"

// JobState tracks one submission from the client's side.
type JobState string

const (
	StateIdle       JobState = "idle"
	StateSubmitted  JobState = "submitted"
	StateProcessing JobState = "processing"
	StateStreaming  JobState = "streaming"
	StateComplete   JobState = "complete"
	StateError      JobState = "error"
)

/*
Machine is the per-submission state machine:

	idle -> submitted -> processing -> streaming* -> complete | error

Terminal states are final; a new submission gets a fresh Machine. Observe
ignores events carrying a different job id, so one machine can be fed the
whole dialogue stream.
*/
type Machine struct {
	state JobState
	jobID string
}

func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

func (m *Machine) State() JobState { return m.state }

func (m *Machine) Terminal() bool {
	return m.state == StateComplete || m.state == StateError
}

// Submitted records the accepted enqueue and pins the machine to its job id.
func (m *Machine) Submitted(jobID string) error {
	if m.state != StateIdle {
		return fmt.Errorf("submit from state %q", m.state)
	}
	m.state = StateSubmitted
	m.jobID = jobID
	return nil
}

// Observe advances the machine for a stream event. Events for other jobs and
// events arriving after a terminal state are ignored.
func (m *Machine) Observe(ev Event) {
	if m.Terminal() || m.state == StateIdle {
		return
	}
	if m.jobID != "" && ev.JobID.String() != m.jobID {
		return
	}
	switch ev.Type {
	case EventProcessing:
		if m.state == StateSubmitted {
			m.state = StateProcessing
		}
	case EventProgress, EventMessage:
		m.state = StateStreaming
	case EventComplete:
		m.state = StateComplete
	case EventError:
		m.state = StateError
	}
}
