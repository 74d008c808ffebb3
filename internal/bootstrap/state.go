package bootstrap

import (
	"fmt"
	"sync"
)

// State is the lifecycle position of the bootstrapped process.
type State int

const (
	NotStarted State = iota
	Starting          // resolving entrypoint, creating the container
	Running           // serving
	Stopped           // terminal: signal, crash or clean exit
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var legalTransitions = map[State][]State{
	NotStarted: {Starting},
	Starting:   {Running, Stopped},
	Running:    {Stopped},
	Stopped:    {},
}

// Task tracks the single supervised process. Stopped is terminal: there is
// no restart edge, restart policy belongs to the orchestrator outside.
type Task struct {
	mu    sync.Mutex
	state State
}

func NewTask() *Task {
	return &Task{state: NotStarted}
}

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Transition moves the task to the next state or reports the illegal edge.
func (t *Task) Transition(to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, legal := range legalTransitions[t.state] {
		if legal == to {
			t.state = to
			return nil
		}
	}
	return fmt.Errorf("illegal state transition %s -> %s", t.state, to)
}
