// Package events provides an event system for run, failover and sandbox notifications.
package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventRunStarted is emitted when a scenario begins
	EventRunStarted EventType = "run_started"
	// EventPhaseCompleted is emitted when an executor finishes one phase
	EventPhaseCompleted EventType = "phase_completed"
	// EventConnectionLost is emitted when an operation fails with a connection-lost error
	EventConnectionLost EventType = "connection_lost"
	// EventReconnected is emitted after the handle has been rebuilt
	EventReconnected EventType = "reconnected"
	// EventOutageInjected is emitted when the injector stepped down a primary
	EventOutageInjected EventType = "outage_injected"
	// EventOutageFailed is emitted when the injector could not step down any primary
	EventOutageFailed EventType = "outage_failed"
	// EventWorkerFailed is emitted when a parallel worker ends with an error or times out
	EventWorkerFailed EventType = "worker_failed"
	// EventRunCompleted is emitted when a scenario produced its result
	EventRunCompleted EventType = "run_completed"
	// EventNodeStopped is emitted when a sandbox node goes down
	EventNodeStopped EventType = "node_stopped"
	// EventNodeRecovered is emitted when a sandbox node is restarted or resumed
	EventNodeRecovered EventType = "node_recovered"
)

// Event represents a single notification
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id,omitempty"`
	Source    string    `json:"source,omitempty"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	Scenario  string `json:"scenario,omitempty"`
	DataType  string `json:"data_type,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Status    string `json:"status,omitempty"`
	Load      int    `json:"load,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Endpoints int    `json:"endpoints,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	Error     string `json:"error,omitempty"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// NewRunStartedEvent creates a run started event
func NewRunStartedEvent(runID, scenario, dataType string, load int) Event {
	return Event{
		Type:      EventRunStarted,
		Timestamp: time.Now(),
		RunID:     runID,
		Data: EventData{
			Scenario: scenario,
			DataType: dataType,
			Load:     load,
		},
	}
}

// NewPhaseCompletedEvent creates a phase completed event for one client
func NewPhaseCompletedEvent(runID, clientID, dataType, phase string, elapsed time.Duration) Event {
	return Event{
		Type:      EventPhaseCompleted,
		Timestamp: time.Now(),
		RunID:     runID,
		Source:    clientID,
		Data: EventData{
			DataType:  dataType,
			Phase:     phase,
			ElapsedMs: elapsed.Milliseconds(),
		},
	}
}

// NewConnectionLostEvent creates a connection lost event
func NewConnectionLostEvent(runID, clientID, phase string, attempt int, err error) Event {
	return Event{
		Type:      EventConnectionLost,
		Timestamp: time.Now(),
		RunID:     runID,
		Source:    clientID,
		Data: EventData{
			Phase:   phase,
			Attempt: attempt,
			Error:   errString(err),
		},
	}
}

// NewReconnectedEvent creates a reconnected event
func NewReconnectedEvent(runID, clientID string, attempt int) Event {
	return Event{
		Type:      EventReconnected,
		Timestamp: time.Now(),
		RunID:     runID,
		Source:    clientID,
		Data: EventData{
			Attempt: attempt,
		},
	}
}

// NewOutageInjectedEvent creates an outage injected event
func NewOutageInjectedEvent(runID, mode string, endpoints int) Event {
	return Event{
		Type:      EventOutageInjected,
		Timestamp: time.Now(),
		RunID:     runID,
		Source:    "injector",
		Data: EventData{
			Mode:      mode,
			Endpoints: endpoints,
		},
	}
}

// NewOutageFailedEvent creates an outage failed event
func NewOutageFailedEvent(runID, mode string, err error) Event {
	return Event{
		Type:      EventOutageFailed,
		Timestamp: time.Now(),
		RunID:     runID,
		Source:    "injector",
		Data: EventData{
			Mode:  mode,
			Error: errString(err),
		},
	}
}

// NewWorkerFailedEvent creates a worker failed event
func NewWorkerFailedEvent(runID, clientID string, err error) Event {
	return Event{
		Type:      EventWorkerFailed,
		Timestamp: time.Now(),
		RunID:     runID,
		Source:    clientID,
		Data: EventData{
			Error: errString(err),
		},
	}
}

// NewRunCompletedEvent creates a run completed event
func NewRunCompletedEvent(runID, scenario, status string) Event {
	return Event{
		Type:      EventRunCompleted,
		Timestamp: time.Now(),
		RunID:     runID,
		Data: EventData{
			Scenario: scenario,
			Status:   status,
		},
	}
}

// NewNodeStoppedEvent creates a node stopped event
func NewNodeStoppedEvent(nodeID, mode string) Event {
	return Event{
		Type:      EventNodeStopped,
		Timestamp: time.Now(),
		Source:    nodeID,
		Data: EventData{
			Mode: mode,
		},
	}
}

// NewNodeRecoveredEvent creates a node recovered event
func NewNodeRecoveredEvent(nodeID string, attempt int, err error) Event {
	return Event{
		Type:      EventNodeRecovered,
		Timestamp: time.Now(),
		Source:    nodeID,
		Data: EventData{
			Attempt: attempt,
			Error:   errString(err),
		},
	}
}
