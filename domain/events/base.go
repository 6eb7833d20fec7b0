package events

import (
	"time"
)

// SourceBackend identifies this service as the event source on the bus
const SourceBackend = "canvas-backend"

// DomainEvent is the base interface for all domain events
// Events represent something that has happened in the past
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetTimestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }

// StateSynced is raised when a transaction batch is applied and persisted
type StateSynced struct {
	BaseEvent
	CanvasID         string `json:"canvas_id"`
	Version          string `json:"version"`
	TransactionCount int    `json:"transaction_count"`
}

// NewStateSynced creates a StateSynced event
func NewStateSynced(canvasID, version string, transactionCount int) StateSynced {
	return StateSynced{
		BaseEvent: BaseEvent{
			AggregateID: canvasID,
			EventType:   "canvas.synced",
			Timestamp:   time.Now().UTC(),
		},
		CanvasID:         canvasID,
		Version:          version,
		TransactionCount: transactionCount,
	}
}

// VersionCreated is raised when a canvas state is sealed into a new
// immutable version
type VersionCreated struct {
	BaseEvent
	CanvasID        string `json:"canvas_id"`
	Version         string `json:"version"`
	PreviousVersion string `json:"previous_version,omitempty"`
	Hash            string `json:"hash"`
	NodeCount       int    `json:"node_count"`
	EdgeCount       int    `json:"edge_count"`
}

// NewVersionCreated creates a VersionCreated event
func NewVersionCreated(canvasID, version, previousVersion, hash string, nodeCount, edgeCount int) VersionCreated {
	return VersionCreated{
		BaseEvent: BaseEvent{
			AggregateID: canvasID,
			EventType:   "canvas.version_created",
			Timestamp:   time.Now().UTC(),
		},
		CanvasID:        canvasID,
		Version:         version,
		PreviousVersion: previousVersion,
		Hash:            hash,
		NodeCount:       nodeCount,
		EdgeCount:       edgeCount,
	}
}

// NodesAdded is raised when the mutation engine inserts nodes into a canvas
type NodesAdded struct {
	BaseEvent
	CanvasID  string   `json:"canvas_id"`
	NodeIDs   []string `json:"node_ids"`
	EdgeCount int      `json:"edge_count"`
}

// NewNodesAdded creates a NodesAdded event
func NewNodesAdded(canvasID string, nodeIDs []string, edgeCount int) NodesAdded {
	return NodesAdded{
		BaseEvent: BaseEvent{
			AggregateID: canvasID,
			EventType:   "canvas.nodes_added",
			Timestamp:   time.Now().UTC(),
		},
		CanvasID:  canvasID,
		NodeIDs:   nodeIDs,
		EdgeCount: edgeCount,
	}
}

// StateOverwritten is raised when a conflict-resolution caller force-writes
// a full state
type StateOverwritten struct {
	BaseEvent
	CanvasID string `json:"canvas_id"`
	Version  string `json:"version"`
}

// NewStateOverwritten creates a StateOverwritten event
func NewStateOverwritten(canvasID, version string) StateOverwritten {
	return StateOverwritten{
		BaseEvent: BaseEvent{
			AggregateID: canvasID,
			EventType:   "canvas.state_overwritten",
			Timestamp:   time.Now().UTC(),
		},
		CanvasID: canvasID,
		Version:  version,
	}
}
