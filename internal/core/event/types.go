package event

import "time"

type EventType string

const (
	// Job lifecycle
	EventJobCreated      EventType = "job.created"
	EventJobDispatched   EventType = "job.dispatched"
	EventJobProgress     EventType = "job.progress"
	EventJobPaused       EventType = "job.paused"
	EventJobResumed      EventType = "job.resumed"
	EventJobTransferDone EventType = "job.transfer_done"
	EventJobCompleted    EventType = "job.completed"
	EventJobDeleted      EventType = "job.deleted"

	// Post-processing
	EventEnrichmentFailed EventType = "enrichment.failed"
)

type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   any
}

type JobEvent struct {
	JobID    string
	Engine   string
	Handle   string
	Status   string
	Progress float64
	SavePath string
	Error    string
}

type EnrichmentEvent struct {
	JobID string
	Step  string
	Error string
}
