package fleet

type EventType string

const (
	EventConnected EventType = "connected"
	EventFile      EventType = "file"
	EventRetry     EventType = "retry"
	EventHostDone  EventType = "host_done"
)

// ProgressEvent is emitted by host jobs as they make progress. Succeeded
// refers to the single file for EventFile and to the whole host for EventHostDone.
type ProgressEvent struct {
	Type           EventType `json:"type"`
	Hostname       string    `json:"hostname"`
	CurrentFile    string    `json:"current_file,omitempty"`
	FilesCompleted int       `json:"files_completed"`
	TotalFiles     int       `json:"total_files"`
	Succeeded      bool      `json:"succeeded"`
	Attempt        int       `json:"attempt,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// ProgressSink receives events from many host jobs at once. Implementations
// must be safe for concurrent use and must return quickly.
type ProgressSink interface {
	Report(ProgressEvent)
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(ProgressEvent)

func (f SinkFunc) Report(e ProgressEvent) { f(e) }

type nopSink struct{}

func (nopSink) Report(ProgressEvent) {}

// NopSink discards every event.
func NopSink() ProgressSink { return nopSink{} }
