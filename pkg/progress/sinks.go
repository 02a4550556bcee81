package progress

import (
	"fleetsync/pkg/fleet"
	"fleetsync/pkg/logger"
)

// LogSink writes events to a structured logger. Per-file events are logged at
// debug level so that a daemon does not flood its log with every map upload.
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	if log == nil {
		log = logger.NewDefault()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Report(e fleet.ProgressEvent) {
	fields := map[string]any{
		"host":            e.Hostname,
		"files_completed": e.FilesCompleted,
		"total_files":     e.TotalFiles,
	}
	if e.CurrentFile != "" {
		fields["file"] = e.CurrentFile
	}
	if e.Error != "" {
		fields["error"] = e.Error
	}

	switch e.Type {
	case fleet.EventFile:
		fields["succeeded"] = e.Succeeded
		s.log.Debug("file processed", fields)
	case fleet.EventRetry:
		fields["attempt"] = e.Attempt
		s.log.Debug("retrying", fields)
	case fleet.EventHostDone:
		fields["succeeded"] = e.Succeeded
		s.log.Info("host finished", fields)
	default:
		s.log.Debug(string(e.Type), fields)
	}
}

type tee []fleet.ProgressSink

func (t tee) Report(e fleet.ProgressEvent) {
	for _, s := range t {
		s.Report(e)
	}
}

// Tee fans events out to every non-nil sink in order.
func Tee(sinks ...fleet.ProgressSink) fleet.ProgressSink {
	var out tee
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}
