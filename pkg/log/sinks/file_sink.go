package sinks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/arnavsurve/stepwright/pkg/log"
)

// FileSink appends every event as one JSON object per line. The task's log
// file ends up inside the trajectory archive.
type FileSink struct {
	file *os.File
}

func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory for %q: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %q: %w", path, err)
	}
	return &FileSink{file: f}, nil
}

func (fs *FileSink) Write(event *log.LogEvent) error {
	entry := make(map[string]any, len(event.Fields)+3)
	for k, v := range event.Fields {
		entry[k] = v
	}
	entry["level"] = log.LevelString(event.Level)
	entry["time"] = event.Timestamp
	entry["message"] = event.Message

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log event for file sink: %w", err)
	}
	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write to file sink: %w", err)
	}
	return nil
}

func (fs *FileSink) Close() error {
	if fs.file != nil {
		return fs.file.Close()
	}
	return nil
}
