package domain

import "time"

// TrackerProgress represents the current reading progress of a tracked file
type TrackerProgress struct {
	Timestamp     time.Time
	TrackerID     string
	FilePath      string // Full path to the file
	FileName      string // Just filename for easier reading in logs
	State         string
	FileSizeBytes int64 // Last observed file size
	OffsetBytes   int64 // Current reading position
	LinesRead     int64 // Number of lines delivered so far
	LastModTime   time.Time
	Truncations   uint32 // Number of shrink or replacement events handled
}
