package model

import "time"

type FileStatus string

const (
	FileProcessing FileStatus = "processing"
	FileCompleted  FileStatus = "completed"
	FileError      FileStatus = "error"
)

// LogFile tracks one uploaded batch and its processing status.
type LogFile struct {
	ID           string     `json:"id"`
	Filename     string     `json:"filename"`
	OriginalName string     `json:"originalName"`
	FileSize     int64      `json:"fileSize"`
	UploadDate   time.Time  `json:"uploadDate"`
	Status       FileStatus `json:"status"`
	TotalEntries int        `json:"totalEntries"`
	Owner        string     `json:"userId"`
	Error        string     `json:"error,omitempty"`
}

// ProcessingStats describes one processing run of a file.
type ProcessingStats struct {
	FileID     string        `json:"file_id"`
	Status     FileStatus    `json:"status"`
	Lines      int           `json:"lines"`
	Parsed     int           `json:"parsed"`
	Rejected   int           `json:"rejected"`
	Anomalies  int           `json:"anomalies"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
}
