package model

import "time"

// Export job states.
const (
	ExportStateRequested  = "requested"
	ExportStateRecording  = "recording"
	ExportStateConverting = "converting"
	ExportStateDone       = "done"
	ExportStateAborted    = "aborted"
)

// ExportRecord persists one export job's outcome for the history listing.
type ExportRecord struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Filename    string    `gorm:"size:255" json:"filename"`
	MIMEType    string    `gorm:"size:64" json:"mimeType"`
	SizeBytes   int64     `json:"sizeBytes"`
	DurationSec float64   `json:"durationSec"`
	State       string    `gorm:"size:16;index" json:"state"`
	ErrorMsg    string    `gorm:"size:1024" json:"errorMsg,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TableName sets the table used by GORM.
func (ExportRecord) TableName() string {
	return "export_records"
}
