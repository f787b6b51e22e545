package models

import (
	"encoding/json"
	"time"
)

// DataRefreshExecution is one data-refresh run. The orchestrator that created
// the row is its sole writer while status is running; afterwards the row is
// immutable history and never deleted.
type DataRefreshExecution struct {
	ID                    int        `gorm:"primary_key" json:"id"`
	Status                string     `gorm:"index;size:20;not null" json:"status"`
	StartedBy             int        `gorm:"index;not null" json:"started_by"`
	StartedAt             time.Time  `gorm:"index;not null" json:"started_at"`
	CompletedAt           *time.Time `json:"completed_at"`
	DurationSeconds       *int       `json:"duration_seconds"`
	TotalRecordsProcessed int        `gorm:"not null;default:0" json:"total_records_processed"`
	ErrorMessage          *string    `gorm:"type:text" json:"error_message"`
	ProgressPercentage    int        `gorm:"not null;default:0" json:"progress_percentage"`
	CurrentStep           string     `gorm:"size:100" json:"current_step"`
	DetailsJSON           []byte     `gorm:"type:json" json:"details"`
	CreatedAt             time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// RefreshJobResult is the outcome of one source job within an execution.
// Immutable once written into the execution's details.
type RefreshJobResult struct {
	Name     string  `json:"name"`
	Key      string  `json:"key"`
	Success  bool    `json:"success"`
	Duration float64 `json:"duration"`
	Records  int     `json:"records"`
	Error    string  `json:"error,omitempty"`
	Output   string  `json:"output,omitempty"`
}

type RefreshExecutionDetails struct {
	Jobs []RefreshJobResult `json:"jobs"`
}

func EncodeRefreshDetails(jobs []RefreshJobResult) []byte {
	b, _ := json.Marshal(RefreshExecutionDetails{Jobs: jobs})
	return b
}

func DecodeRefreshDetails(raw []byte) RefreshExecutionDetails {
	if len(raw) == 0 {
		return RefreshExecutionDetails{}
	}
	var details RefreshExecutionDetails
	if err := json.Unmarshal(raw, &details); err != nil {
		return RefreshExecutionDetails{}
	}
	return details
}
