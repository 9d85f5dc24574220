// Package models defines the persisted database models.
package models

import "time"

// RequestLog is one audit record per proxied request.
type RequestLog struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	RequestID    string    `gorm:"type:varchar(64);index" json:"request_id"`
	Timestamp    time.Time `gorm:"index" json:"timestamp"`
	Mode         string    `gorm:"type:varchar(16)" json:"mode"`
	Model        string    `gorm:"type:varchar(128)" json:"model"`
	Stream       bool      `json:"stream"`
	StatusCode   int       `json:"status_code"`
	DurationMs   int64     `json:"duration_ms"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`
}

// TableName overrides the default table name.
func (RequestLog) TableName() string {
	return "request_logs"
}
