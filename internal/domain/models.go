// Package domain defines the durable records produced by the edge-state
// service. Cache-resident state (rate-limit windows, event buffers, one-time
// codes) never appears here; only what survives a flush does.
package domain

import "time"

// FlushRecord is the append-only result of flushing one interaction's event
// log after it went idle. A session that becomes active again later yields
// another record with the same InteractionID.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - InteractionID: opaque session identifier supplied by the client.
//   - FlushedAt: UTC time the flush ran; records of one interaction sort by it.
//   - Summary: summarizer output, or the deterministic fallback.
//   - Events: every raw event read from the log, in arrival order.
//   - Fallback: true when Summary came from the fallback.
type FlushRecord struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	InteractionID string    `json:"interaction_id" gorm:"type:varchar(128);not null;index:idx_flush_interaction,priority:1"`
	FlushedAt     time.Time `json:"flushed_at"     gorm:"not null;index:idx_flush_interaction,priority:2"`
	Summary       string    `json:"summary"        gorm:"type:text;not null"`
	Events        []string  `json:"events"         gorm:"serializer:json;type:text;not null"`
	Fallback      bool      `json:"fallback"       gorm:"not null;default:false"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName returns the database table name for FlushRecord.
func (FlushRecord) TableName() string { return "flush_records" }

// EventCount is the number of raw events carried by the record.
func (r FlushRecord) EventCount() int { return len(r.Events) }
