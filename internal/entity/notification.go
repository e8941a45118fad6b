package entity

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationWarning NotificationType = "warning"
	NotificationError   NotificationType = "error"
	NotificationSuccess NotificationType = "success"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationInfo, NotificationWarning, NotificationError, NotificationSuccess:
		return true
	}
	return false
}

type RecipientType string

const (
	RecipientUser    RecipientType = "user"
	RecipientChannel RecipientType = "channel"
	RecipientAll     RecipientType = "all"
)

func (t RecipientType) Valid() bool {
	switch t {
	case RecipientUser, RecipientChannel, RecipientAll:
		return true
	}
	return false
}

// RecipientAllLiteral is stored as the recipient of registry-wide broadcasts.
const RecipientAllLiteral = "all"

// Notification is the payload pushed to live connections. Data is relayed
// verbatim and never inspected.
type Notification struct {
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Data      json.RawMessage  `json:"data,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Stamp sets the send time if the notification does not carry one yet.
func (n *Notification) Stamp(now time.Time) {
	if n.Timestamp.IsZero() {
		n.Timestamp = now.UTC()
	}
}

// HistoryRecord is the immutable persisted form of an accepted notification.
// Both secondary indexes sort by timestamp descending so "most recent N for
// X" is a range scan.
type HistoryRecord struct {
	ID            string           `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Timestamp     int64            `gorm:"primaryKey;autoIncrement:false;index:idx_history_recipient_ts,priority:2,sort:desc;index:idx_history_recipient_type_ts,priority:2,sort:desc" json:"timestamp"`
	CreatedAt     string           `gorm:"column:created_at;type:varchar(40);not null" json:"createdAt"`
	Type          NotificationType `gorm:"type:varchar(16);not null" json:"type"`
	Title         string           `gorm:"type:text;not null" json:"title"`
	Message       string           `gorm:"type:text;not null" json:"message"`
	Data          datatypes.JSON   `json:"data,omitempty"`
	Recipient     string           `gorm:"type:varchar(255);not null;index:idx_history_recipient_ts,priority:1" json:"recipient"`
	RecipientType RecipientType    `gorm:"type:varchar(16);not null;index:idx_history_recipient_type_ts,priority:1" json:"recipientType"`
}

func (HistoryRecord) TableName() string {
	return "notification_history"
}

const (
	IndexHistoryRecipient     = "idx_history_recipient_ts"
	IndexHistoryRecipientType = "idx_history_recipient_type_ts"
)
