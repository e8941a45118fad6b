package dto

import (
	"encoding/json"
	"time"

	"anoa.com/notifyhub/internal/entity"
)

// SendNotificationRequest is the producer-facing body for every send route.
type SendNotificationRequest struct {
	Type    string          `json:"type" binding:"required,oneof=info warning error success"`
	Title   string          `json:"title" binding:"required,max=255"`
	Message string          `json:"message" binding:"required"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (r SendNotificationRequest) ToNotification() entity.Notification {
	return entity.Notification{
		Type:    entity.NotificationType(r.Type),
		Title:   r.Title,
		Message: r.Message,
		Data:    r.Data,
	}
}

type SendResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type HistoryQuery struct {
	RecipientType string `form:"recipientType" binding:"omitempty,oneof=user channel all"`
	Recipient     string `form:"recipient"`
	Limit         int    `form:"limit" binding:"omitempty,min=1"`
}

type HistoryResponse struct {
	Success bool                   `json:"success"`
	Data    []entity.HistoryRecord `json:"data"`
	Count   int                    `json:"count"`
}

type StatsResponse struct {
	ConnectedClients int `json:"connectedClients"`
}

type SearchTokenResponse struct {
	Token     string    `json:"token"`
	Index     string    `json:"index"`
	ExpiresAt time.Time `json:"expiresAt"`
}
