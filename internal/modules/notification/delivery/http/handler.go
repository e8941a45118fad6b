package handler

import (
	"net/http"

	"anoa.com/notifyhub/internal/entity"
	"anoa.com/notifyhub/internal/modules/notification/dto"
	notifRepo "anoa.com/notifyhub/internal/modules/notification/repository"
	notifService "anoa.com/notifyhub/internal/modules/notification/service"
	search "anoa.com/notifyhub/internal/modules/search/service"
	"anoa.com/notifyhub/pkg/response"
	"anoa.com/notifyhub/pkg/validator"
	"github.com/gin-gonic/gin"
)

type NotificationHandler struct {
	service notifService.NotificationService
	search  search.HistorySearchService
}

// NewNotificationHandler builds the producer and operator endpoints.
// searchSvc may be nil when history search is not configured.
func NewNotificationHandler(service notifService.NotificationService, searchSvc search.HistorySearchService) *NotificationHandler {
	return &NotificationHandler{
		service: service,
		search:  searchSvc,
	}
}

func (h *NotificationHandler) Broadcast(c *gin.Context) {
	h.send(c, func(n entity.Notification) (*notifService.SendResult, error) {
		return h.service.SendToAll(c.Request.Context(), n)
	})
}

func (h *NotificationHandler) SendToUser(c *gin.Context) {
	userID := c.Param("userId")
	h.send(c, func(n entity.Notification) (*notifService.SendResult, error) {
		return h.service.SendToUser(c.Request.Context(), userID, n)
	})
}

func (h *NotificationHandler) SendToChannel(c *gin.Context) {
	channel := c.Param("channel")
	h.send(c, func(n entity.Notification) (*notifService.SendResult, error) {
		return h.service.SendToChannel(c.Request.Context(), channel, n)
	})
}

func (h *NotificationHandler) send(c *gin.Context, fn func(entity.Notification) (*notifService.SendResult, error)) {
	var req dto.SendNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	result, err := fn(req.ToNotification())
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SendResponse{
		Success: result.Accepted,
		Message: result.TargetDescription,
	})
}

func (h *NotificationHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.GetStats(c.Request.Context()))
}

func (h *NotificationHandler) GetHistory(c *gin.Context) {
	var q dto.HistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	records, err := h.service.GetHistory(c.Request.Context(), notifRepo.HistoryFilter{
		RecipientType: entity.RecipientType(q.RecipientType),
		Recipient:     q.Recipient,
		Limit:         q.Limit,
	})
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.HistoryResponse{
		Success: true,
		Data:    records,
		Count:   len(records),
	})
}

func (h *NotificationHandler) GetSearchToken(c *gin.Context) {
	if h.search == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history search is not configured"})
		return
	}

	token, err := h.search.GenerateSearchToken(c.Query("recipient"))
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SearchTokenResponse{
		Token:     token.Token,
		Index:     token.Index,
		ExpiresAt: token.ExpiresAt,
	})
}
