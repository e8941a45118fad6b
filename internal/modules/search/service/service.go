package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"anoa.com/notifyhub/internal/entity"
	"anoa.com/notifyhub/pkg/apperror"
	"github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
)

const (
	HistoryIndex = "notification_history"

	signingKeyName = "NotificationHistorySigner"
	tokenTTL       = 24 * time.Hour
)

// ErrSigningKeyUnavailable is returned when no tenant token signing key
// could be found or created at startup.
var ErrSigningKeyUnavailable = fmt.Errorf("search token signing key not initialized: %w", apperror.ErrUnavailable)

type SearchToken struct {
	Token     string
	Index     string
	ExpiresAt time.Time
}

type HistorySearchService interface {
	IndexRecord(ctx context.Context, record *entity.HistoryRecord) error
	GenerateSearchToken(recipient string) (*SearchToken, error)
}

type historySearchService struct {
	client        meilisearch.ServiceManager
	signingKeyUID string
	signingKey    string
	logger        zerolog.Logger
	now           func() time.Time
}

func NewHistorySearchService(client meilisearch.ServiceManager, logger zerolog.Logger) HistorySearchService {
	s := &historySearchService{
		client: client,
		logger: logger,
		now:    time.Now,
	}
	s.initIndex()
	s.initSigningKey()
	return s
}

func (s *historySearchService) initIndex() {
	filterable := []any{"recipient", "recipientType", "type"}
	if _, err := s.client.Index(HistoryIndex).UpdateFilterableAttributes(&filterable); err != nil {
		s.logger.Warn().Err(err).Msg("failed to update history filterable attributes")
	}

	sortable := []string{"timestamp"}
	if _, err := s.client.Index(HistoryIndex).UpdateSortableAttributes(&sortable); err != nil {
		s.logger.Warn().Err(err).Msg("failed to update history sortable attributes")
	}
}

// initSigningKey reuses the named signing key when it exists and creates
// it otherwise. Failure leaves token generation disabled.
func (s *historySearchService) initSigningKey() {
	resp, err := s.client.GetKeys(&meilisearch.KeysQuery{Limit: 20})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to list meilisearch keys")
		return
	}

	for _, key := range resp.Results {
		if key.Name == signingKeyName {
			s.signingKeyUID = key.UID
			s.signingKey = key.Key
			s.logger.Info().Str("key_uid", key.UID).Msg("using existing search signing key")
			return
		}
	}

	key, err := s.client.CreateKey(&meilisearch.Key{
		Name:        signingKeyName,
		Description: "Signs tenant tokens scoped to one recipient's notification history",
		Actions:     []string{"search"},
		Indexes:     []string{HistoryIndex},
		ExpiresAt:   s.now().AddDate(100, 0, 0),
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to create search signing key")
		return
	}

	s.signingKeyUID = key.UID
	s.signingKey = key.Key
	s.logger.Info().Str("key_uid", key.UID).Msg("created search signing key")
}

type historyDoc struct {
	ID            string `json:"id"`
	Recipient     string `json:"recipient"`
	RecipientType string `json:"recipientType"`
	Type          string `json:"type"`
	Title         string `json:"title"`
	Message       string `json:"message"`
	Timestamp     int64  `json:"timestamp"`
	CreatedAt     string `json:"createdAt"`
}

func (s *historySearchService) IndexRecord(ctx context.Context, record *entity.HistoryRecord) error {
	if record == nil {
		return errors.New("nil history record")
	}

	doc := historyDoc{
		ID:            record.ID,
		Recipient:     record.Recipient,
		RecipientType: string(record.RecipientType),
		Type:          string(record.Type),
		Title:         record.Title,
		Message:       record.Message,
		Timestamp:     record.Timestamp,
		CreatedAt:     record.CreatedAt,
	}

	task, err := s.client.Index(HistoryIndex).AddDocumentsWithContext(ctx, []historyDoc{doc}, strPtr("id"))
	if err != nil {
		return fmt.Errorf("index history record %s: %w", record.ID, err)
	}
	s.logger.Debug().Str("record_id", record.ID).Int64("task_uid", task.TaskUID).Msg("history record indexed")
	return nil
}

// GenerateSearchToken issues a tenant token that can only see records
// addressed to recipient plus broadcasts to everyone.
func (s *historySearchService) GenerateSearchToken(recipient string) (*SearchToken, error) {
	if s.signingKeyUID == "" || s.signingKey == "" {
		return nil, ErrSigningKeyUnavailable
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return nil, fmt.Errorf("recipient is required: %w", apperror.ErrValidation)
	}

	searchRules := map[string]any{
		HistoryIndex: map[string]any{
			"filter": recipientFilter(recipient),
		},
	}

	expiresAt := s.now().Add(tokenTTL)
	token, err := s.client.GenerateTenantToken(s.signingKeyUID, searchRules, &meilisearch.TenantTokenOptions{
		APIKey:    s.signingKey,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("generate tenant token: %w", err)
	}

	return &SearchToken{Token: token, Index: HistoryIndex, ExpiresAt: expiresAt}, nil
}

var filterEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func recipientFilter(recipient string) string {
	return fmt.Sprintf(`recipient = "%s" OR recipientType = "%s"`, filterEscaper.Replace(recipient), entity.RecipientAll)
}

func strPtr(s string) *string {
	return &s
}
