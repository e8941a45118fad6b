package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"anoa.com/notifyhub/internal/entity"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultLimit = 50

// HistoryFilter selects records for a history read. Recipient dominates
// RecipientType; with neither set the read falls back to the unfiltered scan.
type HistoryFilter struct {
	RecipientType entity.RecipientType
	Recipient     string
	Limit         int
}

type HistoryRepository interface {
	EnsureSchema(ctx context.Context) error
	Save(ctx context.Context, n entity.Notification, recipient string, recipientType entity.RecipientType) (*entity.HistoryRecord, error)
	FindByRecipient(ctx context.Context, recipient string, limit int) ([]entity.HistoryRecord, error)
	FindByRecipientType(ctx context.Context, recipientType entity.RecipientType, limit int) ([]entity.HistoryRecord, error)
	FindRecent(ctx context.Context, limit int) ([]entity.HistoryRecord, error)
	Query(ctx context.Context, filter HistoryFilter) ([]entity.HistoryRecord, error)
}

type historyRepository struct {
	db     *gorm.DB
	logger zerolog.Logger
	now    func() time.Time
}

func NewHistoryRepository(db *gorm.DB, logger zerolog.Logger) HistoryRepository {
	return &historyRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// EnsureSchema creates the history table and both secondary indexes when
// missing. A concurrent instance winning the race is not an error.
func (r *historyRepository) EnsureSchema(ctx context.Context) error {
	model := &entity.HistoryRecord{}
	m := r.db.WithContext(ctx).Migrator()

	if !m.HasTable(model) {
		if err := m.CreateTable(model); err != nil {
			if !isAlreadyExists(err) {
				return fmt.Errorf("create notification history table: %w", err)
			}
			r.logger.Info().Err(err).Msg("history table created concurrently, continuing")
		}
	}

	if !m.HasTable(model) {
		return fmt.Errorf("notification history table missing after provisioning")
	}

	for _, idx := range []string{entity.IndexHistoryRecipient, entity.IndexHistoryRecipientType} {
		if m.HasIndex(model, idx) {
			continue
		}
		if err := m.CreateIndex(model, idx); err != nil && !isAlreadyExists(err) {
			return fmt.Errorf("create index %s: %w", idx, err)
		}
	}

	return nil
}

func (r *historyRepository) Save(ctx context.Context, n entity.Notification, recipient string, recipientType entity.RecipientType) (*entity.HistoryRecord, error) {
	n.Stamp(r.now())
	ts := n.Timestamp.UnixMilli()

	record := &entity.HistoryRecord{
		ID:            newRecordID(ts),
		Timestamp:     ts,
		CreatedAt:     formatISO(ts),
		Type:          n.Type,
		Title:         n.Title,
		Message:       n.Message,
		Recipient:     recipient,
		RecipientType: recipientType,
	}
	if len(n.Data) > 0 {
		record.Data = datatypes.JSON(n.Data)
	}

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("save notification history: %w", err)
	}
	return record, nil
}

func (r *historyRepository) FindByRecipient(ctx context.Context, recipient string, limit int) ([]entity.HistoryRecord, error) {
	return r.find(r.db.WithContext(ctx).Where(&entity.HistoryRecord{Recipient: recipient}), limit)
}

func (r *historyRepository) FindByRecipientType(ctx context.Context, recipientType entity.RecipientType, limit int) ([]entity.HistoryRecord, error) {
	return r.find(r.db.WithContext(ctx).Where(&entity.HistoryRecord{RecipientType: recipientType}), limit)
}

// FindRecent is the unfiltered fallback and may scan the whole table.
func (r *historyRepository) FindRecent(ctx context.Context, limit int) ([]entity.HistoryRecord, error) {
	return r.find(r.db.WithContext(ctx), limit)
}

func (r *historyRepository) Query(ctx context.Context, filter HistoryFilter) ([]entity.HistoryRecord, error) {
	switch {
	case filter.Recipient != "":
		return r.FindByRecipient(ctx, filter.Recipient, filter.Limit)
	case filter.RecipientType != "":
		return r.FindByRecipientType(ctx, filter.RecipientType, filter.Limit)
	default:
		return r.FindRecent(ctx, filter.Limit)
	}
}

func (r *historyRepository) find(tx *gorm.DB, limit int) ([]entity.HistoryRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	records := make([]entity.HistoryRecord, 0, limit)
	err := tx.
		Order(clause.OrderBy{Columns: []clause.OrderByColumn{
			{Column: clause.Column{Name: "timestamp"}, Desc: true},
			{Column: clause.Column{Name: "id"}, Desc: true},
		}}).
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("query notification history: %w", err)
	}
	return records, nil
}

// newRecordID is "<epoch ms>-<random>" so ids sort roughly by time and
// never collide within the same millisecond.
func newRecordID(ts int64) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return strconv.FormatInt(ts, 10) + "-" + suffix
}

func formatISO(ts int64) string {
	return time.UnixMilli(ts).UTC().Format("2006-01-02T15:04:05.000Z")
}

// Postgres codes: duplicate_table, duplicate_object, and unique_violation on
// pg_type when two CREATE TABLE statements race.
var alreadyExistsCodes = map[string]bool{
	"42P07": true,
	"42710": true,
	"23505": true,
}

func isAlreadyExists(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return alreadyExistsCodes[pgErr.Code]
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}
