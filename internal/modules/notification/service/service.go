package service

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"anoa.com/notifyhub/internal/entity"
	"anoa.com/notifyhub/internal/modules/notification/dto"
	notifRepo "anoa.com/notifyhub/internal/modules/notification/repository"
	"anoa.com/notifyhub/internal/realtime"
	"anoa.com/notifyhub/pkg/apperror"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Publisher forwards an accepted notification to peer instances.
type Publisher interface {
	Publish(ctx context.Context, target realtime.Target, payload []byte) error
}

// Indexer makes saved history records searchable.
type Indexer interface {
	IndexRecord(ctx context.Context, record *entity.HistoryRecord) error
}

type SendResult struct {
	Accepted          bool
	TargetDescription string
	Delivery          realtime.Report
	Persisted         bool
	Record            *entity.HistoryRecord
}

type NotificationService interface {
	SendToAll(ctx context.Context, n entity.Notification) (*SendResult, error)
	SendToUser(ctx context.Context, userID string, n entity.Notification) (*SendResult, error)
	SendToChannel(ctx context.Context, channel string, n entity.Notification) (*SendResult, error)
	GetStats(ctx context.Context) dto.StatsResponse
	GetHistory(ctx context.Context, filter notifRepo.HistoryFilter) ([]entity.HistoryRecord, error)

	Connect(ctx context.Context, conn realtime.Conn) error
	Disconnect(connID string)
	Subscribe(connID string, req dto.SubscribeRequest) (dto.SubscribedTo, error)
	Unsubscribe(connID string, req dto.SubscribeRequest) error
	Ping() dto.PongData
}

type Options struct {
	DefaultLimit int
	MaxLimit     int
	SaveTimeout  time.Duration
}

func DefaultOptions() Options {
	return Options{
		DefaultLimit: notifRepo.DefaultLimit,
		MaxLimit:     500,
		SaveTimeout:  5 * time.Second,
	}
}

type notificationService struct {
	repo       notifRepo.HistoryRepository
	registry   *realtime.Registry
	dispatcher *realtime.Dispatcher
	publisher  Publisher
	indexer    Indexer
	sanitizer  *bluemonday.Policy
	opts       Options
	logger     zerolog.Logger
	now        func() time.Time
}

// NewNotificationService wires the ingestion boundary. publisher and
// indexer are optional.
func NewNotificationService(
	repo notifRepo.HistoryRepository,
	registry *realtime.Registry,
	dispatcher *realtime.Dispatcher,
	publisher Publisher,
	indexer Indexer,
	opts Options,
	logger zerolog.Logger,
) NotificationService {
	return &notificationService{
		repo:       repo,
		registry:   registry,
		dispatcher: dispatcher,
		publisher:  publisher,
		indexer:    indexer,
		sanitizer:  bluemonday.StrictPolicy(),
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *notificationService) SendToAll(ctx context.Context, n entity.Notification) (*SendResult, error) {
	return s.send(ctx, realtime.All(), entity.RecipientAllLiteral, entity.RecipientAll, n,
		"Notification sent to all clients")
}

func (s *notificationService) SendToUser(ctx context.Context, userID string, n entity.Notification) (*SendResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperror.New(http.StatusBadRequest, "userId is required", apperror.ErrValidation)
	}
	return s.send(ctx, realtime.User(userID), userID, entity.RecipientUser, n,
		fmt.Sprintf("Notification sent to user %s", userID))
}

func (s *notificationService) SendToChannel(ctx context.Context, channel string, n entity.Notification) (*SendResult, error) {
	channel = strings.TrimSpace(channel)
	if err := validateChannel(channel); err != nil {
		return nil, err
	}
	return s.send(ctx, realtime.Channel(channel), channel, entity.RecipientChannel, n,
		fmt.Sprintf("Notification sent to channel %s", channel))
}

// send dispatches live and persists history concurrently. Neither effect
// waits on the other; a failed save is logged and reported in the result
// but never turns the call into an error. Once accepted, both effects run
// detached from the producer's ctx.
func (s *notificationService) send(ctx context.Context, target realtime.Target, recipient string, recipientType entity.RecipientType, n entity.Notification, desc string) (*SendResult, error) {
	if err := s.prepare(&n); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(dto.ServerFrame{Event: dto.EventNotification, Data: n})
	if err != nil {
		return nil, fmt.Errorf("encode notification: %w", err)
	}

	result := &SendResult{Accepted: true, TargetDescription: desc}
	detached := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.Go(func() error {
		result.Delivery = s.dispatcher.Dispatch(detached, target, payload)
		if s.publisher != nil {
			if err := s.publisher.Publish(detached, target, payload); err != nil {
				s.logger.Warn().Err(err).Str("target", target.String()).Msg("relay publish failed")
			}
		}
		return nil
	})
	g.Go(func() error {
		saveCtx, cancel := context.WithTimeout(detached, s.opts.SaveTimeout)
		defer cancel()

		record, err := s.repo.Save(saveCtx, n, recipient, recipientType)
		if err != nil {
			s.logger.Error().
				Err(err).
				Str("recipient", recipient).
				Str("recipient_type", string(recipientType)).
				Msg("history persistence failed")
			return nil
		}
		result.Record = record
		result.Persisted = true
		s.index(record)
		return nil
	})
	_ = g.Wait()

	s.logger.Debug().
		Str("target", target.String()).
		Int("attempted", result.Delivery.Attempted).
		Int("delivered", result.Delivery.Delivered).
		Bool("persisted", result.Persisted).
		Msg("notification accepted")

	return result, nil
}

func (s *notificationService) index(record *entity.HistoryRecord) {
	if s.indexer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.SaveTimeout)
		defer cancel()
		if err := s.indexer.IndexRecord(ctx, record); err != nil {
			s.logger.Warn().Err(err).Str("record_id", record.ID).Msg("history indexing failed")
		}
	}()
}

// prepare validates and normalizes a producer notification in place.
func (s *notificationService) prepare(n *entity.Notification) error {
	if !n.Type.Valid() {
		return apperror.New(http.StatusBadRequest, fmt.Sprintf("invalid notification type %q", n.Type), apperror.ErrValidation)
	}

	n.Title = s.clean(n.Title)
	n.Message = s.clean(n.Message)
	if n.Title == "" || n.Message == "" {
		return apperror.New(http.StatusBadRequest, "title and message are required", apperror.ErrValidation)
	}
	if len(n.Data) > 0 && !json.Valid(n.Data) {
		return apperror.New(http.StatusBadRequest, "data must be valid JSON", apperror.ErrValidation)
	}

	n.Stamp(s.now())
	return nil
}

func (s *notificationService) clean(text string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(text)))
}

func (s *notificationService) GetStats(ctx context.Context) dto.StatsResponse {
	return dto.StatsResponse{ConnectedClients: s.registry.Count()}
}

func (s *notificationService) GetHistory(ctx context.Context, filter notifRepo.HistoryFilter) ([]entity.HistoryRecord, error) {
	if filter.RecipientType != "" && !filter.RecipientType.Valid() {
		return nil, apperror.New(http.StatusBadRequest, fmt.Sprintf("invalid recipientType %q", filter.RecipientType), apperror.ErrValidation)
	}

	switch {
	case filter.Limit <= 0:
		filter.Limit = s.opts.DefaultLimit
	case filter.Limit > s.opts.MaxLimit:
		filter.Limit = s.opts.MaxLimit
	}

	return s.repo.Query(ctx, filter)
}

// Connect registers a freshly opened connection and greets it. The welcome
// message is addressed to this connection only and is not persisted.
func (s *notificationService) Connect(ctx context.Context, conn realtime.Conn) error {
	if !s.registry.Register(conn) {
		return fmt.Errorf("connection %s already registered", conn.ID())
	}

	data, _ := json.Marshal(map[string]string{"connectionId": conn.ID()})
	welcome := entity.Notification{
		Type:      entity.NotificationSuccess,
		Title:     "Connected",
		Message:   "Successfully connected to notification server",
		Data:      data,
		Timestamp: s.now().UTC(),
	}
	payload, err := json.Marshal(dto.ServerFrame{Event: dto.EventNotification, Data: welcome})
	if err != nil {
		return fmt.Errorf("encode welcome: %w", err)
	}

	if err := s.dispatcher.SendTo(ctx, conn, payload); err != nil {
		s.logger.Warn().Err(err).Str("conn_id", conn.ID()).Msg("welcome delivery failed")
	}
	s.logger.Info().Str("conn_id", conn.ID()).Int("connected", s.registry.Count()).Msg("client connected")
	return nil
}

func (s *notificationService) Disconnect(connID string) {
	if _, ok := s.registry.Unregister(connID); ok {
		s.logger.Info().Str("conn_id", connID).Int("connected", s.registry.Count()).Msg("client disconnected")
	}
}

func (s *notificationService) Subscribe(connID string, req dto.SubscribeRequest) (dto.SubscribedTo, error) {
	userID := strings.TrimSpace(req.UserID)
	channels := normalizeChannels(req.Channels)

	for _, ch := range channels {
		if err := validateChannel(ch); err != nil {
			return dto.SubscribedTo{}, err
		}
	}

	groups := channels
	if userID != "" {
		groups = append([]string{realtime.UserGroup(userID)}, channels...)
	}
	if err := s.registry.JoinAll(connID, groups...); err != nil {
		return dto.SubscribedTo{}, err
	}

	s.logger.Debug().Str("conn_id", connID).Str("user_id", userID).Strs("channels", channels).Msg("subscribed")
	return dto.SubscribedTo{UserID: userID, Channels: channels}, nil
}

func (s *notificationService) Unsubscribe(connID string, req dto.SubscribeRequest) error {
	if userID := strings.TrimSpace(req.UserID); userID != "" {
		s.registry.Leave(connID, realtime.UserGroup(userID))
	}
	for _, ch := range normalizeChannels(req.Channels) {
		s.registry.Leave(connID, ch)
	}
	return nil
}

func (s *notificationService) Ping() dto.PongData {
	return dto.PongData{Timestamp: s.now().UTC()}
}

// Channel names share the group keyspace with personal groups, so the
// personal prefix is reserved.
func validateChannel(channel string) error {
	if channel == "" {
		return apperror.New(http.StatusBadRequest, "channel is required", apperror.ErrValidation)
	}
	if strings.HasPrefix(channel, "user:") {
		return apperror.New(http.StatusBadRequest, fmt.Sprintf("channel %q uses the reserved user: prefix", channel), apperror.ErrValidation)
	}
	return nil
}

func normalizeChannels(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, ch := range in {
		ch = strings.TrimSpace(ch)
		if ch == "" || seen[ch] {
			continue
		}
		seen[ch] = true
		out = append(out, ch)
	}
	return out
}
