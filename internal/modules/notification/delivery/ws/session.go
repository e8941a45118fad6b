package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"anoa.com/notifyhub/internal/modules/notification/dto"
	notifService "anoa.com/notifyhub/internal/modules/notification/service"
	"github.com/rs/zerolog"
)

// session drives one connection through onConnect, onMessage and
// onDisconnect. All shared state lives in the service's registry.
type session struct {
	client  *client
	service notifService.NotificationService
	opts    Options
	logger  zerolog.Logger
}

func (s *session) onConnect(ctx context.Context, userID string, channels []string) error {
	if err := s.service.Connect(ctx, s.client); err != nil {
		return err
	}
	if userID == "" && len(channels) == 0 {
		return nil
	}

	s.subscribe("", dto.SubscribeRequest{UserID: userID, Channels: channels})
	return nil
}

func (s *session) onFrame(raw []byte) {
	var frame dto.ClientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.reply(dto.EventError, "", dto.ErrorData{Message: "invalid message format"})
		return
	}
	s.onMessage(frame.Event, frame.ID, frame.Data)
}

func (s *session) onMessage(event, id string, data json.RawMessage) {
	switch event {
	case dto.EventSubscribe:
		if req, ok := s.decodeSubscription(id, data); ok {
			s.subscribe(id, req)
		}
	case dto.EventUnsubscribe:
		req, ok := s.decodeSubscription(id, data)
		if !ok {
			return
		}
		if err := s.service.Unsubscribe(s.client.ID(), req); err != nil {
			s.reply(dto.EventError, id, dto.ErrorData{Message: err.Error()})
			return
		}
		s.reply(dto.EventUnsubscribe, id, dto.UnsubscribeAck{Success: true})
	case dto.EventPing:
		s.reply(dto.EventPong, id, s.service.Ping())
	default:
		s.reply(dto.EventError, id, dto.ErrorData{Message: fmt.Sprintf("unknown event %q", event)})
	}
}

func (s *session) onDisconnect() {
	s.service.Disconnect(s.client.ID())
	_ = s.client.Close()
}

func (s *session) subscribe(id string, req dto.SubscribeRequest) {
	sub, err := s.service.Subscribe(s.client.ID(), req)
	if err != nil {
		s.reply(dto.EventError, id, dto.ErrorData{Message: err.Error()})
		return
	}
	s.reply(dto.EventSubscribe, id, dto.SubscribeAck{Success: true, SubscribedTo: sub})
}

func (s *session) decodeSubscription(id string, data json.RawMessage) (dto.SubscribeRequest, bool) {
	var req dto.SubscribeRequest
	if len(data) == 0 || string(data) == "null" {
		return req, true
	}
	if err := json.Unmarshal(data, &req); err != nil {
		s.reply(dto.EventError, id, dto.ErrorData{Message: "invalid subscription payload"})
		return req, false
	}
	return req, true
}

func (s *session) reply(event, id string, data any) {
	payload, err := json.Marshal(dto.ServerFrame{Event: event, ID: id, Data: data})
	if err != nil {
		s.logger.Error().Err(err).Str("event", event).Msg("encode reply")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteWait)
	defer cancel()
	if err := s.client.Send(ctx, payload); err != nil {
		s.logger.Debug().Err(err).Str("event", event).Msg("reply dropped")
	}
}
