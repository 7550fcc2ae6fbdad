package transcriber

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/voxloop/voxloop/internal/bus"
	"github.com/voxloop/voxloop/internal/protocol"
)

// Service exposes the engine over the bus. Init and transcribe requests
// are served request/reply with exactly one reply each; loading progress
// and readiness are broadcast on the status subject so observers don't
// have to hold a pending request open.
type Service struct {
	bus     *bus.Client
	eng     *Engine
	subInit *nats.Subscription
	subReq  *nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func NewService(parent context.Context, busClient *bus.Client, eng *Engine, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:    busClient,
		eng:    eng,
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With(slog.String("component", "transcriber-service")),
	}
}

func (s *Service) Start() error {
	subInit, err := s.bus.Conn().Subscribe(protocol.SubjectTranscribeInit, s.handleInit)
	if err != nil {
		return err
	}
	s.subInit = subInit

	subReq, err := s.bus.Conn().Subscribe(protocol.SubjectTranscribeRequest, s.handleTranscribe)
	if err != nil {
		_ = subInit.Drain()
		return err
	}
	s.subReq = subReq
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.subInit != nil {
		_ = s.subInit.Drain()
	}
	if s.subReq != nil {
		_ = s.subReq.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return s.subInit != nil && s.subReq != nil }

func (s *Service) handleInit(msg *nats.Msg) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		err := s.eng.Init(s.ctx, func(stage string) {
			s.broadcastStatus(protocol.TypeLoading, stage)
		})
		if err != nil {
			s.broadcastStatus(protocol.TypeError, err.Error())
			s.reply(msg, protocol.WorkerReply{Type: protocol.TypeError, Error: err.Error()})
			return
		}
		s.broadcastStatus(protocol.TypeReady, "")
		s.reply(msg, protocol.WorkerReply{Type: protocol.TypeReady})
	}()
}

func (s *Service) handleTranscribe(msg *nats.Msg) {
	var req protocol.TranscribeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode transcribe request", slogError(err))
		s.reply(msg, protocol.WorkerReply{Type: protocol.TypeError, Error: "malformed request"})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 60*time.Second)
		defer cancel()

		text, err := s.eng.Transcribe(ctx, req.AudioData)
		if err != nil {
			s.reply(msg, protocol.WorkerReply{Type: protocol.TypeError, Error: err.Error()})
			return
		}
		s.reply(msg, protocol.WorkerReply{Type: protocol.TypeTranscript, Text: text, IsFinal: true})
	}()
}

func (s *Service) reply(msg *nats.Msg, reply protocol.WorkerReply) {
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("failed to marshal worker reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send worker reply", slogError(err))
	}
}

func (s *Service) broadcastStatus(statusType, message string) {
	status := protocol.WorkerStatus{
		Type:      statusType,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectTranscribeStatus, data); err != nil {
		s.logger.Warn("failed to publish worker status", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
