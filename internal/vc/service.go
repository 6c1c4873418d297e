package vc

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-vc/internal/bus"
	"github.com/loqalabs/loqa-vc/internal/conversion"
	"github.com/loqalabs/loqa-vc/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service serves conversion requests received on the bus.
type Service struct {
	bus    *bus.Client
	runner *Runner
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewService(parent context.Context, busClient *bus.Client, runner *Runner, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:    busClient,
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "vc-service")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectConvertRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return s.sub != nil && s.sub.IsValid() }

func (s *Service) handleRequest(msg *nats.Msg) {
	var wire protocol.ConvertRequest
	if err := json.Unmarshal(msg.Data, &wire); err != nil {
		s.logger.Warn("failed to decode convert request", slogError(err))
		return
	}
	if wire.RequestID == "" {
		wire.RequestID = uuid.NewString()
	}
	req := conversion.RequestFromMessage(s.runner.Defaults(), wire)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res, err := s.runner.Run(s.ctx, "bus", req, conversion.Handlers{
			Source: func(path string) {
				s.publish(protocol.SubjectConvertSource, protocol.SourceReady{
					RequestID: req.ID,
					Path:      path,
					Timestamp: time.Now().UTC(),
				})
			},
			Chunk: func(c conversion.Chunk) error {
				s.publish(protocol.SubjectConvertAudio, protocol.AudioChunk{
					RequestID:  req.ID,
					Sequence:   c.Sequence,
					SampleRate: c.SampleRate,
					Format:     c.Format,
					Samples:    c.Samples,
					Data:       c.Data,
					Final:      c.Final,
				})
				return nil
			},
		})
		if err != nil {
			s.logger.Warn("conversion failed", slog.String("request_id", req.ID), slogError(err))
		}
		status := conversion.Status(res, err)
		status.RequestID = req.ID
		s.publish(protocol.SubjectConvertDone, status)
		if msg.Reply != "" {
			if data, err := json.Marshal(status); err == nil {
				_ = msg.Respond(data)
			}
		}
	}()
}

func (s *Service) publish(subject string, v any) {
	if err := s.bus.PublishJSON(subject, v); err != nil {
		s.logger.Warn("failed to publish", slog.String("subject", subject), slogError(err))
	}
}
