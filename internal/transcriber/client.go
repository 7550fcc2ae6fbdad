package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/voxloop/voxloop/internal/bus"
	"github.com/voxloop/voxloop/internal/config"
	"github.com/voxloop/voxloop/internal/protocol"
)

// Client is the coordinator-side handle to the worker boundary. It tracks
// readiness from status broadcasts and issues request/reply calls; exactly
// one result comes back per request.
type Client struct {
	bus       *bus.Client
	cfg       config.TranscriberConfig
	logger    *slog.Logger
	ready     atomic.Bool
	subStatus *nats.Subscription
}

func NewClient(busClient *bus.Client, cfg config.TranscriberConfig, logger *slog.Logger) (*Client, error) {
	c := &Client{
		bus:    busClient,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "transcriber-client")),
	}
	sub, err := busClient.Conn().Subscribe(protocol.SubjectTranscribeStatus, c.handleStatus)
	if err != nil {
		return nil, fmt.Errorf("subscribe worker status: %w", err)
	}
	c.subStatus = sub
	return c, nil
}

func (c *Client) Close() {
	if c.subStatus != nil {
		_ = c.subStatus.Drain()
	}
}

func (c *Client) handleStatus(msg *nats.Msg) {
	var status protocol.WorkerStatus
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		return
	}
	switch status.Type {
	case protocol.TypeReady:
		c.ready.Store(true)
	case protocol.TypeLoading:
		c.logger.Info("transcription worker loading", slog.String("message", status.Message))
	case protocol.TypeError:
		c.ready.Store(false)
		c.logger.Warn("transcription worker error", slog.String("error", status.Message))
	}
}

// Ready reports whether the worker has finished loading its model.
func (c *Client) Ready() bool { return c.ready.Load() }

// Init asks the worker to load. Idempotent: an already-loaded worker
// replies ready immediately.
func (c *Client) Init(ctx context.Context) error {
	timeout := time.Duration(c.cfg.InitTimeout) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := json.Marshal(protocol.InitRequest{Type: protocol.TypeInit})
	if err != nil {
		return err
	}
	msg, err := c.bus.Conn().RequestWithContext(ctx, protocol.SubjectTranscribeInit, data)
	if err != nil {
		return fmt.Errorf("worker init request: %w", err)
	}
	var reply protocol.WorkerReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("decode init reply: %w", err)
	}
	if reply.Type == protocol.TypeError {
		return errors.New(reply.Error)
	}
	c.ready.Store(true)
	return nil
}

// Transcribe sends one sample buffer across the boundary and waits for its
// single result.
func (c *Client) Transcribe(ctx context.Context, samples []float32) (string, error) {
	req := protocol.TranscribeRequest{
		Type:      protocol.TypeTranscribe,
		RequestID: uuid.NewString(),
		AudioData: samples,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	msg, err := c.bus.Conn().RequestWithContext(ctx, protocol.SubjectTranscribeRequest, data)
	if err != nil {
		return "", fmt.Errorf("transcribe request: %w", err)
	}
	var reply protocol.WorkerReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return "", fmt.Errorf("decode transcribe reply: %w", err)
	}
	if reply.Type == protocol.TypeError {
		return "", fmt.Errorf("transcription failed: %s", reply.Error)
	}
	return reply.Text, nil
}
