package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"homevoice/pkg/channel"
	"homevoice/pkg/command"
	"homevoice/pkg/config"
	"homevoice/pkg/ingest"
)

const (
	defaultHealthHost = "0.0.0.0"
	defaultHealthPort = 18790
	shutdownTimeout   = 5 * time.Second
)

const (
	replyTextSent  = "Text command sent ✅"
	replyVoiceSent = "Voice command sent ✅"
)

// Submitter stages a command and hands it to the pipeline.
type Submitter interface {
	Submit(ctx context.Context, sub ingest.Submission) (command.Reference, error)
}

type Service struct {
	cfg       config.GatewayConfig
	log       *slog.Logger
	submitter Submitter
	channels  []channel.Adapter
	health    *health
}

// NewService builds a gateway. adapters may be empty, in which case commands
// only arrive through the HTTP API.
func NewService(cfg config.GatewayConfig, submitter Submitter, adapters []channel.Adapter, log *slog.Logger) (*Service, error) {
	if submitter == nil {
		return nil, errors.New("submitter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return &Service{
		cfg:       cfg,
		log:       log.With("component", "gateway"),
		submitter: submitter,
		channels:  adapters,
		health:    newHealth(names...),
	}, nil
}

// Run serves the HTTP API and all adapters until ctx ends or one of them fails.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.health.start(time.Now())

	// One slot per goroutine so none blocks after Run has returned.
	failures := make(chan error, len(s.channels)+1)
	go func() {
		if err := s.serveHTTP(ctx); err != nil {
			failures <- err
		}
	}()

	for _, adapter := range s.channels {
		name := adapter.Name()
		s.health.channel(name, true, nil)

		go func() {
			err := adapter.Run(ctx, s.handleInbound)
			s.health.channel(name, false, err)
			if err != nil && !errors.Is(err, context.Canceled) {
				failures <- fmt.Errorf("%s channel: %w", name, err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-failures:
		return err
	}
}

// handleInbound submits one front-end message and acknowledges it.
func (s *Service) handleInbound(ctx context.Context, inbound channel.InboundMessage) (channel.OutboundMessage, error) {
	ref, err := s.submit(ctx, ingest.Submission{
		UserID:   inbound.SenderID,
		ChatID:   inbound.ChatID,
		Text:     inbound.Text,
		Audio:    inbound.Audio,
		MimeType: inbound.MimeType,
	})
	if err != nil {
		return channel.OutboundMessage{Error: userError(err)}, err
	}

	s.log.Info("Command accepted", "channel", inbound.Channel, "message_id", ref.ID, "user_id", ref.UserID)

	reply := replyTextSent
	if inbound.HasAudio() {
		reply = replyVoiceSent
	}
	return channel.OutboundMessage{Content: reply}, nil
}

func (s *Service) submit(ctx context.Context, sub ingest.Submission) (command.Reference, error) {
	ref, err := s.submitter.Submit(ctx, sub)
	s.health.submitted(err, time.Now())
	return ref, err
}

// serveHTTP runs the API until ctx ends, then shuts the server down.
func (s *Service) serveHTTP(ctx context.Context) error {
	host := strings.TrimSpace(s.cfg.Host)
	if host == "" {
		host = defaultHealthHost
	}
	port := s.cfg.Port
	if port <= 0 {
		port = defaultHealthPort
	}

	server := &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})
	defer stop()

	s.log.Info("Gateway API listening", "address", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway api: %w", err)
	}
	return nil
}

// userError is the text shown to a sender whose command was not accepted.
func userError(err error) string {
	if errors.Is(err, command.ErrInvalidInput) {
		return err.Error()
	}
	return "Could not accept the command, please try again later"
}
