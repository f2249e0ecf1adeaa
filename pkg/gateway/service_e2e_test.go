package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"homevoice/pkg/bus"
	"homevoice/pkg/cache"
	"homevoice/pkg/channel"
	"homevoice/pkg/command"
	"homevoice/pkg/config"
	"homevoice/pkg/dispatch"
	"homevoice/pkg/ingest"
	"homevoice/pkg/outcome"
	"homevoice/pkg/payload"

	"github.com/stretchr/testify/require"
)

type scriptedAdapter struct {
	name    string
	inbound []channel.InboundMessage

	mu       sync.Mutex
	outbound []channel.OutboundMessage
	notified []string
	done     chan struct{}
}

func (a *scriptedAdapter) Name() string {
	return a.name
}

func (a *scriptedAdapter) Run(ctx context.Context, handler channel.Handler) error {
	for _, inbound := range a.inbound {
		outbound, _ := handler(ctx, inbound)

		a.mu.Lock()
		a.outbound = append(a.outbound, outbound)
		a.mu.Unlock()
	}

	close(a.done)

	<-ctx.Done()
	return nil
}

func (a *scriptedAdapter) Notify(_ context.Context, chatID string, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notified = append(a.notified, chatID+":"+text)
	return nil
}

func (a *scriptedAdapter) outbounds() []channel.OutboundMessage {
	a.mu.Lock()
	defer a.mu.Unlock()

	outbound := make([]channel.OutboundMessage, len(a.outbound))
	copy(outbound, a.outbound)
	return outbound
}

func (a *scriptedAdapter) notifications() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.notified...)
}

// wavNormalizer accepts only WAV input, standing in for ffmpeg.
type wavNormalizer struct{}

func (wavNormalizer) Normalize(_ context.Context, in command.AudioPayload) (command.AudioPayload, error) {
	if in.MimeType != "audio/wav" {
		return command.AudioPayload{}, fmt.Errorf("failed to convert %s to wav: %w", in.MimeType, command.ErrAudioConversion)
	}
	return in, nil
}

type echoTranscriber struct{}

func (echoTranscriber) Transcribe(_ context.Context, wav []byte) (string, error) {
	return strings.TrimPrefix(string(wav), "RIFF:"), nil
}

type pipeline struct {
	broker  *bus.MemoryBroker
	ingest  *ingest.Service
	tracker *outcome.Tracker
}

func startPipeline(ctx context.Context, t *testing.T) pipeline {
	t.Helper()

	queues := config.Defaults().Queues
	broker := bus.NewMemoryBroker(3, nil)
	t.Cleanup(func() { _ = broker.Close() })
	store := cache.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	repo := payload.NewRepository(store, time.Minute)

	worker := dispatch.NewWorker(repo, wavNormalizer{}, echoTranscriber{}, outcome.NewRouter(broker, queues, nil), dispatch.Options{}, nil)
	tracker := outcome.NewTracker(broker, queues.Success, queues.Error, nil)

	go func() { _ = worker.Run(ctx, broker, queues.Command, 2) }()
	go func() { _ = tracker.Run(ctx) }()

	return pipeline{
		broker:  broker,
		ingest:  ingest.NewService(repo, broker, queues.Command, nil),
		tracker: tracker,
	}
}

func TestGatewayServiceRunE2EAdapterToOutcome(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := startPipeline(ctx, t)

	adapter := &scriptedAdapter{
		name: "telegram",
		inbound: []channel.InboundMessage{
			{Channel: "telegram", SenderID: "100", ChatID: "100", Text: "turn on the heating"},
			{Channel: "telegram", SenderID: "100", ChatID: "100", Audio: []byte("RIFF:open the garage"), MimeType: "audio/wav"},
			{Channel: "telegram", SenderID: "200", ChatID: "200", Audio: []byte("OggS"), MimeType: "audio/ogg"},
			{Channel: "telegram", SenderID: "300", ChatID: "300"},
		},
		done: make(chan struct{}),
	}

	svc, err := NewService(config.GatewayConfig{Host: "127.0.0.1", Port: freeTCPPort(t), NotifyErrors: true}, p.ingest, []channel.Adapter{adapter}, nil)
	require.NoError(t, err)
	p.tracker.Listen(svc.NotifyFailure)

	var texts []string
	var failures []command.Outcome
	var mu sync.Mutex
	p.tracker.Listen(func(_ context.Context, o command.Outcome) {
		mu.Lock()
		defer mu.Unlock()
		switch v := o.(type) {
		case command.Success:
			texts = append(texts, v.Text)
		case command.Failure:
			failures = append(failures, v)
		}
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	select {
	case <-adapter.done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for adapter scripted messages")
	}

	outbounds := adapter.outbounds()
	require.Len(t, outbounds, 4)
	require.Equal(t, replyTextSent, outbounds[0].Content)
	require.Equal(t, replyVoiceSent, outbounds[1].Content)
	require.Equal(t, replyVoiceSent, outbounds[2].Content)
	require.Empty(t, outbounds[3].Content)
	require.NotEmpty(t, outbounds[3].Error)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(texts) == 2 && len(failures) == 1
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	require.ElementsMatch(t, []string{"turn on the heating", "open the garage"}, texts)
	require.Equal(t, command.KindAudioConversion, failures[0].(command.Failure).Kind)
	mu.Unlock()

	notified := adapter.notifications()
	require.Len(t, notified, 1)
	require.True(t, strings.HasPrefix(notified[0], "200:"), notified[0])

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
	}
}

func TestGatewayServiceReadyzServedOverHTTP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := startPipeline(ctx, t)
	port := freeTCPPort(t)
	svc, err := NewService(config.GatewayConfig{Host: "127.0.0.1", Port: port}, p.ingest, nil, nil)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	readyURL := fmt.Sprintf("http://127.0.0.1:%d/readyz", port)
	require.Equal(t, http.StatusOK, waitHTTPStatus(t, readyURL, 2*time.Second))

	response, err := http.Post(fmt.Sprintf("http://127.0.0.1:%d/v1/commands/text", port), "application/json", strings.NewReader(`{"user_id":"9","text":"goodnight"}`))
	require.NoError(t, err)
	require.NoError(t, response.Body.Close())
	require.Equal(t, http.StatusAccepted, response.StatusCode)

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
	}
}

func waitHTTPStatus(t *testing.T, url string, timeout time.Duration) int {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		response, err := http.Get(url)
		if err == nil {
			statusCode := response.StatusCode
			require.NoError(t, response.Body.Close())
			return statusCode
		}

		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s: %v", url, err)
		}

		time.Sleep(25 * time.Millisecond)
	}
}

func freeTCPPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	addr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}
