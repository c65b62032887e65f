package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/attachment_transfer/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordNotifier_Notify(t *testing.T) {
	var got map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewDiscordNotifier(srv.URL)

	require.NoError(t, n.Notify(context.Background(), "hello"))
	assert.Equal(t, "hello", got["content"])
}

func TestDiscordNotifier_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordNotifier(srv.URL).Notify(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	err = (&DiscordNotifier{}).Notify(context.Background(), "hello")
	require.Error(t, err)
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Notify(_ context.Context, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.messages = append(f.messages, content)

	return nil
}

func (f *fakeNotifier) Messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.messages...)
}

func photoInfo(dir transfer.Direction) transfer.Info {
	return transfer.Info{
		ID:                "t1",
		Key:               transfer.Key{Attachment: transfer.Attachment{Bucket: "notes", Object: "42", Attribute: "photo"}, Direction: dir},
		TransferredLength: 2048,
	}
}

func TestObserver_DeliversFailures(t *testing.T) {
	n := &fakeNotifier{}
	o := NewObserver(n, false, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = o.Run(ctx) }()

	o.UploadSuccessful(photoInfo(transfer.Upload))
	o.DownloadFailed(photoInfo(transfer.Download), &transfer.TransportError{Operation: "receive", Message: "access denied"})

	require.Eventually(t, func() bool { return len(n.Messages()) == 1 }, time.Second, 10*time.Millisecond)

	msg := n.Messages()[0]
	assert.True(t, strings.Contains(msg, "download of `notes/42/photo` failed"), msg)
	assert.Contains(t, msg, "permanent error")
	assert.Contains(t, msg, "2.0 kB")
}

func TestObserver_DeliversSuccessWhenEnabled(t *testing.T) {
	n := &fakeNotifier{}
	o := NewObserver(n, true, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = o.Run(ctx) }()

	o.UploadSuccessful(photoInfo(transfer.Upload))

	require.Eventually(t, func() bool { return len(n.Messages()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Contains(t, n.Messages()[0], "upload of `notes/42/photo` completed")
}

func TestObserver_DropsWhenQueueIsFull(t *testing.T) {
	o := NewObserver(&fakeNotifier{}, false, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for range queueSize + 10 {
		o.UploadFailed(photoInfo(transfer.Upload), errors.New("boom"))
	}

	assert.Len(t, o.queue, queueSize)
}

func TestObserver_RunDrainsQueueOnShutdown(t *testing.T) {
	n := &fakeNotifier{}
	o := NewObserver(n, true, slog.New(slog.NewTextHandler(io.Discard, nil)))

	o.UploadSuccessful(photoInfo(transfer.Upload))
	o.DownloadFailed(photoInfo(transfer.Download), errors.New("boom"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, o.Run(ctx))
	assert.Len(t, n.Messages(), 2)
	assert.Empty(t, o.queue)
}
