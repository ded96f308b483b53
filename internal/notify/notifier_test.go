package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSender captures the notifications it receives.
type recordingSender struct {
	name     string
	err      error
	titles   []string
	messages []string
}

func (s *recordingSender) Send(_ context.Context, title, message string) error {
	s.titles = append(s.titles, title)
	s.messages = append(s.messages, message)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func TestNotifyFiltersEvents(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{EventPositionClosed}, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventPositionOpened, "opened", "body"))
	assert.Empty(t, sender.titles)

	require.NoError(t, n.Notify(context.Background(), EventPositionClosed, "closed", "body"))
	assert.Equal(t, []string{"closed"}, sender.titles)
}

func TestNotifyEmptyFilterAllowsAll(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), "anything", "title", "body"))
	assert.Len(t, sender.titles, 1)
}

func TestDispatchCollectsSenderErrors(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("wire down")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "title", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: wire down")
	// The failing sender did not block the healthy one.
	assert.Len(t, good.titles, 1)
}
