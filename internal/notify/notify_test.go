package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/curveswap/internal/crypto"
)

type fakeSender struct {
	name string
	err  error
	got  []Message
}

func (f *fakeSender) Send(_ context.Context, msg Message) error {
	f.got = append(f.got, msg)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{"pool_created", " "}, discard())

	require.NoError(t, n.Notify(context.Background(), "trade_executed", "t", "m"))
	assert.Empty(t, s.got)

	require.NoError(t, n.Notify(context.Background(), "pool_created", "Pool created", "body"))
	require.Len(t, s.got, 1)
	assert.Equal(t, Message{Event: "pool_created", Title: "Pool created", Body: "body"}, s.got[0])

	require.NoError(t, n.NotifyAll(context.Background(), "boot", "up"))
	assert.Len(t, s.got, 2)
}

func TestNotifierJoinsFailures(t *testing.T) {
	down := errors.New("down")
	bad := &fakeSender{name: "bad", err: down}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), "anything", "t", "m")
	require.ErrorIs(t, err, down)
	assert.Contains(t, err.Error(), "1 sender(s) failed")
	assert.Len(t, good.got, 1, "a failing sender does not block the others")
	assert.True(t, n.Enabled())
	assert.False(t, NewNotifier(nil, nil, discard()).Enabled())
}

func TestWebhookSenderSigns(t *testing.T) {
	signer := crypto.NewWebhookSigner("whsec")
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !signer.Verify(body, r.Header.Get(crypto.HeaderWebhookTimestamp), r.Header.Get(crypto.HeaderWebhookSignature)) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	msg := Message{Event: "fee_override_set", Title: "Fee override set", Body: "collection 0xc001"}
	require.NoError(t, NewWebhookSender(srv.URL, "whsec").Send(context.Background(), msg))
	assert.Equal(t, msg, got)

	err := NewWebhookSender(srv.URL, "wrong").Send(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 401")
}

func TestTelegramAndDiscordPayloads(t *testing.T) {
	var paths []string
	var bodies []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		var m map[string]string
		_ = json.NewDecoder(r.Body).Decode(&m)
		bodies = append(bodies, m)
	}))
	defer srv.Close()

	msg := Message{Title: "Trade executed", Body: "buy of 1 unit(s)"}
	require.NoError(t, NewTelegramSender("tok", "42").WithBaseURL(srv.URL+"/").Send(context.Background(), msg))
	require.NoError(t, NewDiscordSender(srv.URL+"/hook").Send(context.Background(), msg))

	require.Len(t, bodies, 2)
	assert.Equal(t, "/bottok/sendMessage", paths[0])
	assert.Equal(t, "42", bodies[0]["chat_id"])
	assert.Equal(t, "*Trade executed*\nbuy of 1 unit(s)", bodies[0]["text"])
	assert.Equal(t, "/hook", paths[1])
	assert.Equal(t, "**Trade executed**\nbuy of 1 unit(s)", bodies[1]["content"])
}
