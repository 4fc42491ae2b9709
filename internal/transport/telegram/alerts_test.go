package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBotAPI struct {
	mu    sync.Mutex
	calls []map[string]any
	paths []string
	fail  bool
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.calls = append(f.calls, body)
	f.paths = append(f.paths, r.URL.Path)
	fail := f.fail
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if fail {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
		return
	}
	_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":1714557600,"chat":{"id":42,"type":"group"}}}`))
}

func newTestAlerter(t *testing.T, api *fakeBotAPI) *Alerter {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	a, err := New(Config{Token: "123:abc", ChatID: 42, ThreadID: 9, APIURL: srv.URL})
	require.NoError(t, err)
	return a
}

func TestSendAlert(t *testing.T) {
	api := &fakeBotAPI{}
	a := newTestAlerter(t, api)

	require.NoError(t, a.SendAlert(context.Background(), "ERROR Error scraping channel"))

	require.Len(t, api.calls, 1)
	assert.Equal(t, "/bot123:abc/sendMessage", api.paths[0])
	assert.Equal(t, "42", fmt.Sprint(api.calls[0]["chat_id"]))
	assert.Equal(t, "9", fmt.Sprint(api.calls[0]["message_thread_id"]))
	assert.Equal(t, "ERROR Error scraping channel", api.calls[0]["text"])
}

func TestSendAlertAPIError(t *testing.T) {
	api := &fakeBotAPI{fail: true}
	a := newTestAlerter(t, api)
	err := a.SendAlert(context.Background(), "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestSendAlertCanceled(t *testing.T) {
	api := &fakeBotAPI{}
	a := newTestAlerter(t, api)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, a.SendAlert(ctx, "late"), context.Canceled)
	assert.Empty(t, api.calls)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{ChatID: 1})
	require.Error(t, err)
	_, err = New(Config{Token: "123:abc"})
	require.Error(t, err)
}

func TestSplitText(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitText("short", 10))

	long := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	parts := splitText(long, 8)
	require.Len(t, parts, 2)
	assert.Equal(t, "aaaaaa", parts[0])
	assert.Equal(t, "bbbbbb", parts[1])

	parts = splitText(strings.Repeat("x", 25), 10)
	require.Len(t, parts, 3)
	for _, p := range parts {
		assert.LessOrEqual(t, len([]rune(p)), 10)
	}
}
