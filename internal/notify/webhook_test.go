package notify

import (
	"crypto/hmac"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookDeliversSignedPayload(t *testing.T) {
	received := make(chan *http.Request, 1)
	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies <- body
		received <- r
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, "s3cret", nil)
	wh.Notify(Notification{
		Type:     "hold.created",
		Severity: "high",
		Title:    "Approval needed",
		RefID:    "hold_123",
	})

	select {
	case r := <-received:
		body := <-bodies
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		sig := r.Header.Get("X-PromptSpeak-Signature")
		require.NotEmpty(t, sig)
		assert.True(t, hmac.Equal([]byte(sig), []byte(computeHMAC(body, []byte("s3cret")))))

		var n Notification
		require.NoError(t, json.Unmarshal(body, &n))
		assert.Equal(t, "hold.created", n.Type)
		assert.Equal(t, "hold_123", n.RefID)
		assert.False(t, n.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestWebhookFailureDoesNotPanic(t *testing.T) {
	wh := NewWebhook("http://127.0.0.1:1/unreachable", "", nil)
	wh.Notify(Notification{Type: "proposal.pending"})
	// Delivery happens asynchronously; give the goroutine a moment.
	time.Sleep(50 * time.Millisecond)
}

func TestNopAndLoggedNotifiers(t *testing.T) {
	var n Notifier = Nop{}
	n.Notify(Notification{Type: "x"})

	n = Logged{}
	n.Notify(Notification{Type: "y"})
}
