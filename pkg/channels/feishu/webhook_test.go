package feishu

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPushTransport(secret string, events chan []byte) *pushTransport {
	return &pushTransport{
		host:              "127.0.0.1",
		path:              "/feishu/events",
		verificationToken: "verify-token",
		signingSecret:     secret,
		onEvent: func(raw []byte) {
			if events != nil {
				events <- raw
			}
		},
	}
}

func postEvent(t *pushTransport, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/feishu/events", bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	t.handleEvent(w, req)
	return w
}

func TestWebhookChallengeEchoedSynchronously(t *testing.T) {
	tr := newTestPushTransport("", nil)

	body := []byte(`{"type":"url_verification","challenge":"abc123","token":"whatever"}`)
	w := postEvent(tr, body, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "abc123", resp["challenge"])
}

func TestWebhookSignatureMismatchRejected(t *testing.T) {
	events := make(chan []byte, 1)
	tr := newTestPushTransport("signing-secret", events)

	body := []byte(`{"header":{"event_type":"im.message.receive_v1"}}`)
	w := postEvent(tr, body, map[string]string{signatureHeader: "deadbeef"})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	select {
	case <-events:
		t.Fatal("event with bad signature must not reach processing")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWebhookValidSignatureAccepted(t *testing.T) {
	events := make(chan []byte, 1)
	tr := newTestPushTransport("signing-secret", events)

	body := []byte(`{"token":"verify-token","header":{"event_id":"e1","event_type":"im.message.receive_v1"},"event":{}}`)
	mac := hmac.New(sha256.New, []byte("signing-secret"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	w := postEvent(tr, body, map[string]string{signatureHeader: sig})
	require.Equal(t, http.StatusOK, w.Code)

	select {
	case raw := <-events:
		assert.Equal(t, body, raw)
	case <-time.After(time.Second):
		t.Fatal("expected event to be processed asynchronously")
	}
}

func TestWebhookVerificationTokenMismatchRejected(t *testing.T) {
	events := make(chan []byte, 1)
	tr := newTestPushTransport("", events)

	body := []byte(`{"token":"wrong","header":{"event_type":"im.message.receive_v1"},"event":{}}`)
	w := postEvent(tr, body, nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	select {
	case <-events:
		t.Fatal("event with bad verification token must not reach processing")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWebhookMalformedBodyRejected(t *testing.T) {
	tr := newTestPushTransport("", nil)
	w := postEvent(tr, []byte("{not json"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	tr := newTestPushTransport("", nil)
	req := httptest.NewRequest(http.MethodGet, "/feishu/events", nil)
	w := httptest.NewRecorder()
	tr.handleEvent(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestWebhookUnknownRouteNotFound(t *testing.T) {
	tr := newTestPushTransport("", nil)
	mux := http.NewServeMux()
	mux.HandleFunc(tr.path, tr.handleEvent)

	req := httptest.NewRequest(http.MethodPost, "/other", bytes.NewReader([]byte("{}")))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
