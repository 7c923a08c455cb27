package feishu

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/DavidCheung777/nanoclaw-feishu/pkg/logger"
)

const signatureHeader = "X-Lark-Signature"

// transport is the strategy contract shared by both delivery models.
// Once Connected reports true the facade routes sends directly instead
// of queuing.
type transport interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Connected() bool
}

// pushTransport runs an HTTP listener for provider-initiated event
// delivery. The provider enforces a response SLA, so events are acked
// with 200 before any processing happens.
type pushTransport struct {
	host              string
	port              int
	path              string
	verificationToken string
	signingSecret     string
	onEvent           func([]byte)
	onReady           func()

	srv       *http.Server
	listening atomic.Bool
}

func (t *pushTransport) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", t.host, t.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("webhook listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(t.path, t.handleEvent)
	t.srv = &http.Server{Handler: mux}

	go func() {
		if err := t.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF(channelName, "Webhook server error", map[string]any{"error": err.Error()})
		}
	}()

	t.listening.Store(true)
	logger.InfoC(channelName, "Webhook listening on "+addr+t.path)
	if t.onReady != nil {
		go t.onReady()
	}
	return nil
}

func (t *pushTransport) Stop(ctx context.Context) error {
	t.listening.Store(false)
	if t.srv == nil {
		return nil
	}
	return t.srv.Shutdown(ctx)
}

func (t *pushTransport) Connected() bool {
	return t.listening.Load()
}

func (t *pushTransport) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if t.signingSecret != "" && !t.verifySignature(body, r.Header.Get(signatureHeader)) {
		logger.WarnC(channelName, "Webhook signature mismatch")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var env eventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	// The platform's endpoint verification must be answered synchronously,
	// before anything else touches the payload.
	if env.Type == "url_verification" {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"challenge": env.Challenge})
		return
	}

	if !t.verifyToken(env) {
		logger.WarnC(channelName, "Webhook verification token mismatch")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	// Ack first; processing must never block the provider's SLA.
	w.WriteHeader(http.StatusOK)
	go t.onEvent(body)
}

func (t *pushTransport) verifySignature(body []byte, got string) bool {
	mac := hmac.New(sha256.New, []byte(t.signingSecret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(got))
}

func (t *pushTransport) verifyToken(env eventEnvelope) bool {
	if t.verificationToken == "" {
		return true
	}
	token := env.Token
	if token == "" {
		token = env.Header.Token
	}
	return token == t.verificationToken
}
