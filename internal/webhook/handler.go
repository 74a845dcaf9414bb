package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"agnusai/internal/config"
	"agnusai/internal/metrics"
	syncutil "agnusai/internal/sync"
)

// Reviewer runs one review for an event. Wired to the orchestrator's
// incremental entrypoint in the server.
type Reviewer func(ctx context.Context, ev *Event) error

// Handler accepts platform webhooks, debounces per PR, and hands review jobs
// to the worker pool. The HTTP response only acknowledges receipt; reviews
// run in the background.
type Handler struct {
	cfg      *config.Config
	pool     *WorkerPool
	debounce *syncutil.Debouncer
	locks    *syncutil.KeyLock
	review   Reviewer
}

func NewHandler(cfg *config.Config, pool *WorkerPool, review Reviewer) *Handler {
	return &Handler{
		cfg:      cfg,
		pool:     pool,
		debounce: syncutil.NewDebouncer(cfg.Webhook.Debounce),
		locks:    syncutil.NewKeyLock(),
		review:   review,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	metrics.WebhookRequests.WithLabelValues("received").Inc()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.Server.MaxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Warn("read webhook body failed", "error", err)
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		metrics.WebhookRequests.WithLabelValues("error_read").Inc()
		return
	}

	if secret := h.cfg.Server.WebhookSecret; secret != "" {
		if !verifyRequest(r, body, secret) {
			slog.Warn("webhook signature verification failed", "remote", r.RemoteAddr)
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			metrics.WebhookRequests.WithLabelValues("invalid_signature").Inc()
			return
		}
	}

	if !utf8.Valid(body) {
		http.Error(w, "Invalid encoding", http.StatusBadRequest)
		metrics.WebhookRequests.WithLabelValues("invalid_encoding").Inc()
		return
	}

	ev, err := ParsePayload(r.Header, body)
	if err != nil {
		slog.Warn("webhook payload rejected", "error", err)
		http.Error(w, "Unrecognized payload", http.StatusBadRequest)
		metrics.WebhookRequests.WithLabelValues("invalid_payload").Inc()
		return
	}
	if ev == nil {
		metrics.WebhookRequests.WithLabelValues("ignored_event").Inc()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "Event ignored")
		return
	}
	if ev.IsDraft && h.cfg.Review.SkipDrafts {
		slog.Info("ignoring draft pr event", "pr", ev.Key())
		metrics.WebhookRequests.WithLabelValues("ignored_draft").Inc()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "Draft ignored")
		return
	}

	h.enqueue(ev)
	metrics.WebhookRequests.WithLabelValues("accepted").Inc()
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintln(w, "Review queued")
}

// enqueue schedules the event behind the per-PR debounce window. Rapid
// successive pushes collapse into one review of the final state.
func (h *Handler) enqueue(ev *Event) {
	key := ev.Key()
	slog.Info("review scheduled", "pr", key, "action", ev.Action, "head", ev.HeadSHA)

	h.debounce.Add(key, func() {
		err := h.pool.Submit(func(ctx context.Context) {
			h.locks.Lock(key)
			defer h.locks.Unlock(key)

			rctx, cancel := context.WithTimeout(ctx, h.cfg.Webhook.ReviewTimeout)
			defer cancel()

			if err := h.review(rctx, ev); err != nil {
				slog.Error("webhook review failed", "pr", key, "error", err)
			}
		})
		if err != nil {
			slog.Warn("review dropped", "pr", key, "error", err)
			metrics.WebhookRequests.WithLabelValues("dropped_queue_full").Inc()
		}
	})
}

// Shutdown cancels pending debounce timers. Call before stopping the worker
// pool so no timer submits into a stopped pool.
func (h *Handler) Shutdown() {
	h.debounce.CancelAll()
}

// verifyRequest checks the platform's authentication header. GitHub signs
// the body with HMAC-SHA256; GitLab echoes the shared secret verbatim.
func verifyRequest(r *http.Request, body []byte, secret string) bool {
	if sig := r.Header.Get("X-Hub-Signature-256"); sig != "" {
		return verifySignature(body, sig, secret)
	}
	if tok := r.Header.Get("X-Gitlab-Token"); tok != "" {
		return hmac.Equal([]byte(tok), []byte(secret))
	}
	return false
}

// verifySignature validates an HMAC-SHA256 signature in
// "sha256=<hex>" form using constant-time comparison.
func verifySignature(body []byte, signature, secret string) bool {
	parts := strings.SplitN(signature, "=", 2)
	if len(parts) != 2 || parts[0] != "sha256" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(parts[1]))
}
