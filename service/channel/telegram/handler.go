// Package telegram implements the Telegram decision channel: a webhook
// handler for commands and inline button callbacks, and a notifier pushing
// new requests to linked chats.
package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"

	mapproval "github.com/viant/tradegate/model/approval"
	"github.com/viant/tradegate/service/approval"
	"github.com/viant/tradegate/service/channel"
)

// SecretHeader carries the webhook secret set with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const maxBodySize = 1 << 20

var callbackPattern = regexp.MustCompile(`^approval:([A-Za-z0-9_\-]+):(approve|reject)$`)

// Handler is the webhook endpoint.
type Handler struct {
	approvals channel.Approvals
	links     LinkStore
	secret    string
	messenger Messenger
	dedup     *channel.Dedup
	logger    *slog.Logger
}

// Option customises the Handler.
type Option func(*Handler)

// WithMessenger sets where replies go.
func WithMessenger(m Messenger) Option {
	return func(h *Handler) { h.messenger = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithDedupCapacity bounds remembered update and callback ids.
func WithDedupCapacity(capacity int) Option {
	return func(h *Handler) { h.dedup = channel.NewDedup(capacity) }
}

// New creates a webhook handler accepting deliveries that carry secret.
func New(approvals channel.Approvals, links LinkStore, secret string, options ...Option) *Handler {
	ret := &Handler{
		approvals: approvals,
		links:     links,
		secret:    secret,
		dedup:     channel.NewDedup(channel.DefaultDedupCapacity),
		logger:    slog.Default(),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Verify checks the shared secret in constant time. An empty configured
// secret rejects everything.
func (h *Handler) Verify(header string) error {
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(header), []byte(h.secret)) != 1 {
		return channel.ErrAuthenticityFailure
	}
	return nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "method not allowed"})
		return
	}
	if err := h.Verify(r.Header.Get(SecretHeader)); err != nil {
		h.logger.Warn("telegram webhook rejected", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "forbidden"})
		return
	}
	update := &Update{}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(update); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid update"})
		return
	}
	reply, err := h.Handle(r.Context(), update)
	if err != nil {
		h.logger.Error("telegram update failed", "update_id", update.UpdateID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// Handle processes a verified update.
func (h *Handler) Handle(ctx context.Context, update *Update) (*Reply, error) {
	switch {
	case update.CallbackQuery != nil:
		return h.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		key := ""
		if update.UpdateID != 0 {
			key = "update:" + strconv.FormatInt(update.UpdateID, 10)
			if !h.dedup.Mark(key) {
				return &Reply{Status: StatusDuplicate}, nil
			}
		}
		reply, err := h.handleMessage(ctx, update.Message)
		if err != nil && key != "" {
			h.dedup.Forget(key)
		}
		return reply, err
	}
	return &Reply{Status: StatusIgnored}, nil
}

func (h *Handler) handleCallback(ctx context.Context, callback *CallbackQuery) (*Reply, error) {
	if callback.ID == "" {
		return &Reply{Status: StatusIgnored}, nil
	}
	key := "callback:" + callback.ID
	if !h.dedup.Mark(key) {
		return &Reply{Status: StatusDuplicate}, nil
	}
	reply, err := h.processCallback(ctx, callback)
	if err != nil {
		h.dedup.Forget(key)
		return nil, err
	}
	h.answer(ctx, callback.ID, reply)
	return reply, nil
}

func (h *Handler) processCallback(ctx context.Context, callback *CallbackQuery) (*Reply, error) {
	match := callbackPattern.FindStringSubmatch(callback.Data)
	if match == nil {
		return &Reply{Status: StatusIgnored, Text: "Unsupported approval action."}, nil
	}
	requestID, verdict := match[1], mapproval.Verdict(match[2])
	actor, err := h.actor(ctx, callbackChat(callback))
	if err != nil {
		return unlinkedReply(err)
	}
	return h.decide(ctx, requestID, actor, verdict, "", StatusProcessed)
}

func (h *Handler) decide(ctx context.Context, requestID, actor string, verdict mapproval.Verdict, reason, okStatus string) (*Reply, error) {
	if reason == "" {
		reason = channel.DefaultReason(verdict, mapproval.ChannelTelegram)
	}
	outcome, err := h.approvals.Decide(ctx, &mapproval.DecisionEvent{
		RequestID: requestID,
		Actor:     actor,
		Verdict:   verdict,
		Reason:    reason,
		Channel:   mapproval.ChannelTelegram,
	})
	switch {
	case err == nil:
	case errors.Is(err, approval.ErrNotFound), errors.Is(err, approval.ErrUnauthorizedDecision):
		// unauthorized actors learn nothing about the request
		return &Reply{Status: StatusNotFound, Text: "Approval request not found."}, nil
	case errors.Is(err, approval.ErrTerminalStateConflict):
		return &Reply{Status: StatusAlreadyDecided, Text: "Approval request already decided."}, nil
	case errors.Is(err, approval.ErrAuditIncomplete):
		h.logger.Error("decision applied with incomplete audit", "request_id", requestID, "error", err)
	default:
		return nil, err
	}
	return &Reply{Status: okStatus, Text: outcomeText(outcome)}, nil
}

func outcomeText(outcome *approval.Outcome) string {
	switch outcome.Status {
	case mapproval.StatusApproved:
		return "Approved. Execution has been queued."
	case mapproval.StatusRejected:
		return "Rejected."
	}
	return fmt.Sprintf("Decision recorded. Approvals %d/%d, rejections %d/%d.",
		outcome.Tally.Approve, outcome.Tally.Required, outcome.Tally.Reject, outcome.Tally.RejectRequired)
}

func (h *Handler) actor(ctx context.Context, chatID string) (string, error) {
	if chatID == "" {
		return "", channel.ErrUnlinkedChat
	}
	actor, ok, err := h.links.Actor(ctx, chatID)
	if err != nil {
		return "", err
	}
	if !ok || actor == "" {
		return "", channel.ErrUnlinkedChat
	}
	return actor, nil
}

func unlinkedReply(err error) (*Reply, error) {
	if errors.Is(err, channel.ErrUnlinkedChat) {
		return &Reply{Status: StatusUnauthorized, Text: "This Telegram account is not linked."}, nil
	}
	return nil, err
}

func callbackChat(callback *CallbackQuery) string {
	if callback.Message != nil && callback.Message.Chat.ID != 0 {
		return strconv.FormatInt(callback.Message.Chat.ID, 10)
	}
	if callback.From != nil && callback.From.ID != 0 {
		return strconv.FormatInt(callback.From.ID, 10)
	}
	return ""
}

func (h *Handler) answer(ctx context.Context, callbackID string, reply *Reply) {
	if h.messenger == nil || reply.Text == "" {
		return
	}
	alert := reply.Status != StatusProcessed && reply.Status != StatusAlreadyDecided
	if err := h.messenger.AnswerCallback(ctx, callbackID, reply.Text, alert); err != nil {
		h.logger.Warn("failed to answer telegram callback", "callback_id", callbackID, "error", err)
	}
}

func (h *Handler) send(ctx context.Context, chatID string, text string) {
	if h.messenger == nil || text == "" || chatID == "" {
		return
	}
	if err := h.messenger.SendMessage(ctx, &OutgoingMessage{ChatID: chatID, Text: text}); err != nil {
		h.logger.Warn("failed to send telegram reply", "chat_id", chatID, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
