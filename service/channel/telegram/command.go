package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	mapproval "github.com/viant/tradegate/model/approval"
	"github.com/viant/tradegate/service/approval"
	"github.com/viant/tradegate/service/rbac"
)

const (
	defaultPendingLimit = 10
	maxPendingLimit     = 50
)

// Command is a parsed bot command.
type Command struct {
	Name string
	Args []string
	// Rest is the text following the first argument, used as a reason.
	Rest string
}

// ParseCommand parses "/name[@bot] args...". It returns nil for plain text.
func ParseCommand(text string) *Command {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil
	}
	fields := strings.Fields(text)
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if i := strings.Index(name, "@"); i >= 0 {
		name = name[:i]
	}
	cmd := &Command{Name: name, Args: fields[1:]}
	if len(cmd.Args) > 1 {
		rest := strings.TrimSpace(strings.TrimPrefix(text, fields[0]))
		rest = strings.TrimSpace(strings.TrimPrefix(rest, cmd.Args[0]))
		cmd.Rest = rest
	}
	return cmd
}

func (h *Handler) handleMessage(ctx context.Context, message *Message) (*Reply, error) {
	cmd := ParseCommand(message.Text)
	if cmd == nil {
		return &Reply{Status: StatusIgnored}, nil
	}
	chatID := strconv.FormatInt(message.Chat.ID, 10)
	reply, err := h.runCommand(ctx, chatID, cmd)
	if err != nil {
		return nil, err
	}
	h.send(ctx, chatID, reply.Text)
	return reply, nil
}

func (h *Handler) runCommand(ctx context.Context, chatID string, cmd *Command) (*Reply, error) {
	switch cmd.Name {
	case "approve", "reject", "status", "pending":
	default:
		return &Reply{Status: StatusIgnored, Text: "Unknown command. Use /approve, /reject, /status or /pending."}, nil
	}
	actor, err := h.actor(ctx, chatID)
	if err != nil {
		return unlinkedReply(err)
	}
	switch cmd.Name {
	case "approve", "reject":
		if len(cmd.Args) == 0 {
			return &Reply{Status: StatusIgnored, Text: fmt.Sprintf("Usage: /%s <request id> [reason]", cmd.Name)}, nil
		}
		verdict := mapproval.VerdictApprove
		if cmd.Name == "reject" {
			verdict = mapproval.VerdictReject
		}
		return h.decide(ctx, cmd.Args[0], actor, verdict, cmd.Rest, StatusCommandProcessed)
	case "status":
		if len(cmd.Args) == 0 {
			return &Reply{Status: StatusIgnored, Text: "Usage: /status <request id>"}, nil
		}
		return h.status(ctx, cmd.Args[0], actor)
	default:
		return h.pending(ctx, actor, cmd.Args)
	}
}

func (h *Handler) status(ctx context.Context, requestID, actor string) (*Reply, error) {
	request, err := h.approvals.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, approval.ErrNotFound) {
			return &Reply{Status: StatusNotFound, Text: "Approval request not found."}, nil
		}
		return nil, err
	}
	if !rbac.CanView(request, actor) {
		return &Reply{Status: StatusNotFound, Text: "Approval request not found."}, nil
	}
	tally := rbac.Count(request)
	text := fmt.Sprintf("Request %s: %s\nAction: %s\nApprovals %d/%d, rejections %d/%d",
		request.ID, request.Status, request.ActionKind, tally.Approve, tally.Required, tally.Reject, tally.RejectRequired)
	if request.DecisionReason != "" {
		text += "\nReason: " + request.DecisionReason
	}
	return &Reply{Status: StatusCommandProcessed, Text: text}, nil
}

func (h *Handler) pending(ctx context.Context, actor string, args []string) (*Reply, error) {
	limit := defaultPendingLimit
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPendingLimit {
		limit = maxPendingLimit
	}
	items, err := h.approvals.Queue(ctx, &approval.QueueFilter{Actor: actor, Channel: mapproval.ChannelTelegram, Limit: limit})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return &Reply{Status: StatusCommandProcessed, Text: "No pending approvals."}, nil
	}
	lines := []string{fmt.Sprintf("Pending approvals (%d):", len(items))}
	for _, item := range items {
		line := fmt.Sprintf("%s %s [%s] %d/%d", item.Request.ID, item.Request.ActionKind, item.Request.Status, item.Tally.Approve, item.Tally.Required)
		if item.Overdue {
			line += " overdue"
		}
		lines = append(lines, line)
	}
	return &Reply{Status: StatusCommandProcessed, Text: strings.Join(lines, "\n")}, nil
}
