package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	mapproval "github.com/viant/tradegate/model/approval"
)

// Notifier pushes new requests with approve/reject buttons to every linked
// chat of the owner and the approvers. It implements approval.Notifier.
type Notifier struct {
	links     LinkStore
	messenger Messenger
}

// NewNotifier creates a notifier.
func NewNotifier(links LinkStore, messenger Messenger) *Notifier {
	return &Notifier{links: links, messenger: messenger}
}

// Notify implements approval.Notifier. Requests without the telegram channel
// are skipped.
func (n *Notifier) Notify(ctx context.Context, request *mapproval.Request) error {
	if !request.HasChannel(mapproval.ChannelTelegram) {
		return nil
	}
	recipients := append([]string{request.Owner}, request.Approvers...)
	sent := map[string]bool{}
	message := Summary(request)
	var errs []error
	for _, actor := range recipients {
		chats, err := n.links.Chats(ctx, actor)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, chat := range chats {
			if sent[chat] {
				continue
			}
			sent[chat] = true
			out := *message
			out.ChatID = chat
			if err = n.messenger.SendMessage(ctx, &out); err != nil {
				errs = append(errs, fmt.Errorf("chat %s: %w", chat, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Summary renders request as a bot message without a chat id.
func Summary(request *mapproval.Request) *OutgoingMessage {
	order := map[string]interface{}{}
	_ = json.Unmarshal(request.Payload, &order)
	field := func(name string) string {
		if v, ok := order[name]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return "-"
	}
	text := strings.Join([]string{
		"Approval required",
		"Action: " + request.ActionKind,
		"Symbol: " + field("symbol"),
		"Side: " + field("side"),
		"Quantity: " + field("quantity"),
		fmt.Sprintf("Risk score: %d", request.RiskScore),
		fmt.Sprintf("Quorum: %d of %d", request.RequiredQuorum, len(request.Approvers)),
		"Request ID: " + request.ID,
	}, "\n")
	prefix := "approval:" + request.ID + ":"
	return &OutgoingMessage{
		Text: text,
		Buttons: [][]Button{{
			{Text: "Approve", CallbackData: prefix + string(mapproval.VerdictApprove)},
			{Text: "Reject", CallbackData: prefix + string(mapproval.VerdictReject)},
		}},
	}
}
