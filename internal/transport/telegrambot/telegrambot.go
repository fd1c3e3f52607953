// Package telegrambot implements transport.Connector and transport.Handle
// on top of a Bot-API-shaped client (github.com/mymmrac/telego).
// Flood-wait classification reads telego's retry-after error field, and
// outbound files are sent by file_id so no local download is ever
// needed. The Bot API has no backlog-history endpoint, so this
// transport cannot back the engine's message-history copy on its own —
// see IterateMessagesAscending below.
package telegrambot

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/relaycrew/chatrelay/internal/transport"
)

// Connector builds Handles from stored bot-token session blobs. The
// session blob for this transport is the raw bot token; app id/hash are
// unused and accepted only to satisfy transport.Connector's shape.
type Connector struct{}

func NewConnector() *Connector { return &Connector{} }

func (c *Connector) Connect(ctx context.Context, accountID, _, _, sessionBlob string) (transport.Handle, error) {
	token := strings.TrimSpace(sessionBlob)
	if token == "" {
		return nil, transport.NewError(transport.ErrNotAuthorized, errors.New("empty bot token"))
	}

	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, transport.NewError(transport.ErrNotAuthorized, err)
	}

	if _, err := bot.GetMe(ctx); err != nil {
		if isUnauthorized(err) {
			return nil, transport.NewError(transport.ErrNotAuthorized, err)
		}
		return nil, classifyError(err)
	}

	return &Handle{bot: bot, accountID: accountID}, nil
}

// Handle is a connected per-bot-account transport.Handle. It is not
// safe for concurrent Send calls; the Account Pool serializes those.
type Handle struct {
	bot       *telego.Bot
	accountID string
}

func (h *Handle) AccountID() string { return h.accountID }

// ResolveEntity resolves a numeric chat id, an @handle, or a t.me deep
// link to an immutable Entity snapshot via getChat.
func (h *Handle) ResolveEntity(ctx context.Context, ref transport.ChatRef) (transport.Entity, error) {
	id, err := parseChatRef(ref)
	if err != nil {
		return transport.Entity{}, transport.NewError(transport.ErrNotFound, err)
	}

	chat, err := h.bot.GetChat(ctx, &telego.ChatInfoParams{ChatID: id})
	if err != nil {
		return transport.Entity{}, classifyError(err)
	}

	kind := transport.EntityGroup
	switch chat.Type {
	case telego.ChatTypeChannel:
		kind = transport.EntityBroadcast
	case telego.ChatTypeSupergroup:
		kind = transport.EntitySupergroup
	case telego.ChatTypeGroup:
		kind = transport.EntityGroup
	}

	var linkedID int64
	if chat.LinkedChatID != 0 {
		linkedID = chat.LinkedChatID
	}

	return transport.Entity{
		ID:           chat.ID,
		Title:        chat.Title,
		Kind:         kind,
		IsForum:      chat.IsForum,
		LinkedChatID: linkedID,
	}, nil
}

// errBacklogReplayUnsupported is returned by IterateMessagesAscending:
// the Bot API has no endpoint to page a chat's prior messages, only to
// observe new ones live via getUpdates/webhook. Copying a channel's
// backlog requires a Transport backed by a client with real history
// access (e.g. an MTProto user session); no such Transport exists in
// this tree yet, so this one is not a substitute for it.
var errBacklogReplayUnsupported = errors.New("telegrambot: backlog history replay is not supported by the Bot API; a Transport with MTProto-style history access is required")

// IterateMessagesAscending always yields errBacklogReplayUnsupported
// and no messages. Returning an empty-but-successful sequence instead
// would let the Worker report a job complete after copying zero
// messages, silently masking the fact that nothing was actually
// replayed; failing loudly surfaces the gap immediately instead.
func (h *Handle) IterateMessagesAscending(_ context.Context, _ transport.Entity, _ int64) iter.Seq2[transport.Message, error] {
	return func(yield func(transport.Message, error) bool) {
		yield(transport.Message{}, errBacklogReplayUnsupported)
	}
}

func (h *Handle) SendText(ctx context.Context, target transport.SendTarget, text string) (transport.Ack, error) {
	params := &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: target.ChatID},
		Text:   text,
	}
	if topic := resolveThreadIDForSend(target.TopicID); topic != 0 {
		params.MessageThreadID = topic
	}

	msg, err := h.bot.SendMessage(ctx, params)
	if err != nil {
		return transport.Ack{}, classifyError(err)
	}
	return transport.Ack{MessageID: int64(msg.MessageID)}, nil
}

func (h *Handle) SendFile(ctx context.Context, target transport.SendTarget, mediaRef, caption, documentMIME string) (transport.Ack, error) {
	file := telego.InputFile{FileID: mediaRef}
	topic := resolveThreadIDForSend(target.TopicID)

	if isImageMIME(documentMIME) {
		params := &telego.SendPhotoParams{
			ChatID:  telego.ChatID{ID: target.ChatID},
			Photo:   file,
			Caption: caption,
		}
		if topic != 0 {
			params.MessageThreadID = topic
		}
		msg, err := h.bot.SendPhoto(ctx, params)
		if err != nil {
			return transport.Ack{}, classifyError(err)
		}
		return transport.Ack{MessageID: int64(msg.MessageID)}, nil
	}

	params := &telego.SendDocumentParams{
		ChatID:   telego.ChatID{ID: target.ChatID},
		Document: file,
		Caption:  caption,
	}
	if topic != 0 {
		params.MessageThreadID = topic
	}
	msg, err := h.bot.SendDocument(ctx, params)
	if err != nil {
		return transport.Ack{}, classifyError(err)
	}
	return transport.Ack{MessageID: int64(msg.MessageID)}, nil
}

func (h *Handle) Close() error { return nil }

const telegramGeneralTopicID = transport.GeneralTopicID

// resolveThreadIDForSend maps the General topic id to 0 (no explicit
// thread), the only value the Bot API accepts for a forum's default
// topic on send.
func resolveThreadIDForSend(topicID int) int {
	if topicID == telegramGeneralTopicID {
		return 0
	}
	return topicID
}

func isImageMIME(mime string) bool {
	return strings.HasPrefix(mime, "image/")
}

func parseChatRef(ref transport.ChatRef) (telego.ChatID, error) {
	s := strings.TrimSpace(string(ref))

	if strings.HasPrefix(s, "https://t.me/") {
		s = strings.TrimPrefix(s, "https://t.me/")
	}
	if strings.HasPrefix(s, "@") {
		return telego.ChatID{Username: s}, nil
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return telego.ChatID{ID: id}, nil
	}
	if !strings.Contains(s, "/") && !strings.Contains(s, ".") {
		return telego.ChatID{Username: "@" + s}, nil
	}
	return telego.ChatID{}, fmt.Errorf("unrecognized chat reference %q", ref)
}

func isUnauthorized(err error) bool {
	var apiErr *telego.Error
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == 401
	}
	return false
}

// classifyError maps a telego API error to the Transport error taxonomy.
// telego surfaces Telegram's retry_after parameter on 429 responses,
// which becomes a flood-wait error carrying the server's minimum delay.
func classifyError(err error) error {
	var apiErr *telego.Error
	if errors.As(err, &apiErr) {
		if apiErr.Parameters != nil && apiErr.Parameters.RetryAfter > 0 {
			return transport.NewFloodWait(apiErr.Parameters.RetryAfter)
		}
		switch apiErr.ErrorCode {
		case 401:
			return transport.NewError(transport.ErrNotAuthorized, err)
		case 403:
			if strings.Contains(strings.ToLower(apiErr.Description), "not enough rights") ||
				strings.Contains(strings.ToLower(apiErr.Description), "can't write") {
				return transport.NewError(transport.ErrWritePermissionDenied, err)
			}
			return transport.NewError(transport.ErrPrivateForbidden, err)
		case 404:
			return transport.NewError(transport.ErrNotFound, err)
		case 429:
			return transport.NewFloodWait(1)
		case 500, 502, 503, 504:
			return transport.NewError(transport.ErrTransient, err)
		}
	}
	return transport.NewError(transport.ErrUnexpected, err)
}
