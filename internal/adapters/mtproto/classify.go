package mtproto

import (
	"io"
	"net"

	"telegram-postbot/internal/domain/publish"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/tgerr"
)

// Типы RPC-ошибок, означающие потерю доступа к каналу: аккаунт исключён,
// лишён права писать или канал закрылся.
var accessDeniedTypes = []string{
	"CHANNEL_PRIVATE",
	"CHAT_WRITE_FORBIDDEN",
	"CHAT_SEND_MEDIA_FORBIDDEN",
	"USER_BANNED_IN_CHANNEL",
}

// classifyRPC переводит ошибку MTProto-слоя в таксономию публикации.
// FLOOD_WAIT несёт предписанную паузу, остальные RPC-типы раскладываются
// по постоянным классам, сетевые сбои распознаются по цепочке ошибок.
func classifyRPC(err error) *publish.Error {
	if err == nil {
		return nil
	}

	if wait, ok := tgerr.AsFloodWait(err); ok {
		return publish.RateLimitedError(wait, err)
	}

	var notFound *peers.PeerNotFoundError
	if errors.As(err, &notFound) {
		return publish.NewError(publish.ChatNotFound, err)
	}

	switch {
	case tgerr.Is(err, accessDeniedTypes...):
		return publish.NewError(publish.BotBlocked, err)
	case tgerr.Is(err, "PEER_ID_INVALID", "CHANNEL_INVALID"):
		return publish.NewError(publish.ChatNotFound, err)
	case tgerr.Is(err, "MEDIA_CAPTION_TOO_LONG"):
		return publish.NewError(publish.BadCaption, err)
	}

	if rpcErr, ok := tgerr.As(err); ok {
		if rpcErr.Code >= 500 {
			return publish.NewError(publish.Network, err)
		}
		return publish.NewError(publish.BadRequestOther, err)
	}

	if isTransportError(err) {
		return publish.NewError(publish.Network, err)
	}
	return publish.Classify(err)
}

func isTransportError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
