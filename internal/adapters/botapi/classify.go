package botapi

import (
	"net/http"
	"strings"
	"time"

	"telegram-postbot/internal/domain/publish"

	"github.com/go-faster/errors"
)

// Пауза по умолчанию, когда сервер прислал 429 без retry_after.
const fallbackRetryAfter = 3 * time.Second

// Маркеры постоянных отказов в описаниях Bot API. Тексты стабильны годами,
// но сравнение всё равно идёт по подстроке и без учёта регистра.
var (
	blockedMarkers = []string{
		"bot was blocked",
		"bot was kicked",
		"not enough rights",
		"bot is not a member",
		"have no rights to send",
	}
	tooLargeMarkers = []string{
		"request entity too large",
		"file is too big",
	}
)

// classify переводит отказ Bot API в таксономию публикации. code — error_code
// из конверта либо HTTP-статус, desc — описание, retryAfter — секунды из
// parameters.retry_after.
func classify(code int, desc string, retryAfter int) *publish.Error {
	cause := errors.Errorf("bot api: %d %s", code, strings.TrimSpace(desc))
	lower := strings.ToLower(desc)

	switch {
	case code == http.StatusTooManyRequests || retryAfter > 0:
		wait := fallbackRetryAfter
		if retryAfter > 0 {
			wait = time.Duration(retryAfter) * time.Second
		}
		return publish.RateLimitedError(wait, cause)
	case containsAny(lower, blockedMarkers):
		return publish.NewError(publish.BotBlocked, cause)
	case strings.Contains(lower, "chat not found"):
		return publish.NewError(publish.ChatNotFound, cause)
	case code == http.StatusRequestEntityTooLarge || containsAny(lower, tooLargeMarkers):
		return publish.NewError(publish.FileTooLarge, cause)
	case strings.Contains(lower, "caption is too long"):
		return publish.NewError(publish.BadCaption, cause)
	case code >= 500:
		return publish.NewError(publish.Network, cause)
	case code >= 400:
		return publish.NewError(publish.BadRequestOther, cause)
	default:
		return publish.NewError(publish.Unknown, cause)
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
