// Таксономия ошибок публикации. Диспетчер принимает решения о повторах
// только по полю Kind, не заглядывая в текст исходной ошибки транспорта.
package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// Kind — класс ошибки публикации.
type Kind string

const (
	// RateLimited — платформа просит подождать; срок в Error.RetryAfter.
	RateLimited Kind = "rate_limited"
	// BotBlocked — бот удалён из администраторов канала.
	BotBlocked Kind = "bot_blocked"
	// ChatNotFound — канал не существует или недоступен боту.
	ChatNotFound Kind = "chat_not_found"
	// FileTooLarge — вложение превышает лимит платформы.
	FileTooLarge Kind = "file_too_large"
	// Network — транспортный сбой или таймаут.
	Network Kind = "network"
	// BadCaption — подпись отклонена платформой.
	BadCaption Kind = "bad_caption"
	// BadRequestOther — прочие ошибки формата запроса.
	BadRequestOther Kind = "bad_request"
	// MediaMissing — медиафайл отсутствует на диске.
	MediaMissing Kind = "media_missing"
	// AccessDenied — канал не принадлежит оператору поста.
	AccessDenied Kind = "access_denied"
	// Unknown — неклассифицированная ошибка.
	Unknown Kind = "unknown"
)

// Retryable сообщает, имеет ли смысл повторять отправку.
func (k Kind) Retryable() bool {
	switch k {
	case RateLimited, Network, Unknown:
		return true
	default:
		return false
	}
}

// Advice возвращает рекомендацию оператору. Пустая строка — добавить нечего.
func (k Kind) Advice() string {
	switch k {
	case RateLimited:
		return "Превышен лимит отправки, попробуйте позже."
	case BotBlocked:
		return "Верните бота в администраторы канала и повторите пост."
	case ChatNotFound:
		return "Проверьте, что канал существует и бот в нём состоит."
	case FileTooLarge:
		return "Файл превышает лимит Telegram, уменьшите размер и загрузите заново."
	case Network:
		return "Сбой сети при отправке, повторите пост."
	case BadCaption:
		return "Подпись отклонена, сократите или упростите текст."
	case MediaMissing:
		return "Медиафайл не найден на диске, загрузите его заново."
	case AccessDenied:
		return "Канал не привязан к вашему аккаунту."
	default:
		return ""
	}
}

// Базовые задержки повторов.
const (
	networkRetryWait = 10 * time.Second
	unknownRetryBase = 5 * time.Second
	unknownRetryCap  = 60 * time.Second
	rateLimitSlack   = time.Second
)

// Error — классифицированная ошибка публикации.
type Error struct {
	Kind       Kind
	RetryAfter time.Duration // заполняется только для RateLimited
	Err        error         // исходная ошибка транспорта
}

// NewError оборачивает ошибку транспорта классом kind.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// RateLimitedError оборачивает ошибку лимита с предписанной паузой.
func RateLimitedError(retryAfter time.Duration, err error) *Error {
	return &Error{Kind: RateLimited, RetryAfter: retryAfter, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("publish: %s", e.Kind)
	}
	return fmt.Sprintf("publish: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable — короткий доступ к свойству класса.
func (e *Error) Retryable() bool { return e.Kind.Retryable() }

// StopRetry помечает постоянные отказы окончательными для механизмов
// повтора общего назначения (инфраструктурный троттлер и подобные).
func (e *Error) StopRetry() bool { return !e.Kind.Retryable() }

// WaitFor возвращает паузу перед повтором номер attempt (нумерация с нуля).
// Для неповторяемых классов — ноль.
func (e *Error) WaitFor(attempt int) time.Duration {
	switch e.Kind {
	case RateLimited:
		return e.RetryAfter + rateLimitSlack
	case Network:
		return networkRetryWait
	case Unknown:
		wait := unknownRetryBase << attempt
		if wait > unknownRetryCap || wait <= 0 {
			return unknownRetryCap
		}
		return wait
	default:
		return 0
	}
}

// Classify приводит произвольную ошибку к *Error. Уже классифицированные
// проходят без изменений, чужие оборачиваются как Unknown.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: Network, Err: err}
	}
	return &Error{Kind: Unknown, Err: err}
}
