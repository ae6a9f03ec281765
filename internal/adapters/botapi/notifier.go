package botapi

import (
	"context"
	"time"

	"telegram-postbot/internal/domain/publish"
	"telegram-postbot/internal/infra/throttle"

	"github.com/go-faster/errors"
)

// Повторы уведомлений скромные: уведомление вторично к публикации, вечно
// долбить API из-за него нельзя.
const notifyMaxRetries = 2

// Notifier доставляет операторам служебные сообщения через sendMessage.
// Поверх клиента стоит троттлер: предписанные сервером паузы выдерживаются,
// постоянные отказы (оператор заблокировал бота) не повторяются.
type Notifier struct {
	client *Client
	retry  *throttle.Throttler
}

// NewNotifier собирает нотификатора с частотой rps сообщений в секунду.
func NewNotifier(client *Client, rps int) *Notifier {
	return &Notifier{
		client: client,
		retry: throttle.New(rps,
			throttle.WithMaxRetries(notifyMaxRetries),
			throttle.WithWaitExtractors(RetryAfterWait),
		),
	}
}

// Start запускает троттлер доставки.
func (n *Notifier) Start(ctx context.Context) { n.retry.Start(ctx) }

// Stop останавливает троттлер. Идемпотентен.
func (n *Notifier) Stop() { n.retry.Stop() }

// sendMessagePayload — тело метода sendMessage. Превью ссылок в служебных
// сообщениях всегда выключено.
type sendMessagePayload struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// NotifyOperator шлёт личное сообщение оператору. Реализует publish.Notifier.
func (n *Notifier) NotifyOperator(ctx context.Context, userID int64, text string) error {
	return n.retry.Do(ctx, func() error {
		return n.client.postJSON(ctx, "sendMessage", sendMessagePayload{
			ChatID:                userID,
			Text:                  text,
			DisableWebPagePreview: true,
		})
	})
}

// RetryAfterWait извлекает предписанную Bot API паузу из классифицированной
// ошибки. Подходит как WaitExtractor троттлера.
func RetryAfterWait(err error) (time.Duration, bool) {
	var perr *publish.Error
	if errors.As(err, &perr) && perr.Kind == publish.RateLimited {
		return perr.RetryAfter + time.Second, true
	}
	return 0, false
}
