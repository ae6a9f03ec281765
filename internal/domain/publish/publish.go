// Контракты публикации. Ядро (диспетчер, монитор, команды) зависит только от
// этих интерфейсов; конкретный транспорт (Bot API или MTProto) выбирается при
// сборке приложения.
package publish

import (
	"context"

	"telegram-postbot/internal/domain/post"
)

// Publisher отправляет содержимое поста в канал. Реализация обязана вернуть
// либо nil, либо классифицированную *Error; прочие ошибки ядро трактует как
// Unknown.
type Publisher interface {
	// PublishSingle отправляет одиночное медиа с подписью.
	PublishSingle(ctx context.Context, channelID int64, kind post.MediaKind, path, caption string) error
	// PublishAlbum отправляет альбом одной группой; подпись ставится на
	// первую позицию.
	PublishAlbum(ctx context.Context, channelID int64, items []post.AlbumItem, caption string) error
}

// Notifier доставляет оператору служебные сообщения: итоги публикаций,
// напоминания, диагностику сбоев. Доставка best-effort: ошибка уведомления
// логируется и не влияет на судьбу поста.
type Notifier interface {
	NotifyOperator(ctx context.Context, userID int64, text string) error
}

// NopNotifier глотает уведомления. Подставляется при PUBLISHER=mtproto без
// BOT_TOKEN: доставлять служебные сообщения нечем, но ядру нотификатор нужен.
type NopNotifier struct{}

func (NopNotifier) NotifyOperator(context.Context, int64, string) error { return nil }
