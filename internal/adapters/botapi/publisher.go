package botapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"telegram-postbot/internal/domain/post"
	"telegram-postbot/internal/domain/publish"

	"github.com/go-faster/errors"
)

// Publisher отправляет посты в каналы методами Bot API. Реализует
// publish.Publisher; все отказы возвращаются уже классифицированными.
type Publisher struct {
	client *Client
}

// NewPublisher оборачивает клиент в публикатора.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// PublishSingle публикует одиночное медиа. Метод API выбирается по виду
// медиа, документные виды уходят через sendDocument без перекодирования.
func (p *Publisher) PublishSingle(ctx context.Context, channelID int64, kind post.MediaKind, path, caption string) error {
	f, err := openMedia(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fields := map[string]string{"chat_id": chatID(channelID)}
	if caption != "" {
		fields["caption"] = caption
	}

	method, field := sendMethod(kind)
	return p.client.postMultipart(ctx, method, fields, []upload{
		{field: field, name: filepath.Base(path), r: f},
	})
}

// inputMedia — позиция массива media метода sendMediaGroup. Файлы
// прикладываются в том же multipart-запросе и адресуются через attach://.
type inputMedia struct {
	Type    string `json:"type"`
	Media   string `json:"media"`
	Caption string `json:"caption,omitempty"`
}

// PublishAlbum публикует альбом одним вызовом sendMediaGroup. Подпись
// ставится на первую позицию: Telegram показывает её под всей группой.
func (p *Publisher) PublishAlbum(ctx context.Context, channelID int64, items []post.AlbumItem, caption string) error {
	if len(items) == 0 {
		return publish.NewError(publish.MediaMissing, errors.New("album is empty"))
	}

	media := make([]inputMedia, 0, len(items))
	files := make([]upload, 0, len(items))
	defer func() {
		for _, f := range files {
			if c, ok := f.r.(*os.File); ok {
				c.Close()
			}
		}
	}()

	for i, item := range items {
		f, err := openMedia(item.FilePath)
		if err != nil {
			return err
		}
		attach := fmt.Sprintf("file%d", i)
		files = append(files, upload{field: attach, name: filepath.Base(item.FilePath), r: f})

		m := inputMedia{Type: groupType(item.Kind), Media: "attach://" + attach}
		if i == 0 {
			m.Caption = caption
		}
		media = append(media, m)
	}

	payload, err := json.Marshal(media)
	if err != nil {
		return publish.NewError(publish.Unknown, err)
	}
	fields := map[string]string{
		"chat_id": chatID(channelID),
		"media":   string(payload),
	}
	return p.client.postMultipart(ctx, "sendMediaGroup", fields, files)
}

// openMedia открывает файл поста. Отсутствие файла — отдельный вид ошибки:
// диспетчер сразу переводит такой пост в failed, повторы бессмысленны.
func openMedia(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, publish.NewError(publish.MediaMissing, err)
		}
		return nil, publish.NewError(publish.Unknown, err)
	}
	return f, nil
}

// sendMethod возвращает метод API и имя файлового поля для вида медиа.
func sendMethod(kind post.MediaKind) (method, field string) {
	if kind.AsDocument() {
		return "sendDocument", "document"
	}
	switch kind {
	case post.KindPhoto:
		return "sendPhoto", "photo"
	case post.KindVideo:
		return "sendVideo", "video"
	case post.KindAudio:
		return "sendAudio", "audio"
	case post.KindAnimation:
		return "sendAnimation", "animation"
	default:
		// Неизвестный вид надёжнее всего уходит документом.
		return "sendDocument", "document"
	}
}

// groupType — тип позиции sendMediaGroup. Анимации в группах Bot API не
// поддерживает, они уходят документами.
func groupType(kind post.MediaKind) string {
	if kind.AsDocument() {
		return "document"
	}
	switch kind {
	case post.KindVideo:
		return "video"
	case post.KindAudio:
		return "audio"
	case post.KindAnimation:
		return "document"
	default:
		return "photo"
	}
}
