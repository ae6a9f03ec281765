package mtproto

import (
	"context"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"mime"
	"path/filepath"
	"sync"

	"telegram-postbot/internal/domain/post"
	"telegram-postbot/internal/domain/publish"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
)

// PublishSingle загружает файл и публикует его одним messages.sendMedia.
// random_id фиксируется на время повторов, чтобы сетевые ретраи одной и той
// же публикации не плодили дубликаты в канале.
func (c *Client) PublishSingle(ctx context.Context, channelID int64, kind post.MediaKind, path, caption string) error {
	peer, err := c.peers.Channel(ctx, channelID)
	if err != nil {
		return classifyRPC(err)
	}

	file, uploadErr := c.uploadFile(ctx, path)
	if uploadErr != nil {
		return uploadErr
	}

	key := sendKey(channelID, path, caption)
	_, err = c.api.MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
		Peer:     peer,
		Media:    uploadedMedia(kind, file, path),
		Message:  caption,
		RandomID: c.ids.acquire(key),
	})
	if err != nil {
		perr := classifyRPC(err)
		if !perr.Retryable() {
			c.ids.forget(key)
		}
		return perr
	}
	c.ids.forget(key)
	return nil
}

// PublishAlbum публикует альбом одним messages.sendMultiMedia. Каждый файл
// сперва загружается и материализуется через messages.uploadMedia: сырые
// uploaded-медиа в мультимедиа-запросе Telegram не принимает.
func (c *Client) PublishAlbum(ctx context.Context, channelID int64, items []post.AlbumItem, caption string) error {
	if len(items) == 0 {
		return publish.NewError(publish.MediaMissing, errors.New("album is empty"))
	}

	peer, err := c.peers.Channel(ctx, channelID)
	if err != nil {
		return classifyRPC(err)
	}

	keys := make([]string, len(items))
	multi := make([]tg.InputSingleMedia, 0, len(items))
	for i, item := range items {
		file, uploadErr := c.uploadFile(ctx, item.FilePath)
		if uploadErr != nil {
			return uploadErr
		}

		ready, prepErr := c.materialize(ctx, peer, uploadedMedia(item.Kind, file, item.FilePath))
		if prepErr != nil {
			perr := classifyRPC(prepErr)
			if !perr.Retryable() {
				c.ids.forgetAll(keys[:i])
			}
			return perr
		}

		keys[i] = sendKey(channelID, item.FilePath, fmt.Sprintf("#%d %s", i, caption))
		single := tg.InputSingleMedia{
			Media:    ready,
			RandomID: c.ids.acquire(keys[i]),
		}
		if i == 0 {
			single.Message = caption
		}
		multi = append(multi, single)
	}

	if _, err := c.api.MessagesSendMultiMedia(ctx, &tg.MessagesSendMultiMediaRequest{
		Peer:       peer,
		MultiMedia: multi,
	}); err != nil {
		perr := classifyRPC(err)
		if !perr.Retryable() {
			c.ids.forgetAll(keys)
		}
		return perr
	}
	c.ids.forgetAll(keys)
	return nil
}

// uploadFile стримит файл в Telegram и возвращает InputFile для вложения.
func (c *Client) uploadFile(ctx context.Context, path string) (tg.InputFileClass, error) {
	file, err := c.upload.FromPath(ctx, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, publish.NewError(publish.MediaMissing, err)
		}
		return nil, classifyRPC(err)
	}
	return file, nil
}

// materialize превращает свежезагруженный файл в переиспользуемое медиа
// (photo/document с id и access_hash) через messages.uploadMedia.
func (c *Client) materialize(ctx context.Context, peer tg.InputPeerClass, media tg.InputMediaClass) (tg.InputMediaClass, error) {
	uploaded, err := c.api.MessagesUploadMedia(ctx, &tg.MessagesUploadMediaRequest{
		Peer:  peer,
		Media: media,
	})
	if err != nil {
		return nil, err
	}

	switch m := uploaded.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil, errors.New("uploadMedia returned empty photo")
		}
		return &tg.InputMediaPhoto{ID: &tg.InputPhoto{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
		}}, nil
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil, errors.New("uploadMedia returned empty document")
		}
		return &tg.InputMediaDocument{ID: &tg.InputDocument{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}}, nil
	default:
		return nil, errors.Errorf("unexpected uploadMedia result %T", uploaded)
	}
}

// uploadedMedia собирает InputMedia для загруженного файла. Фото уходит как
// photo, всё остальное документом с атрибутами по виду; документные виды
// дополнительно получают ForceFile, чтобы Telegram не пережимал содержимое.
func uploadedMedia(kind post.MediaKind, file tg.InputFileClass, path string) tg.InputMediaClass {
	if kind == post.KindPhoto {
		return &tg.InputMediaUploadedPhoto{File: file}
	}

	doc := &tg.InputMediaUploadedDocument{
		File:     file,
		MimeType: mimeByPath(path),
		Attributes: []tg.DocumentAttributeClass{
			&tg.DocumentAttributeFilename{FileName: filepath.Base(path)},
		},
	}
	switch kind {
	case post.KindVideo:
		doc.Attributes = append(doc.Attributes, &tg.DocumentAttributeVideo{SupportsStreaming: true})
	case post.KindAudio:
		doc.Attributes = append(doc.Attributes, &tg.DocumentAttributeAudio{})
	case post.KindAnimation:
		doc.Attributes = append(doc.Attributes, &tg.DocumentAttributeAnimated{})
	}
	if kind.AsDocument() {
		doc.ForceFile = true
	}
	return doc
}

func mimeByPath(path string) string {
	if mt := mime.TypeByExtension(filepath.Ext(path)); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

func sendKey(channelID int64, path, caption string) string {
	return fmt.Sprintf("%d|%s|%s", channelID, path, caption)
}

// randomIDRegistry выдаёт random_id и помнит его, пока отправка не
// завершилась успехом или постоянным отказом. Очередной выход серии
// начинается только после того, как предыдущий стал терминальным, поэтому
// ключ не может столкнуться с собственным прошлым выходом.
type randomIDRegistry struct {
	mu  sync.Mutex
	ids map[string]int64
}

func newRandomIDRegistry() *randomIDRegistry {
	return &randomIDRegistry{ids: make(map[string]int64)}
}

func (r *randomIDRegistry) acquire(key string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[key]; ok {
		return id
	}
	id := rand.Int64()
	r.ids[key] = id
	return id
}

func (r *randomIDRegistry) forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ids, key)
}

func (r *randomIDRegistry) forgetAll(keys []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range keys {
		if key != "" {
			delete(r.ids, key)
		}
	}
}
