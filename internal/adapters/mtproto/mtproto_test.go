package mtproto

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"telegram-postbot/internal/domain/post"
	"telegram-postbot/internal/domain/publish"
)

func TestClassifyRPC(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		kind publish.Kind
	}{
		{"flood wait", tgerr.New(420, "FLOOD_WAIT_7"), publish.RateLimited},
		{"channel private", tgerr.New(400, "CHANNEL_PRIVATE"), publish.BotBlocked},
		{"write forbidden", tgerr.New(403, "CHAT_WRITE_FORBIDDEN"), publish.BotBlocked},
		{"peer id invalid", tgerr.New(400, "PEER_ID_INVALID"), publish.ChatNotFound},
		{"peer not resolved", &peers.PeerNotFoundError{}, publish.ChatNotFound},
		{"caption too long", tgerr.New(400, "MEDIA_CAPTION_TOO_LONG"), publish.BadCaption},
		{"other rpc 400", tgerr.New(400, "RANDOM_ID_DUPLICATE"), publish.BadRequestOther},
		{"internal 500", tgerr.New(500, "INTERNAL"), publish.Network},
		{"eof", io.EOF, publish.Network},
		{"deadline", context.DeadlineExceeded, publish.Network},
		{"unexpected", errors.New("странная ошибка"), publish.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			perr := classifyRPC(tt.err)
			if perr == nil {
				t.Fatal("ожидалась классифицированная ошибка")
			}
			if perr.Kind != tt.kind {
				t.Errorf("класс %v, ожидался %v", perr.Kind, tt.kind)
			}
		})
	}
}

func TestClassifyRPCFloodWaitCarriesDelay(t *testing.T) {
	t.Parallel()

	perr := classifyRPC(tgerr.New(420, "FLOOD_WAIT_7"))
	if perr.Kind != publish.RateLimited {
		t.Fatalf("класс %v, ожидался RateLimited", perr.Kind)
	}
	if perr.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, ожидалось 7s", perr.RetryAfter)
	}
}

func TestUploadedMedia(t *testing.T) {
	t.Parallel()

	file := &tg.InputFile{Name: "x"}

	if _, ok := uploadedMedia(post.KindPhoto, file, "a.jpg").(*tg.InputMediaUploadedPhoto); !ok {
		t.Error("фото должно уходить как InputMediaUploadedPhoto")
	}

	video, ok := uploadedMedia(post.KindVideo, file, "клип.mp4").(*tg.InputMediaUploadedDocument)
	if !ok {
		t.Fatal("видео должно уходить документом")
	}
	if video.ForceFile {
		t.Error("обычное видео не должно помечаться ForceFile")
	}
	if !hasAttr[*tg.DocumentAttributeVideo](video.Attributes) {
		t.Error("у видео нет DocumentAttributeVideo")
	}
	if !hasAttr[*tg.DocumentAttributeFilename](video.Attributes) {
		t.Error("у документа нет атрибута имени файла")
	}

	raw, ok := uploadedMedia(post.KindDocumentVideo, file, "клип.mp4").(*tg.InputMediaUploadedDocument)
	if !ok {
		t.Fatal("document_video должен уходить документом")
	}
	if !raw.ForceFile {
		t.Error("document_video должен помечаться ForceFile")
	}

	audio, _ := uploadedMedia(post.KindAudio, file, "трек.mp3").(*tg.InputMediaUploadedDocument)
	if audio == nil || !hasAttr[*tg.DocumentAttributeAudio](audio.Attributes) {
		t.Error("у аудио нет DocumentAttributeAudio")
	}
}

func hasAttr[T tg.DocumentAttributeClass](attrs []tg.DocumentAttributeClass) bool {
	for _, a := range attrs {
		if _, ok := a.(T); ok {
			return true
		}
	}
	return false
}

func TestMimeByPath(t *testing.T) {
	t.Parallel()

	if got := mimeByPath("кот.png"); got != "image/png" {
		t.Errorf("png: %q", got)
	}
	if got := mimeByPath("данные.xyz123"); got != "application/octet-stream" {
		t.Errorf("неизвестное расширение: %q", got)
	}
}

func TestRandomIDRegistry(t *testing.T) {
	t.Parallel()

	reg := newRandomIDRegistry()
	key := sendKey(-1001, "a.jpg", "подпись")

	first := reg.acquire(key)
	if again := reg.acquire(key); again != first {
		t.Error("повтор до успеха должен получать тот же random_id")
	}

	reg.forget(key)
	if fresh := reg.acquire(key); fresh == first {
		t.Error("после успеха должен выдаваться новый random_id")
	}

	other := sendKey(-1002, "a.jpg", "подпись")
	if reg.acquire(other) == reg.acquire(key) {
		t.Error("разные ключи не должны делить random_id")
	}

	reg.forgetAll([]string{key, other, ""})
	if len(reg.ids) != 0 {
		t.Errorf("реестр не очищен: %d записей", len(reg.ids))
	}
}
