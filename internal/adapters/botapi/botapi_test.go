package botapi_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"

	"telegram-postbot/internal/adapters/botapi"
	"telegram-postbot/internal/domain/post"
	"telegram-postbot/internal/domain/publish"
	"telegram-postbot/internal/infra/throttle"
)

const (
	testToken   = "123456:TEST-TOKEN"
	testChannel = int64(-1001234567890)
	testUser    = int64(100)
)

// capturedRequest — разобранный запрос к заглушке Bot API.
type capturedRequest struct {
	path  string
	form  map[string]string
	files map[string][]byte
	json  string
}

// captureServer поднимает заглушку Bot API, которая отвечает фиксированным
// статусом и телом, а разобранные запросы отдаёт в канал.
func captureServer(t *testing.T, status int, body string) (*httptest.Server, <-chan capturedRequest) {
	t.Helper()
	ch := make(chan capturedRequest, 8)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cr := capturedRequest{
			path:  r.URL.Path,
			form:  map[string]string{},
			files: map[string][]byte{},
		}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			if err := r.ParseMultipartForm(32 << 20); err != nil {
				t.Errorf("разбор multipart: %v", err)
			}
			for k, v := range r.MultipartForm.Value {
				cr.form[k] = v[0]
			}
			for k, headers := range r.MultipartForm.File {
				f, err := headers[0].Open()
				if err != nil {
					t.Errorf("открытие файла %s: %v", k, err)
					continue
				}
				data, err := io.ReadAll(f)
				f.Close()
				if err != nil {
					t.Errorf("чтение файла %s: %v", k, err)
					continue
				}
				cr.files[k] = data
			}
		} else {
			data, _ := io.ReadAll(r.Body)
			cr.json = string(data)
		}
		ch <- cr
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts, ch
}

const okBody = `{"ok":true,"result":{}}`

func newTestClient(t *testing.T, baseURL string) *botapi.Client {
	t.Helper()
	c, err := botapi.NewClient(botapi.Options{
		Token:    testToken,
		BaseURL:  baseURL,
		SendRate: 500,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

// mediaFile кладёт файл с содержимым в темповый каталог.
func mediaFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("запись файла: %v", err)
	}
	return path
}

func takeRequest(t *testing.T, ch <-chan capturedRequest) capturedRequest {
	t.Helper()
	select {
	case cr := <-ch:
		return cr
	case <-time.After(3 * time.Second):
		t.Fatal("заглушка не получила запрос")
		return capturedRequest{}
	}
}

func TestPublishSinglePhoto(t *testing.T) {
	t.Parallel()

	ts, ch := captureServer(t, http.StatusOK, okBody)
	p := botapi.NewPublisher(newTestClient(t, ts.URL))

	path := mediaFile(t, "cat.jpg", "jpeg-bytes")
	if err := p.PublishSingle(context.Background(), testChannel, post.KindPhoto, path, "Подпись"); err != nil {
		t.Fatalf("PublishSingle: %v", err)
	}

	cr := takeRequest(t, ch)
	if want := "/bot" + testToken + "/sendPhoto"; cr.path != want {
		t.Errorf("путь %q, ожидался %q", cr.path, want)
	}
	if cr.form["chat_id"] != "-1001234567890" {
		t.Errorf("chat_id = %q", cr.form["chat_id"])
	}
	if cr.form["caption"] != "Подпись" {
		t.Errorf("caption = %q", cr.form["caption"])
	}
	if string(cr.files["photo"]) != "jpeg-bytes" {
		t.Errorf("содержимое photo = %q", cr.files["photo"])
	}
}

func TestPublishSingleMethodByKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind   post.MediaKind
		method string
		field  string
	}{
		{post.KindPhoto, "sendPhoto", "photo"},
		{post.KindVideo, "sendVideo", "video"},
		{post.KindAudio, "sendAudio", "audio"},
		{post.KindAnimation, "sendAnimation", "animation"},
		{post.KindDocument, "sendDocument", "document"},
		{post.KindDocumentImage, "sendDocument", "document"},
		{post.KindDocumentVideo, "sendDocument", "document"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()

			ts, ch := captureServer(t, http.StatusOK, okBody)
			p := botapi.NewPublisher(newTestClient(t, ts.URL))

			path := mediaFile(t, "media.bin", "data")
			if err := p.PublishSingle(context.Background(), testChannel, tt.kind, path, ""); err != nil {
				t.Fatalf("PublishSingle: %v", err)
			}

			cr := takeRequest(t, ch)
			if !strings.HasSuffix(cr.path, "/"+tt.method) {
				t.Errorf("путь %q, ожидался метод %s", cr.path, tt.method)
			}
			if _, ok := cr.files[tt.field]; !ok {
				t.Errorf("нет файлового поля %q, есть %v", tt.field, cr.files)
			}
			if _, ok := cr.form["caption"]; ok {
				t.Error("пустая подпись не должна попадать в запрос")
			}
		})
	}
}

func TestPublishSingleMissingFile(t *testing.T) {
	t.Parallel()

	ts, ch := captureServer(t, http.StatusOK, okBody)
	p := botapi.NewPublisher(newTestClient(t, ts.URL))

	err := p.PublishSingle(context.Background(), testChannel, post.KindPhoto, filepath.Join(t.TempDir(), "нет.jpg"), "")
	var perr *publish.Error
	if !errors.As(err, &perr) || perr.Kind != publish.MediaMissing {
		t.Fatalf("ожидался MediaMissing, получено %v", err)
	}
	select {
	case cr := <-ch:
		t.Errorf("запрос не должен был отправляться: %+v", cr)
	default:
	}
}

func TestPublishAlbum(t *testing.T) {
	t.Parallel()

	ts, ch := captureServer(t, http.StatusOK, okBody)
	p := botapi.NewPublisher(newTestClient(t, ts.URL))

	items := []post.AlbumItem{
		{FilePath: mediaFile(t, "a.jpg", "aaa"), Kind: post.KindPhoto},
		{FilePath: mediaFile(t, "b.mp4", "bbb"), Kind: post.KindVideo},
		{FilePath: mediaFile(t, "c.png", "ccc"), Kind: post.KindDocumentImage},
	}
	if err := p.PublishAlbum(context.Background(), testChannel, items, "общая подпись"); err != nil {
		t.Fatalf("PublishAlbum: %v", err)
	}

	cr := takeRequest(t, ch)
	if !strings.HasSuffix(cr.path, "/sendMediaGroup") {
		t.Errorf("путь %q, ожидался sendMediaGroup", cr.path)
	}

	var media []struct {
		Type    string `json:"type"`
		Media   string `json:"media"`
		Caption string `json:"caption"`
	}
	if err := json.Unmarshal([]byte(cr.form["media"]), &media); err != nil {
		t.Fatalf("разбор media: %v", err)
	}
	if len(media) != 3 {
		t.Fatalf("позиций %d, ожидалось 3", len(media))
	}
	wantTypes := []string{"photo", "video", "document"}
	for i, m := range media {
		if m.Type != wantTypes[i] {
			t.Errorf("позиция %d: тип %q, ожидался %q", i, m.Type, wantTypes[i])
		}
		if want := "attach://file" + string(rune('0'+i)); m.Media != want {
			t.Errorf("позиция %d: media %q, ожидалось %q", i, m.Media, want)
		}
	}
	if media[0].Caption != "общая подпись" {
		t.Errorf("подпись первой позиции %q", media[0].Caption)
	}
	if media[1].Caption != "" || media[2].Caption != "" {
		t.Error("подпись должна стоять только на первой позиции")
	}

	wantFiles := map[string]string{"file0": "aaa", "file1": "bbb", "file2": "ccc"}
	for field, content := range wantFiles {
		if string(cr.files[field]) != content {
			t.Errorf("файл %s = %q, ожидалось %q", field, cr.files[field], content)
		}
	}
}

func TestPublishConvertsPositiveChannelID(t *testing.T) {
	t.Parallel()

	ts, ch := captureServer(t, http.StatusOK, okBody)
	p := botapi.NewPublisher(newTestClient(t, ts.URL))

	path := mediaFile(t, "cat.jpg", "x")
	if err := p.PublishSingle(context.Background(), 123456, post.KindPhoto, path, ""); err != nil {
		t.Fatalf("PublishSingle: %v", err)
	}
	cr := takeRequest(t, ch)
	if cr.form["chat_id"] != "-1000000123456" {
		t.Errorf("chat_id = %q, ожидался -1000000123456", cr.form["chat_id"])
	}
}

func TestTestEnvironmentPath(t *testing.T) {
	t.Parallel()

	ts, ch := captureServer(t, http.StatusOK, okBody)
	c, err := botapi.NewClient(botapi.Options{
		Token:    testToken,
		BaseURL:  ts.URL,
		Test:     true,
		SendRate: 500,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	path := mediaFile(t, "cat.jpg", "x")
	if err := botapi.NewPublisher(c).PublishSingle(context.Background(), testChannel, post.KindPhoto, path, ""); err != nil {
		t.Fatalf("PublishSingle: %v", err)
	}
	cr := takeRequest(t, ch)
	if want := "/bot" + testToken + "/test/sendPhoto"; cr.path != want {
		t.Errorf("путь %q, ожидался %q", cr.path, want)
	}
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		kind   publish.Kind
	}{
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 7","parameters":{"retry_after":7}}`,
			kind:   publish.RateLimited,
		},
		{
			name:   "bot blocked",
			status: http.StatusForbidden,
			body:   `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`,
			kind:   publish.BotBlocked,
		},
		{
			name:   "no rights",
			status: http.StatusBadRequest,
			body:   `{"ok":false,"error_code":400,"description":"Bad Request: not enough rights to send photos to the chat"}`,
			kind:   publish.BotBlocked,
		},
		{
			name:   "chat not found",
			status: http.StatusBadRequest,
			body:   `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`,
			kind:   publish.ChatNotFound,
		},
		{
			name:   "file too big",
			status: http.StatusRequestEntityTooLarge,
			body:   `{"ok":false,"error_code":413,"description":"Request Entity Too Large"}`,
			kind:   publish.FileTooLarge,
		},
		{
			name:   "caption too long",
			status: http.StatusBadRequest,
			body:   `{"ok":false,"error_code":400,"description":"Bad Request: message caption is too long"}`,
			kind:   publish.BadCaption,
		},
		{
			name:   "other bad request",
			status: http.StatusBadRequest,
			body:   `{"ok":false,"error_code":400,"description":"Bad Request: wrong type of the web page content"}`,
			kind:   publish.BadRequestOther,
		},
		{
			name:   "server error with html body",
			status: http.StatusBadGateway,
			body:   "<html>Bad Gateway</html>",
			kind:   publish.Network,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ts, _ := captureServer(t, tt.status, tt.body)
			p := botapi.NewPublisher(newTestClient(t, ts.URL))

			path := mediaFile(t, "cat.jpg", "x")
			err := p.PublishSingle(context.Background(), testChannel, post.KindPhoto, path, "")
			var perr *publish.Error
			if !errors.As(err, &perr) {
				t.Fatalf("ожидалась классифицированная ошибка, получено %v", err)
			}
			if perr.Kind != tt.kind {
				t.Errorf("класс %v, ожидался %v (ошибка: %v)", perr.Kind, tt.kind, err)
			}
		})
	}
}

func TestRateLimitedCarriesRetryAfter(t *testing.T) {
	t.Parallel()

	body := `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 7","parameters":{"retry_after":7}}`
	ts, _ := captureServer(t, http.StatusTooManyRequests, body)
	p := botapi.NewPublisher(newTestClient(t, ts.URL))

	path := mediaFile(t, "cat.jpg", "x")
	err := p.PublishSingle(context.Background(), testChannel, post.KindPhoto, path, "")
	var perr *publish.Error
	if !errors.As(err, &perr) || perr.Kind != publish.RateLimited {
		t.Fatalf("ожидался RateLimited, получено %v", err)
	}
	if perr.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, ожидалось 7s", perr.RetryAfter)
	}
}

func TestTransportFailureIsNetwork(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close() // соединение заведомо откажет

	p := botapi.NewPublisher(newTestClient(t, url))
	path := mediaFile(t, "cat.jpg", "x")
	err := p.PublishSingle(context.Background(), testChannel, post.KindPhoto, path, "")
	var perr *publish.Error
	if !errors.As(err, &perr) || perr.Kind != publish.Network {
		t.Fatalf("ожидался Network, получено %v", err)
	}
}

func TestNotifierSendsMessage(t *testing.T) {
	t.Parallel()

	ts, ch := captureServer(t, http.StatusOK, okBody)
	n := botapi.NewNotifier(newTestClient(t, ts.URL), 100)
	n.Start(context.Background())
	t.Cleanup(n.Stop)

	if err := n.NotifyOperator(context.Background(), testUser, "✅ Пост #7 опубликован."); err != nil {
		t.Fatalf("NotifyOperator: %v", err)
	}

	cr := takeRequest(t, ch)
	if !strings.HasSuffix(cr.path, "/sendMessage") {
		t.Errorf("путь %q, ожидался sendMessage", cr.path)
	}
	var payload struct {
		ChatID  int64  `json:"chat_id"`
		Text    string `json:"text"`
		Preview bool   `json:"disable_web_page_preview"`
	}
	if err := json.Unmarshal([]byte(cr.json), &payload); err != nil {
		t.Fatalf("разбор тела: %v", err)
	}
	if payload.ChatID != testUser {
		t.Errorf("chat_id = %d, ожидался %d", payload.ChatID, testUser)
	}
	if payload.Text != "✅ Пост #7 опубликован." {
		t.Errorf("text = %q", payload.Text)
	}
	if !payload.Preview {
		t.Error("превью ссылок должно быть выключено")
	}
}

func TestNotifierDoesNotRetryPermanentFailure(t *testing.T) {
	t.Parallel()

	body := `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`
	ts, ch := captureServer(t, http.StatusForbidden, body)
	n := botapi.NewNotifier(newTestClient(t, ts.URL), 100)
	n.Start(context.Background())
	t.Cleanup(n.Stop)

	err := n.NotifyOperator(context.Background(), testUser, "⚠️ Проверка")
	var perr *publish.Error
	if !errors.As(err, &perr) || perr.Kind != publish.BotBlocked {
		t.Fatalf("ожидался BotBlocked, получено %v", err)
	}

	takeRequest(t, ch)
	select {
	case <-ch:
		t.Error("постоянный отказ не должен вызывать повтор")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNotifierRequiresStart(t *testing.T) {
	t.Parallel()

	ts, _ := captureServer(t, http.StatusOK, okBody)
	n := botapi.NewNotifier(newTestClient(t, ts.URL), 1)

	err := n.NotifyOperator(context.Background(), testUser, "до старта")
	if !errors.Is(err, throttle.ErrNotStarted) {
		t.Fatalf("ожидался ErrNotStarted, получено %v", err)
	}
}

func TestRetryAfterWait(t *testing.T) {
	t.Parallel()

	wait, ok := botapi.RetryAfterWait(publish.RateLimitedError(7*time.Second, errors.New("429")))
	if !ok || wait != 8*time.Second {
		t.Errorf("RateLimited: (%v, %v), ожидалось (8s, true)", wait, ok)
	}
	if _, ok := botapi.RetryAfterWait(publish.NewError(publish.Network, errors.New("timeout"))); ok {
		t.Error("Network не должен давать серверную паузу")
	}
	if _, ok := botapi.RetryAfterWait(errors.New("прочее")); ok {
		t.Error("посторонняя ошибка не должна распознаваться")
	}
}
