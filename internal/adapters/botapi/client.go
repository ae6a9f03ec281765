// Пакет botapi — транспорт публикаций и уведомлений через Telegram Bot API.
// Все вызовы идут через общий HTTP-клиент с пулом соединений и лимитером
// скорости; ответы API приводятся к таксономии ошибок публикации, так что
// ядро не видит ни HTTP-кодов, ни текстов Bot API.
package botapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"time"

	"telegram-postbot/internal/domain/publish"

	"github.com/go-faster/errors"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	// Bot API не отдаёт тел больше нескольких килобайт, лимит страхует от
	// мусора на нестандартных прокси.
	maxResponseBytes = 1 << 20

	defaultSendRate       = 1.0
	defaultPoolSize       = 50
	defaultConnectTimeout = 60 * time.Second
	defaultRWTimeout      = 600 * time.Second
)

// Options — параметры подключения к Bot API.
type Options struct {
	Token string
	// Test направляет запросы в тестовый ДЦ Telegram.
	Test bool
	// BaseURL переопределяет адрес API: самостоятельно развёрнутый
	// bot-api-server или заглушка в тестах.
	BaseURL string

	// SendRate — средняя частота запросов в секунду.
	SendRate float64
	// PoolSize ограничивает пул keep-alive соединений.
	PoolSize int
	// ConnectTimeout — установка соединения, RWTimeout — весь запрос,
	// включая загрузку тела. Большие видео грузятся минутами.
	ConnectTimeout time.Duration
	RWTimeout      time.Duration
}

// Client — низкоуровневый доступ к методам Bot API. Публикатор и нотификатор
// делят один клиент: лимит скорости общий на бота, как того требует API.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient валидирует параметры и собирает клиент с пулом соединений.
func NewClient(opts Options) (*Client, error) {
	if opts.Token == "" {
		return nil, errors.New("botapi: token is empty")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.SendRate <= 0 {
		opts.SendRate = defaultSendRate
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = defaultPoolSize
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.RWTimeout <= 0 {
		opts.RWTimeout = defaultRWTimeout
	}

	base := opts.BaseURL + "/bot" + opts.Token
	if opts.Test {
		base += "/test"
	}

	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: opts.ConnectTimeout}).DialContext,
		TLSHandshakeTimeout: opts.ConnectTimeout,
		MaxIdleConns:        opts.PoolSize,
		MaxIdleConnsPerHost: opts.PoolSize,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		base: base,
		http: &http.Client{
			Transport: transport,
			Timeout:   opts.RWTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(opts.SendRate), 1),
	}, nil
}

// upload — один файл multipart-запроса.
type upload struct {
	field string
	name  string
	r     io.Reader
}

// postMultipart вызывает метод API с файлами. Тело стримится через pipe,
// чтобы большие видео не буферизовались в памяти целиком.
func (c *Client) postMultipart(ctx context.Context, method string, fields map[string]string, files []upload) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return publish.NewError(publish.Network, err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeMultipart(mw, fields, files))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/"+method, pr)
	if err != nil {
		return publish.NewError(publish.Unknown, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return publish.NewError(publish.Network, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp)
}

func writeMultipart(mw *multipart.Writer, fields map[string]string, files []upload) error {
	for field, value := range fields {
		if err := mw.WriteField(field, value); err != nil {
			return errors.Wrapf(err, "field %s", field)
		}
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(f.field, f.name)
		if err != nil {
			return errors.Wrapf(err, "file %s", f.field)
		}
		if _, err := io.Copy(part, f.r); err != nil {
			return errors.Wrapf(err, "copy %s", f.name)
		}
	}
	return mw.Close()
}

// postJSON вызывает метод API с компактным JSON-телом: sendMessage и прочие
// запросы без файлов.
func (c *Client) postJSON(ctx context.Context, method string, payload any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return publish.NewError(publish.Network, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return publish.NewError(publish.Unknown, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/"+method, bytes.NewReader(body))
	if err != nil {
		return publish.NewError(publish.Unknown, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return publish.NewError(publish.Network, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp)
}

// apiResponse — конверт ответа Bot API.
type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// decodeResponse разбирает конверт и превращает отказ в классифицированную
// ошибку. Нечитаемое тело классифицируется по HTTP-статусу.
func decodeResponse(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return publish.NewError(publish.Network, err)
	}

	var api apiResponse
	if err := json.Unmarshal(body, &api); err != nil {
		if resp.StatusCode == http.StatusOK {
			return publish.NewError(publish.Unknown, errors.Wrap(err, "decode response"))
		}
		return classify(resp.StatusCode, string(body), 0)
	}
	if api.OK {
		return nil
	}

	code := api.ErrorCode
	if code == 0 {
		code = resp.StatusCode
	}
	return classify(code, api.Description, api.Parameters.RetryAfter)
}

// chatID приводит внутренний идентификатор канала к форме Bot API:
// положительные id получают префикс -100, отрицательные уже готовы.
func chatID(channelID int64) string {
	const superPrefix int64 = -1000000000000
	if channelID > 0 {
		channelID = superPrefix - channelID
	}
	return strconv.FormatInt(channelID, 10)
}
