// Пакет mtproto — публикация через пользовательский аккаунт Telegram (gotd).
// Используется, когда бот не может быть администратором канала: клиент
// авторизуется по номеру телефона, держит MTProto-соединение с middleware
// против FLOOD_WAIT, резолвит каналы через локальный кэш access-hash и
// отправляет медиа сырыми запросами messages.sendMedia / sendMultiMedia.
package mtproto

import (
	"context"
	"os"
	"sync"

	"telegram-postbot/internal/infra/logger"
	"telegram-postbot/internal/infra/storage"

	"github.com/go-faster/errors"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
	"golang.org/x/time/rate"
)

// Options — параметры пользовательского клиента.
type Options struct {
	APIID       int
	APIHash     string
	Phone       string
	SessionFile string
	PeersFile   string
	// TestDC направляет клиент в тестовый стенд Telegram.
	TestDC bool
	// SendRate — средняя частота запросов в секунду для ratelimit-middleware.
	SendRate float64
}

// Client держит авторизованное MTProto-соединение и реализует
// publish.Publisher. Start блокирует до готовности API: диспетчер может
// стрелять сразу после подъёма.
type Client struct {
	opts   Options
	tg     *telegram.Client
	api    *tg.Client
	waiter *floodwait.Waiter
	upload *uploader.Uploader
	peers  *peerCache

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	ids *randomIDRegistry
}

// New собирает клиент: файловая сессия, floodwait-ожидатель и ограничитель
// частоты как у всех MTProto-узлов приложения.
func New(opts Options) (*Client, error) {
	if opts.APIID == 0 || opts.APIHash == "" {
		return nil, errors.New("mtproto: api id/hash are required")
	}
	if opts.Phone == "" {
		return nil, errors.New("mtproto: phone number is required")
	}
	if opts.SessionFile == "" || opts.PeersFile == "" {
		return nil, errors.New("mtproto: session and peers paths are required")
	}
	if opts.SendRate <= 0 {
		opts.SendRate = 1
	}

	if err := storage.EnsureDir(opts.SessionFile); err != nil {
		return nil, errors.Wrap(err, "mtproto: session dir")
	}

	waiter := floodwait.NewWaiter()
	tgOpts := telegram.Options{
		SessionStorage: &fileSession{path: opts.SessionFile},
		Middlewares: []telegram.Middleware{
			waiter,
			ratelimit.New(rate.Limit(opts.SendRate), int(opts.SendRate*2)+1),
		},
	}
	if opts.TestDC {
		tgOpts.DCList = dcs.Test()
	}

	client := telegram.NewClient(opts.APIID, opts.APIHash, tgOpts)
	api := client.API()

	peers, err := newPeerCache(api, opts.PeersFile)
	if err != nil {
		return nil, err
	}

	return &Client{
		opts:   opts,
		tg:     client,
		api:    api,
		upload: uploader.NewUploader(api),
		peers:  peers,
		ids:    newRandomIDRegistry(),
		waiter: waiter,
	}, nil
}

// Start поднимает соединение, проходит авторизацию (интерактивно при первом
// запуске) и прогревает кэш пиров. Возвращает управление после готовности
// API либо с ошибкой запуска.
func (c *Client) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	ready := make(chan struct{})
	errCh := make(chan error, 1)
	done := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		err := c.waiter.Run(runCtx, func(ctx context.Context) error {
			return c.tg.Run(ctx, func(ctx context.Context) error {
				if err := c.login(ctx); err != nil {
					return err
				}
				if err := c.peers.Warm(ctx); err != nil {
					return err
				}
				close(ready)
				<-ctx.Done()
				return ctx.Err()
			})
		})
		errCh <- err
	}()

	select {
	case <-ready:
		return nil
	case err := <-errCh:
		cancel()
		return errors.Wrap(err, "mtproto: run")
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

// Stop разрывает соединение и закрывает кэш пиров. Идемпотентен.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if err := c.peers.Close(); err != nil {
		logger.Warnf("mtproto: закрытие кэша пиров: %v", err)
	}
}

// login восстанавливает сессию либо проводит интерактивный вход с кодом и 2FA.
func (c *Client) login(ctx context.Context) error {
	flow := auth.NewFlow(terminalAuth{phone: c.opts.Phone}, auth.SendCodeOptions{})
	if err := c.tg.Auth().IfNecessary(ctx, flow); err != nil {
		return errors.Wrap(err, "auth")
	}
	self, err := c.tg.Self(ctx)
	if err != nil {
		return errors.Wrap(err, "self")
	}
	logger.Infof("MTProto: вход выполнен: %s %s (@%s, id=%d)",
		self.FirstName, self.LastName, self.Username, self.ID)
	return nil
}

// fileSession — session.Storage поверх обычного файла с атомарной записью,
// чтобы обрыв процесса не оставил полузаписанную сессию.
type fileSession struct {
	path string
	mu   sync.Mutex
}

var _ session.Storage = (*fileSession)(nil)

func (f *fileSession) LoadSession(_ context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "read session")
	}
	return data, nil
}

func (f *fileSession) StoreSession(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return storage.AtomicWriteFile(f.path, data)
}
