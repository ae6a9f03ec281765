// Package app — верхний уровень сборки планировщика отложенных публикаций.
// Здесь связываются конфигурация, хранилище, медиафайлы, транспорт публикации
// (Bot API или MTProto), диспетчер таймеров, монитор и операторские
// интерфейсы. Отсюда стартует жизненный цикл и обеспечивается корректный
// shutdown.
package app

import (
	"context"
	"time"

	"telegram-postbot/internal/adapters/botapi"
	"telegram-postbot/internal/adapters/cli"
	"telegram-postbot/internal/adapters/mtproto"
	"telegram-postbot/internal/domain/commands"
	"telegram-postbot/internal/domain/dispatch"
	"telegram-postbot/internal/domain/monitor"
	"telegram-postbot/internal/domain/publish"
	"telegram-postbot/internal/domain/session"
	"telegram-postbot/internal/infra/clock"
	"telegram-postbot/internal/infra/config"
	"telegram-postbot/internal/infra/logger"
	"telegram-postbot/internal/infra/media"
	"telegram-postbot/internal/store"

	"github.com/go-faster/errors"
)

// replyTimeout ограничивает доставку отложенных ответов оператору (итоги
// склейки альбома): они рождаются вне его обращения и не должны висеть вечно.
const replyTimeout = 30 * time.Second

// App агрегирует подсистемы планировщика и управляет их связью.
// Отвечает за:
//   - хранилище постов и медиафайлов,
//   - выбор транспорта публикации и нотификатора по конфигурации,
//   - диспетчер таймеров и монитор согласованности,
//   - диалоговую машину операторов и командную консоль,
//   - запуск Runner, который оркестрирует жизненный цикл и graceful shutdown.
type App struct {
	mainCtx    context.Context    // Контекст жизненного цикла приложения.
	mainCancel context.CancelFunc // Инициирует отмену mainCtx.

	store      *store.Store         // Долговременное хранилище постов, каналов, настроек.
	media      *media.Store         // Файлы загрузок: сохранение, выдача, уборка.
	mtClient   *mtproto.Client      // MTProto-клиент; nil при PUBLISHER=botapi.
	notifier   *botapi.Notifier     // Bot API нотификатор; nil без BOT_TOKEN.
	dispatcher *dispatch.Dispatcher // Таймеры публикаций и путь доставки.
	monitor    *monitor.Monitor     // Сверка, напоминания, уборка медиа.
	sessions   *session.Manager     // Диалоговые состояния операторов.
	executor   commands.Executor    // Операции управления очередью.
	runner     *Runner              // Оркестратор жизненного цикла.
}

// NewApp создаёт пустой каркас приложения. Фактическая инициализация
// выполняется в Init().
func NewApp() *App {
	return &App{}
}

// Init собирает все подсистемы в порядке зависимостей: хранилища, транспорт,
// диспетчер, монитор, операторские интерфейсы. Сетевых вызовов здесь нет —
// соединения поднимает Runner в Run(). При ошибке уже открытые ресурсы
// закрываются, приложение остаётся в непригодном состоянии.
func (a *App) Init(mainCtx context.Context, mainCancel context.CancelFunc) error {
	a.mainCtx = mainCtx
	a.mainCancel = mainCancel
	env := config.Env()

	logger.Info("Postbot initializing...")

	// 1) Хранилища: база и каталог загрузок.
	st, err := store.Open(env.DBPath)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	a.store = st

	uploads, err := media.New(env.UploadsDir)
	if err != nil {
		a.closePartial()
		return errors.Wrap(err, "init media store")
	}
	a.media = uploads

	// 2) Bot API клиент. Публикации в режиме botapi и уведомления в обоих
	// режимах идут через него: лимитер скорости общий на бота.
	var botClient *botapi.Client
	if env.BotToken != "" {
		botClient, err = botapi.NewClient(botapi.Options{
			Token:          env.BotToken,
			Test:           env.BotAPITest,
			SendRate:       env.SendRate,
			PoolSize:       env.PoolSize,
			ConnectTimeout: time.Duration(env.ConnectTimeoutSec) * time.Second,
			RWTimeout:      time.Duration(env.RWTimeoutSec) * time.Second,
		})
		if err != nil {
			a.closePartial()
			return errors.Wrap(err, "init bot api client")
		}
	}

	// 3) Транспорт публикации по PUBLISHER.
	publisher, err := a.initPublisher(env, botClient)
	if err != nil {
		a.closePartial()
		return err
	}

	// 4) Нотификатор: служебные сообщения операторам всегда идут через
	// Bot API, каким бы ни был транспорт публикации.
	var notifier publish.Notifier
	if botClient != nil {
		rps := int(env.SendRate)
		if rps < 1 {
			rps = 1
		}
		a.notifier = botapi.NewNotifier(botClient, rps)
		notifier = a.notifier
	} else {
		logger.Warn("BOT_TOKEN не задан: уведомления операторам отключены")
		notifier = publish.NopNotifier{}
	}

	// 5) Диспетчер таймеров. Запас над RW-таймаутом транспорта, чтобы при
	// зависшей загрузке истекал транспорт и ошибка классифицировалась.
	disp, err := dispatch.New(dispatch.Options{
		Store:          a.store,
		Publisher:      publisher,
		Notifier:       notifier,
		Media:          a.media,
		PublishTimeout: time.Duration(env.RWTimeoutSec+30) * time.Second,
	})
	if err != nil {
		a.closePartial()
		return errors.Wrap(err, "init dispatcher")
	}
	a.dispatcher = disp

	// 6) Монитор согласованности: сверка store↔таймеры, напоминания, уборка.
	mon, err := monitor.New(monitor.Options{
		Store:         a.store,
		Timers:        disp,
		Notifier:      notifier,
		Media:         a.media,
		Clock:         clock.Now,
		RetentionDays: env.MediaRetentionDays,
	})
	if err != nil {
		a.closePartial()
		return errors.Wrap(err, "init monitor")
	}
	a.monitor = mon

	// 7) Операторские интерфейсы: исполнитель команд, диалоговая машина и
	// консоль. Ответы машины, рождённые вне обращения (склейка альбома),
	// уходят оператору через нотификатор.
	a.executor = commands.NewExecutor(a.store, a.media, disp, nil)

	sessions, err := session.New(session.Options{
		Store:    a.store,
		Executor: a.executor,
		Uploads:  a.media,
		Location: config.AppLocation,
		Reply: func(userID int64, texts []string) {
			ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
			defer cancel()
			for _, text := range texts {
				if nErr := notifier.NotifyOperator(ctx, userID, text); nErr != nil {
					logger.Warnf("app: доставка ответа оператору %d: %v", userID, nErr)
				}
			}
		},
	})
	if err != nil {
		a.closePartial()
		return errors.Wrap(err, "init session manager")
	}
	a.sessions = sessions

	cliService := cli.NewService(a.executor, a.store, config.AppLocation, a.mainCancel)

	// 8) Runner получает готовые узлы и управляет их порядком запуска.
	a.runner = NewRunner(a.mainCtx, a.mainCancel, runnerServices{
		store:      a.store,
		mtClient:   a.mtClient,
		notifier:   a.notifier,
		dispatcher: a.dispatcher,
		monitor:    a.monitor,
		sessions:   a.sessions,
		cliService: cliService,
	})
	return nil
}

// initPublisher выбирает транспорт публикации. Для mtproto клиент только
// собирается: авторизация и прогрев кэша пиров происходят при старте Runner.
func (a *App) initPublisher(env config.EnvConfig, botClient *botapi.Client) (publish.Publisher, error) {
	switch env.Publisher {
	case config.PublisherMTProto:
		client, err := mtproto.New(mtproto.Options{
			APIID:       env.APIID,
			APIHash:     env.APIHash,
			Phone:       env.PhoneNumber,
			SessionFile: env.SessionFile,
			PeersFile:   env.PeersFile,
			TestDC:      env.BotAPITest,
			SendRate:    env.SendRate,
		})
		if err != nil {
			return nil, errors.Wrap(err, "init mtproto publisher")
		}
		a.mtClient = client
		return client, nil
	case config.PublisherBotAPI:
		// config гарантирует BOT_TOKEN при PUBLISHER=botapi.
		if botClient == nil {
			return nil, errors.New("bot api publisher requires BOT_TOKEN")
		}
		return botapi.NewPublisher(botClient), nil
	default:
		return nil, errors.Errorf("unknown publisher %q", env.Publisher)
	}
}

// Run запускает основной цикл приложения и блокируется до остановки.
// Сервисы поднимаются Runner-ом в порядке зависимостей, гасятся в обратном.
func (a *App) Run() error {
	if a.runner == nil {
		return errors.New("app is not initialized")
	}
	return a.runner.Run()
}

// closePartial освобождает ресурсы, открытые до ошибки инициализации.
func (a *App) closePartial() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Errorf("app: закрытие хранилища: %v", err)
		}
		a.store = nil
	}
}
