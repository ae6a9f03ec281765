// Файл runner.go — точка оркестрации жизненного цикла: сервисы запускаются в
// порядке зависимостей (транспорт → диспетчер → монитор → консоль) и гасятся
// в обратном. Бизнес-назначение: гарантировать, что при завершении начатые
// публикации дойдут до терминального статуса, таймеры корректно снимутся и
// база закроется последней.
package app

import (
	"context"
	"sync"

	"telegram-postbot/internal/adapters/botapi"
	"telegram-postbot/internal/adapters/cli"
	"telegram-postbot/internal/adapters/mtproto"
	"telegram-postbot/internal/domain/dispatch"
	"telegram-postbot/internal/domain/monitor"
	"telegram-postbot/internal/domain/session"
	"telegram-postbot/internal/infra/logger"
	"telegram-postbot/internal/store"
)

// runnerServices — узлы приложения, по именованному полю на сервис, чтобы
// сборка в Init читалась явно. mtClient и notifier опциональны: зависят от
// PUBLISHER и BOT_TOKEN.
type runnerServices struct {
	store      *store.Store
	mtClient   *mtproto.Client
	notifier   *botapi.Notifier
	dispatcher *dispatch.Dispatcher
	monitor    *monitor.Monitor
	sessions   *session.Manager
	cliService *cli.Service
}

// Runner инкапсулирует сценарий запуска и остановки планировщика.
// Отвечает за:
//   - линейный запуск сервисов в правильном порядке,
//   - корректное завершение: консоль и монитор первыми, затем диспетчер
//     дожидается начатых публикаций, транспорт и база — последними,
//   - отделение контекста сервисов от контекста сигналов, чтобы graceful
//     shutdown не обрывал начатые отправки.
type Runner struct {
	mainCtx    context.Context    // Внешний контекст процесса: отменяется по Ctrl+C/сигналам.
	mainCancel context.CancelFunc // Функция, инициирующая общий shutdown (используется из узлов).
	svc        runnerServices     // Сервисы в порядке зависимостей.
	stopOnce   sync.Once          // Защита от повторной остановки: сигнал и ошибка старта могут совпасть.
}

// NewRunner подготавливает Runner с переданными узлами. Возвращает объект,
// готовый к запуску Run().
func NewRunner(mainCtx context.Context, mainCancel context.CancelFunc, svc runnerServices) *Runner {
	return &Runner{
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
		svc:        svc,
	}
}

// Run — главный цикл планировщика. Запускает сервисы и блокируется до отмены
// внешнего контекста. Важно: сервисы живут на отдельном контексте, чтобы при
// Ctrl+C диспетчер успел дождаться начатых публикаций до обрыва транспорта.
func (r *Runner) Run() error {
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	// Наблюдатель сигналов поднимается до старта сервисов, чтобы Ctrl+C
	// работал и во время инициализации (интерактивная авторизация MTProto).
	var shutdownWG sync.WaitGroup
	shutdownWG.Go(func() {
		<-r.mainCtx.Done()
		logger.Debug("Shutdown signal received, stopping runner...")
		r.stopAllServices()
		runCancel()
	})

	if err := r.startAllServices(runCtx); err != nil {
		r.mainCancel()
		shutdownWG.Wait()
		return err
	}

	logger.Info("Postbot running...")
	<-runCtx.Done()
	shutdownWG.Wait()
	return nil
}

func (r *Runner) startAllServices(ctx context.Context) error {
	// publisher (mtproto): блокирует до готовности API — авторизация и
	// прогрев кэша пиров. Диспетчер может стрелять сразу после подъёма.
	if r.svc.mtClient != nil {
		logger.Debug("starting service mtproto_client")
		if err := r.svc.mtClient.Start(ctx); err != nil {
			return err
		}
		logger.Debug("service mtproto_client started")
	}

	// notifier
	if r.svc.notifier != nil {
		logger.Debug("starting service notifier")
		r.svc.notifier.Start(ctx)
		logger.Debug("service notifier started")
	}

	// dispatcher: восстанавливает таймеры из базы, просроченное уходит с
	// коротким запаздыванием.
	logger.Debug("starting service dispatcher")
	if err := r.svc.dispatcher.Start(ctx); err != nil {
		return err
	}
	logger.Debug("service dispatcher started")

	// monitor
	logger.Debug("starting service monitor")
	r.svc.monitor.Start(ctx)
	logger.Debug("service monitor started")

	// session manager пассивен: входы ему подаёт фронтенд, отдельного
	// цикла нет.

	// cli
	logger.Debug("starting service cli")
	r.svc.cliService.Start(ctx)
	logger.Debug("service cli started")

	return nil
}

func (r *Runner) stopAllServices() {
	r.stopOnce.Do(func() {
		// Останавливаем в обратном порядке.

		// cli
		logger.Debug("stopping service cli")
		r.svc.cliService.Stop()
		logger.Debug("service cli stopped")

		// monitor
		logger.Debug("stopping service monitor")
		r.svc.monitor.Stop()
		logger.Debug("service monitor stopped")

		// session manager: сброс таймеров склейки альбомов; недособранные
		// группы уходят в машину до остановки диспетчера и базы.
		logger.Debug("stopping service session_manager")
		r.svc.sessions.Stop()
		logger.Debug("service session_manager stopped")

		// dispatcher: снимает таймеры и дожидается начатых публикаций.
		logger.Debug("stopping service dispatcher")
		r.svc.dispatcher.Stop()
		logger.Debug("service dispatcher stopped")

		// notifier гасится после диспетчера: финальные уведомления о
		// судьбе постов ещё должны дойти.
		if r.svc.notifier != nil {
			logger.Debug("stopping service notifier")
			r.svc.notifier.Stop()
			logger.Debug("service notifier stopped")
		}

		// publisher (mtproto)
		if r.svc.mtClient != nil {
			logger.Debug("stopping service mtproto_client")
			r.svc.mtClient.Stop()
			logger.Debug("service mtproto_client stopped")
		}

		// store — последним: все узлы выше пишут в него при остановке.
		logger.Debug("closing store")
		if err := r.svc.store.Close(); err != nil {
			logger.Errorf("failed to close store: %v", err)
		}
		logger.Debug("store closed")
	})
}
