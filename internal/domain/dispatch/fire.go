// Публикация одного поста: проверки, отправка, повторы, хвост серии и
// уведомления оператору.
package dispatch

import (
	"context"
	"fmt"

	"telegram-postbot/internal/domain/post"
	"telegram-postbot/internal/domain/publish"
	"telegram-postbot/internal/infra/concurrency"
	"telegram-postbot/internal/infra/logger"
	"telegram-postbot/internal/store"

	"github.com/go-faster/errors"
)

// fire ведёт пост от срабатывания таймера до терминального исхода или
// исчерпания контекста. Повторы выполняются внутри того же вызова, так что
// очередная итерация серии регистрируется только после развязки текущей.
func (d *Dispatcher) fire(ctx context.Context, id int64) {
	d.sleep(ctx, preDelay)
	if ctx.Err() != nil {
		return
	}

	for attempt := 0; ; attempt++ {
		p, err := d.store.GetPost(id)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				logger.Errorf("dispatch: загрузка поста %d: %v", id, err)
			}
			return
		}
		if p.Status != post.StatusPending {
			logger.Debugf("dispatch: пост %d уже %s, пропуск", id, p.Status)
			return
		}

		if !d.acl.UserHasChannel(p.UserID, p.ChannelID) {
			d.failTerminal(ctx, p, "channel access denied",
				publish.NewError(publish.AccessDenied, nil))
			return
		}
		if !d.allFilesExist(p) {
			d.failTerminal(ctx, p, "file not found",
				publish.NewError(publish.MediaMissing, nil))
			return
		}

		err = concurrency.RunWithTimeout(ctx, d.publishTimeout, func(ctx context.Context) error {
			if p.Kind == post.KindAlbum {
				return d.publisher.PublishAlbum(ctx, p.ChannelID, p.Album, p.Description)
			}
			return d.publisher.PublishSingle(ctx, p.ChannelID, p.Kind, p.FilePath, p.Description)
		})
		if err == nil {
			d.afterSuccess(ctx, p)
			return
		}
		if ctx.Err() != nil {
			// Остановка приложения: пост остаётся pending и будет
			// восстановлен при следующем запуске.
			return
		}

		perr := publish.Classify(err)
		if perr.Retryable() && attempt < d.maxRetries {
			count, rerr := d.store.IncrementRetry(id)
			if rerr != nil {
				logger.Errorf("dispatch: счётчик попыток поста %d: %v", id, rerr)
				return
			}
			wait := perr.WaitFor(attempt)
			logger.Warnf("dispatch: пост %d, попытка %d: %v; повтор через %s",
				id, count, perr, wait)
			d.sleep(ctx, wait)
			if ctx.Err() != nil {
				return
			}
			continue
		}

		d.failTerminal(ctx, p, perr.Error(), perr)
		return
	}
}

// allFilesExist проверяет медиа поста на диске; для альбома — каждую позицию.
func (d *Dispatcher) allFilesExist(p *post.Post) bool {
	for _, ref := range p.MediaRefs() {
		if !d.media.Exists(ref) {
			return false
		}
	}
	return true
}

// afterSuccess закрывает публикацию: серию продвигает дальше, одиночный пост
// переводит в posted. Следующий таймер серии ставится только отсюда.
func (d *Dispatcher) afterSuccess(ctx context.Context, p *post.Post) {
	if p.Recurring == nil {
		if err := d.store.MarkPosted(p.ID); err != nil {
			logger.Errorf("dispatch: mark posted %d: %v", p.ID, err)
			return
		}
		logger.Infof("dispatch: пост %d опубликован", p.ID)
		d.notify(ctx, p.UserID, successText(p, d.channelLabel(p), false))
		return
	}

	updated, err := d.store.IncrementRecurrenceCount(p.ID)
	if err != nil {
		logger.Errorf("dispatch: счётчик серии %d: %v", p.ID, err)
		return
	}
	now := d.clock()
	if updated.Recurring.Done(now) {
		if err := d.store.MarkPosted(p.ID); err != nil {
			logger.Errorf("dispatch: завершение серии %d: %v", p.ID, err)
			return
		}
		logger.Infof("dispatch: серия %d завершена после %d выходов",
			p.ID, updated.Recurring.PostedCount)
		d.notify(ctx, p.UserID, seriesDoneText(updated, d.channelLabel(p)))
		return
	}

	next := now.Add(updated.Recurring.Interval())
	if err := d.store.UpdatePostSchedule(p.ID, next); err != nil {
		logger.Errorf("dispatch: расписание серии %d: %v", p.ID, err)
		return
	}
	d.Register(p.ID, next)
	logger.Infof("dispatch: серия %d, выход %d, следующий %s",
		p.ID, updated.Recurring.PostedCount, next.Format("2006-01-02 15:04"))
	d.notify(ctx, p.UserID, successText(updated, d.channelLabel(p), true))
}

// failTerminal переводит пост в failed и отправляет оператору диагностику.
func (d *Dispatcher) failTerminal(ctx context.Context, p *post.Post, reason string, perr *publish.Error) {
	if err := d.store.MarkFailed(p.ID, reason); err != nil {
		logger.Errorf("dispatch: mark failed %d: %v", p.ID, err)
	}
	logger.Warnf("dispatch: пост %d не отправлен: %s", p.ID, reason)
	d.notify(ctx, p.UserID, failureText(p, d.channelLabel(p), perr))
}

// notify доставляет сообщение оператору. Сбой уведомления не меняет судьбу
// поста и только логируется.
func (d *Dispatcher) notify(ctx context.Context, userID int64, text string) {
	if err := d.notifier.NotifyOperator(ctx, userID, text); err != nil {
		logger.Warnf("dispatch: уведомление оператора %d: %v", userID, err)
	}
}

// channelLabel подбирает человекочитаемое имя канала для уведомлений.
func (d *Dispatcher) channelLabel(p *post.Post) string {
	if name := d.store.ChannelName(p.UserID, p.ChannelID); name != "" {
		return name
	}
	return fmt.Sprintf("%d", p.ChannelID)
}

func successText(p *post.Post, channel string, recurring bool) string {
	text := fmt.Sprintf("✅ Пост #%d опубликован в «%s»", p.ID, channel)
	if recurring {
		text += fmt.Sprintf(" (серия, выход %d)", p.Recurring.PostedCount)
	}
	return text
}

func seriesDoneText(p *post.Post, channel string) string {
	return fmt.Sprintf("✅ Пост #%d опубликован в «%s» (серия завершена, выходов: %d)",
		p.ID, channel, p.Recurring.PostedCount)
}

// failureText собирает структурированное сообщение о сбое: класс ошибки,
// краткий диагноз и рекомендация.
func failureText(p *post.Post, channel string, perr *publish.Error) string {
	text := fmt.Sprintf("❌ Пост #%d не отправлен в «%s» [%s]", p.ID, channel, perr.Kind)
	if p.RetryCount > 0 {
		text += fmt.Sprintf(" после %d повторов", p.RetryCount)
	}
	if perr.Err != nil {
		text += fmt.Sprintf("\nПричина: %v", perr.Err)
	}
	if advice := perr.Kind.Advice(); advice != "" {
		text += "\n" + advice
	}
	return text
}
