// Package commands предоставляет общий интерфейс операций управления
// расписанием постов. Операции используются как CLI-адаптером, так и
// диалоговой машиной состояний: обе стороны только разбирают ввод, а
// исполнение и координация таймеров живут здесь.
package commands

import (
	"context"
	"time"

	"telegram-postbot/internal/domain/post"
	"telegram-postbot/internal/domain/schedule"
	"telegram-postbot/internal/store"
)

// Executor - интерфейс операций управления расписанием постов.
type Executor interface {
	// ScheduleAll расставляет все незапланированные посты оператора по окну
	// из его конфигурации, начиная с завтрашнего дня
	ScheduleAll(ctx context.Context, userID, channelID int64) (*ScheduleResult, error)

	// ScheduleNextSlot продолжает существующее расписание: первый слот
	// выравнивается по сетке после последнего занятого времени
	ScheduleNextSlot(ctx context.Context, userID, channelID int64) (*ScheduleResult, error)

	// ScheduleCustomDate расставляет очередь с заданной даты-времени с шагом
	// из конфигурации; старт обязан попадать в окно публикаций
	ScheduleCustomDate(ctx context.Context, userID, channelID int64, start time.Time) (*ScheduleResult, error)

	// ScheduleCustomInterval расставляет очередь с завтрашнего дня с заданным
	// шагом, упаковывая день вплоть до конца окна включительно
	ScheduleCustomInterval(ctx context.Context, userID, channelID int64, intervalHours int) (*ScheduleResult, error)

	// ScheduleCustomWindow расставляет очередь по разовому окну, не меняя
	// сохранённую конфигурацию оператора
	ScheduleCustomWindow(ctx context.Context, userID, channelID int64, window schedule.Window) (*ScheduleResult, error)

	// SchedulePostAt назначает время одному посту и взводит таймер
	SchedulePostAt(ctx context.Context, userID, postID int64, at time.Time) error

	// PostNow отправляет один пост немедленно через обычный путь публикации
	PostNow(ctx context.Context, userID, postID int64) error

	// Redistribute пересчитывает времена уже запланированных постов выборки.
	// Число постов сохраняется, таймеры перевзводятся
	Redistribute(ctx context.Context, userID int64, scope RedistributeScope) (*RedistributeResult, error)

	// RetryFailedPost возвращает один проваленный пост в очередь без расписания
	RetryFailedPost(ctx context.Context, userID, postID int64) error

	// RetryFailedAll возвращает в очередь все проваленные посты оператора,
	// опционально одного канала. Возвращает число возвращённых
	RetryFailedAll(ctx context.Context, userID, channelID int64) (int, error)

	// RescheduleFromToday пересчитывает времена запланированных постов начиная
	// с сегодняшнего дня; window == nil берёт окно из конфигурации оператора
	RescheduleFromToday(ctx context.Context, userID, channelID int64, window *schedule.Window) (int, error)

	// OverdueList возвращает просроченные посты оператора
	OverdueList(ctx context.Context, userID int64) ([]*post.Post, error)

	// OverdueReschedule переносит просроченные посты на ближайшие свободные
	// слоты сетки
	OverdueReschedule(ctx context.Context, userID int64) (int, error)

	// OverduePostNow отправляет все просроченные посты немедленно
	OverduePostNow(ctx context.Context, userID int64) (int, error)

	// BackupCreate снимает именованный снимок постов оператора
	BackupCreate(ctx context.Context, userID int64, name string) (*post.Backup, error)

	// BackupList возвращает снимки оператора, новые первыми
	BackupList(ctx context.Context, userID int64) ([]post.Backup, error)

	// BackupRestore восстанавливает посты из снимка; восстановленные попадают
	// в очередь без расписания
	BackupRestore(ctx context.Context, userID int64, name string, mode store.RestoreMode, includeMissing bool) (*store.RestoreResult, error)

	// Status возвращает сводку по хранилищу и диспетчеру; userID == 0 считает
	// по всем операторам
	Status(ctx context.Context, userID int64) (*StatusResult, error)

	// ClearQueued удаляет посты очереди без расписания вместе с медиафайлами
	ClearQueued(ctx context.Context, userID, channelID int64) (int, error)

	// ClearScheduled удаляет запланированные посты, снимая их таймеры
	ClearScheduled(ctx context.Context, userID, channelID int64) (int, error)
}

// RedistributeScope описывает выборку и параметры перераспределения.
type RedistributeScope struct {
	ChannelID     int64      // 0 - все каналы оператора
	Mode          post.Mode  // "" - посты любого режима
	IntervalHours int        // 0 - интервал из конфигурации оператора
	Start         *time.Time // nil - с завтрашнего дня
}

// ScheduleResult - итог операции массового планирования.
type ScheduleResult struct {
	Scheduled int       // сколько постов получили время
	FirstAt   time.Time // первый слот (нулевое время, если постов не было)
	LastAt    time.Time // последний слот
}

// RedistributeResult - итог перераспределения.
type RedistributeResult struct {
	Moved   int       // сколько постов перенесено
	FirstAt time.Time // первый новый слот
	LastAt  time.Time // последний новый слот
}

// StatusResult - сводка состояния планировщика.
type StatusResult struct {
	ActiveTimers int            // взведённых таймеров в диспетчере
	NextFireAt   *time.Time     // ближайшая публикация, nil если нет
	Queued       int            // постов в очереди без расписания
	Scheduled    int            // запланированных постов
	Posted       int            // опубликованных
	Failed       int            // проваленных
	Overdue      int            // просроченных
	Location     *time.Location // таймзона для отображения
}
