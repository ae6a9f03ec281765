// Монитор согласованности: следит, чтобы у каждого запланированного поста был
// живой таймер, напоминает операторам о пустеющей очереди и убирает старые
// медиафайлы. Три фоновые задачи, каждая в своём цикле и никогда не
// накладывается сама на себя.
package monitor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"telegram-postbot/internal/domain/post"
	"telegram-postbot/internal/domain/publish"
	"telegram-postbot/internal/infra/concurrency"
	"telegram-postbot/internal/infra/logger"
	"telegram-postbot/internal/infra/timeutil"
	"telegram-postbot/internal/store"

	"github.com/go-faster/errors"
)

const (
	defaultReconcileEvery = 5 * time.Minute
	defaultRemindEvery    = time.Hour
	defaultCleanupHour    = 3
	defaultRetentionDays  = 7

	// redeliverDelay — отсрочка отправки просроченного поста, найденного сверкой.
	redeliverDelay = 10 * time.Second
	// remindCooldown — минимальный промежуток между напоминаниями оператору.
	remindCooldown = 24 * time.Hour
	// delayedEvent — ключ дедупликации уведомлений о задержке.
	delayedEvent = "delayed"
)

// Timers — нужная монитору часть диспетчера.
type Timers interface {
	Register(id int64, t time.Time)
	ActiveIDs() []int64
	Len() int
}

// MediaCleaner — нужная монитору часть медиахранилища.
type MediaCleaner interface {
	Delete(ref string) error
	Sweep(cutoff time.Time, keep func(ref string) bool) (int, error)
	RemoveEmptyDirs()
}

// Options собирает зависимости монитора. Store, Timers, Notifier и Media
// обязательны.
type Options struct {
	Store    *store.Store
	Timers   Timers
	Notifier publish.Notifier
	Media    MediaCleaner
	Clock    func() time.Time

	ReconcileEvery time.Duration
	RemindEvery    time.Duration
	CleanupHour    int // час локального времени для ежедневной уборки
	RetentionDays  int
}

type Monitor struct {
	store    *store.Store
	timers   Timers
	notifier publish.Notifier
	media    MediaCleaner
	clock    func() time.Time

	reconcileEvery time.Duration
	remindEvery    time.Duration
	cleanupHour    int
	retention      time.Duration

	// seen подавляет повторные уведомления о той же задержке.
	seen *concurrency.Deduplicator

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options) (*Monitor, error) {
	if opts.Store == nil {
		return nil, errors.New("monitor: store is nil")
	}
	if opts.Timers == nil {
		return nil, errors.New("monitor: dispatcher is nil")
	}
	if opts.Notifier == nil {
		return nil, errors.New("monitor: notifier is nil")
	}
	if opts.Media == nil {
		return nil, errors.New("monitor: media store is nil")
	}
	m := &Monitor{
		store:          opts.Store,
		timers:         opts.Timers,
		notifier:       opts.Notifier,
		media:          opts.Media,
		clock:          opts.Clock,
		reconcileEvery: opts.ReconcileEvery,
		remindEvery:    opts.RemindEvery,
		cleanupHour:    opts.CleanupHour,
		seen:           concurrency.NewDeduplicator(remindCooldown),
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.reconcileEvery <= 0 {
		m.reconcileEvery = defaultReconcileEvery
	}
	if m.remindEvery <= 0 {
		m.remindEvery = defaultRemindEvery
	}
	if m.cleanupHour <= 0 || m.cleanupHour > 23 {
		m.cleanupHour = defaultCleanupHour
	}
	days := opts.RetentionDays
	if days <= 0 {
		days = defaultRetentionDays
	}
	m.retention = time.Duration(days) * 24 * time.Hour
	return m, nil
}

// Start запускает три цикла. Повторный вызов без Stop игнорируется.
func (m *Monitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.seen.Start(runCtx)

	m.wg.Go(func() { m.loop(runCtx, m.reconcileEvery, "reconcile", m.ReconcileOnce) })
	m.wg.Go(func() { m.loop(runCtx, m.remindEvery, "remind", m.RemindOnce) })
	m.wg.Go(func() { m.cleanupLoop(runCtx) })
	logger.Infof("monitor: запущен (сверка %s, напоминания %s, уборка в %02d:00)",
		m.reconcileEvery, m.remindEvery, m.cleanupHour)
}

// Stop останавливает циклы и дожидается их завершения.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	m.seen.Stop()
	logger.Infof("monitor: остановлен")
}

// loop крутит job с фиксированным периодом до отмены контекста.
func (m *Monitor) loop(ctx context.Context, every time.Duration, name string, job func(context.Context) error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := job(ctx); err != nil {
				logger.Errorf("monitor: %s: %v", name, err)
			}
		}
	}
}

// cleanupLoop ждёт ближайшие CleanupHour:00 локального времени и запускает
// уборку раз в сутки.
func (m *Monitor) cleanupLoop(ctx context.Context) {
	for {
		next := timeutil.NextDailyAt(m.clock(), m.cleanupHour, 0)
		timer := time.NewTimer(next.Sub(m.clock()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := m.CleanupOnce(ctx); err != nil {
				logger.Errorf("monitor: cleanup: %v", err)
			}
		}
	}
}

// ReconcileOnce сверяет запланированные посты хранилища с активными таймерами
// диспетчера. Посты без таймера получают его заново: будущие в своё время,
// просроченные с короткой отсрочкой и разовым уведомлением оператора.
// Повторный прогон без внешних изменений ничего не добавляет.
func (m *Monitor) ReconcileOnce(ctx context.Context) error {
	posts, err := m.store.ListPending(store.Filter{ScheduledOnly: true})
	if err != nil {
		return errors.Wrap(err, "list scheduled")
	}
	active := make(map[int64]struct{})
	for _, id := range m.timers.ActiveIDs() {
		active[id] = struct{}{}
	}

	now := m.clock()
	restored, overdue := 0, 0
	for _, p := range posts {
		if _, ok := active[p.ID]; ok {
			continue
		}
		if p.ScheduledAt.After(now) {
			m.timers.Register(p.ID, *p.ScheduledAt)
			restored++
			continue
		}
		m.timers.Register(p.ID, now.Add(redeliverDelay))
		overdue++
		if !m.seen.Seen(delayedEvent, p.ID) {
			m.notify(ctx, p.UserID, delayedText(p))
		}
	}
	if restored+overdue > 0 {
		logger.Warnf("monitor: сверка вернула таймеры: будущих %d, просроченных %d (активно %d)",
			restored, overdue, m.timers.Len())
	} else {
		logger.Debugf("monitor: сверка без расхождений (активно %d)", m.timers.Len())
	}
	return nil
}

// RemindOnce напоминает операторам с включёнными напоминаниями о пустеющей
// очереди, не чаще раза в сутки.
func (m *Monitor) RemindOnce(ctx context.Context) error {
	users, err := m.store.ListReminderUsers()
	if err != nil {
		return errors.Wrap(err, "list reminder users")
	}
	now := m.clock()
	for _, rec := range users {
		count, err := m.store.CountPosts(store.Filter{
			UserID: rec.UserID, Status: post.StatusPending, UnscheduledOnly: true,
		})
		if err != nil {
			return errors.Wrapf(err, "count queue of user %d", rec.UserID)
		}
		if count > rec.Threshold {
			continue
		}
		if !rec.LastSent.IsZero() && now.Sub(rec.LastSent) < remindCooldown {
			continue
		}
		m.notify(ctx, rec.UserID, reminderText(count))
		if err := m.store.TouchReminderSent(rec.UserID, now); err != nil {
			logger.Errorf("monitor: touch reminder %d: %v", rec.UserID, err)
		}
	}
	return nil
}

// CleanupOnce удаляет медиафайлы терминальных постов старше окна хранения,
// затем выметает осиротевшие файлы и пустые каталоги. Файлы, на которые ещё
// ссылается хоть один живой пост, не трогаются. Сами записи постов остаются
// для истории.
func (m *Monitor) CleanupOnce(context.Context) error {
	cutoff := m.clock().Add(-m.retention)
	posts, err := m.store.ListPosts(store.Filter{})
	if err != nil {
		return errors.Wrap(err, "list posts")
	}
	removed := 0
	referenced := make(map[string]struct{})
	for _, p := range posts {
		expired := p.Status.Terminal() && !p.UpdatedAt.After(cutoff)
		for _, ref := range p.MediaRefs() {
			if !expired {
				referenced[filepath.Clean(ref)] = struct{}{}
				continue
			}
			if err := m.media.Delete(ref); err != nil {
				logger.Warnf("monitor: cleanup %s: %v", ref, err)
				continue
			}
			removed++
		}
	}
	swept, err := m.media.Sweep(cutoff, func(ref string) bool {
		_, ok := referenced[ref]
		return ok
	})
	if err != nil {
		logger.Warnf("monitor: sweep: %v", err)
	}
	m.media.RemoveEmptyDirs()
	logger.Infof("monitor: уборка удалила файлов: %d, осиротевших: %d", removed, swept)
	return nil
}

func (m *Monitor) notify(ctx context.Context, userID int64, text string) {
	if err := m.notifier.NotifyOperator(ctx, userID, text); err != nil {
		logger.Warnf("monitor: уведомление оператора %d: %v", userID, err)
	}
}

func delayedText(p *post.Post) string {
	return fmt.Sprintf("⚠️ Пост #%d задержался: был запланирован на %s, отправится в ближайшие секунды.",
		p.ID, p.ScheduledAt.Format("2006-01-02 15:04"))
}

func reminderText(count int) string {
	if count == 0 {
		return "🔔 Очередь пуста: постов без расписания не осталось. Пора загрузить новые."
	}
	return fmt.Sprintf("🔔 В очереди осталось %d пост(ов) без расписания. Пора загрузить новые.", count)
}
