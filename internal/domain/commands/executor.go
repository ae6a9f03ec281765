package commands

import (
	"context"
	"time"

	"telegram-postbot/internal/domain/post"
	"telegram-postbot/internal/domain/schedule"
	"telegram-postbot/internal/infra/clock"
	"telegram-postbot/internal/infra/logger"
	"telegram-postbot/internal/infra/timeutil"
	"telegram-postbot/internal/store"

	"github.com/go-faster/errors"
)

// Timers - нужная операциям часть диспетчера.
type Timers interface {
	Register(id int64, t time.Time)
	Cancel(id int64)
	Len() int
}

// Media - нужная операциям часть медиахранилища.
type Media interface {
	Exists(ref string) bool
	Delete(ref string) error
}

// CommandExecutor - реализация интерфейса Executor поверх хранилища,
// калькулятора расписаний и диспетчера таймеров.
type CommandExecutor struct {
	store  *store.Store
	media  Media
	timers Timers
	clock  func() time.Time
}

// NewExecutor создает новый экземпляр CommandExecutor. now == nil подставляет
// часы приложения.
func NewExecutor(s *store.Store, media Media, timers Timers, now func() time.Time) *CommandExecutor {
	if now == nil {
		now = clock.Now
	}
	return &CommandExecutor{
		store:  s,
		media:  media,
		timers: timers,
		clock:  now,
	}
}

func windowOf(cfg post.SchedulingConfig) schedule.Window {
	return schedule.Window{
		StartHour:     cfg.StartHour,
		EndHour:       cfg.EndHour,
		IntervalHours: cfg.IntervalHours,
	}
}

// scheduleQueued - общий каркас массового планирования: выбирает очередь,
// просит у slots времена, атомарно сохраняет и взводит таймеры.
func (e *CommandExecutor) scheduleQueued(
	userID, channelID int64,
	slots func(w schedule.Window, n int) ([]time.Time, error),
) (*ScheduleResult, error) {
	posts, err := e.store.ListUnscheduled(userID, channelID)
	if err != nil {
		return nil, errors.Wrap(err, "list queue")
	}
	if len(posts) == 0 {
		return &ScheduleResult{}, nil
	}

	cfg, err := e.store.GetSchedulingConfig(userID)
	if err != nil {
		return nil, errors.Wrap(err, "scheduling config")
	}
	times, err := slots(windowOf(cfg), len(posts))
	if err != nil {
		return nil, err
	}
	if len(times) != len(posts) {
		return nil, errors.Errorf("slot count %d != queue size %d", len(times), len(posts))
	}

	updates := make([]store.ScheduleUpdate, 0, len(posts))
	for i, p := range posts {
		updates = append(updates, store.ScheduleUpdate{PostID: p.ID, At: times[i]})
	}
	if err := e.store.BulkUpdateSchedules(updates); err != nil {
		return nil, errors.Wrap(err, "store schedules")
	}
	for i, p := range posts {
		e.timers.Register(p.ID, times[i])
	}
	logger.Infof("commands: запланировано %d постов оператора %d (%s - %s)",
		len(posts), userID, times[0].Format(time.DateTime), times[len(times)-1].Format(time.DateTime))
	return &ScheduleResult{
		Scheduled: len(posts),
		FirstAt:   times[0],
		LastAt:    times[len(times)-1],
	}, nil
}

func (e *CommandExecutor) ScheduleAll(_ context.Context, userID, channelID int64) (*ScheduleResult, error) {
	return e.scheduleQueued(userID, channelID, func(w schedule.Window, n int) ([]time.Time, error) {
		return schedule.FixedInterval(w, n, e.clock()), nil
	})
}

func (e *CommandExecutor) ScheduleNextSlot(_ context.Context, userID, channelID int64) (*ScheduleResult, error) {
	latest, err := e.store.LatestScheduledTime(userID)
	if err != nil {
		return nil, errors.Wrap(err, "latest scheduled time")
	}
	return e.scheduleQueued(userID, channelID, func(w schedule.Window, n int) ([]time.Time, error) {
		first := schedule.NextAvailableSlot(w, latest, e.clock())
		return schedule.FixedIntervalFrom(w, n, first), nil
	})
}

func (e *CommandExecutor) ScheduleCustomDate(_ context.Context, userID, channelID int64, start time.Time) (*ScheduleResult, error) {
	if err := schedule.EnsureFuture(start, e.clock()); err != nil {
		return nil, err
	}
	return e.scheduleQueued(userID, channelID, func(w schedule.Window, n int) ([]time.Time, error) {
		if start.Hour() < w.StartHour || start.Hour() >= w.EndHour {
			return nil, errors.Errorf("время %s вне окна публикаций %02d:00-%02d:00",
				start.Format("15:04"), w.StartHour, w.EndHour)
		}
		return schedule.CustomDate(start, w.IntervalHours, n), nil
	})
}

func (e *CommandExecutor) ScheduleCustomInterval(_ context.Context, userID, channelID int64, intervalHours int) (*ScheduleResult, error) {
	return e.scheduleQueued(userID, channelID, func(w schedule.Window, n int) ([]time.Time, error) {
		if intervalHours < 1 || intervalHours > w.Width() {
			return nil, errors.Errorf("интервал %d ч не помещается в окно шириной %d ч",
				intervalHours, w.Width())
		}
		return schedule.EvenDistribution(w, n, e.clock(), intervalHours), nil
	})
}

func (e *CommandExecutor) ScheduleCustomWindow(_ context.Context, userID, channelID int64, window schedule.Window) (*ScheduleResult, error) {
	if !window.Valid() {
		return nil, errors.Errorf("окно публикаций %02d:00-%02d:00 с шагом %d ч задано неверно",
			window.StartHour, window.EndHour, window.IntervalHours)
	}
	return e.scheduleQueued(userID, channelID, func(_ schedule.Window, n int) ([]time.Time, error) {
		return schedule.FixedInterval(window, n, e.clock()), nil
	})
}

func (e *CommandExecutor) SchedulePostAt(_ context.Context, userID, postID int64, at time.Time) error {
	if _, err := e.ownedPost(userID, postID); err != nil {
		return err
	}
	if err := schedule.EnsureFuture(at, e.clock()); err != nil {
		return err
	}
	if err := e.store.UpdatePostSchedule(postID, at); err != nil {
		return errors.Wrapf(err, "schedule post %d", postID)
	}
	e.timers.Register(postID, at)
	return nil
}

func (e *CommandExecutor) PostNow(_ context.Context, userID, postID int64) error {
	p, err := e.ownedPost(userID, postID)
	if err != nil {
		return err
	}
	if p.Status.Terminal() {
		return errors.Wrapf(store.ErrTerminal, "post %d is %s", postID, p.Status)
	}
	soon := e.clock().Add(time.Second)
	if err := e.store.UpdatePostSchedule(postID, soon); err != nil {
		return errors.Wrapf(err, "schedule post %d", postID)
	}
	e.timers.Register(postID, soon)
	return nil
}

func (e *CommandExecutor) Redistribute(_ context.Context, userID int64, scope RedistributeScope) (*RedistributeResult, error) {
	posts, err := e.store.ListPending(store.Filter{
		UserID:        userID,
		ChannelID:     scope.ChannelID,
		Mode:          scope.Mode,
		ScheduledOnly: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "list scheduled")
	}
	if len(posts) == 0 {
		return &RedistributeResult{}, nil
	}

	cfg, err := e.store.GetSchedulingConfig(userID)
	if err != nil {
		return nil, errors.Wrap(err, "scheduling config")
	}
	w := windowOf(cfg)
	if scope.IntervalHours > 0 {
		if scope.IntervalHours > w.Width() {
			return nil, errors.Errorf("интервал %d ч не помещается в окно шириной %d ч",
				scope.IntervalHours, w.Width())
		}
		w.IntervalHours = scope.IntervalHours
	}

	times, err := redistributeSlots(w, len(posts), scope.Start, e.clock())
	if err != nil {
		return nil, err
	}

	updates := make([]store.ScheduleUpdate, 0, len(posts))
	for i, p := range posts {
		updates = append(updates, store.ScheduleUpdate{PostID: p.ID, At: times[i]})
	}
	if err := e.store.BulkUpdateSchedules(updates); err != nil {
		return nil, errors.Wrap(err, "store schedules")
	}
	// Register сам снимает прежний таймер поста.
	for i, p := range posts {
		e.timers.Register(p.ID, times[i])
	}
	logger.Infof("commands: перераспределено %d постов оператора %d", len(posts), userID)
	return &RedistributeResult{
		Moved:   len(posts),
		FirstAt: times[0],
		LastAt:  times[len(times)-1],
	}, nil
}

// redistributeSlots выбирает первую отметку перераспределения: без даты - с
// завтрашнего дня, с сегодняшней датой - с ближайшего будущего слота сетки,
// с будущей датой - с начала окна этого дня.
func redistributeSlots(w schedule.Window, n int, start *time.Time, now time.Time) ([]time.Time, error) {
	if start == nil {
		return schedule.FixedInterval(w, n, now), nil
	}
	day := timeutil.DayStart(*start)
	today := timeutil.DayStart(now)
	switch {
	case day.Before(today):
		return nil, errors.Errorf("дата %s уже прошла", start.Format("2006-01-02"))
	case day.Equal(today):
		return schedule.FromToday(w, n, now), nil
	default:
		return schedule.FixedIntervalFrom(w, n, timeutil.At(*start, w.StartHour, 0)), nil
	}
}

func (e *CommandExecutor) RetryFailedPost(_ context.Context, userID, postID int64) error {
	if _, err := e.ownedPost(userID, postID); err != nil {
		return err
	}
	return e.store.RetryFailedPost(postID)
}

func (e *CommandExecutor) RetryFailedAll(_ context.Context, userID, channelID int64) (int, error) {
	posts, err := e.store.ListFailed(userID, channelID)
	if err != nil {
		return 0, errors.Wrap(err, "list failed")
	}
	for i, p := range posts {
		if err := e.store.RetryFailedPost(p.ID); err != nil {
			return i, errors.Wrapf(err, "retry post %d", p.ID)
		}
	}
	return len(posts), nil
}

func (e *CommandExecutor) RescheduleFromToday(_ context.Context, userID, channelID int64, window *schedule.Window) (int, error) {
	cfg, err := e.store.GetSchedulingConfig(userID)
	if err != nil {
		return 0, errors.Wrap(err, "scheduling config")
	}
	if window != nil {
		if !window.Valid() {
			return 0, errors.Errorf("окно публикаций %02d:00-%02d:00 с шагом %d ч задано неверно",
				window.StartHour, window.EndHour, window.IntervalHours)
		}
		cfg.StartHour = window.StartHour
		cfg.EndHour = window.EndHour
		cfg.IntervalHours = window.IntervalHours
	}

	count, err := e.store.RescheduleFromToday(userID, cfg, channelID, e.clock())
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	posts, err := e.store.ListPending(store.Filter{UserID: userID, ChannelID: channelID, ScheduledOnly: true})
	if err != nil {
		return count, errors.Wrap(err, "list rescheduled")
	}
	for _, p := range posts {
		e.timers.Register(p.ID, *p.ScheduledAt)
	}
	return count, nil
}

func (e *CommandExecutor) OverdueList(_ context.Context, userID int64) ([]*post.Post, error) {
	return e.store.ListOverdue(userID, e.clock())
}

func (e *CommandExecutor) OverdueReschedule(_ context.Context, userID int64) (int, error) {
	now := e.clock()
	overdue, err := e.store.ListOverdue(userID, now)
	if err != nil {
		return 0, errors.Wrap(err, "list overdue")
	}
	if len(overdue) == 0 {
		return 0, nil
	}

	cfg, err := e.store.GetSchedulingConfig(userID)
	if err != nil {
		return 0, errors.Wrap(err, "scheduling config")
	}
	w := windowOf(cfg)
	latest, err := e.store.LatestScheduledTime(userID)
	if err != nil {
		return 0, errors.Wrap(err, "latest scheduled time")
	}
	first := schedule.NextAvailableSlot(w, latest, now)
	times := schedule.FixedIntervalFrom(w, len(overdue), first)

	updates := make([]store.ScheduleUpdate, 0, len(overdue))
	for i, p := range overdue {
		updates = append(updates, store.ScheduleUpdate{PostID: p.ID, At: times[i]})
	}
	if err := e.store.BulkUpdateSchedules(updates); err != nil {
		return 0, errors.Wrap(err, "store schedules")
	}
	for i, p := range overdue {
		e.timers.Register(p.ID, times[i])
	}
	logger.Infof("commands: %d просроченных постов оператора %d перенесены на свободные слоты",
		len(overdue), userID)
	return len(overdue), nil
}

func (e *CommandExecutor) OverduePostNow(_ context.Context, userID int64) (int, error) {
	now := e.clock()
	overdue, err := e.store.ListOverdue(userID, now)
	if err != nil {
		return 0, errors.Wrap(err, "list overdue")
	}
	soon := now.Add(time.Second)
	for i, p := range overdue {
		if err := e.store.UpdatePostSchedule(p.ID, soon); err != nil {
			return i, errors.Wrapf(err, "schedule post %d", p.ID)
		}
		e.timers.Register(p.ID, soon)
	}
	return len(overdue), nil
}

func (e *CommandExecutor) BackupCreate(_ context.Context, userID int64, name string) (*post.Backup, error) {
	return e.store.SaveBackup(userID, name)
}

func (e *CommandExecutor) BackupList(_ context.Context, userID int64) ([]post.Backup, error) {
	return e.store.ListBackups(userID)
}

func (e *CommandExecutor) BackupRestore(_ context.Context, userID int64, name string, mode store.RestoreMode, includeMissing bool) (*store.RestoreResult, error) {
	return e.store.RestoreBackup(userID, name, mode, includeMissing, e.media.Exists)
}

func (e *CommandExecutor) Status(_ context.Context, userID int64) (*StatusResult, error) {
	now := e.clock()
	res := &StatusResult{
		ActiveTimers: e.timers.Len(),
		Location:     now.Location(),
	}

	counts := []struct {
		dst *int
		f   store.Filter
	}{
		{&res.Queued, store.Filter{UserID: userID, Status: post.StatusPending, UnscheduledOnly: true}},
		{&res.Scheduled, store.Filter{UserID: userID, Status: post.StatusPending, ScheduledOnly: true}},
		{&res.Posted, store.Filter{UserID: userID, Status: post.StatusPosted}},
		{&res.Failed, store.Filter{UserID: userID, Status: post.StatusFailed}},
	}
	for _, c := range counts {
		n, err := e.store.CountPosts(c.f)
		if err != nil {
			return nil, errors.Wrap(err, "count posts")
		}
		*c.dst = n
	}

	overdue, err := e.store.ListOverdue(userID, now)
	if err != nil {
		return nil, errors.Wrap(err, "list overdue")
	}
	res.Overdue = len(overdue)

	scheduled, err := e.store.ListPending(store.Filter{UserID: userID, ScheduledOnly: true})
	if err != nil {
		return nil, errors.Wrap(err, "list scheduled")
	}
	if len(scheduled) > 0 {
		next := *scheduled[0].ScheduledAt
		res.NextFireAt = &next
	}
	return res, nil
}

func (e *CommandExecutor) ClearQueued(_ context.Context, userID, channelID int64) (int, error) {
	removed, err := e.store.ClearQueued(userID, channelID)
	if err != nil {
		return 0, errors.Wrap(err, "clear queued")
	}
	e.deleteMedia(removed)
	return len(removed), nil
}

func (e *CommandExecutor) ClearScheduled(_ context.Context, userID, channelID int64) (int, error) {
	removed, err := e.store.ClearScheduled(userID, channelID)
	if err != nil {
		return 0, errors.Wrap(err, "clear scheduled")
	}
	for _, p := range removed {
		e.timers.Cancel(p.ID)
	}
	e.deleteMedia(removed)
	return len(removed), nil
}

// ownedPost загружает пост и проверяет, что им владеет оператор.
func (e *CommandExecutor) ownedPost(userID, postID int64) (*post.Post, error) {
	p, err := e.store.GetPost(postID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, errors.Wrapf(store.ErrNotOwner, "post %d", postID)
	}
	return p, nil
}

func (e *CommandExecutor) deleteMedia(posts []*post.Post) {
	for _, p := range posts {
		for _, ref := range p.MediaRefs() {
			if err := e.media.Delete(ref); err != nil {
				logger.Warnf("commands: удаление медиа %s: %v", ref, err)
			}
		}
	}
}
