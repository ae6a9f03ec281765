// Операции над постами: создание, переводы состояний, выборки и массовые
// обновления расписаний. Переходы статусов соблюдают модель
// pending(unscheduled) → pending(scheduled) → {posted | failed};
// failed возвращается в pending только явным RetryFailedPost.
package store

import (
	"sort"
	"time"

	"telegram-postbot/internal/domain/post"
	"telegram-postbot/internal/domain/schedule"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"
)

// Filter задаёт критерии выборки постов. Нулевые значения означают
// «без ограничения по этому полю».
type Filter struct {
	UserID          int64
	ChannelID       int64
	BatchID         int64
	Mode            post.Mode
	Status          post.Status
	UnscheduledOnly bool
	ScheduledOnly   bool
}

// match проверяет пост на соответствие фильтру.
func (f Filter) match(p *post.Post) bool {
	if f.UserID != 0 && p.UserID != f.UserID {
		return false
	}
	if f.ChannelID != 0 && p.ChannelID != f.ChannelID {
		return false
	}
	if f.BatchID != 0 && p.BatchID != f.BatchID {
		return false
	}
	if f.Mode != "" && p.Mode != f.Mode {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.UnscheduledOnly && p.ScheduledAt != nil {
		return false
	}
	if f.ScheduledOnly && p.ScheduledAt == nil {
		return false
	}
	return true
}

// ScheduleUpdate — пара (пост, новое время) для массового обновления.
type ScheduleUpdate struct {
	PostID int64
	At     time.Time
}

// AddPost валидирует запись, проверяет владение каналом и сохраняет пост в
// состоянии pending без расписания. Возвращает присвоенный id.
func (s *Store) AddPost(p *post.Post) (int64, error) {
	if p == nil {
		return 0, errors.New("store: nil post")
	}
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var id int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if !channelOwnedTx(tx, p.UserID, p.ChannelID) {
			return errors.Wrapf(ErrNotOwner, "user %d channel %d", p.UserID, p.ChannelID)
		}

		b := tx.Bucket(postsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return errors.Wrap(err, "next sequence")
		}
		id = int64(seq)

		cp := p.Clone()
		cp.ID = id
		cp.Status = post.StatusPending
		cp.ScheduledAt = nil
		cp.RetryCount = 0
		cp.FailureReason = ""
		now := time.Now()
		cp.CreatedAt = now
		cp.UpdatedAt = now

		data, err := encode(cp)
		if err != nil {
			return err
		}
		return b.Put(itob(id), data)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetPost возвращает копию записи или ErrNotFound.
func (s *Store) GetPost(id int64) (*post.Post, error) {
	var p *post.Post
	err := s.db.View(func(tx *bbolt.Tx) error {
		loaded, err := getPostTx(tx, id)
		if err != nil {
			return err
		}
		p = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePostSchedule назначает время публикации. Пост в терминальном статусе
// не трогается (ErrTerminal): гонка «запланировать vs уже отправлен» решается
// в пользу свершившегося факта.
func (s *Store) UpdatePostSchedule(id int64, t time.Time) error {
	return s.mutatePost(id, func(p *post.Post) error {
		if p.Status.Terminal() {
			return errors.Wrapf(ErrTerminal, "post %d is %s", id, p.Status)
		}
		at := t
		p.ScheduledAt = &at
		return nil
	})
}

// ClearPostSchedule снимает время публикации, возвращая пост в «очередь».
func (s *Store) ClearPostSchedule(id int64) error {
	return s.mutatePost(id, func(p *post.Post) error {
		if p.Status.Terminal() {
			return errors.Wrapf(ErrTerminal, "post %d is %s", id, p.Status)
		}
		p.ScheduledAt = nil
		return nil
	})
}

// MarkPosted переводит пост в терминальный posted. Идемпотентна: повторный
// вызов на уже отправленном посте — no-op. Провалившийся пост отправленным
// не становится.
func (s *Store) MarkPosted(id int64) error {
	return s.mutatePost(id, func(p *post.Post) error {
		if p.Status == post.StatusPosted {
			return nil
		}
		if p.Status == post.StatusFailed {
			return errors.Wrapf(ErrTerminal, "post %d is %s", id, p.Status)
		}
		p.Status = post.StatusPosted
		p.FailureReason = ""
		return nil
	})
}

// MarkFailed переводит пост в терминальный failed и сохраняет причину.
// Расписание остаётся на записи для диагностики. Уже отправленный пост
// провалить нельзя.
func (s *Store) MarkFailed(id int64, reason string) error {
	return s.mutatePost(id, func(p *post.Post) error {
		if p.Status == post.StatusFailed {
			return nil
		}
		if p.Status == post.StatusPosted {
			return errors.Wrapf(ErrTerminal, "post %d is %s", id, p.Status)
		}
		p.Status = post.StatusFailed
		p.FailureReason = reason
		return nil
	})
}

// IncrementRetry увеличивает счётчик попыток и возвращает новое значение.
func (s *Store) IncrementRetry(id int64) (int, error) {
	var count int
	err := s.mutatePost(id, func(p *post.Post) error {
		p.RetryCount++
		count = p.RetryCount
		return nil
	})
	return count, err
}

// RetryFailedPost возвращает неудавшийся пост в очередь: pending без
// расписания, счётчик попыток и причина сбрасываются. Разрешено только из
// статуса failed.
func (s *Store) RetryFailedPost(id int64) error {
	return s.mutatePost(id, func(p *post.Post) error {
		if p.Status != post.StatusFailed {
			return errors.Wrapf(ErrNotFailed, "post %d is %s", id, p.Status)
		}
		p.Status = post.StatusPending
		p.ScheduledAt = nil
		p.RetryCount = 0
		p.FailureReason = ""
		return nil
	})
}

// UpdatePostDescription меняет подпись поста с проверкой лимита длины.
func (s *Store) UpdatePostDescription(id int64, description string) error {
	if len([]rune(description)) > post.MaxCaptionLen {
		return post.ErrCaptionLength
	}
	return s.mutatePost(id, func(p *post.Post) error {
		if p.Status.Terminal() {
			return errors.Wrapf(ErrTerminal, "post %d is %s", id, p.Status)
		}
		p.Description = description
		return nil
	})
}

// SetRecurrence включает (или выключает при nil) серию на посте.
func (s *Store) SetRecurrence(id int64, rec *post.Recurrence) error {
	return s.mutatePost(id, func(p *post.Post) error {
		if p.Status.Terminal() {
			return errors.Wrapf(ErrTerminal, "post %d is %s", id, p.Status)
		}
		if rec == nil {
			p.Recurring = nil
			return nil
		}
		r := *rec
		p.Recurring = &r
		return nil
	})
}

// IncrementRecurrenceCount увеличивает счётчик выходов серии и возвращает
// обновлённую копию поста. Ошибка, если пост не является серией.
func (s *Store) IncrementRecurrenceCount(id int64) (*post.Post, error) {
	var out *post.Post
	err := s.mutatePost(id, func(p *post.Post) error {
		if p.Recurring == nil {
			return errors.Errorf("store: post %d is not recurring", id)
		}
		p.Recurring.PostedCount++
		out = p.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListPosts возвращает посты по фильтру в стабильном порядке: по времени
// публикации (без расписания — в конец), затем по id.
func (s *Store) ListPosts(f Filter) ([]*post.Post, error) {
	posts, err := s.listPosts(f)
	if err != nil {
		return nil, err
	}
	sortPosts(posts)
	return posts, nil
}

// ListPending — ListPosts, ограниченный статусом pending.
func (s *Store) ListPending(f Filter) ([]*post.Post, error) {
	f.Status = post.StatusPending
	return s.ListPosts(f)
}

// ListUnscheduled возвращает посты очереди (pending без расписания).
func (s *Store) ListUnscheduled(userID, channelID int64) ([]*post.Post, error) {
	return s.ListPending(Filter{UserID: userID, ChannelID: channelID, UnscheduledOnly: true})
}

// ListScheduledByChannel группирует запланированные pending-посты оператора
// по каналам.
func (s *Store) ListScheduledByChannel(userID int64) (map[int64][]*post.Post, error) {
	posts, err := s.ListPending(Filter{UserID: userID, ScheduledOnly: true})
	if err != nil {
		return nil, err
	}
	grouped := make(map[int64][]*post.Post)
	for _, p := range posts {
		grouped[p.ChannelID] = append(grouped[p.ChannelID], p)
	}
	return grouped, nil
}

// ListFailed возвращает неудавшиеся посты для повторной постановки.
func (s *Store) ListFailed(userID, channelID int64) ([]*post.Post, error) {
	posts, err := s.listPosts(Filter{UserID: userID, ChannelID: channelID, Status: post.StatusFailed})
	if err != nil {
		return nil, err
	}
	sortPosts(posts)
	return posts, nil
}

// ListOverdue возвращает просроченные посты: pending с расписанием раньше now.
// userID == 0 — по всем операторам.
func (s *Store) ListOverdue(userID int64, now time.Time) ([]*post.Post, error) {
	posts, err := s.ListPending(Filter{UserID: userID, ScheduledOnly: true})
	if err != nil {
		return nil, err
	}
	overdue := posts[:0]
	for _, p := range posts {
		if p.ScheduledAt.Before(now) {
			overdue = append(overdue, p)
		}
	}
	return overdue, nil
}

// LatestScheduledTime возвращает максимальное время публикации среди
// pending-постов оператора, либо nil, если расписаний нет.
func (s *Store) LatestScheduledTime(userID int64) (*time.Time, error) {
	posts, err := s.ListPending(Filter{UserID: userID, ScheduledOnly: true})
	if err != nil {
		return nil, err
	}
	var latest *time.Time
	for _, p := range posts {
		if latest == nil || p.ScheduledAt.After(*latest) {
			t := *p.ScheduledAt
			latest = &t
		}
	}
	return latest, nil
}

// CountPosts возвращает число постов, подходящих под фильтр.
func (s *Store) CountPosts(f Filter) (int, error) {
	posts, err := s.listPosts(f)
	if err != nil {
		return 0, err
	}
	return len(posts), nil
}

// BulkUpdateSchedules назначает времена публикации списком в одной
// транзакции: либо применяются все пары, либо ни одна.
func (s *Store) BulkUpdateSchedules(updates []ScheduleUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(postsBucket)
		for _, u := range updates {
			p, err := getPostTx(tx, u.PostID)
			if err != nil {
				return err
			}
			if p.Status.Terminal() {
				return errors.Wrapf(ErrTerminal, "post %d is %s", u.PostID, p.Status)
			}
			at := u.At
			p.ScheduledAt = &at
			p.UpdatedAt = time.Now()
			data, err := encode(p)
			if err != nil {
				return err
			}
			if err := b.Put(itob(u.PostID), data); err != nil {
				return errors.Wrapf(err, "put post %d", u.PostID)
			}
		}
		return nil
	})
}

// ClearQueued удаляет посты очереди (pending без расписания) оператора,
// опционально в одном канале. Возвращает удалённые записи, чтобы вызывающий
// код убрал медиафайлы.
func (s *Store) ClearQueued(userID, channelID int64) ([]*post.Post, error) {
	return s.deletePosts(Filter{
		UserID: userID, ChannelID: channelID,
		Status: post.StatusPending, UnscheduledOnly: true,
	})
}

// ClearScheduled удаляет запланированные pending-посты оператора. Таймеры
// удалённых постов снимает вызывающий код.
func (s *Store) ClearScheduled(userID, channelID int64) ([]*post.Post, error) {
	return s.deletePosts(Filter{
		UserID: userID, ChannelID: channelID,
		Status: post.StatusPending, ScheduledOnly: true,
	})
}

// DeletePost удаляет запись безусловно. Отсутствие записи — не ошибка:
// публикация, завершившаяся после удаления, просто не найдёт строку.
func (s *Store) DeletePost(id int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(postsBucket).Delete(itob(id))
	})
}

// RescheduleFromToday пересчитывает расписание всех запланированных
// pending-постов оператора (опционально одного канала) начиная с сегодняшнего
// дня по окну cfg. Возвращает число перепланированных постов.
func (s *Store) RescheduleFromToday(
	userID int64,
	cfg post.SchedulingConfig,
	channelID int64,
	now time.Time,
) (int, error) {
	posts, err := s.ListPending(Filter{UserID: userID, ChannelID: channelID, ScheduledOnly: true})
	if err != nil {
		return 0, err
	}
	if len(posts) == 0 {
		return 0, nil
	}

	window := schedule.Window{
		StartHour:     cfg.StartHour,
		EndHour:       cfg.EndHour,
		IntervalHours: cfg.IntervalHours,
	}
	times := schedule.FromToday(window, len(posts), now)
	updates := make([]ScheduleUpdate, 0, len(posts))
	for i, p := range posts {
		updates = append(updates, ScheduleUpdate{PostID: p.ID, At: times[i]})
	}
	if err := s.BulkUpdateSchedules(updates); err != nil {
		return 0, err
	}
	return len(updates), nil
}

// mutatePost загружает пост, применяет mutate и сохраняет результат в той же
// транзакции. UpdatedAt обновляется автоматически.
func (s *Store) mutatePost(id int64, mutate func(p *post.Post) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		p, err := getPostTx(tx, id)
		if err != nil {
			return err
		}
		if err := mutate(p); err != nil {
			return err
		}
		p.UpdatedAt = time.Now()
		data, err := encode(p)
		if err != nil {
			return err
		}
		return tx.Bucket(postsBucket).Put(itob(id), data)
	})
}

// listPosts собирает копии постов по фильтру без гарантий порядка.
func (s *Store) listPosts(f Filter) ([]*post.Post, error) {
	var posts []*post.Post
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(postsBucket).ForEach(func(_, v []byte) error {
			var p post.Post
			if err := decode(v, &p); err != nil {
				return err
			}
			if f.match(&p) {
				posts = append(posts, &p)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return posts, nil
}

// deletePosts удаляет посты по фильтру одной транзакцией и возвращает копии
// удалённых записей.
func (s *Store) deletePosts(f Filter) ([]*post.Post, error) {
	var removed []*post.Post
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(postsBucket)
		var keys [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var p post.Post
			if err := decode(v, &p); err != nil {
				return err
			}
			if f.match(&p) {
				removed = append(removed, &p)
				key := make([]byte, len(k))
				copy(key, k)
				keys = append(keys, key)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return errors.Wrap(err, "delete post")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// getPostTx читает пост внутри открытой транзакции.
func getPostTx(tx *bbolt.Tx, id int64) (*post.Post, error) {
	data := tx.Bucket(postsBucket).Get(itob(id))
	if data == nil {
		return nil, errors.Wrapf(ErrNotFound, "post %d", id)
	}
	var p post.Post
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// sortPosts упорядочивает посты: по времени публикации по возрастанию,
// записи без расписания в конце, при равенстве — по id.
func sortPosts(posts []*post.Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		a, b := posts[i], posts[j]
		switch {
		case a.ScheduledAt == nil && b.ScheduledAt == nil:
			return a.ID < b.ID
		case a.ScheduledAt == nil:
			return false
		case b.ScheduledAt == nil:
			return true
		case a.ScheduledAt.Equal(*b.ScheduledAt):
			return a.ID < b.ID
		default:
			return a.ScheduledAt.Before(*b.ScheduledAt)
		}
	})
}
