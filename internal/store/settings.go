// Пер-операторные настройки: окно планирования, напоминания о пустой очереди
// и снимки диалоговых состояний.
package store

import (
	"encoding/json"
	"time"

	"telegram-postbot/internal/domain/post"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"
)

// GetSchedulingConfig возвращает окно планирования оператора. Если настройка
// не сохранялась, отдаёт значения по умолчанию (10-20, шаг 2 часа).
func (s *Store) GetSchedulingConfig(userID int64) (post.SchedulingConfig, error) {
	cfg := post.DefaultSchedulingConfig(userID)
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(schedCfgBucket).Get(itob(userID))
		if data == nil {
			return nil
		}
		return decode(data, &cfg)
	})
	if err != nil {
		return post.SchedulingConfig{}, err
	}
	cfg.UserID = userID
	return cfg, nil
}

// SetSchedulingConfig сохраняет окно планирования оператора.
func (s *Store) SetSchedulingConfig(cfg post.SchedulingConfig) error {
	if cfg.StartHour < 0 || cfg.EndHour > 23 || cfg.StartHour >= cfg.EndHour {
		return errors.Errorf("bad scheduling window %d-%d", cfg.StartHour, cfg.EndHour)
	}
	if cfg.IntervalHours < 1 || cfg.IntervalHours > cfg.EndHour-cfg.StartHour {
		return errors.Errorf("bad scheduling interval %d for window %d-%d",
			cfg.IntervalHours, cfg.StartHour, cfg.EndHour)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := encode(cfg)
		if err != nil {
			return err
		}
		return tx.Bucket(schedCfgBucket).Put(itob(cfg.UserID), data)
	})
}

// GetReminderSettings возвращает настройки напоминаний оператора.
// Отсутствие записи — напоминания выключены.
func (s *Store) GetReminderSettings(userID int64) (post.ReminderSettings, error) {
	rec := post.ReminderSettings{UserID: userID}
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(remindersBucket).Get(itob(userID))
		if data == nil {
			return nil
		}
		return decode(data, &rec)
	})
	if err != nil {
		return post.ReminderSettings{}, err
	}
	rec.UserID = userID
	return rec, nil
}

// SetReminderSettings включает или выключает напоминания и порог очереди.
func (s *Store) SetReminderSettings(rec post.ReminderSettings) error {
	if rec.Threshold < 0 {
		return errors.Errorf("bad reminder threshold %d", rec.Threshold)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := encode(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(remindersBucket).Put(itob(rec.UserID), data)
	})
}

// ListReminderUsers возвращает операторов с включёнными напоминаниями.
func (s *Store) ListReminderUsers() ([]post.ReminderSettings, error) {
	var out []post.ReminderSettings
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(remindersBucket).ForEach(func(_, v []byte) error {
			var rec post.ReminderSettings
			if err := decode(v, &rec); err != nil {
				return err
			}
			if rec.Enabled {
				out = append(out, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TouchReminderSent запоминает момент отправки напоминания, чтобы не слать
// чаще раза в сутки.
func (s *Store) TouchReminderSent(userID int64, at time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(remindersBucket)
		data := b.Get(itob(userID))
		if data == nil {
			return errors.Wrapf(ErrNotFound, "reminder settings for user %d", userID)
		}
		var rec post.ReminderSettings
		if err := decode(data, &rec); err != nil {
			return err
		}
		rec.LastSent = at
		updated, err := encode(rec)
		if err != nil {
			return err
		}
		return b.Put(itob(userID), updated)
	})
}

// SessionRecord — сохранённое диалоговое состояние оператора. Само состояние
// хранится как непрозрачный конверт: store не знает набор состояний FSM и не
// тянет его пакеты.
type SessionRecord struct {
	UserID    int64           `json:"user_id"`
	Tag       string          `json:"tag"`
	State     json.RawMessage `json:"state,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SaveSession перезаписывает снимок состояния оператора.
func (s *Store) SaveSession(rec SessionRecord) error {
	rec.UpdatedAt = time.Now()
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := encode(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(sessionsBucket).Put(itob(rec.UserID), data)
	})
}

// GetSession возвращает снимок состояния или ErrNotFound.
func (s *Store) GetSession(userID int64) (SessionRecord, error) {
	var rec SessionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(sessionsBucket).Get(itob(userID))
		if data == nil {
			return errors.Wrapf(ErrNotFound, "session for user %d", userID)
		}
		return decode(data, &rec)
	})
	if err != nil {
		return SessionRecord{}, err
	}
	return rec, nil
}

// DropSession удаляет снимок состояния. Отсутствие записи не ошибка.
func (s *Store) DropSession(userID int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete(itob(userID))
	})
}
