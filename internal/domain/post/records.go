// Смежные записи хранилища: каналы операторов, пакеты, резервные копии,
// настройки планирования и напоминаний. Живут рядом с Post, потому что все
// они описывают его окружение.
package post

import "time"

// Channel — привязка канала к оператору. Уникальность пары (UserID, ChannelID)
// обеспечивает хранилище; всякая запись поста сверяется с этой таблицей.
type Channel struct {
	UserID    int64     `json:"user_id"`
	ChannelID int64     `json:"channel_id"`
	Name      string    `json:"channel_name"`
	CreatedAt time.Time `json:"created_at"`
}

// BatchStatus — состояние пакета: собран, но не запланирован, либо уже
// разложен по слотам.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchScheduled BatchStatus = "scheduled"
)

// Batch — именованная группа постов одного канала, планируемая целиком.
type Batch struct {
	ID        int64       `json:"id"`
	UserID    int64       `json:"user_id"`
	Name      string      `json:"name"`
	ChannelID int64       `json:"channel_id"`
	Status    BatchStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// Backup — именованный снимок запланированных постов оператора. Restore
// воспроизводит посты обратно в хранилище.
type Backup struct {
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Posts     []Post    `json:"posts"`
}

// SchedulingConfig — персональное окно публикаций оператора и шаг по
// умолчанию. Используется всеми операциями планирования, где не задано явное.
type SchedulingConfig struct {
	UserID        int64 `json:"user_id"`
	StartHour     int   `json:"start_hour"`
	EndHour       int   `json:"end_hour"`
	IntervalHours int   `json:"interval_hours"`
}

// Дефолтное окно публикаций: с 10:00 до 20:00 каждые 2 часа.
const (
	DefaultStartHour     = 10
	DefaultEndHour       = 20
	DefaultIntervalHours = 2
)

// DefaultSchedulingConfig возвращает конфигурацию окна по умолчанию для оператора.
func DefaultSchedulingConfig(userID int64) SchedulingConfig {
	return SchedulingConfig{
		UserID:        userID,
		StartHour:     DefaultStartHour,
		EndHour:       DefaultEndHour,
		IntervalHours: DefaultIntervalHours,
	}
}

// ReminderSettings — настройка напоминаний «очередь пустеет»: порог оставшихся
// постов и отметка последней отправки, чтобы не напоминать чаще раза в сутки.
type ReminderSettings struct {
	UserID    int64     `json:"user_id"`
	Enabled   bool      `json:"enabled"`
	Threshold int       `json:"threshold"`
	LastSent  time.Time `json:"last_sent"`
}
