// Пакет post описывает единицу планирования — отложенную публикацию в канал.
// Здесь собраны типы записи, перечисления статусов/видов медиа и правила
// валидации, общие для хранилища, диспетчера и сессий операторов.
package post

import (
	"time"

	"github.com/go-faster/errors"
)

// MediaKind определяет вид медиавложения поста. Значения сериализуются в
// хранилище как строки, поэтому менять их нельзя без миграции.
type MediaKind string

// Допустимые виды медиа. document_image и document_video — файлы-изображения и
// файлы-видео, отправляемые без сжатия (как документ), в отличие от photo/video.
const (
	KindPhoto         MediaKind = "photo"
	KindVideo         MediaKind = "video"
	KindAudio         MediaKind = "audio"
	KindAnimation     MediaKind = "animation"
	KindDocument      MediaKind = "document"
	KindDocumentImage MediaKind = "document_image"
	KindDocumentVideo MediaKind = "document_video"
	KindAlbum         MediaKind = "album"
)

// Valid сообщает, входит ли значение в перечень поддерживаемых видов.
func (k MediaKind) Valid() bool {
	switch k {
	case KindPhoto, KindVideo, KindAudio, KindAnimation,
		KindDocument, KindDocumentImage, KindDocumentVideo, KindAlbum:
		return true
	default:
		return false
	}
}

// AsDocument сообщает, отправляется ли вид как документ (без перекодирования).
func (k MediaKind) AsDocument() bool {
	switch k {
	case KindDocument, KindDocumentImage, KindDocumentVideo:
		return true
	default:
		return false
	}
}

// Status — состояние поста в жизненном цикле. Терминальные значения не
// покидаются автоматически; failed возвращается в pending только явной
// операцией повтора.
type Status string

const (
	StatusPending Status = "pending"
	StatusPosted  Status = "posted"
	StatusFailed  Status = "failed"
)

// Terminal сообщает, достиг ли пост конечного состояния.
func (s Status) Terminal() bool {
	return s == StatusPosted || s == StatusFailed
}

// Mode — происхождение поста. Используется только для группировки и отчётов,
// на семантику диспетчеризации не влияет.
type Mode string

const (
	ModeBulk       Mode = "bulk"
	ModeIndividual Mode = "individual"
	ModeRecurring  Mode = "recurring"
	ModeBatch      Mode = "batch"
)

// Valid сообщает, входит ли значение в перечень режимов.
func (m Mode) Valid() bool {
	switch m {
	case ModeBulk, ModeIndividual, ModeRecurring, ModeBatch:
		return true
	default:
		return false
	}
}

// Ограничения формата, навязанные платформой публикации.
const (
	MaxCaptionLen = 1024 // максимум символов подписи
	MaxAlbumItems = 10   // максимум вложений в альбоме
)

// Ошибки валидации. Возвращаются синхронно вызывающему коду и никогда не
// доходят до диспетчера.
var (
	ErrBadKind       = errors.New("unsupported media kind")
	ErrBadMode       = errors.New("unsupported post mode")
	ErrCaptionLength = errors.Errorf("caption exceeds %d characters", MaxCaptionLen)
	ErrAlbumSize     = errors.Errorf("album must contain 1..%d items", MaxAlbumItems)
	ErrNoFile        = errors.New("post has no file reference")
)

// AlbumItem — одна позиция альбома: собственный файл и вид медиа.
// Подпись альбома хранится на самом посте и при отправке попадает
// на первую позицию.
type AlbumItem struct {
	FilePath string    `json:"file_path"`
	Kind     MediaKind `json:"kind"`
}

// Recurrence описывает самоподдерживающуюся серию: интервал между выходами и
// условия завершения. PostedCount растёт на каждой успешной публикации.
type Recurrence struct {
	IntervalHours int        `json:"interval_hours"`
	EndAt         *time.Time `json:"end_date,omitempty"`
	MaxCount      int        `json:"count,omitempty"` // 0 — без ограничения
	PostedCount   int        `json:"posted_count"`
}

// Interval возвращает интервал серии как Duration.
func (r *Recurrence) Interval() time.Duration {
	return time.Duration(r.IntervalHours) * time.Hour
}

// Done проверяет условия завершения серии: достигнут лимит выходов либо
// наступила конечная дата. Любое из условий завершает серию.
func (r *Recurrence) Done(now time.Time) bool {
	if r.MaxCount > 0 && r.PostedCount >= r.MaxCount {
		return true
	}
	if r.EndAt != nil && !now.Before(*r.EndAt) {
		return true
	}
	return false
}

// Post — запись отложенной публикации. Пост всегда принадлежит ровно одному
// каналу одного оператора. ScheduledAt == nil означает «в очереди без
// расписания»; заполненный ScheduledAt при статусе pending — «запланирован».
type Post struct {
	ID        int64 `json:"id"`
	UserID    int64 `json:"user_id"`
	ChannelID int64 `json:"channel_id"`

	FilePath    string      `json:"file_path"`
	Kind        MediaKind   `json:"media_type"`
	Description string      `json:"description,omitempty"`
	Album       []AlbumItem `json:"media_bundle,omitempty"`

	Mode        Mode       `json:"mode"`
	ScheduledAt *time.Time `json:"scheduled_time,omitempty"`
	Status      Status     `json:"status"`

	RetryCount    int    `json:"retry_count"`
	FailureReason string `json:"failure_reason,omitempty"`

	Recurring *Recurrence `json:"recurring,omitempty"`
	BatchID   int64       `json:"batch_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate проверяет структурные инварианты записи: поддерживаемый вид медиа,
// длину подписи, размер альбома и наличие файловой ссылки. Владение каналом
// проверяет хранилище, время — планировщик.
func (p *Post) Validate() error {
	if !p.Kind.Valid() {
		return errors.Wrapf(ErrBadKind, "kind %q", p.Kind)
	}
	if !p.Mode.Valid() {
		return errors.Wrapf(ErrBadMode, "mode %q", p.Mode)
	}
	if len([]rune(p.Description)) > MaxCaptionLen {
		return ErrCaptionLength
	}
	if p.Kind == KindAlbum {
		if len(p.Album) == 0 || len(p.Album) > MaxAlbumItems {
			return ErrAlbumSize
		}
		for i := range p.Album {
			item := &p.Album[i]
			if !item.Kind.Valid() || item.Kind == KindAlbum {
				return errors.Wrapf(ErrBadKind, "album item %d kind %q", i, item.Kind)
			}
			if item.FilePath == "" {
				return errors.Wrapf(ErrNoFile, "album item %d", i)
			}
		}
		return nil
	}
	if p.FilePath == "" {
		return ErrNoFile
	}
	return nil
}

// Scheduled сообщает, назначено ли посту время публикации.
func (p *Post) Scheduled() bool {
	return p.ScheduledAt != nil
}

// MediaRefs возвращает все файловые ссылки поста: позиции альбома либо
// одиночный файл.
func (p *Post) MediaRefs() []string {
	if p.Kind == KindAlbum {
		refs := make([]string, 0, len(p.Album))
		for _, item := range p.Album {
			refs = append(refs, item.FilePath)
		}
		return refs
	}
	if p.FilePath == "" {
		return nil
	}
	return []string{p.FilePath}
}

// Overdue сообщает, просрочен ли пост: запланирован, всё ещё pending, а время
// уже прошло.
func (p *Post) Overdue(now time.Time) bool {
	return p.Status == StatusPending && p.ScheduledAt != nil && p.ScheduledAt.Before(now)
}

// IsRecurring сообщает, является ли пост серией.
func (p *Post) IsRecurring() bool {
	return p.Recurring != nil && p.Recurring.IntervalHours > 0
}

// Clone возвращает глубокую копию записи. Используется хранилищем, чтобы
// вызывающий код не мутировал закешированные значения.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	cp := *p
	if p.ScheduledAt != nil {
		t := *p.ScheduledAt
		cp.ScheduledAt = &t
	}
	if p.Recurring != nil {
		r := *p.Recurring
		if p.Recurring.EndAt != nil {
			e := *p.Recurring.EndAt
			r.EndAt = &e
		}
		cp.Recurring = &r
	}
	if len(p.Album) > 0 {
		cp.Album = make([]AlbumItem, len(p.Album))
		copy(cp.Album, p.Album)
	}
	return &cp
}
