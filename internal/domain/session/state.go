// Пакет session ведёт диалоговое состояние операторов. Каждый оператор в
// любой момент находится ровно в одном состоянии машины; дискретные входы
// (медиа, текст, команда меню) переводят его дальше и порождают записи в
// хранилище. Состояние переживает перезапуск процесса: после каждого
// перехода снимок сохраняется в store и восстанавливается при первом
// обращении оператора.
package session

import (
	"encoding/json"

	"telegram-postbot/internal/domain/post"

	"github.com/go-faster/errors"
)

// State — состояние диалога. Закрытое объединение: набор состояний
// фиксирован, внешние пакеты switch'ятся по конкретным типам.
type State interface {
	stateTag() string
}

// Idle — оператор вне сценария, принимаются только команды меню.
type Idle struct{}

// Mode1Uploading — массовая загрузка: каждое медиа становится постом очереди,
// подпись берётся из того же сообщения.
type Mode1Uploading struct {
	Channel int64 `json:"channel"`
}

// Mode2Uploading — поштучная загрузка: медиа с подписью сохраняется сразу,
// медиа без подписи дозапрашивает её отдельным шагом.
type Mode2Uploading struct {
	Channel int64 `json:"channel"`
}

// RecurringAwaitingMedia — создание серии, ждём единственное медиа.
type RecurringAwaitingMedia struct {
	Channel int64 `json:"channel"`
}

// RecurringAwaitingDescription — медиа серии получено, ждём подпись.
type RecurringAwaitingDescription struct {
	Channel int64          `json:"channel"`
	File    string         `json:"file"`
	Kind    post.MediaKind `json:"kind"`
}

// RecurringAwaitingSchedule — пост серии создан, ждём параметры расписания.
type RecurringAwaitingSchedule struct {
	PostID int64 `json:"post_id"`
}

// AwaitingScheduleInput — ждём выбор варианта планирования очереди.
type AwaitingScheduleInput struct{}

// AwaitingDateInput — ждём дату и время. При нулевом EditingPostID дата
// задаёт начало планирования всей очереди, иначе переносит один пост.
type AwaitingDateInput struct {
	EditingPostID int64 `json:"editing_post_id,omitempty"`
}

// AwaitingDescriptionInput — ждём новую подпись для одного поста.
type AwaitingDescriptionInput struct {
	EditingPostID int64 `json:"editing_post_id"`
}

// AwaitingChannelID — подключение канала, ждём числовой идентификатор.
type AwaitingChannelID struct{}

// AwaitingChannelName — идентификатор получен, ждём отображаемое имя.
type AwaitingChannelName struct {
	PendingChannelID int64 `json:"pending_channel_id"`
}

// AwaitingBatchName — ждём имя нового пакета.
type AwaitingBatchName struct {
	Channel int64 `json:"channel"`
}

// BatchMode1Uploading — массовая загрузка внутри пакета.
type BatchMode1Uploading struct {
	BatchID int64 `json:"batch_id"`
	Channel int64 `json:"channel"`
}

// BatchMode2Uploading — поштучная загрузка внутри пакета.
type BatchMode2Uploading struct {
	BatchID int64 `json:"batch_id"`
	Channel int64 `json:"channel"`
}

// AwaitingBulkEditInput — ждём подпись, которая заменит подписи всех
// выбранных постов.
type AwaitingBulkEditInput struct {
	PostIDs    []int64 `json:"post_ids"`
	ScopeLabel string  `json:"scope_label"`
}

// AwaitingRescheduleSettings — ждём окно и шаг для переноса расписания с
// сегодняшнего дня.
type AwaitingRescheduleSettings struct{}

// AwaitingBackupName — ждём имя резервной копии.
type AwaitingBackupName struct{}

// AwaitingCaptionInput — медиа поштучного режима сохранено без подписи,
// ждём подпись или пропуск.
type AwaitingCaptionInput struct {
	PostID    int64 `json:"post_id"`
	NextIndex int   `json:"next_index"`
	Channel   int64 `json:"channel"`
}

func (Idle) stateTag() string                         { return "idle" }
func (Mode1Uploading) stateTag() string               { return "mode1_uploading" }
func (Mode2Uploading) stateTag() string               { return "mode2_uploading" }
func (RecurringAwaitingMedia) stateTag() string       { return "recurring_awaiting_media" }
func (RecurringAwaitingDescription) stateTag() string { return "recurring_awaiting_description" }
func (RecurringAwaitingSchedule) stateTag() string    { return "recurring_awaiting_schedule" }
func (AwaitingScheduleInput) stateTag() string        { return "awaiting_schedule_input" }
func (AwaitingDateInput) stateTag() string            { return "awaiting_date_input" }
func (AwaitingDescriptionInput) stateTag() string     { return "awaiting_description_input" }
func (AwaitingChannelID) stateTag() string            { return "awaiting_channel_id" }
func (AwaitingChannelName) stateTag() string          { return "awaiting_channel_name" }
func (AwaitingBatchName) stateTag() string            { return "awaiting_batch_name" }
func (BatchMode1Uploading) stateTag() string          { return "batch_mode1_uploading" }
func (BatchMode2Uploading) stateTag() string          { return "batch_mode2_uploading" }
func (AwaitingBulkEditInput) stateTag() string        { return "awaiting_bulk_edit_input" }
func (AwaitingRescheduleSettings) stateTag() string   { return "awaiting_reschedule_settings" }
func (AwaitingBackupName) stateTag() string           { return "awaiting_backup_name" }
func (AwaitingCaptionInput) stateTag() string         { return "awaiting_caption_input" }

// marshalState кодирует состояние в конверт «тег + полезная нагрузка» для
// хранилища. Idle сериализуется пустой нагрузкой.
func marshalState(s State) (tag string, raw json.RawMessage, err error) {
	tag = s.stateTag()
	if _, ok := s.(Idle); ok {
		return tag, nil, nil
	}
	raw, err = json.Marshal(s)
	if err != nil {
		return "", nil, errors.Wrapf(err, "marshal state %s", tag)
	}
	return tag, raw, nil
}

func decodeInto[T State](raw json.RawMessage) (State, error) {
	var s T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, errors.Wrapf(err, "decode state %s", s.stateTag())
		}
	}
	return s, nil
}

// unmarshalState восстанавливает состояние из конверта. Неизвестный тег —
// ошибка: вызывающий решает, откатываться ли в Idle.
func unmarshalState(tag string, raw json.RawMessage) (State, error) {
	switch tag {
	case "idle":
		return Idle{}, nil
	case "mode1_uploading":
		return decodeInto[Mode1Uploading](raw)
	case "mode2_uploading":
		return decodeInto[Mode2Uploading](raw)
	case "recurring_awaiting_media":
		return decodeInto[RecurringAwaitingMedia](raw)
	case "recurring_awaiting_description":
		return decodeInto[RecurringAwaitingDescription](raw)
	case "recurring_awaiting_schedule":
		return decodeInto[RecurringAwaitingSchedule](raw)
	case "awaiting_schedule_input":
		return AwaitingScheduleInput{}, nil
	case "awaiting_date_input":
		return decodeInto[AwaitingDateInput](raw)
	case "awaiting_description_input":
		return decodeInto[AwaitingDescriptionInput](raw)
	case "awaiting_channel_id":
		return AwaitingChannelID{}, nil
	case "awaiting_channel_name":
		return decodeInto[AwaitingChannelName](raw)
	case "awaiting_batch_name":
		return decodeInto[AwaitingBatchName](raw)
	case "batch_mode1_uploading":
		return decodeInto[BatchMode1Uploading](raw)
	case "batch_mode2_uploading":
		return decodeInto[BatchMode2Uploading](raw)
	case "awaiting_bulk_edit_input":
		return decodeInto[AwaitingBulkEditInput](raw)
	case "awaiting_reschedule_settings":
		return AwaitingRescheduleSettings{}, nil
	case "awaiting_backup_name":
		return AwaitingBackupName{}, nil
	case "awaiting_caption_input":
		return decodeInto[AwaitingCaptionInput](raw)
	default:
		return nil, errors.Errorf("unknown state tag %q", tag)
	}
}
