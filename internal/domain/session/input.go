package session

import "telegram-postbot/internal/domain/post"

// Input — дискретное событие диалога. Фронтенд строит Media, Text или
// Command; альбомный вход собирает сам менеджер.
type Input interface {
	isInput()
}

// Media — медиафайл, уже сохранённый фронтендом в хранилище загрузок.
// GroupID заполняется для сообщений, пришедших пачкой: такие входы менеджер
// задерживает и склеивает в альбом.
type Media struct {
	File    string
	Kind    post.MediaKind
	Caption string
	GroupID string
}

// Text — текстовое сообщение оператора.
type Text struct {
	Value string
}

// Command — команда меню. Arg — необязательный хвост команды, смысл зависит
// от команды: канал, идентификатор поста или область выборки.
type Command struct {
	Name string
	Arg  string
}

// album — склеенная пачка медиа. Порождается только коллектором менеджера,
// поэтому тип не экспортируется.
type album struct {
	items []Media
}

func (Media) isInput()   {}
func (Text) isInput()    {}
func (Command) isInput() {}
func (album) isInput()   {}

// Имена команд меню. Фронтенд транслирует нажатия кнопок и слэш-команды в
// эти значения.
const (
	CmdCancel      = "cancel"       // прервать сценарий, вернуться в Idle
	CmdFinish      = "finish"       // завершить загрузку
	CmdMode1       = "mode1"        // массовая загрузка, Arg — канал
	CmdMode2       = "mode2"        // поштучная загрузка, Arg — канал
	CmdRecurring   = "recurring"    // создать серию, Arg — канал
	CmdBatch       = "batch"        // создать пакет, Arg — канал
	CmdAddChannel  = "add_channel"  // подключить канал
	CmdSchedule    = "schedule"     // запланировать очередь
	CmdEditDate    = "edit_date"    // перенести пост, Arg — id
	CmdEditCaption = "edit_caption" // сменить подпись, Arg — id
	CmdBulkEdit    = "bulk_edit"    // общая подпись, Arg — queued|scheduled|all
	CmdReschedule  = "reschedule"   // перенос расписания с сегодняшнего дня
	CmdBackup      = "backup"       // резервная копия запланированного
)
