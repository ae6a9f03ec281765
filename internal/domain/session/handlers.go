package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"telegram-postbot/internal/domain/commands"
	"telegram-postbot/internal/domain/post"
	"telegram-postbot/internal/domain/schedule"
	"telegram-postbot/internal/infra/logger"
	"telegram-postbot/internal/store"

	"github.com/go-faster/errors"
)

const (
	replyTimeFormat = "2006-01-02 15:04"

	// Серии не привязаны к дневному окну, поэтому их интервал ограничен
	// только здравым смыслом: раз в час и не реже раза в год.
	maxSeriesIntervalHours = 24 * 365
)

// transition — машина переходов: состояние и вход дают новое состояние и
// ответы. nil вместо состояния означает «остаться». Ошибки операторского
// уровня не поднимаются наверх, а превращаются в ответы с ❌.
func (m *Manager) transition(ctx context.Context, st State, userID int64, in Input) (State, []string, error) {
	if cmd, ok := in.(Command); ok && cmd.Name == CmdCancel {
		return m.cancel(st, userID)
	}
	switch s := st.(type) {
	case Idle:
		return m.handleIdle(userID, in)
	case Mode1Uploading:
		return m.handleBulkUpload(userID, s.Channel, 0, in)
	case BatchMode1Uploading:
		return m.handleBulkUpload(userID, s.Channel, s.BatchID, in)
	case Mode2Uploading:
		return m.handleSingleUpload(userID, s.Channel, 0, in)
	case BatchMode2Uploading:
		return m.handleSingleUpload(userID, s.Channel, s.BatchID, in)
	case RecurringAwaitingMedia:
		return m.handleRecurringMedia(userID, s, in)
	case RecurringAwaitingDescription:
		return m.handleRecurringDescription(userID, s, in)
	case RecurringAwaitingSchedule:
		return m.handleRecurringSchedule(ctx, userID, s, in)
	case AwaitingScheduleInput:
		return m.handleScheduleInput(ctx, userID, in)
	case AwaitingDateInput:
		return m.handleDateInput(ctx, userID, s, in)
	case AwaitingDescriptionInput:
		return m.handleDescriptionInput(userID, s, in)
	case AwaitingChannelID:
		return m.handleChannelID(in)
	case AwaitingChannelName:
		return m.handleChannelName(userID, s, in)
	case AwaitingBatchName:
		return m.handleBatchName(userID, s, in)
	case AwaitingBulkEditInput:
		return m.handleBulkEdit(s, in)
	case AwaitingRescheduleSettings:
		return m.handleRescheduleSettings(ctx, userID, in)
	case AwaitingBackupName:
		return m.handleBackupName(ctx, userID, in)
	case AwaitingCaptionInput:
		return m.handleCaptionInput(userID, s, in)
	default:
		logger.Errorf("session: оператор %d в неизвестном состоянии %T", userID, st)
		return Idle{}, []string{"Действие отменено."}, nil
	}
}

// cancel сворачивает любой сценарий. Файл серии, ещё не ставший постом,
// удаляется; файлы уже созданных постов остаются за постами.
func (m *Manager) cancel(st State, userID int64) (State, []string, error) {
	if s, ok := st.(RecurringAwaitingDescription); ok && s.File != "" {
		m.dropUpload(userID, s.File)
	}
	if _, ok := st.(Idle); ok {
		return nil, []string{"Сейчас нет активного сценария."}, nil
	}
	return Idle{}, []string{"Действие отменено."}, nil
}

func (m *Manager) handleIdle(userID int64, in Input) (State, []string, error) {
	cmd, ok := in.(Command)
	if !ok {
		return nil, []string{"Сначала выберите действие: mode1 <канал>, mode2 <канал>, recurring <канал> или schedule."}, nil
	}
	switch cmd.Name {
	case CmdMode1:
		ch, replyText, ok := m.resolveChannel(userID, cmd.Arg)
		if !ok {
			return nil, []string{replyText}, nil
		}
		return Mode1Uploading{Channel: ch}, []string{
			fmt.Sprintf("📤 Массовая загрузка в канал %s. Отправляйте медиа, подпись берётся из сообщения. Завершение - finish.", m.channelLabel(userID, ch)),
		}, nil
	case CmdMode2:
		ch, replyText, ok := m.resolveChannel(userID, cmd.Arg)
		if !ok {
			return nil, []string{replyText}, nil
		}
		return Mode2Uploading{Channel: ch}, []string{
			fmt.Sprintf("📤 Поштучная загрузка в канал %s. Медиа без подписи дозапросит её отдельно. Завершение - finish.", m.channelLabel(userID, ch)),
		}, nil
	case CmdRecurring:
		ch, replyText, ok := m.resolveChannel(userID, cmd.Arg)
		if !ok {
			return nil, []string{replyText}, nil
		}
		return RecurringAwaitingMedia{Channel: ch}, []string{"🔁 Новая серия. Отправьте один медиафайл."}, nil
	case CmdBatch:
		ch, replyText, ok := m.resolveChannel(userID, cmd.Arg)
		if !ok {
			return nil, []string{replyText}, nil
		}
		return AwaitingBatchName{Channel: ch}, []string{"Введите имя пакета."}, nil
	case CmdAddChannel:
		return AwaitingChannelID{}, []string{"Введите числовой ID канала (обычно начинается с -100)."}, nil
	case CmdSchedule:
		count := m.queueCount(userID, 0)
		if count == 0 {
			return nil, []string{"Очередь пуста, планировать нечего."}, nil
		}
		return AwaitingScheduleInput{}, []string{scheduleMenu(count)}, nil
	case CmdEditDate:
		if cmd.Arg == "" {
			return AwaitingDateInput{}, []string{"Введите стартовые дату и время очереди: ГГГГ-ММ-ДД ЧЧ:ММ."}, nil
		}
		id, replyText := m.ownedPostArg(userID, cmd.Arg)
		if replyText != "" {
			return nil, []string{replyText}, nil
		}
		return AwaitingDateInput{EditingPostID: id}, []string{
			fmt.Sprintf("Введите новые дату и время поста #%d: ГГГГ-ММ-ДД ЧЧ:ММ.", id),
		}, nil
	case CmdEditCaption:
		id, replyText := m.ownedPostArg(userID, cmd.Arg)
		if replyText != "" {
			return nil, []string{replyText}, nil
		}
		return AwaitingDescriptionInput{EditingPostID: id}, []string{
			fmt.Sprintf("Введите новую подпись поста #%d.", id),
		}, nil
	case CmdBulkEdit:
		return m.startBulkEdit(userID, cmd.Arg)
	case CmdReschedule:
		return AwaitingRescheduleSettings{}, []string{
			"Введите окно и шаг переноса: начало конец интервал (например 10 20 2), либо - для текущих настроек.",
		}, nil
	case CmdBackup:
		return AwaitingBackupName{}, []string{"Введите имя резервной копии."}, nil
	case CmdFinish:
		return nil, []string{"Сейчас нечего завершать."}, nil
	default:
		return nil, []string{fmt.Sprintf("Неизвестная команда %q.", cmd.Name)}, nil
	}
}

// handleBulkUpload обслуживает массовый режим, обычный и пакетный: каждое
// медиа сразу становится постом очереди.
func (m *Manager) handleBulkUpload(userID, channelID, batchID int64, in Input) (State, []string, error) {
	switch v := in.(type) {
	case Media, album:
		id, err := m.addPost(userID, channelID, batchID, uploadMode(batchID, post.ModeBulk), v)
		if err != nil {
			return nil, []string{replyErr(err)}, nil
		}
		return nil, []string{
			fmt.Sprintf("📥 Пост #%d в очереди, всего: %d.", id, m.queueCount(userID, channelID)),
		}, nil
	case Text:
		return nil, []string{"Жду медиафайлы. Завершение - finish, отмена - cancel."}, nil
	case Command:
		switch {
		case v.Name == CmdFinish:
			return m.finishUpload(userID, channelID)
		case v.Name == CmdMode2 && v.Arg == "":
			next := State(Mode2Uploading{Channel: channelID})
			if batchID != 0 {
				next = BatchMode2Uploading{BatchID: batchID, Channel: channelID}
			}
			return next, []string{"Переключил на поштучный режим."}, nil
		default:
			return nil, []string{"Сначала завершите загрузку: finish или cancel."}, nil
		}
	}
	return nil, nil, nil
}

// handleSingleUpload обслуживает поштучный режим: медиа с подписью
// сохраняется сразу, без подписи - дозапрашивает её.
func (m *Manager) handleSingleUpload(userID, channelID, batchID int64, in Input) (State, []string, error) {
	switch v := in.(type) {
	case Media, album:
		id, err := m.addPost(userID, channelID, batchID, uploadMode(batchID, post.ModeIndividual), v)
		if err != nil {
			return nil, []string{replyErr(err)}, nil
		}
		count := m.queueCount(userID, channelID)
		if inputCaption(v) != "" {
			return nil, []string{fmt.Sprintf("✅ Пост #%d сохранён с подписью.", id)}, nil
		}
		return AwaitingCaptionInput{PostID: id, NextIndex: count + 1, Channel: channelID}, []string{
			fmt.Sprintf("Медиа #%d сохранено. Введите подпись или - для пропуска.", count),
		}, nil
	case Text:
		return nil, []string{"Жду медиафайлы. Завершение - finish, отмена - cancel."}, nil
	case Command:
		switch {
		case v.Name == CmdFinish:
			return m.finishUpload(userID, channelID)
		case v.Name == CmdMode1 && v.Arg == "":
			next := State(Mode1Uploading{Channel: channelID})
			if batchID != 0 {
				next = BatchMode1Uploading{BatchID: batchID, Channel: channelID}
			}
			return next, []string{"Переключил на массовый режим."}, nil
		default:
			return nil, []string{"Сначала завершите загрузку: finish или cancel."}, nil
		}
	}
	return nil, nil, nil
}

// finishUpload закрывает загрузку. Непустая очередь сразу ведёт к выбору
// расписания, чтобы посты не зависали без времени.
func (m *Manager) finishUpload(userID, channelID int64) (State, []string, error) {
	count := m.queueCount(userID, 0)
	if count == 0 {
		return Idle{}, []string{"Загрузка завершена, очередь пуста."}, nil
	}
	return AwaitingScheduleInput{}, []string{scheduleMenu(count)}, nil
}

func (m *Manager) handleRecurringMedia(userID int64, s RecurringAwaitingMedia, in Input) (State, []string, error) {
	switch v := in.(type) {
	case Media:
		if v.Caption != "" {
			id, err := m.addPost(userID, s.Channel, 0, post.ModeRecurring, v)
			if err != nil {
				return nil, []string{replyErr(err)}, nil
			}
			return RecurringAwaitingSchedule{PostID: id}, []string{seriesScheduleHint(id)}, nil
		}
		return RecurringAwaitingDescription{Channel: s.Channel, File: v.File, Kind: v.Kind},
			[]string{"Медиа получено. Введите подпись серии или - без подписи."}, nil
	case album:
		for _, item := range v.items {
			m.dropUpload(userID, item.File)
		}
		return nil, []string{"❌ Серия - это один медиафайл, альбом не подходит."}, nil
	case Text:
		return nil, []string{"Жду один медиафайл серии. Отмена - cancel."}, nil
	case Command:
		return nil, []string{"Жду один медиафайл серии. Отмена - cancel."}, nil
	}
	return nil, nil, nil
}

func (m *Manager) handleRecurringDescription(userID int64, s RecurringAwaitingDescription, in Input) (State, []string, error) {
	v, ok := in.(Text)
	if !ok {
		return nil, []string{"Медиа уже получено, жду подпись серии (или -)."}, nil
	}
	caption := strings.TrimSpace(v.Value)
	if caption == "-" {
		caption = ""
	}
	id, err := m.addPost(userID, s.Channel, 0, post.ModeRecurring, Media{File: s.File, Kind: s.Kind, Caption: caption})
	if err != nil {
		return nil, []string{replyErr(err)}, nil
	}
	return RecurringAwaitingSchedule{PostID: id}, []string{seriesScheduleHint(id)}, nil
}

func (m *Manager) handleRecurringSchedule(ctx context.Context, userID int64, s RecurringAwaitingSchedule, in Input) (State, []string, error) {
	v, ok := in.(Text)
	if !ok {
		return nil, []string{seriesScheduleHint(s.PostID)}, nil
	}
	fields := strings.Fields(v.Value)
	if len(fields) < 3 || len(fields) > 4 {
		return nil, []string{seriesScheduleHint(s.PostID)}, nil
	}
	at, err := schedule.ParseDateTime(fields[0], fields[1], m.loc)
	if err != nil {
		return nil, []string{"❌ " + err.Error()}, nil
	}
	interval, err := strconv.Atoi(fields[2])
	if err != nil || interval < 1 || interval > maxSeriesIntervalHours {
		return nil, []string{fmt.Sprintf("❌ Интервал серии - число часов от 1 до %d.", maxSeriesIntervalHours)}, nil
	}
	rec := post.Recurrence{IntervalHours: interval}
	tail := ""
	if len(fields) == 4 {
		switch tok := fields[3]; {
		case strings.HasPrefix(tok, "x"):
			count, err := strconv.Atoi(strings.TrimPrefix(tok, "x"))
			if err != nil || count < 1 {
				return nil, []string{"❌ Количество выходов задаётся как x10."}, nil
			}
			rec.MaxCount = count
			tail = fmt.Sprintf(", выходов: %d", count)
		default:
			day, err := schedule.ParseDate(tok, m.loc)
			if err != nil {
				return nil, []string{"❌ " + err.Error()}, nil
			}
			// Конечная дата включается целиком.
			end := day.AddDate(0, 0, 1)
			rec.EndAt = &end
			tail = ", до " + tok
		}
	}
	if err := m.store.SetRecurrence(s.PostID, &rec); err != nil {
		return nil, []string{replyErr(err)}, nil
	}
	if err := m.exec.SchedulePostAt(ctx, userID, s.PostID, at); err != nil {
		return nil, []string{replyErr(err)}, nil
	}
	return Idle{}, []string{fmt.Sprintf("✅ Серия #%d: каждые %d ч, первый выход %s%s.",
		s.PostID, interval, at.Format(replyTimeFormat), tail)}, nil
}

func (m *Manager) handleScheduleInput(ctx context.Context, userID int64, in Input) (State, []string, error) {
	v, ok := in.(Text)
	if !ok {
		return nil, []string{scheduleMenu(m.queueCount(userID, 0))}, nil
	}
	fields := strings.Fields(strings.ToLower(v.Value))

	var res *commands.ScheduleResult
	var err error
	switch {
	case len(fields) == 1 && (fields[0] == "все" || fields[0] == "all"):
		res, err = m.exec.ScheduleAll(ctx, userID, 0)
	case len(fields) == 1 && (fields[0] == "слот" || fields[0] == "next"):
		res, err = m.exec.ScheduleNextSlot(ctx, userID, 0)
	case len(fields) == 1:
		interval, convErr := strconv.Atoi(fields[0])
		if convErr != nil {
			return nil, []string{scheduleMenu(m.queueCount(userID, 0))}, nil
		}
		res, err = m.exec.ScheduleCustomInterval(ctx, userID, 0, interval)
	case len(fields) == 2:
		at, parseErr := schedule.ParseDateTime(fields[0], fields[1], m.loc)
		if parseErr != nil {
			return nil, []string{"❌ " + parseErr.Error()}, nil
		}
		res, err = m.exec.ScheduleCustomDate(ctx, userID, 0, at)
	case len(fields) == 3:
		start, end, parseErr := schedule.ParseWindow(fields[:2])
		if parseErr != nil {
			return nil, []string{"❌ " + parseErr.Error()}, nil
		}
		interval, parseErr := schedule.ParseInterval(fields[2], end-start)
		if parseErr != nil {
			return nil, []string{"❌ " + parseErr.Error()}, nil
		}
		res, err = m.exec.ScheduleCustomWindow(ctx, userID, 0,
			schedule.Window{StartHour: start, EndHour: end, IntervalHours: interval})
	default:
		return nil, []string{scheduleMenu(m.queueCount(userID, 0))}, nil
	}
	if err != nil {
		return nil, []string{replyErr(err)}, nil
	}
	if res.Scheduled == 0 {
		return Idle{}, []string{"Очередь пуста, планировать нечего."}, nil
	}
	return Idle{}, []string{fmt.Sprintf("✅ Запланировано постов: %d, с %s по %s.",
		res.Scheduled, res.FirstAt.Format(replyTimeFormat), res.LastAt.Format(replyTimeFormat))}, nil
}

func (m *Manager) handleDateInput(ctx context.Context, userID int64, s AwaitingDateInput, in Input) (State, []string, error) {
	v, ok := in.(Text)
	if !ok {
		return nil, []string{"Введите дату и время: ГГГГ-ММ-ДД ЧЧ:ММ."}, nil
	}
	fields := strings.Fields(v.Value)
	if len(fields) != 2 {
		return nil, []string{"Введите дату и время: ГГГГ-ММ-ДД ЧЧ:ММ."}, nil
	}
	at, err := schedule.ParseDateTime(fields[0], fields[1], m.loc)
	if err != nil {
		return nil, []string{"❌ " + err.Error()}, nil
	}
	if s.EditingPostID != 0 {
		if err := m.exec.SchedulePostAt(ctx, userID, s.EditingPostID, at); err != nil {
			return nil, []string{replyErr(err)}, nil
		}
		return Idle{}, []string{fmt.Sprintf("✅ Пост #%d перенесён на %s.",
			s.EditingPostID, at.Format(replyTimeFormat))}, nil
	}
	res, err := m.exec.ScheduleCustomDate(ctx, userID, 0, at)
	if err != nil {
		return nil, []string{replyErr(err)}, nil
	}
	if res.Scheduled == 0 {
		return Idle{}, []string{"Очередь пуста, планировать нечего."}, nil
	}
	return Idle{}, []string{fmt.Sprintf("✅ Запланировано постов: %d, с %s по %s.",
		res.Scheduled, res.FirstAt.Format(replyTimeFormat), res.LastAt.Format(replyTimeFormat))}, nil
}

func (m *Manager) handleDescriptionInput(userID int64, s AwaitingDescriptionInput, in Input) (State, []string, error) {
	v, ok := in.(Text)
	if !ok {
		return nil, []string{"Жду текст новой подписи."}, nil
	}
	p, err := m.store.GetPost(s.EditingPostID)
	if err != nil || p.UserID != userID {
		return Idle{}, []string{"❌ Пост не найден."}, nil
	}
	if err := m.store.UpdatePostDescription(s.EditingPostID, v.Value); err != nil {
		if errors.Is(err, store.ErrTerminal) {
			return Idle{}, []string{replyErr(err)}, nil
		}
		return nil, []string{replyErr(err)}, nil
	}
	return Idle{}, []string{fmt.Sprintf("✅ Подпись поста #%d обновлена.", s.EditingPostID)}, nil
}

func (m *Manager) handleChannelID(in Input) (State, []string, error) {
	v, ok := in.(Text)
	if !ok {
		return nil, []string{"Жду числовой ID канала."}, nil
	}
	id, err := strconv.ParseInt(strings.TrimSpace(v.Value), 10, 64)
	if err != nil || id == 0 {
		return nil, []string{"❌ Нужен числовой ID канала, обычно со знаком минус."}, nil
	}
	return AwaitingChannelName{PendingChannelID: id}, []string{"Введите отображаемое имя канала."}, nil
}

func (m *Manager) handleChannelName(userID int64, s AwaitingChannelName, in Input) (State, []string, error) {
	v, ok := in.(Text)
	if !ok {
		return nil, []string{"Жду имя канала."}, nil
	}
	name := strings.TrimSpace(v.Value)
	if name == "" {
		return nil, []string{"❌ Имя канала не может быть пустым."}, nil
	}
	if err := m.store.AddChannel(userID, s.PendingChannelID, name); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Idle{}, []string{"❌ Этот канал уже подключён."}, nil
		}
		return nil, []string{replyErr(err)}, nil
	}
	return Idle{}, []string{fmt.Sprintf("✅ Канал %q (%d) подключён.", name, s.PendingChannelID)}, nil
}

func (m *Manager) handleBatchName(userID int64, s AwaitingBatchName, in Input) (State, []string, error) {
	v, ok := in.(Text)
	if !ok {
		return nil, []string{"Жду имя пакета."}, nil
	}
	name := strings.TrimSpace(v.Value)
	if name == "" {
		return nil, []string{"❌ Имя пакета не может быть пустым."}, nil
	}
	id, err := m.store.CreateBatch(userID, name, s.Channel)
	if err != nil {
		return nil, []string{replyErr(err)}, nil
	}
	return BatchMode1Uploading{BatchID: id, Channel: s.Channel}, []string{
		fmt.Sprintf("✅ Пакет %q создан. Массовая загрузка: отправляйте медиа, mode2 - поштучный режим, finish - завершить.", name),
	}, nil
}

func (m *Manager) handleBulkEdit(s AwaitingBulkEditInput, in Input) (State, []string, error) {
	v, ok := in.(Text)
	if !ok {
		return nil, []string{"Жду текст общей подписи."}, nil
	}
	updated := 0
	for _, id := range s.PostIDs {
		err := m.store.UpdatePostDescription(id, v.Value)
		if errors.Is(err, post.ErrCaptionLength) {
			return nil, []string{replyErr(err)}, nil
		}
		if err != nil {
			// Пост мог отправиться, пока оператор печатал.
			logger.Debugf("session: общая подпись поста %d: %v", id, err)
			continue
		}
		updated++
	}
	return Idle{}, []string{fmt.Sprintf("✅ Подпись обновлена у постов: %d (%s).", updated, s.ScopeLabel)}, nil
}

func (m *Manager) handleRescheduleSettings(ctx context.Context, userID int64, in Input) (State, []string, error) {
	v, ok := in.(Text)
	if !ok {
		return nil, []string{"Введите: начало конец интервал, либо - для текущих настроек."}, nil
	}
	fields := strings.Fields(v.Value)
	var window *schedule.Window
	switch {
	case len(fields) == 1 && fields[0] == "-":
	case len(fields) == 3:
		start, end, err := schedule.ParseWindow(fields[:2])
		if err != nil {
			return nil, []string{"❌ " + err.Error()}, nil
		}
		interval, err := schedule.ParseInterval(fields[2], end-start)
		if err != nil {
			return nil, []string{"❌ " + err.Error()}, nil
		}
		window = &schedule.Window{StartHour: start, EndHour: end, IntervalHours: interval}
	default:
		return nil, []string{"Введите: начало конец интервал, либо - для текущих настроек."}, nil
	}
	count, err := m.exec.RescheduleFromToday(ctx, userID, 0, window)
	if err != nil {
		return nil, []string{replyErr(err)}, nil
	}
	if count == 0 {
		return Idle{}, []string{"Запланированных постов нет, переносить нечего."}, nil
	}
	return Idle{}, []string{fmt.Sprintf("✅ Перенесено постов: %d.", count)}, nil
}

func (m *Manager) handleBackupName(ctx context.Context, userID int64, in Input) (State, []string, error) {
	v, ok := in.(Text)
	if !ok {
		return nil, []string{"Жду имя резервной копии."}, nil
	}
	name := strings.TrimSpace(v.Value)
	if name == "" {
		return nil, []string{"❌ Имя копии не может быть пустым."}, nil
	}
	b, err := m.exec.BackupCreate(ctx, userID, name)
	if err != nil {
		return nil, []string{replyErr(err)}, nil
	}
	return Idle{}, []string{fmt.Sprintf("✅ Резервная копия %q: постов %d.", b.Name, len(b.Posts))}, nil
}

func (m *Manager) handleCaptionInput(userID int64, s AwaitingCaptionInput, in Input) (State, []string, error) {
	v, ok := in.(Text)
	if !ok {
		if cmd, isCmd := in.(Command); isCmd && cmd.Name == CmdFinish {
			return m.finishUpload(userID, s.Channel)
		}
		return nil, []string{"Сначала подпись к предыдущему медиа (или -)."}, nil
	}
	caption := v.Value
	if strings.TrimSpace(caption) == "-" {
		caption = ""
	}
	if caption != "" {
		if err := m.store.UpdatePostDescription(s.PostID, caption); err != nil {
			if errors.Is(err, post.ErrCaptionLength) {
				return nil, []string{replyErr(err)}, nil
			}
			logger.Debugf("session: подпись поста %d: %v", s.PostID, err)
		}
	}
	next := m.uploadReturnState(userID, s)
	return next, []string{fmt.Sprintf("✅ Подпись сохранена. Отправляйте медиа #%d или finish.", s.NextIndex)}, nil
}

// uploadReturnState возвращает оператора в тот поштучный режим, из которого
// пришло медиа: пакетный, если пост принадлежит пакету.
func (m *Manager) uploadReturnState(userID int64, s AwaitingCaptionInput) State {
	p, err := m.store.GetPost(s.PostID)
	if err == nil && p.UserID == userID && p.BatchID != 0 {
		return BatchMode2Uploading{BatchID: p.BatchID, Channel: s.Channel}
	}
	return Mode2Uploading{Channel: s.Channel}
}

// startBulkEdit собирает выборку постов под общую подпись.
func (m *Manager) startBulkEdit(userID int64, scope string) (State, []string, error) {
	f := store.Filter{UserID: userID}
	var label string
	switch scope {
	case "", "all":
		label = "все"
	case "queued":
		f.UnscheduledOnly = true
		label = "очередь"
	case "scheduled":
		f.ScheduledOnly = true
		label = "запланированные"
	default:
		return nil, []string{"❌ Область выборки: queued, scheduled или all."}, nil
	}
	posts, err := m.store.ListPending(f)
	if err != nil {
		return nil, []string{replyErr(err)}, nil
	}
	if len(posts) == 0 {
		return nil, []string{"Нет постов для изменения."}, nil
	}
	ids := make([]int64, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	return AwaitingBulkEditInput{PostIDs: ids, ScopeLabel: label}, []string{
		fmt.Sprintf("Введите подпись для %d постов (%s).", len(ids), label),
	}, nil
}

// addPost превращает вход в запись очереди. Владение каналом проверяет
// хранилище на каждой записи.
func (m *Manager) addPost(userID, channelID, batchID int64, mode post.Mode, in Input) (int64, error) {
	p := &post.Post{UserID: userID, ChannelID: channelID, BatchID: batchID, Mode: mode}
	switch v := in.(type) {
	case Media:
		p.FilePath = v.File
		p.Kind = v.Kind
		p.Description = v.Caption
	case album:
		p.Kind = post.KindAlbum
		p.Album = make([]post.AlbumItem, 0, len(v.items))
		for _, item := range v.items {
			p.Album = append(p.Album, post.AlbumItem{FilePath: item.File, Kind: item.Kind})
			if p.Description == "" {
				p.Description = item.Caption
			}
		}
	default:
		return 0, errors.Errorf("unexpected input %T", in)
	}
	return m.store.AddPost(p)
}

// resolveChannel превращает хвост команды в канал оператора: пустой хвост
// допустим при единственном канале, иначе принимаются числовой ID или имя.
func (m *Manager) resolveChannel(userID int64, arg string) (int64, string, bool) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		channels, err := m.store.UserChannels(userID)
		if err != nil {
			return 0, replyErr(err), false
		}
		switch len(channels) {
		case 0:
			return 0, "❌ Сначала подключите канал: add_channel.", false
		case 1:
			return channels[0].ChannelID, "", true
		default:
			return 0, "Укажите канал: числовой ID или имя.", false
		}
	}
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		if !m.store.UserHasChannel(userID, id) {
			return 0, "❌ Канал не подключён к вашему аккаунту.", false
		}
		return id, "", true
	}
	ch, err := m.store.FindChannelByName(userID, arg)
	if err != nil {
		return 0, fmt.Sprintf("❌ Канал %q не найден.", arg), false
	}
	return ch.ChannelID, "", true
}

// ownedPostArg разбирает идентификатор поста из хвоста команды и проверяет
// владение. Чужой и несуществующий пост неразличимы для оператора.
func (m *Manager) ownedPostArg(userID int64, arg string) (int64, string) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, "❌ Нужен числовой идентификатор поста."
	}
	p, err := m.store.GetPost(id)
	if err != nil || p.UserID != userID {
		return 0, "❌ Пост не найден."
	}
	return id, ""
}

func (m *Manager) queueCount(userID, channelID int64) int {
	n, err := m.store.CountPosts(store.Filter{
		UserID:          userID,
		ChannelID:       channelID,
		Status:          post.StatusPending,
		UnscheduledOnly: true,
	})
	if err != nil {
		logger.Warnf("session: подсчёт очереди оператора %d: %v", userID, err)
		return 0
	}
	return n
}

// channelLabel — имя канала для ответов, с ID как запасным вариантом.
func (m *Manager) channelLabel(userID, channelID int64) string {
	if name := m.store.ChannelName(userID, channelID); name != "" {
		return fmt.Sprintf("%q", name)
	}
	return strconv.FormatInt(channelID, 10)
}

func (m *Manager) dropUpload(userID int64, ref string) {
	if err := m.uploads.Delete(ref); err != nil {
		logger.Warnf("session: удаление файла %s оператора %d: %v", ref, userID, err)
	}
}

func uploadMode(batchID int64, plain post.Mode) post.Mode {
	if batchID != 0 {
		return post.ModeBatch
	}
	return plain
}

func inputCaption(in Input) string {
	switch v := in.(type) {
	case Media:
		return v.Caption
	case album:
		for _, item := range v.items {
			if item.Caption != "" {
				return item.Caption
			}
		}
	}
	return ""
}

func scheduleMenu(count int) string {
	return fmt.Sprintf("В очереди постов: %d. Выберите расписание:\n"+
		"  все - по текущим настройкам с завтрашнего дня\n"+
		"  слот - продолжить за последним запланированным\n"+
		"  ГГГГ-ММ-ДД ЧЧ:ММ - начать с указанного времени\n"+
		"  N - каждые N часов\n"+
		"  начало конец интервал - разовое окно", count)
}

func seriesScheduleHint(id int64) string {
	return fmt.Sprintf("Расписание серии #%d: дата время интервал_ч, опционально конечная дата или x10.\n"+
		"Пример: 2025-12-25 10:00 24 x5", id)
}

// replyErr переводит ошибку в ответ оператору. Известные случаи получают
// понятный текст, прочее показывается как есть: ошибки валидации и так
// приходят человекочитаемыми.
func replyErr(err error) string {
	switch {
	case errors.Is(err, store.ErrNotOwner), errors.Is(err, store.ErrNotFound):
		return "❌ Не найдено или нет доступа."
	case errors.Is(err, store.ErrTerminal):
		return "❌ Пост уже в финальном статусе."
	case errors.Is(err, store.ErrDuplicate):
		return "❌ Запись уже существует."
	case errors.Is(err, post.ErrCaptionLength):
		return fmt.Sprintf("❌ Подпись длиннее %d символов.", post.MaxCaptionLen)
	case errors.Is(err, post.ErrAlbumSize):
		return fmt.Sprintf("❌ В альбоме может быть от 1 до %d вложений.", post.MaxAlbumItems)
	default:
		return "❌ " + err.Error()
	}
}
