// Package cli — интерактивная командная консоль планировщика. Сервис
// стартует фоном, читает команды из readline и транслирует их в операции
// commands.Executor. Большинство команд адресует одного оператора: его
// выбирают командой use, выбор живёт до конца сессии консоли. Поддерживается
// корректная интеграция в lifecycle: Start/Stop идемпотентны.
package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"telegram-postbot/internal/domain/commands"
	"telegram-postbot/internal/domain/post"
	"telegram-postbot/internal/domain/schedule"
	"telegram-postbot/internal/infra/logger"
	"telegram-postbot/internal/infra/pr"
	"telegram-postbot/internal/store"
	versioninfo "telegram-postbot/internal/support/version"

	"github.com/go-faster/errors"
)

// cliTimeFormat — формат времён в ответах консоли, минуты достаточно.
const cliTimeFormat = "2006-01-02 15:04"

// commandDescriptor описывает одну CLI-команду: её имя и краткое описание для help.
type commandDescriptor struct {
	name        string
	description string
}

// commandDescriptors — реестр доступных команд. Рендерится в help и подсказки.
// Важно: имена должны совпадать с кейсами в handleCommand().
var (
	commandDescriptors = []commandDescriptor{
		{name: "help", description: "Show available commands with short descriptions"},
		{name: "operators", description: "List operators and their channels"},
		{name: "use", description: "use <id>|- : select the operator addressed by the commands below"},
		{name: "status", description: "Show store and dispatcher summary (selected operator or all)"},
		{name: "schedule", description: "schedule all|next|<step>|<date time>|<start end step> : assign times to the queue"},
		{name: "post", description: "post <id> : publish one post immediately"},
		{name: "at", description: "at <id> <date> <time> : move one post to the exact time"},
		{name: "show", description: "show <id> : dump the full post record"},
		{name: "redistribute", description: "redistribute [@channel] [mode] [step] [date] : recalc times of scheduled posts"},
		{name: "reschedule", description: "reschedule [start end step] : recalc scheduled posts starting today"},
		{name: "retry", description: "retry [<id>|@channel] : return failed posts to the queue"},
		{name: "overdue", description: "overdue [reschedule|now] : list or resolve overdue posts"},
		{name: "backup", description: "backup <name> : snapshot operator posts"},
		{name: "backups", description: "List operator backups"},
		{name: "restore", description: "restore <name> [replace] [missing] : requeue posts from a backup"},
		{name: "clear", description: "clear queued|scheduled [@channel] : delete posts together with media"},
		{name: "version", description: "Print postbot version"},
		{name: "exit", description: "Stop CLI and terminate the service"},
	}
)

// Service инкапсулирует CLI и интегрируется в lifecycle приложения.
// Имеет собственный cancel, запускает цикл чтения команд в отдельной горутине
// и синхронно закрывается через Stop(). Команды выполняются последовательно
// внутри run-цикла, поэтому поле operator не требует блокировок.
type Service struct {
	exec    commands.Executor  // операции планировщика
	store   *store.Store       // справочник операторов и каналов
	loc     *time.Location     // зона разбора дат и отображения времён
	stopApp context.CancelFunc // внешняя остановка приложения (команда exit и Ctrl-C на пустой строке)

	operator int64 // выбранный оператор; 0 — не выбран

	cancel    context.CancelFunc // локальная отмена run-цикла CLI
	wg        sync.WaitGroup     // ожидание завершения фоновой горутины run
	onceStart sync.Once          // идемпотентный запуск
	onceStop  sync.Once          // идемпотентная остановка
}

// NewService создаёт CLI-сервис. Параметр stopApp используется как «глобальная»
// остановка приложения (команда exit, Ctrl-C на пустой строке). loc задаёт
// зону разбора дат и отображения времён; nil означает time.Local.
func NewService(exec commands.Executor, st *store.Store, loc *time.Location, stopApp context.CancelFunc) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{exec: exec, store: st, loc: loc, stopApp: stopApp}
}

// Start запускает основной цикл CLI в отдельной горутине. Повторные вызовы
// безопасно игнорируются. Контекст используется как родительский для run-цикла.
func (s *Service) Start(ctx context.Context) {
	s.onceStart.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.wg.Go(func() {
			s.run(runCtx)
		})
	})
}

// Stop завершает CLI: посылает внешнюю остановку приложения (если предусмотрено),
// прерывает readline, отменяет локальный контекст и дожидается завершения run-цикла.
func (s *Service) Stop() {
	s.onceStop.Do(func() {
		if s.stopApp != nil {
			s.stopApp()
		}
		if rl := pr.Rl(); rl != nil {
			pr.InterruptReadline()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// run — основной цикл обработчика CLI. Печатает подсказки, устанавливает обработчики
// клавиш и в цикле читает команды построчно, передавая их в handleCommand().
func (s *Service) run(ctx context.Context) {
	logger.Debug("CLI run started")
	if pr.Rl() == nil {
		logger.Error("CLI: readline is not initialized")
		return
	}
	pr.SetPrompt("> ")
	pr.Println("CLI started. Enter commands:", joinCommandNames(commandDescriptors))
	pr.Println("Press '?' or type 'help' for detailed descriptions.")
	installKeyHandlers(s.stopApp)

	defer func() {
		if rl := pr.Rl(); rl != nil {
			_ = rl.Close()
		}
	}()

	// Главный цикл чтения команд. Выход — по отмене контекста или по EOF от readline.
	for {
		if ctx.Err() != nil {
			logger.Debug("CLI: context canceled")
			return
		}

		line, err := pr.Rl().Readline()
		if err != nil {
			logger.Debug("CLI: deactivated (io.EOF)")
			return
		}

		if s.handleCommand(ctx, line) {
			logger.Debugf("CLI: command %q requested exit", strings.TrimSpace(line))
			return
		}
	}
}

// installKeyHandlers подключает обработчики специальных клавиш для readline:
//   - '?' — печать help без отправки символа в текущую строку;
//   - Ctrl-C на пустой строке — мягкая остановка приложения (stopApp) и прерывание readline;
//   - Ctrl-C на непустой строке — очистка текущей строки (как в типичных CLI).
func installKeyHandlers(stop context.CancelFunc) {
	rl := pr.Rl()
	if rl == nil || rl.Config == nil {
		return
	}

	// Сохраняем предыдущий listener, чтобы не ломать поведение по умолчанию.
	prev := rl.Config.Listener
	rl.Config.SetListener(func(line []rune, pos int, key rune) ([]rune, int, bool) {
		// Быстрая справка по командам по нажатию '?'.
		if key == '?' {
			printCommandHelp()
			if pos > 0 && pos <= len(line) {
				trimmed := append([]rune{}, line[:pos-1]...)
				trimmed = append(trimmed, line[pos:]...)
				return trimmed, pos - 1, true
			}
			return line, pos, true
		}
		// Ctrl-C (ETX): особое поведение — либо остановка приложения, либо очистка строки.
		if key == 3 { //nolint: mnd // Ctrl-C (ETX, rune value 3)
			trimmed := strings.TrimSpace(string(line))
			if trimmed == "" {
				if stop != nil {
					stop()
				}
				pr.InterruptReadline()
				return line, pos, true
			}
			// Непустая строка очищается, как принято в readline.
			return []rune{}, 0, true
		}
		if prev != nil {
			return prev.OnChange(line, pos, key)
		}
		return nil, 0, false
	})
}

// printCommandHelp печатает список поддерживаемых команд и их описания.
func printCommandHelp() {
	for _, text := range buildCommandHelpLines(commandDescriptors) {
		pr.Println(text)
	}
}

// handleCommand разбирает введённую строку и выполняет команду. Возвращает
// true, если команда инициирует завершение CLI ("exit").
func (s *Service) handleCommand(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	name, args := fields[0], fields[1:]
	switch name {
	case "help":
		printCommandHelp()
	case "operators":
		s.handleOperators()
	case "use":
		s.handleUse(args)
	case "status":
		s.handleStatus(ctx)
	case "schedule":
		s.handleSchedule(ctx, args)
	case "post":
		s.handlePost(ctx, args)
	case "at":
		s.handleAt(ctx, args)
	case "show":
		s.handleShow(args)
	case "redistribute":
		s.handleRedistribute(ctx, args)
	case "reschedule":
		s.handleReschedule(ctx, args)
	case "retry":
		s.handleRetry(ctx, args)
	case "overdue":
		s.handleOverdue(ctx, args)
	case "backup":
		s.handleBackup(ctx, args)
	case "backups":
		s.handleBackups(ctx)
	case "restore":
		s.handleRestore(ctx, args)
	case "clear":
		s.handleClear(ctx, args)
	case "version":
		pr.Printf("%s v%s\n", versioninfo.Name, versioninfo.Version)
	case "exit":
		if s.stopApp != nil {
			s.stopApp()
		}
		return true
	default:
		pr.Println("unknown command:", name)
	}
	return false
}

// handleOperators печатает операторов и подключённые к ним каналы. Работает
// только по локальной базе, без сетевых запросов.
func (s *Service) handleOperators() {
	ids, err := s.store.AllUsers()
	if err != nil {
		pr.ErrPrintln("operators error:", err)
		return
	}
	if len(ids) == 0 {
		pr.Println("No operators yet.")
		return
	}
	for _, id := range ids {
		channels, err := s.store.UserChannels(id)
		if err != nil {
			pr.ErrPrintf("operator %d: %v\n", id, err)
			continue
		}
		names := make([]string, 0, len(channels))
		for _, ch := range channels {
			names = append(names, fmt.Sprintf("%q (%d)", ch.Name, ch.ChannelID))
		}
		pr.Printf("  %d: %s\n", id, strings.Join(names, ", "))
	}
	pr.Printf("Total operators: %d\n", len(ids))
}

// handleUse фиксирует оператора для последующих команд и меняет промпт,
// чтобы выбор был виден. "use -" сбрасывает выбор.
func (s *Service) handleUse(args []string) {
	if len(args) != 1 {
		pr.ErrPrintln("usage: use <operator id> ('use -' drops the selection)")
		return
	}
	if args[0] == "-" {
		s.operator = 0
		pr.SetPrompt("> ")
		pr.Println("Operator selection dropped.")
		return
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		pr.ErrPrintln("operator id must be a positive number")
		return
	}
	s.operator = id
	pr.SetPrompt(fmt.Sprintf("op:%d> ", id))
	pr.Printf("Operator %d selected.\n", id)
}

// handleStatus печатает сводку хранилища и диспетчера: счётчики постов по
// статусам, взведённые таймеры и ближайшую публикацию.
func (s *Service) handleStatus(ctx context.Context) {
	st, err := s.exec.Status(ctx, s.operator)
	if err != nil {
		pr.ErrPrintln("status error:", err)
		return
	}
	scope := "all operators"
	if s.operator != 0 {
		scope = fmt.Sprintf("operator %d", s.operator)
	}
	pr.Printf("Posts (%s): queued=%d scheduled=%d posted=%d failed=%d overdue=%d\n",
		scope, st.Queued, st.Scheduled, st.Posted, st.Failed, st.Overdue)
	pr.Printf("Active timers: %d\n", st.ActiveTimers)
	if st.NextFireAt != nil {
		pr.Printf("Next fire: %s\n", st.NextFireAt.In(st.Location).Format(time.RFC3339))
	} else {
		pr.Println("Next fire: <none>")
	}
}

// handleSchedule раздаёт времена очереди выбранного оператора. Форма
// аргументов выбирает стратегию: все по настройкам, продолжение сетки, свой
// шаг, свой старт или разовое окно.
func (s *Service) handleSchedule(ctx context.Context, args []string) {
	userID, ok := s.requireOperator()
	if !ok {
		return
	}
	var res *commands.ScheduleResult
	var err error
	switch {
	case len(args) == 1 && args[0] == "all":
		res, err = s.exec.ScheduleAll(ctx, userID, 0)
	case len(args) == 1 && args[0] == "next":
		res, err = s.exec.ScheduleNextSlot(ctx, userID, 0)
	case len(args) == 1:
		interval, convErr := strconv.Atoi(args[0])
		if convErr != nil {
			pr.ErrPrintln("usage: schedule all|next|<step>|<date time>|<start end step>")
			return
		}
		res, err = s.exec.ScheduleCustomInterval(ctx, userID, 0, interval)
	case len(args) == 2:
		at, parseErr := schedule.ParseDateTime(args[0], args[1], s.loc)
		if parseErr != nil {
			pr.ErrPrintln("schedule error:", parseErr)
			return
		}
		res, err = s.exec.ScheduleCustomDate(ctx, userID, 0, at)
	case len(args) == 3:
		w, parseErr := parseWindowArgs(args)
		if parseErr != nil {
			pr.ErrPrintln("schedule error:", parseErr)
			return
		}
		res, err = s.exec.ScheduleCustomWindow(ctx, userID, 0, w)
	default:
		pr.ErrPrintln("usage: schedule all|next|<step>|<date time>|<start end step>")
		return
	}
	if err != nil {
		pr.ErrPrintln("schedule error:", err)
		return
	}
	s.printScheduled(res)
}

// handlePost отправляет один пост немедленно через обычный путь публикации.
func (s *Service) handlePost(ctx context.Context, args []string) {
	userID, ok := s.requireOperator()
	if !ok {
		return
	}
	id, ok := postIDArg(args, "usage: post <id>")
	if !ok {
		return
	}
	if err := s.exec.PostNow(ctx, userID, id); err != nil {
		pr.ErrPrintln("post error:", err)
		return
	}
	pr.Printf("Post #%d queued for immediate publish.\n", id)
}

// handleAt назначает точное время одному посту.
func (s *Service) handleAt(ctx context.Context, args []string) {
	userID, ok := s.requireOperator()
	if !ok {
		return
	}
	if len(args) != 3 {
		pr.ErrPrintln("usage: at <id> <date> <time>")
		return
	}
	id, ok := postIDArg(args[:1], "usage: at <id> <date> <time>")
	if !ok {
		return
	}
	at, err := schedule.ParseDateTime(args[1], args[2], s.loc)
	if err != nil {
		pr.ErrPrintln("at error:", err)
		return
	}
	if err := s.exec.SchedulePostAt(ctx, userID, id, at); err != nil {
		pr.ErrPrintln("at error:", err)
		return
	}
	pr.Printf("Post #%d scheduled at %s.\n", id, s.fmtTime(at))
}

// handleShow вываливает полную запись поста: статус, счётчик попыток,
// причину сбоя, параметры серии — всё, что не влезает в однострочные сводки.
func (s *Service) handleShow(args []string) {
	userID, ok := s.requireOperator()
	if !ok {
		return
	}
	id, ok := postIDArg(args, "usage: show <id>")
	if !ok {
		return
	}
	p, err := s.store.GetPost(id)
	if err != nil {
		pr.ErrPrintln("show error:", err)
		return
	}
	if p.UserID != userID {
		pr.ErrPrintf("post %d belongs to another operator\n", id)
		return
	}
	pr.PP(p)
}

// handleRedistribute пересчитывает времена уже запланированных постов.
// Аргументы опциональны и распознаются по форме: @канал, режим постов,
// шаг в часах, стартовая дата.
func (s *Service) handleRedistribute(ctx context.Context, args []string) {
	userID, ok := s.requireOperator()
	if !ok {
		return
	}
	mode, rest := splitModeToken(args)
	cfg, err := s.store.GetSchedulingConfig(userID)
	if err != nil {
		pr.ErrPrintln("redistribute error:", err)
		return
	}
	parsed, err := schedule.ParseRedistributeArgs(rest, cfg.EndHour-cfg.StartHour, s.loc)
	if err != nil {
		pr.ErrPrintln("redistribute error:", err)
		return
	}
	scope := commands.RedistributeScope{Mode: mode, IntervalHours: parsed.Interval, Start: parsed.Start}
	if parsed.Channel != "" {
		ch, err := s.store.FindChannelByName(userID, parsed.Channel)
		if err != nil {
			pr.ErrPrintf("channel %q is not connected\n", parsed.Channel)
			return
		}
		scope.ChannelID = ch.ChannelID
	}
	res, err := s.exec.Redistribute(ctx, userID, scope)
	if err != nil {
		pr.ErrPrintln("redistribute error:", err)
		return
	}
	if res.Moved == 0 {
		pr.Println("No scheduled posts to redistribute.")
		return
	}
	pr.Printf("Redistributed %d posts: %s .. %s\n", res.Moved, s.fmtTime(res.FirstAt), s.fmtTime(res.LastAt))
}

// handleReschedule переносит запланированные посты начиная с сегодняшнего дня.
// Без аргументов действует окно из настроек оператора, три аргумента задают
// разовое окно.
func (s *Service) handleReschedule(ctx context.Context, args []string) {
	userID, ok := s.requireOperator()
	if !ok {
		return
	}
	var window *schedule.Window
	switch len(args) {
	case 0:
	case 3:
		w, err := parseWindowArgs(args)
		if err != nil {
			pr.ErrPrintln("reschedule error:", err)
			return
		}
		window = &w
	default:
		pr.ErrPrintln("usage: reschedule [start end step]")
		return
	}
	count, err := s.exec.RescheduleFromToday(ctx, userID, 0, window)
	if err != nil {
		pr.ErrPrintln("reschedule error:", err)
		return
	}
	if count == 0 {
		pr.Println("No scheduled posts to move.")
		return
	}
	pr.Printf("Moved %d posts starting from today.\n", count)
}

// handleRetry возвращает проваленные посты в очередь: все, по каналу или один
// по идентификатору.
func (s *Service) handleRetry(ctx context.Context, args []string) {
	userID, ok := s.requireOperator()
	if !ok {
		return
	}
	switch {
	case len(args) == 0:
		n, err := s.exec.RetryFailedAll(ctx, userID, 0)
		if err != nil {
			pr.ErrPrintln("retry error:", err)
			return
		}
		pr.Printf("Requeued %d failed posts.\n", n)
	case strings.HasPrefix(args[0], "@"):
		ch, err := s.channelArg(userID, args[0])
		if err != nil {
			pr.ErrPrintln("retry error:", err)
			return
		}
		n, err := s.exec.RetryFailedAll(ctx, userID, ch)
		if err != nil {
			pr.ErrPrintln("retry error:", err)
			return
		}
		pr.Printf("Requeued %d failed posts.\n", n)
	default:
		id, ok := postIDArg(args, "usage: retry [<id>|@channel]")
		if !ok {
			return
		}
		if err := s.exec.RetryFailedPost(ctx, userID, id); err != nil {
			pr.ErrPrintln("retry error:", err)
			return
		}
		pr.Printf("Post #%d requeued.\n", id)
	}
}

// handleOverdue без аргументов перечисляет просроченные посты, с аргументом
// reschedule переносит их на свободные слоты, с now публикует немедленно.
func (s *Service) handleOverdue(ctx context.Context, args []string) {
	userID, ok := s.requireOperator()
	if !ok {
		return
	}
	if len(args) == 0 {
		posts, err := s.exec.OverdueList(ctx, userID)
		if err != nil {
			pr.ErrPrintln("overdue error:", err)
			return
		}
		if len(posts) == 0 {
			pr.Println("No overdue posts.")
			return
		}
		for _, p := range posts {
			pr.Printf("  #%-5d %s  planned %s\n", p.ID, s.channelLabel(userID, p.ChannelID), s.fmtTime(*p.ScheduledAt))
		}
		pr.Printf("Total overdue: %d\n", len(posts))
		return
	}
	switch args[0] {
	case "reschedule":
		n, err := s.exec.OverdueReschedule(ctx, userID)
		if err != nil {
			pr.ErrPrintln("overdue error:", err)
			return
		}
		pr.Printf("Rescheduled %d overdue posts to free slots.\n", n)
	case "now":
		n, err := s.exec.OverduePostNow(ctx, userID)
		if err != nil {
			pr.ErrPrintln("overdue error:", err)
			return
		}
		pr.Printf("Queued %d overdue posts for immediate publish.\n", n)
	default:
		pr.ErrPrintln("usage: overdue [reschedule|now]")
	}
}

// handleBackup снимает именованный снимок постов оператора.
func (s *Service) handleBackup(ctx context.Context, args []string) {
	userID, ok := s.requireOperator()
	if !ok {
		return
	}
	if len(args) == 0 {
		pr.ErrPrintln("usage: backup <name>")
		return
	}
	b, err := s.exec.BackupCreate(ctx, userID, strings.Join(args, " "))
	if err != nil {
		pr.ErrPrintln("backup error:", err)
		return
	}
	pr.Printf("Backup %q saved: %d posts.\n", b.Name, len(b.Posts))
}

// handleBackups перечисляет снимки оператора, новые первыми.
func (s *Service) handleBackups(ctx context.Context) {
	userID, ok := s.requireOperator()
	if !ok {
		return
	}
	backups, err := s.exec.BackupList(ctx, userID)
	if err != nil {
		pr.ErrPrintln("backups error:", err)
		return
	}
	if len(backups) == 0 {
		pr.Println("No backups yet.")
		return
	}
	for _, b := range backups {
		pr.Printf("  %-20s %s  posts: %d\n", b.Name, b.CreatedAt.In(s.loc).Format(cliTimeFormat), len(b.Posts))
	}
	pr.Printf("Total backups: %d\n", len(backups))
}

// handleRestore восстанавливает посты из снимка. Восстановленное попадает в
// очередь без расписания, поэтому подсказываем следующий шаг.
func (s *Service) handleRestore(ctx context.Context, args []string) {
	userID, ok := s.requireOperator()
	if !ok {
		return
	}
	if len(args) == 0 {
		pr.ErrPrintln("usage: restore <name> [replace] [missing]")
		return
	}
	name, opts := splitRestoreArgs(args)
	mode, includeMissing, err := parseRestoreOpts(opts)
	if err != nil {
		pr.ErrPrintln("restore error:", err)
		return
	}
	res, err := s.exec.BackupRestore(ctx, userID, name, mode, includeMissing)
	if err != nil {
		pr.ErrPrintln("restore error:", err)
		return
	}
	pr.Printf("Restored %d posts (skipped %d, removed %d). Run 'schedule' to assign times.\n",
		res.Restored, res.Skipped, res.Removed)
}

// handleClear удаляет посты вместе с медиафайлами: очередь без расписания
// либо запланированные (их таймеры снимаются).
func (s *Service) handleClear(ctx context.Context, args []string) {
	userID, ok := s.requireOperator()
	if !ok {
		return
	}
	if len(args) == 0 {
		pr.ErrPrintln("usage: clear queued|scheduled [@channel]")
		return
	}
	var channelID int64
	if len(args) > 1 {
		ch, err := s.channelArg(userID, args[1])
		if err != nil {
			pr.ErrPrintln("clear error:", err)
			return
		}
		channelID = ch
	}
	switch args[0] {
	case "queued":
		n, err := s.exec.ClearQueued(ctx, userID, channelID)
		if err != nil {
			pr.ErrPrintln("clear error:", err)
			return
		}
		pr.Printf("Removed %d queued posts with their media.\n", n)
	case "scheduled":
		n, err := s.exec.ClearScheduled(ctx, userID, channelID)
		if err != nil {
			pr.ErrPrintln("clear error:", err)
			return
		}
		pr.Printf("Removed %d scheduled posts with their media.\n", n)
	default:
		pr.ErrPrintln("usage: clear queued|scheduled [@channel]")
	}
}

// requireOperator возвращает выбранного оператора; без выбора печатает
// подсказку и прерывает команду.
func (s *Service) requireOperator() (int64, bool) {
	if s.operator == 0 {
		pr.ErrPrintln("no operator selected; run: use <id>")
		return 0, false
	}
	return s.operator, true
}

// channelArg превращает маркер канала (@имя или числовой ID) в идентификатор
// подключённого канала оператора.
func (s *Service) channelArg(userID int64, tok string) (int64, error) {
	if name := strings.TrimPrefix(tok, "@"); name != tok {
		ch, err := s.store.FindChannelByName(userID, name)
		if err != nil {
			return 0, errors.Errorf("channel %q is not connected", name)
		}
		return ch.ChannelID, nil
	}
	id, err := strconv.ParseInt(tok, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.Errorf("channel must be @name or a numeric id, got %q", tok)
	}
	if !s.store.UserHasChannel(userID, id) {
		return 0, errors.Errorf("channel %d is not connected", id)
	}
	return id, nil
}

// channelLabel — имя канала для ответов, с ID как запасным вариантом.
func (s *Service) channelLabel(userID, channelID int64) string {
	if name := s.store.ChannelName(userID, channelID); name != "" {
		return fmt.Sprintf("%q", name)
	}
	return strconv.FormatInt(channelID, 10)
}

func (s *Service) printScheduled(res *commands.ScheduleResult) {
	if res.Scheduled == 0 {
		pr.Println("Queue is empty, nothing to schedule.")
		return
	}
	pr.Printf("Scheduled %d posts: %s .. %s\n", res.Scheduled, s.fmtTime(res.FirstAt), s.fmtTime(res.LastAt))
}

func (s *Service) fmtTime(t time.Time) string {
	return t.In(s.loc).Format(cliTimeFormat)
}

// postIDArg разбирает единственный аргумент-идентификатор поста.
func postIDArg(args []string, usage string) (int64, bool) {
	if len(args) != 1 {
		pr.ErrPrintln(usage)
		return 0, false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		pr.ErrPrintln("post id must be a positive number")
		return 0, false
	}
	return id, true
}

// splitModeToken вынимает из аргументов маркер режима постов (bulk, batch,
// recurring, individual); остальные токены возвращаются без изменений.
func splitModeToken(args []string) (post.Mode, []string) {
	rest := make([]string, 0, len(args))
	var mode post.Mode
	for _, tok := range args {
		if m := post.Mode(tok); m.Valid() && mode == "" {
			mode = m
			continue
		}
		rest = append(rest, tok)
	}
	return mode, rest
}

// splitRestoreArgs отделяет имя снимка от хвостовых опций. Имя может
// содержать пробелы (backup склеивает аргументы), поэтому опции
// распознаются только с конца, пока остаётся хотя бы один токен имени.
func splitRestoreArgs(args []string) (string, []string) {
	cut := len(args)
	for cut > 1 && isRestoreOpt(args[cut-1]) {
		cut--
	}
	return strings.Join(args[:cut], " "), args[cut:]
}

func isRestoreOpt(tok string) bool {
	switch tok {
	case "add", "replace", "missing":
		return true
	}
	return false
}

// parseRestoreOpts разбирает хвост команды restore: режим add|replace и флаг
// missing (восстанавливать и посты с отсутствующими медиафайлами).
func parseRestoreOpts(tokens []string) (store.RestoreMode, bool, error) {
	mode := store.RestoreAdd
	includeMissing := false
	for _, tok := range tokens {
		switch tok {
		case "add":
			mode = store.RestoreAdd
		case "replace":
			mode = store.RestoreReplace
		case "missing":
			includeMissing = true
		default:
			return 0, false, errors.Errorf("unknown restore option %q", tok)
		}
	}
	return mode, includeMissing, nil
}

// parseWindowArgs собирает разовое окно из трёх токенов: начало, конец, шаг.
func parseWindowArgs(args []string) (schedule.Window, error) {
	start, end, err := schedule.ParseWindow(args[:2])
	if err != nil {
		return schedule.Window{}, err
	}
	interval, err := schedule.ParseInterval(args[2], end-start)
	if err != nil {
		return schedule.Window{}, err
	}
	return schedule.Window{StartHour: start, EndHour: end, IntervalHours: interval}, nil
}

// joinCommandNames собирает строку имён команд, разделённых запятыми, для короткой подсказки.
func joinCommandNames(descriptors []commandDescriptor) string {
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		names = append(names, d.name)
	}
	return strings.Join(names, ", ")
}

// buildCommandHelpLines генерирует строки помощи вида "<name> - <description>".
func buildCommandHelpLines(descriptors []commandDescriptor) []string {
	lines := make([]string, 0, len(descriptors)+1)
	lines = append(lines, "Available commands:")
	for _, descriptor := range descriptors {
		lines = append(lines, fmt.Sprintf("  %-12s - %s", descriptor.name, descriptor.description))
	}
	return lines
}
