package session

import (
	"context"
	"sync"
	"time"

	"telegram-postbot/internal/domain/commands"
	"telegram-postbot/internal/infra/clock"
	"telegram-postbot/internal/infra/logger"
	"telegram-postbot/internal/store"

	"github.com/go-faster/errors"
)

// albumWindow — окно тишины склейки альбома: очередное медиа той же группы
// перезапускает отсчёт, как в подавителе повторных уведомлений.
const albumWindow = time.Second

// sessionTTL ограничивает жизнь сохранённого диалога: сценарий, брошенный на
// полпути, не должен воскресать спустя недели.
const sessionTTL = 7 * 24 * time.Hour

// Uploads — удаление файлов, оставшихся от прерванных сценариев.
type Uploads interface {
	Delete(ref string) error
}

// ReplyFunc доставляет оператору ответы, рождённые вне его обращения:
// сейчас это только результат склейки альбома.
type ReplyFunc func(userID int64, texts []string)

// Options собирает зависимости менеджера. Store, Executor и Uploads
// обязательны.
type Options struct {
	Store    *store.Store
	Executor commands.Executor
	Uploads  Uploads
	Reply    ReplyFunc

	// Location задаёт зону разбора дат оператора; по умолчанию time.Local.
	Location *time.Location
	// AlbumWindow и Clock подменяются в тестах.
	AlbumWindow time.Duration
	Clock       func() time.Time
}

// Manager держит диалоговые состояния операторов и прогоняет входы через
// машину переходов. Обработка сериализуется на каждого оператора: пока один
// вход в работе, следующий ждёт.
type Manager struct {
	store   *store.Store
	exec    commands.Executor
	uploads Uploads
	reply   ReplyFunc
	loc     *time.Location
	window  time.Duration
	clock   func() time.Time

	mu  sync.Mutex
	ops map[int64]*operator
}

// operator — состояние одного оператора плюс буфер недособранного альбома.
type operator struct {
	mu    sync.Mutex
	state State
	album *albumGroup
}

type albumGroup struct {
	id    string
	items []Media
	timer *time.Timer
}

// New валидирует зависимости и создаёт менеджер с пустой картой операторов;
// сохранённые состояния поднимаются лениво при первом входе.
func New(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("session: store is nil")
	}
	if opts.Executor == nil {
		return nil, errors.New("session: executor is nil")
	}
	if opts.Uploads == nil {
		return nil, errors.New("session: uploads store is nil")
	}
	m := &Manager{
		store:   opts.Store,
		exec:    opts.Executor,
		uploads: opts.Uploads,
		reply:   opts.Reply,
		loc:     opts.Location,
		window:  opts.AlbumWindow,
		clock:   opts.Clock,
		ops:     make(map[int64]*operator),
	}
	if m.loc == nil {
		m.loc = time.Local
	}
	if m.window <= 0 {
		m.window = albumWindow
	}
	if m.clock == nil {
		m.clock = clock.Now
	}
	return m, nil
}

// Handle прогоняет вход через машину состояний и возвращает ответы
// оператору. Медиа с GroupID не обрабатывается сразу: оно копится в буфере
// альбома и уходит в машину после окна тишины, ответы тогда доставляет
// ReplyFunc. Ошибка означает сбой инфраструктуры; ошибки оператора
// возвращаются как ответы.
func (m *Manager) Handle(ctx context.Context, userID int64, in Input) ([]string, error) {
	op := m.operator(userID)
	op.mu.Lock()
	defer op.mu.Unlock()

	if media, ok := in.(Media); ok && media.GroupID != "" {
		return m.collect(ctx, op, userID, media)
	}
	return m.dispatch(ctx, op, userID, in)
}

// StateOf возвращает текущее состояние оператора.
func (m *Manager) StateOf(userID int64) State {
	op := m.operator(userID)
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state
}

// Stop досрочно сбрасывает буферы альбомов: собранное обрабатывается как
// есть, чтобы при выключении не потерять уже сохранённые на диск файлы.
func (m *Manager) Stop() {
	m.mu.Lock()
	ops := make(map[int64]*operator, len(m.ops))
	for id, op := range m.ops {
		ops[id] = op
	}
	m.mu.Unlock()

	for userID, op := range ops {
		op.mu.Lock()
		group := op.album
		op.album = nil
		if group != nil {
			group.timer.Stop()
		}
		var replies []string
		var err error
		if group != nil {
			replies, err = m.dispatch(context.Background(), op, userID, group.combined())
		}
		op.mu.Unlock()
		if err != nil {
			logger.Errorf("session: сброс альбома оператора %d: %v", userID, err)
		}
		m.deliver(userID, replies)
	}
}

// operator возвращает держатель состояния, поднимая сохранённый снимок при
// первом обращении. Битый, неизвестный или залежавшийся дольше sessionTTL
// снимок не блокирует оператора: диалог начинается заново из Idle.
func (m *Manager) operator(userID int64) *operator {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op, ok := m.ops[userID]; ok {
		return op
	}
	op := &operator{state: Idle{}}
	rec, err := m.store.GetSession(userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		logger.Warnf("session: чтение состояния оператора %d: %v", userID, err)
	case m.clock().Sub(rec.UpdatedAt) > sessionTTL:
		logger.Infof("session: диалог оператора %d заброшен с %s, начинаем заново",
			userID, rec.UpdatedAt.Format("2006-01-02"))
		if err := m.store.DropSession(userID); err != nil {
			logger.Warnf("session: удаление устаревшего снимка оператора %d: %v", userID, err)
		}
	default:
		st, err := unmarshalState(rec.Tag, rec.State)
		if err != nil {
			logger.Warnf("session: снимок оператора %d отброшен: %v", userID, err)
		} else {
			op.state = st
		}
	}
	m.ops[userID] = op
	return op
}

// collect копит медиа одной группы. Смена группы до истечения окна тишины
// сбрасывает прежний буфер немедленно: его ответы возвращаются вместе с
// ответами текущего входа.
func (m *Manager) collect(ctx context.Context, op *operator, userID int64, in Media) ([]string, error) {
	var replies []string
	if op.album != nil && op.album.id != in.GroupID {
		group := op.album
		op.album = nil
		group.timer.Stop()
		flushed, err := m.dispatch(ctx, op, userID, group.combined())
		replies = append(replies, flushed...)
		if err != nil {
			return replies, err
		}
	}

	if op.album != nil {
		op.album.items = append(op.album.items, in)
		op.album.timer.Reset(m.window)
		return replies, nil
	}

	group := &albumGroup{id: in.GroupID, items: []Media{in}}
	group.timer = time.AfterFunc(m.window, func() { m.flush(op, userID, group) })
	op.album = group
	return replies, nil
}

// flush — срабатывание окна тишины. Если буфер уже сброшен сменой группы
// или Stop, таймер опоздал и ничего не делает.
func (m *Manager) flush(op *operator, userID int64, group *albumGroup) {
	op.mu.Lock()
	if op.album != group {
		op.mu.Unlock()
		return
	}
	op.album = nil
	replies, err := m.dispatch(context.Background(), op, userID, group.combined())
	op.mu.Unlock()
	if err != nil {
		logger.Errorf("session: обработка альбома оператора %d: %v", userID, err)
	}
	m.deliver(userID, replies)
}

// combined склеивает буфер: единственное медиа возвращается как обычный
// вход, пачка - как альбом.
func (g *albumGroup) combined() Input {
	if len(g.items) == 1 {
		in := g.items[0]
		in.GroupID = ""
		return in
	}
	return album{items: g.items}
}

// dispatch выполняет переход и сохраняет новое состояние. Вызывается под
// op.mu.
func (m *Manager) dispatch(ctx context.Context, op *operator, userID int64, in Input) ([]string, error) {
	next, replies, err := m.transition(ctx, op.state, userID, in)
	if err != nil {
		return replies, err
	}
	if next == nil {
		return replies, nil
	}
	if err := m.persist(userID, next); err != nil {
		return replies, err
	}
	op.state = next
	return replies, nil
}

// persist пишет снимок состояния; Idle хранить нечего, запись удаляется.
func (m *Manager) persist(userID int64, st State) error {
	if _, ok := st.(Idle); ok {
		if err := m.store.DropSession(userID); err != nil {
			return errors.Wrapf(err, "drop session for user %d", userID)
		}
		return nil
	}
	tag, raw, err := marshalState(st)
	if err != nil {
		return err
	}
	err = m.store.SaveSession(store.SessionRecord{UserID: userID, Tag: tag, State: raw})
	if err != nil {
		return errors.Wrapf(err, "save session for user %d", userID)
	}
	return nil
}

func (m *Manager) deliver(userID int64, replies []string) {
	if m.reply == nil || len(replies) == 0 {
		return
	}
	m.reply(userID, replies)
}
