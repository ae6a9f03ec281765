// Диспетчер таймеров публикации. Владеет множеством активных таймеров по id
// поста; каждый срабатывает в назначенное время и запускает публикацию в
// отдельной горутине. Все изменения записей идут через хранилище, которое
// сериализует записи по id, поэтому параллельные срабатывания безопасны.
package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"telegram-postbot/internal/domain/publish"
	"telegram-postbot/internal/infra/clock"
	"telegram-postbot/internal/infra/logger"
	"telegram-postbot/internal/store"

	"github.com/go-faster/errors"
)

const (
	// preDelay сглаживает всплески обращений к API при одновременном
	// срабатывании нескольких таймеров.
	preDelay = time.Second
	// graceDelay — отсрочка для постов, чьё время уже прошло на момент
	// регистрации. Такие посты не теряются, а уходят почти сразу.
	graceDelay = 10 * time.Second

	defaultMaxRetries     = 3
	defaultPublishTimeout = 10 * time.Minute
)

// ACL — проверка владения каналом. Выполняется на каждом срабатывании,
// непосредственно перед отправкой.
type ACL interface {
	UserHasChannel(userID, channelID int64) bool
}

// Media — проверка наличия медиафайла поста на диске.
type Media interface {
	Exists(ref string) bool
}

// Options собирает зависимости диспетчера. Store, Publisher, Notifier и
// Media обязательны; остальное имеет значения по умолчанию.
type Options struct {
	Store     *store.Store
	Publisher publish.Publisher
	Notifier  publish.Notifier
	Media     Media
	ACL       ACL // по умолчанию Store

	// Clock и Sleep подменяются в тестах; по умолчанию clock.Now и сон с
	// учётом контекста.
	Clock          func() time.Time
	Sleep          func(context.Context, time.Duration)
	MaxRetries     int
	PublishTimeout time.Duration
}

type Dispatcher struct {
	store     *store.Store
	publisher publish.Publisher
	notifier  publish.Notifier
	media     Media
	acl       ACL

	clock          func() time.Time
	sleep          func(context.Context, time.Duration)
	maxRetries     int
	publishTimeout time.Duration

	mu      sync.Mutex
	timers  map[int64]*time.Timer
	stopped bool

	ctx context.Context
	wg  sync.WaitGroup
}

// New валидирует зависимости и создаёт остановленный диспетчер: таймеры
// регистрируются, но контекст публикаций появляется в Start.
func New(opts Options) (*Dispatcher, error) {
	if opts.Store == nil {
		return nil, errors.New("dispatch: store is nil")
	}
	if opts.Publisher == nil {
		return nil, errors.New("dispatch: publisher is nil")
	}
	if opts.Notifier == nil {
		return nil, errors.New("dispatch: notifier is nil")
	}
	if opts.Media == nil {
		return nil, errors.New("dispatch: media store is nil")
	}
	d := &Dispatcher{
		store:          opts.Store,
		publisher:      opts.Publisher,
		notifier:       opts.Notifier,
		media:          opts.Media,
		acl:            opts.ACL,
		clock:          opts.Clock,
		sleep:          opts.Sleep,
		maxRetries:     opts.MaxRetries,
		publishTimeout: opts.PublishTimeout,
		timers:         make(map[int64]*time.Timer),
		ctx:            context.Background(),
	}
	if d.acl == nil {
		d.acl = opts.Store
	}
	if d.clock == nil {
		d.clock = clock.Now
	}
	if d.sleep == nil {
		d.sleep = sleepCtx
	}
	if d.maxRetries <= 0 {
		d.maxRetries = defaultMaxRetries
	}
	if d.publishTimeout <= 0 {
		d.publishTimeout = defaultPublishTimeout
	}
	return d, nil
}

// sleepCtx спит d или до отмены контекста, смотря что наступит раньше.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Start привязывает контекст публикаций и восстанавливает таймеры для всех
// запланированных pending-постов: будущие в своё время, просроченные с
// отсрочкой graceDelay.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	d.ctx = ctx
	d.stopped = false
	d.mu.Unlock()

	posts, err := d.store.ListPending(store.Filter{ScheduledOnly: true})
	if err != nil {
		return errors.Wrap(err, "dispatch: list scheduled posts")
	}
	for _, p := range posts {
		d.Register(p.ID, *p.ScheduledAt)
	}
	logger.Infof("dispatch: восстановлено таймеров: %d", len(posts))
	return nil
}

// Stop снимает все таймеры и дожидается завершения уже начатых публикаций.
// Жёсткая остановка достигается отменой контекста, переданного в Start.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
	d.mu.Unlock()
	d.wg.Wait()
	logger.Infof("dispatch: остановлен")
}

// Register ставит таймер публикации, заменяя прежний для того же поста.
// Время в прошлом не повод терять пост: таймер взводится на graceDelay.
func (d *Dispatcher) Register(id int64, t time.Time) {
	now := d.clock()
	if !t.After(now) {
		logger.Warnf("dispatch: время поста %d уже прошло (%s), отправка через %s",
			id, t.Format("2006-01-02 15:04:05"), graceDelay)
		t = now.Add(graceDelay)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if old, ok := d.timers[id]; ok {
		old.Stop()
	}
	// Замыкание читает timer под тем же мьютексом, под которым он присвоен:
	// срабатывание возможно раньше, чем Register вернёт управление.
	var timer *time.Timer
	timer = time.AfterFunc(t.Sub(now), func() {
		d.mu.Lock()
		self := timer
		d.mu.Unlock()
		d.onFire(id, self)
	})
	d.timers[id] = timer
}

// Cancel снимает таймер поста. Уже начатую публикацию не прерывает.
func (d *Dispatcher) Cancel(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[id]; ok {
		t.Stop()
		delete(d.timers, id)
	}
}

// CancelUser снимает таймеры всех запланированных постов оператора.
func (d *Dispatcher) CancelUser(userID int64) {
	posts, err := d.store.ListPending(store.Filter{UserID: userID, ScheduledOnly: true})
	if err != nil {
		logger.Errorf("dispatch: cancel user %d: %v", userID, err)
		return
	}
	for _, p := range posts {
		d.Cancel(p.ID)
	}
}

// Active сообщает, есть ли таймер у поста.
func (d *Dispatcher) Active(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.timers[id]
	return ok
}

// ActiveIDs возвращает id постов с таймерами по возрастанию.
func (d *Dispatcher) ActiveIDs() []int64 {
	d.mu.Lock()
	ids := make([]int64, 0, len(d.timers))
	for id := range d.timers {
		ids = append(ids, id)
	}
	d.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len возвращает число активных таймеров.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// onFire — переход от таймера к публикации: таймер вычёркивается из карты,
// публикация учитывается в WaitGroup для graceful-остановки.
func (d *Dispatcher) onFire(id int64, self *time.Timer) {
	d.mu.Lock()
	if d.timers[id] == self {
		delete(d.timers, id)
	}
	stopped := d.stopped
	ctx := d.ctx
	if !stopped {
		d.wg.Add(1)
	}
	d.mu.Unlock()
	if stopped {
		return
	}
	defer d.wg.Done()
	d.fire(ctx, id)
}
