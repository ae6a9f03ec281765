// Пакет throttle — ограничение скорости и повторные попытки для внешних
// интеграций. В основе токен-бакет (rate + burst) и экспоненциальный backoff
// с джиттером; серверные указания подождать (retry_after и подобные)
// извлекаются из ошибок цепочкой WaitExtractor и не тратят попытки.
// Троттлер потокобезопасен: Do можно звать параллельно, Start/Stop
// идемпотентны.
package throttle

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// Ёмкость бакета по умолчанию кратна rate: допускается короткий всплеск
// до 2*rate операций.
const burstMultiplier = 2

// WaitExtractor распознаёт в ошибке предписанную сервером паузу. Флаг
// сообщает, что формат ошибки распознан; экстракторы перебираются в порядке
// регистрации, первый распознавший определяет паузу.
type WaitExtractor func(err error) (time.Duration, bool)

// StopRetryer объявляет отказ окончательным: такая ошибка возвращается
// вызывающему без повторов и задержек.
type StopRetryer interface {
	StopRetry() bool
}

// Option настраивает троттлер при создании.
type Option func(*Throttler)

// WithMaxRetries ограничивает число повторов. Значение <= 0 снимает лимит.
func WithMaxRetries(n int) Option {
	return func(t *Throttler) {
		t.maxRetries = n
	}
}

// WithBurst переопределяет ёмкость бакета.
func WithBurst(burst int) Option {
	return func(t *Throttler) {
		t.burst = burst
	}
}

// WithWaitExtractors регистрирует экстракторы серверных пауз.
func WithWaitExtractors(extractors ...WaitExtractor) Option {
	return func(t *Throttler) {
		t.extractors = append(t.extractors, extractors...)
	}
}

// WithRandom подменяет источник случайности джиттера. Нужен детерминированным
// тестам.
func WithRandom(fn func() float64) Option {
	return func(t *Throttler) {
		if fn != nil {
			t.randomFn = fn
		}
	}
}

// ErrNotStarted возвращается из Do до вызова Start.
var ErrNotStarted = errors.New("throttle: Start must be called before Do")

// Throttler выдаёт разрешения на вызовы с частотой rate и повторяет
// неудавшиеся вызовы по стратегии backoff.
type Throttler struct {
	rate       int
	burst      int
	maxRetries int // <= 0 — без ограничения
	extractors []WaitExtractor

	tokens chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu      sync.Mutex // защищает rootCtx и tokens от гонки Start/Do
	rootCtx context.Context
	cancel  context.CancelFunc

	randomFn func() float64
}

// New создаёт троттлер с частотой rate операций в секунду. Пополнение бакета
// запускается отдельным вызовом Start.
func New(rate int, opts ...Option) *Throttler {
	if rate <= 0 {
		rate = 1
	}
	t := &Throttler{
		rate:     rate,
		randomFn: rand.Float64,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.burst < 1 {
		t.burst = rate * burstMultiplier
	}
	return t
}

// Start предзаполняет бакет и запускает фоновое пополнение. Идемпотентен.
func (t *Throttler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	t.startOnce.Do(func() {
		t.mu.Lock()
		t.rootCtx, t.cancel = context.WithCancel(ctx)
		t.tokens = make(chan struct{}, t.burst)
		t.mu.Unlock()
		// Полный бакет на старте, иначе первые вызовы ждали бы раскрутки.
		for range t.burst {
			t.tokens <- struct{}{}
		}
		t.wg.Go(t.refillLoop)
	})
}

// Stop прекращает пополнение и дожидается фоновой горутины. Идемпотентен.
func (t *Throttler) Stop() {
	if t.rootContext() == nil {
		return
	}
	t.stopOnce.Do(func() {
		t.cancel()
		t.wg.Wait()
	})
}

// Do выполняет fn под лимитом бакета и повторяет неудачи. Ошибка со
// StopRetryer или сорванный контекст возвращаются сразу; распознанная
// экстрактором пауза выдерживается и не тратит попытку; остальные отказы
// повторяются с экспоненциальным backoff до исчерпания maxRetries.
func (t *Throttler) Do(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	root := t.rootContext()
	if root == nil {
		return ErrNotStarted
	}

	attempt := 0
	for {
		if err := t.takeToken(ctx, root); err != nil {
			return err
		}

		callErr := fn()
		if callErr == nil {
			return nil
		}

		var stopper StopRetryer
		wait, hasWait := t.extractWait(callErr)
		switch {
		case errors.As(callErr, &stopper) && stopper.StopRetry():
			return callErr
		case errors.Is(callErr, context.Canceled) || errors.Is(callErr, context.DeadlineExceeded):
			return callErr
		case hasWait:
			if err := t.sleep(ctx, root, wait); err != nil {
				return err
			}
			continue
		}

		if t.maxRetries > 0 && attempt >= t.maxRetries {
			return errors.Wrapf(callErr, "throttle: max retries reached (%d)", t.maxRetries)
		}
		delay := t.expBackoff(attempt)
		attempt++
		if err := t.sleep(ctx, root, delay); err != nil {
			return err
		}
	}
}

func (t *Throttler) rootContext() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rootCtx
}

func (t *Throttler) tokenChannel() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tokens
}

// takeToken блокирует до свободного токена либо отмены одного из контекстов.
// Остановка троттлера выражается как context.Canceled.
func (t *Throttler) takeToken(ctx, root context.Context) error {
	tokens := t.tokenChannel()
	if tokens == nil {
		return ErrNotStarted
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-root.Done():
		return context.Canceled
	case <-tokens:
		return nil
	}
}

// refillLoop кладёт по токену каждые 1/rate секунды, лишние отбрасывает.
func (t *Throttler) refillLoop() {
	root := t.rootContext()
	ticker := time.NewTicker(time.Second / time.Duration(t.rate))
	defer ticker.Stop()

	for {
		select {
		case <-root.Done():
			return
		case <-ticker.C:
			select {
			case t.tokens <- struct{}{}:
			default:
			}
		}
	}
}

func (t *Throttler) extractWait(err error) (time.Duration, bool) {
	for _, extract := range t.extractors {
		if extract == nil {
			continue
		}
		if wait, ok := extract(err); ok {
			return wait, true
		}
	}
	return 0, false
}

func (t *Throttler) sleep(ctx, root context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-root.Done():
		return context.Canceled
	case <-timer.C:
		return nil
	}
}

// expBackoff — 2^attempt секунд с потолком 60с, умноженные на джиттер
// из [0.85..1.15].
func (t *Throttler) expBackoff(attempt int) time.Duration {
	const (
		jitterMin   = 0.85
		jitterRange = 0.3
		maxSeconds  = 60.0
	)
	base := math.Pow(2, float64(attempt))
	if base > maxSeconds {
		base = maxSeconds
	}
	jitter := t.randomFn()*jitterRange + jitterMin
	return time.Duration(base * jitter * float64(time.Second))
}
