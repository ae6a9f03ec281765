package throttle_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"

	"telegram-postbot/internal/infra/throttle"
)

// permanentErr реализует StopRetryer: повторы бессмысленны.
type permanentErr struct{ msg string }

func (e permanentErr) Error() string   { return e.msg }
func (e permanentErr) StopRetry() bool { return true }

func newStarted(t *testing.T, opts ...throttle.Option) *throttle.Throttler {
	t.Helper()
	tr := throttle.New(1000, opts...)
	tr.Start(context.Background())
	t.Cleanup(tr.Stop)
	return tr
}

func TestDoServerWaitsDoNotSpendRetries(t *testing.T) {
	t.Parallel()

	errBusy := errors.New("busy")
	tr := newStarted(t,
		throttle.WithMaxRetries(1),
		throttle.WithWaitExtractors(func(err error) (time.Duration, bool) {
			if errors.Is(err, errBusy) {
				return time.Millisecond, true
			}
			return 0, false
		}),
	)

	calls := 0
	err := tr.Do(context.Background(), func() error {
		calls++
		if calls <= 5 {
			return errBusy
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	// Сервер пять раз велел подождать, лимит повторов при этом не тратился.
	if calls != 6 {
		t.Errorf("вызовов %d, ожидалось 6", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	tr := newStarted(t)
	calls := 0
	err := tr.Do(context.Background(), func() error {
		calls++
		return permanentErr{msg: "blocked"}
	})
	var perr permanentErr
	if !errors.As(err, &perr) {
		t.Fatalf("ожидалась исходная ошибка, получено %v", err)
	}
	if calls != 1 {
		t.Errorf("вызовов %d, ожидался 1", calls)
	}
}

func TestDoMaxRetries(t *testing.T) {
	t.Parallel()

	errFlaky := errors.New("flaky")
	tr := newStarted(t,
		throttle.WithMaxRetries(1),
		throttle.WithRandom(func() float64 { return 0 }),
	)

	calls := 0
	err := tr.Do(context.Background(), func() error {
		calls++
		return errFlaky
	})
	if !errors.Is(err, errFlaky) {
		t.Fatalf("ожидалась исходная ошибка в цепочке, получено %v", err)
	}
	if calls != 2 {
		t.Errorf("вызовов %d, ожидалось 2 (исходный + один повтор)", calls)
	}
}

func TestDoRequiresStart(t *testing.T) {
	t.Parallel()

	tr := throttle.New(1)
	err := tr.Do(context.Background(), func() error { return nil })
	if !errors.Is(err, throttle.ErrNotStarted) {
		t.Fatalf("ожидался ErrNotStarted, получено %v", err)
	}
}

func TestStopCancelsDo(t *testing.T) {
	t.Parallel()

	tr := throttle.New(1000)
	tr.Start(context.Background())
	tr.Stop()
	tr.Stop() // повторная остановка безопасна

	err := tr.Do(context.Background(), func() error { return errors.New("никогда") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ожидался context.Canceled, получено %v", err)
	}
}
