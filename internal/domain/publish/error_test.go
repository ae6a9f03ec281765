package publish_test

import (
	"testing"
	"time"

	"telegram-postbot/internal/domain/publish"

	"github.com/go-faster/errors"
)

func TestKindRetryable(t *testing.T) {
	t.Parallel()

	retryable := []publish.Kind{publish.RateLimited, publish.Network, publish.Unknown}
	terminal := []publish.Kind{
		publish.BotBlocked, publish.ChatNotFound, publish.FileTooLarge,
		publish.BadCaption, publish.BadRequestOther, publish.MediaMissing,
		publish.AccessDenied,
	}
	for _, k := range retryable {
		if !k.Retryable() {
			t.Errorf("%s.Retryable() = false, want true", k)
		}
	}
	for _, k := range terminal {
		if k.Retryable() {
			t.Errorf("%s.Retryable() = true, want false", k)
		}
	}
}

func TestWaitFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		err     *publish.Error
		attempt int
		want    time.Duration
	}{
		{
			name:    "rate limit с запасом в секунду",
			err:     publish.RateLimitedError(5*time.Second, nil),
			attempt: 0,
			want:    6 * time.Second,
		},
		{
			name:    "сеть всегда десять секунд",
			err:     publish.NewError(publish.Network, nil),
			attempt: 2,
			want:    10 * time.Second,
		},
		{
			name:    "unknown первая попытка",
			err:     publish.NewError(publish.Unknown, nil),
			attempt: 0,
			want:    5 * time.Second,
		},
		{
			name:    "unknown вторая попытка",
			err:     publish.NewError(publish.Unknown, nil),
			attempt: 1,
			want:    10 * time.Second,
		},
		{
			name:    "unknown упирается в потолок",
			err:     publish.NewError(publish.Unknown, nil),
			attempt: 6,
			want:    60 * time.Second,
		},
		{
			name:    "терминальный класс не ждёт",
			err:     publish.NewError(publish.ChatNotFound, nil),
			attempt: 0,
			want:    0,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := tc.err.WaitFor(tc.attempt); got != tc.want {
				t.Fatalf("WaitFor(%d) = %s, want %s", tc.attempt, got, tc.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	if publish.Classify(nil) != nil {
		t.Fatal("Classify(nil) != nil")
	}

	raw := errors.New("dial tcp: connection refused")
	got := publish.Classify(raw)
	if got.Kind != publish.Unknown || !errors.Is(got, raw) {
		t.Fatalf("Classify(raw) = %+v", got)
	}

	typed := publish.NewError(publish.BotBlocked, errors.New("403"))
	wrapped := errors.Wrap(typed, "sendPhoto")
	if got := publish.Classify(wrapped); got.Kind != publish.BotBlocked {
		t.Fatalf("Classify(wrapped) kind = %s, want bot_blocked", got.Kind)
	}
}

func TestErrorText(t *testing.T) {
	t.Parallel()

	e := publish.NewError(publish.ChatNotFound, errors.New("Bad Request: chat not found"))
	want := "publish: chat_not_found: Bad Request: chat not found"
	if e.Error() != want {
		t.Fatalf("Error() = %q, want %q", e.Error(), want)
	}
	if publish.NewError(publish.Network, nil).Error() != "publish: network" {
		t.Fatalf("Error() without cause = %q", publish.NewError(publish.Network, nil).Error())
	}
}
