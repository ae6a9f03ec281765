package schedule_test

import (
	"testing"
	"time"

	"telegram-postbot/internal/domain/schedule"
)

var kiev = mustLoc("Europe/Kiev")

func mustLoc(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// at собирает отметку в киевском времени.
func at(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, kiev)
}

func equalTimes(got, want []time.Time) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if !got[i].Equal(want[i]) {
			return false
		}
	}
	return true
}

func fmtTimes(ts []time.Time) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Format("2006-01-02 15:04"))
	}
	return out
}

func TestFixedInterval(t *testing.T) {
	t.Parallel()

	w := schedule.Window{StartHour: 10, EndHour: 20, IntervalHours: 2}
	anchor := at(2025, time.July, 24, 9, 0)

	cases := []struct {
		name   string
		n      int
		anchor time.Time
		window schedule.Window
		want   []time.Time
	}{
		{
			name: "пять постов помещаются в один день",
			n:    5, anchor: anchor, window: w,
			want: []time.Time{
				at(2025, time.July, 25, 10, 0),
				at(2025, time.July, 25, 12, 0),
				at(2025, time.July, 25, 14, 0),
				at(2025, time.July, 25, 16, 0),
				at(2025, time.July, 25, 18, 0),
			},
		},
		{
			name: "семь постов переваливают на следующий день",
			n:    7, anchor: anchor, window: w,
			want: []time.Time{
				at(2025, time.July, 25, 10, 0),
				at(2025, time.July, 25, 12, 0),
				at(2025, time.July, 25, 14, 0),
				at(2025, time.July, 25, 16, 0),
				at(2025, time.July, 25, 18, 0),
				at(2025, time.July, 26, 10, 0),
				at(2025, time.July, 26, 12, 0),
			},
		},
		{
			name: "якорь внутри окна всё равно сдвигает старт на завтра",
			n:    2, anchor: at(2025, time.July, 24, 15, 30), window: w,
			want: []time.Time{
				at(2025, time.July, 25, 10, 0),
				at(2025, time.July, 25, 12, 0),
			},
		},
		{
			name: "нулевой запрос",
			n:    0, anchor: anchor, window: w,
			want: nil,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := schedule.FixedInterval(tc.window, tc.n, tc.anchor)
			if !equalTimes(got, tc.want) {
				t.Fatalf("FixedInterval() = %v, want %v", fmtTimes(got), fmtTimes(tc.want))
			}
		})
	}
}

func TestFixedIntervalMonotonic(t *testing.T) {
	t.Parallel()

	w := schedule.Window{StartHour: 9, EndHour: 21, IntervalHours: 3}
	got := schedule.FixedInterval(w, 30, at(2025, time.March, 28, 23, 59))
	for i := 1; i < len(got); i++ {
		if !got[i].After(got[i-1]) {
			t.Fatalf("slot %d (%s) is not after slot %d (%s)",
				i, got[i], i-1, got[i-1])
		}
	}
}

func TestNextAvailableSlot(t *testing.T) {
	t.Parallel()

	w := schedule.Window{StartHour: 10, EndHour: 20, IntervalHours: 2}
	now := at(2025, time.July, 25, 9, 0)

	cases := []struct {
		name   string
		latest *time.Time
		want   time.Time
	}{
		{
			name:   "слот сразу за последним запланированным",
			latest: ptr(at(2025, time.July, 25, 16, 0)),
			want:   at(2025, time.July, 25, 18, 0),
		},
		{
			name:   "кандидат не на сетке округляется вверх",
			latest: ptr(at(2025, time.July, 25, 15, 0)),
			want:   at(2025, time.July, 25, 18, 0),
		},
		{
			name:   "округление выталкивает за окно",
			latest: ptr(at(2025, time.July, 25, 17, 0)),
			want:   at(2025, time.July, 26, 10, 0),
		},
		{
			name:   "кандидат после конца окна уходит на завтра",
			latest: ptr(at(2025, time.July, 25, 19, 0)),
			want:   at(2025, time.July, 26, 10, 0),
		},
		{
			name:   "пустое расписание отсчитывается от now",
			latest: nil,
			want:   at(2025, time.July, 25, 12, 0),
		},
		{
			name:   "отметка с минутами не усекается назад",
			latest: ptr(at(2025, time.July, 25, 10, 30)),
			want:   at(2025, time.July, 25, 14, 0),
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := schedule.NextAvailableSlot(w, tc.latest, now)
			if !got.Equal(tc.want) {
				t.Fatalf("NextAvailableSlot() = %s, want %s",
					got.Format("2006-01-02 15:04"), tc.want.Format("2006-01-02 15:04"))
			}
		})
	}
}

// Продолжение обхода после найденного слота: 18:00 занято последним слотом,
// следующий уходит на завтра.
func TestNextAvailableSlotThenWalk(t *testing.T) {
	t.Parallel()

	w := schedule.Window{StartHour: 10, EndHour: 20, IntervalHours: 2}
	latest := at(2025, time.July, 25, 16, 0)

	first := schedule.NextAvailableSlot(w, &latest, at(2025, time.July, 25, 9, 0))
	got := schedule.FixedIntervalFrom(w, 2, first)
	want := []time.Time{
		at(2025, time.July, 25, 18, 0),
		at(2025, time.July, 26, 10, 0),
	}
	if !equalTimes(got, want) {
		t.Fatalf("FixedIntervalFrom() = %v, want %v", fmtTimes(got), fmtTimes(want))
	}
}

// Хвост расписания в прошлом (бот стоял): отсчёт ведётся заново от now,
// слот обязан быть в будущем.
func TestNextAvailableSlotStaleLatest(t *testing.T) {
	t.Parallel()

	w := schedule.Window{StartHour: 10, EndHour: 20, IntervalHours: 2}

	cases := []struct {
		name   string
		latest time.Time
		now    time.Time
		want   time.Time
	}{
		{
			name:   "вчерашняя отметка",
			latest: at(2025, time.July, 24, 16, 0),
			now:    at(2025, time.July, 25, 13, 5),
			want:   at(2025, time.July, 25, 16, 0),
		},
		{
			name:   "отметка двухдневной давности за окном",
			latest: at(2025, time.July, 23, 19, 0),
			now:    at(2025, time.July, 25, 12, 0),
			want:   at(2025, time.July, 25, 14, 0),
		},
		{
			name:   "прошедшая отметка сегодняшнего утра",
			latest: at(2025, time.July, 25, 10, 0),
			now:    at(2025, time.July, 25, 11, 5),
			want:   at(2025, time.July, 25, 12, 0),
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := schedule.NextAvailableSlot(w, &tc.latest, tc.now)
			if !got.Equal(tc.want) {
				t.Fatalf("NextAvailableSlot() = %s, want %s",
					got.Format("2006-01-02 15:04"), tc.want.Format("2006-01-02 15:04"))
			}
			if got.Before(tc.now) {
				t.Fatalf("slot %s раньше now %s",
					got.Format("2006-01-02 15:04"), tc.now.Format("2006-01-02 15:04"))
			}
		})
	}
}

func TestEvenDistribution(t *testing.T) {
	t.Parallel()

	w := schedule.Window{StartHour: 10, EndHour: 20}
	anchor := at(2025, time.July, 24, 9, 0)

	cases := []struct {
		name     string
		n        int
		interval int
		want     []time.Time
	}{
		{
			name: "семь постов растягиваются по минутам",
			n:    7,
			want: []time.Time{
				at(2025, time.July, 25, 10, 0),
				at(2025, time.July, 25, 11, 40),
				at(2025, time.July, 25, 13, 20),
				at(2025, time.July, 25, 15, 0),
				at(2025, time.July, 25, 16, 40),
				at(2025, time.July, 25, 18, 20),
				at(2025, time.July, 25, 20, 0),
			},
		},
		{
			name: "одиночный пост встаёт в начало окна",
			n:    1,
			want: []time.Time{at(2025, time.July, 25, 10, 0)},
		},
		{
			name: "переполнение дня продолжается завтра",
			n:    13,
			want: append(
				hourly(2025, time.July, 25, 10, 20),
				at(2025, time.July, 26, 10, 0),
				at(2025, time.July, 26, 20, 0),
			),
		},
		{
			name:     "с интервалом день пакуется по сетке включая конец окна",
			n:        7,
			interval: 2,
			want: []time.Time{
				at(2025, time.July, 25, 10, 0),
				at(2025, time.July, 25, 12, 0),
				at(2025, time.July, 25, 14, 0),
				at(2025, time.July, 25, 16, 0),
				at(2025, time.July, 25, 18, 0),
				at(2025, time.July, 25, 20, 0),
				at(2025, time.July, 26, 10, 0),
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := schedule.EvenDistribution(w, tc.n, anchor, tc.interval)
			if !equalTimes(got, tc.want) {
				t.Fatalf("EvenDistribution() = %v, want %v", fmtTimes(got), fmtTimes(tc.want))
			}
		})
	}
}

// hourly строит почасовые отметки [from..to] одного дня.
func hourly(y int, m time.Month, d, from, to int) []time.Time {
	var out []time.Time
	for h := from; h <= to; h++ {
		out = append(out, at(y, m, d, h, 0))
	}
	return out
}

func TestCustomDate(t *testing.T) {
	t.Parallel()

	got := schedule.CustomDate(at(2025, time.August, 1, 14, 30), 3, 4)
	want := []time.Time{
		at(2025, time.August, 1, 14, 30),
		at(2025, time.August, 1, 17, 30),
		at(2025, time.August, 1, 20, 30),
		at(2025, time.August, 1, 23, 30),
	}
	if !equalTimes(got, want) {
		t.Fatalf("CustomDate() = %v, want %v", fmtTimes(got), fmtTimes(want))
	}
}

func TestFromToday(t *testing.T) {
	t.Parallel()

	w := schedule.Window{StartHour: 10, EndHour: 20, IntervalHours: 2}

	cases := []struct {
		name string
		now  time.Time
		n    int
		want []time.Time
	}{
		{
			name: "середина дня пропускает прошедшие слоты",
			now:  at(2025, time.July, 25, 13, 5),
			n:    4,
			want: []time.Time{
				at(2025, time.July, 25, 14, 0),
				at(2025, time.July, 25, 16, 0),
				at(2025, time.July, 25, 18, 0),
				at(2025, time.July, 26, 10, 0),
			},
		},
		{
			name: "раннее утро использует сегодняшнее окно целиком",
			now:  at(2025, time.July, 25, 8, 0),
			n:    2,
			want: []time.Time{
				at(2025, time.July, 25, 10, 0),
				at(2025, time.July, 25, 12, 0),
			},
		},
		{
			name: "после конца окна раскладка начинается завтра",
			now:  at(2025, time.July, 25, 21, 0),
			n:    2,
			want: []time.Time{
				at(2025, time.July, 26, 10, 0),
				at(2025, time.July, 26, 12, 0),
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := schedule.FromToday(w, tc.n, tc.now)
			if !equalTimes(got, tc.want) {
				t.Fatalf("FromToday() = %v, want %v", fmtTimes(got), fmtTimes(tc.want))
			}
		})
	}
}

func ptr(t time.Time) *time.Time { return &t }
