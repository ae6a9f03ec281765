// Чистые вычисления расписаний публикаций. Все функции детерминированы,
// работают в настенном времени локации аргумента и не читают глобальное
// состояние: время "сейчас" всегда передаётся параметром.
package schedule

import (
	"time"

	"telegram-postbot/internal/infra/timeutil"
)

// Window — суточное окно публикаций оператора. Слоты живут в часах
// [StartHour, EndHour) с шагом IntervalHours.
type Window struct {
	StartHour     int
	EndHour       int
	IntervalHours int
}

// Width возвращает ширину окна в часах.
func (w Window) Width() int { return w.EndHour - w.StartHour }

// contains сообщает, попадает ли час в окно.
func (w Window) contains(hour int) bool {
	return hour >= w.StartHour && hour < w.EndHour
}

// addHours сдвигает настенное время на h часов. Арифметика через time.Date
// нормализует перенос суток и не зависит от переводов часов.
func addHours(t time.Time, h int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+h, t.Minute(), 0, 0, t.Location())
}

// nextDayStart возвращает начало окна на следующий день после t.
func nextDayStart(w Window, t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, w.StartHour, 0, 0, 0, t.Location())
}

// Valid отсекает окна, на которых обход сетки не определён.
func (w Window) Valid() bool {
	return w.IntervalHours >= 1 && w.Width() >= 1
}

// walk обходит сетку слотов начиная с current и набирает n отметок.
// Слот публикуется, пока его час внутри окна; выход за окно переносит
// обход на начало следующего дня.
func walk(w Window, n int, current time.Time) []time.Time {
	if !w.Valid() {
		return nil
	}
	out := make([]time.Time, 0, n)
	for len(out) < n {
		if !w.contains(current.Hour()) {
			current = nextDayStart(w, current)
			continue
		}
		out = append(out, current)
		current = addHours(current, w.IntervalHours)
	}
	return out
}

// FixedInterval строит n отметок с фиксированным шагом, начиная со дня,
// следующего за anchor, в StartHour. Результат строго возрастает.
func FixedInterval(w Window, n int, anchor time.Time) []time.Time {
	if n <= 0 {
		return nil
	}
	return walk(w, n, nextDayStart(w, anchor))
}

// FixedIntervalFrom — тот же обход, но с явной первой отметки from.
// Используется после вычисления слота через NextAvailableSlot.
func FixedIntervalFrom(w Window, n int, from time.Time) []time.Time {
	if n <= 0 {
		return nil
	}
	return walk(w, n, from)
}

// NextAvailableSlot возвращает первый свободный слот после последней
// запланированной отметки оператора. latest == nil означает пустое
// расписание, тогда отсчёт от now; отметка в прошлом тоже отсчитывается
// заново от now. Слот не бывает раньше текущего момента.
func NextAvailableSlot(w Window, latest *time.Time, now time.Time) time.Time {
	if !w.Valid() {
		return now
	}
	base := now
	if latest != nil {
		base = *latest
	}
	slot := alignSlot(w, addHours(base, w.IntervalHours))
	if slot.Before(now) {
		slot = alignSlot(w, addHours(now, w.IntervalHours))
	}
	return slot
}

// alignSlot выравнивает кандидата по сетке окна: смещение от StartHour
// округляется вверх до кратного шагу, минуты обнуляются, выход за EndHour
// переносит слот на начало следующего дня. Кандидат с минутами на часе
// сетки сдвигается на шаг вперёд — слот не бывает раньше кандидата.
func alignSlot(w Window, c time.Time) time.Time {
	if !w.contains(c.Hour()) {
		return nextDayStart(w, c)
	}
	offset := c.Hour() - w.StartHour
	if rem := offset % w.IntervalHours; rem != 0 {
		offset += w.IntervalHours - rem
	} else if c.Minute() != 0 {
		offset += w.IntervalHours
	}
	if w.StartHour+offset >= w.EndHour {
		return nextDayStart(w, c)
	}
	return timeutil.At(c, w.StartHour+offset, 0)
}

// EvenDistribution раскладывает n постов по дням начиная со дня после anchor.
//
// При interval > 0 дни пакуются слотами StartHour + k*interval; в день
// помещается Width()/interval + 1 постов, то есть сетка включает EndHour.
// При interval == 0 посты каждого дня растягиваются по окну равномерно с
// точностью до минуты: шаг (Width()*60)/(постов_в_дне-1) минут, одиночный
// пост ставится в StartHour. Вместимость дня — Width()+1 постов.
func EvenDistribution(w Window, n int, anchor time.Time, interval int) []time.Time {
	if n <= 0 || w.Width() < 1 {
		return nil
	}
	out := make([]time.Time, 0, n)
	day := nextDayStart(w, anchor)

	if interval > 0 {
		perDay := w.Width()/interval + 1
		for len(out) < n {
			for k := 0; k < perDay && len(out) < n; k++ {
				out = append(out, timeutil.At(day, w.StartHour+k*interval, 0))
			}
			day = nextDayStart(w, day)
		}
		return out
	}

	capacity := w.Width() + 1
	remaining := n
	for remaining > 0 {
		today := min(remaining, capacity)
		if today == 1 {
			out = append(out, timeutil.At(day, w.StartHour, 0))
		} else {
			step := w.Width() * 60 / (today - 1)
			for k := 0; k < today; k++ {
				offset := k * step
				hour, minute := w.StartHour+offset/60, offset%60
				if hour > w.EndHour {
					hour, minute = w.EndHour, 59
				}
				out = append(out, timeutil.At(day, hour, minute))
			}
		}
		remaining -= today
		day = nextDayStart(w, day)
	}
	return out
}

// CustomDate строит n отметок от явной стартовой даты с шагом intervalHours.
// Минуты стартовой отметки сохраняются во всех слотах.
func CustomDate(start time.Time, intervalHours, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, n)
	for k := 0; k < n; k++ {
		out = append(out, addHours(start, k*intervalHours))
	}
	return out
}

// FromToday строит n отметок по сетке окна начиная с сегодняшнего дня,
// пропуская слоты, которые уже прошли. Если сегодняшнее окно исчерпано,
// раскладка начинается с завтрашнего StartHour.
func FromToday(w Window, n int, now time.Time) []time.Time {
	if n <= 0 || !w.Valid() {
		return nil
	}
	out := make([]time.Time, 0, n)
	current := timeutil.At(now, w.StartHour, 0)
	for len(out) < n {
		if !w.contains(current.Hour()) {
			current = nextDayStart(w, current)
			continue
		}
		if current.After(now) {
			out = append(out, current)
		}
		current = addHours(current, w.IntervalHours)
	}
	return out
}
