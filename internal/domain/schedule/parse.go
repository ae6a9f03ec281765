// Разбор аргументов команд планирования. Все функции принимают уже
// разбитые по пробелам токены и возвращают диагностику, пригодную для
// показа оператору без перевода.
package schedule

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// ParseHour разбирает час суток 0..23.
func ParseHour(tok string) (int, error) {
	h, err := strconv.Atoi(tok)
	if err != nil || h < 0 || h > 23 {
		return 0, errors.Errorf("час должен быть числом от 0 до 23, получено %q", tok)
	}
	return h, nil
}

// ParseWindow разбирает пару "начало конец", например "10 20".
func ParseWindow(tokens []string) (start, end int, err error) {
	if len(tokens) != 2 {
		return 0, 0, errors.New("нужны два числа: начало и конец окна, например: 10 20")
	}
	if start, err = ParseHour(tokens[0]); err != nil {
		return 0, 0, err
	}
	if end, err = ParseHour(tokens[1]); err != nil {
		return 0, 0, err
	}
	if start >= end {
		return 0, 0, errors.Errorf("начало окна должно быть раньше конца: %d >= %d", start, end)
	}
	return start, end, nil
}

// ParseInterval разбирает шаг в часах: 1..24 и не шире окна.
func ParseInterval(tok string, width int) (int, error) {
	i, err := strconv.Atoi(tok)
	if err != nil || i < 1 || i > 24 {
		return 0, errors.Errorf("интервал должен быть числом от 1 до 24, получено %q", tok)
	}
	if i > width {
		return 0, errors.Errorf("интервал %d ч не помещается в окно шириной %d ч", i, width)
	}
	return i, nil
}

// ParseDate разбирает дату ГГГГ-ММ-ДД в полночь локации loc.
func ParseDate(tok string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, tok, loc)
	if err != nil {
		return time.Time{}, errors.Errorf("дата должна быть в формате ГГГГ-ММ-ДД, получено %q", tok)
	}
	return t, nil
}

// ParseClock разбирает время суток ЧЧ:ММ.
func ParseClock(tok string) (hour, minute int, err error) {
	t, err := time.Parse(clockLayout, tok)
	if err != nil {
		return 0, 0, errors.Errorf("время должно быть в формате ЧЧ:ММ, получено %q", tok)
	}
	return t.Hour(), t.Minute(), nil
}

// ParseDateTime собирает дату и время суток в отметку локации loc.
func ParseDateTime(dateTok, timeTok string, loc *time.Location) (time.Time, error) {
	day, err := ParseDate(dateTok, loc)
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, err := ParseClock(timeTok)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc), nil
}

// EnsureFuture отклоняет отметки, которые уже прошли.
func EnsureFuture(t, now time.Time) error {
	if !t.After(now) {
		return errors.Errorf("время %s уже прошло", t.Format("2006-01-02 15:04"))
	}
	return nil
}

// RedistributeArgs — необязательные параметры команды перераспределения.
// Каждый распознаётся по форме токена, порядок свободный.
type RedistributeArgs struct {
	Channel  string     // имя канала из маркера @channel
	Interval int        // 0 — равномерное распределение по минутам
	Start    *time.Time // nil — со следующего дня
}

// ParseRedistributeArgs разбирает хвост команды перераспределения:
// опциональный маркер @канал, опциональный интервал в часах и опциональная
// стартовая дата ГГГГ-ММ-ДД.
func ParseRedistributeArgs(tokens []string, width int, loc *time.Location) (RedistributeArgs, error) {
	var args RedistributeArgs
	for _, tok := range tokens {
		switch {
		case strings.HasPrefix(tok, "@"):
			if args.Channel != "" {
				return RedistributeArgs{}, errors.New("маркер канала указан дважды")
			}
			name := strings.TrimPrefix(tok, "@")
			if name == "" {
				return RedistributeArgs{}, errors.New("после @ должно идти имя канала")
			}
			args.Channel = name
		case strings.Contains(tok, "-"):
			if args.Start != nil {
				return RedistributeArgs{}, errors.New("стартовая дата указана дважды")
			}
			day, err := ParseDate(tok, loc)
			if err != nil {
				return RedistributeArgs{}, err
			}
			args.Start = &day
		default:
			if args.Interval != 0 {
				return RedistributeArgs{}, errors.New("интервал указан дважды")
			}
			i, err := ParseInterval(tok, width)
			if err != nil {
				return RedistributeArgs{}, err
			}
			args.Interval = i
		}
	}
	return args, nil
}
