// Пакет clock отдаёт текущее время в часовой зоне приложения. Компоненты,
// которым важна детерминированность в тестах, принимают func() time.Time
// и по умолчанию получают clock.Now.
package clock

import (
	"telegram-postbot/internal/infra/config"
	"time"
)

// Now возвращает текущее время в глобальной таймзоне приложения.
func Now() time.Time {
	return time.Now().In(config.AppLocation)
}
