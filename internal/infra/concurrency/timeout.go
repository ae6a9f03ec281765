// Package concurrency — утилиты для безопасного конкурентного исполнения.
// В этом файле реализовано ограничение длительности одной попытки операции.
package concurrency

import (
	"context"
	"time"
)

// RunWithTimeout выполняет fn с дочерним контекстом, ограниченным timeout.
// Используется вокруг обращений к внешнему транспорту (загрузка крупных файлов
// может занимать минуты, но не должна висеть бесконечно). Нулевой или
// отрицательный timeout означает «без ограничения» — fn получает ctx как есть.
func RunWithTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(runCtx)
}
