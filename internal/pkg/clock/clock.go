// clock абстрагирует время для кода с таймерами: продакшен получает Real(),
// тесты получают Fake() и двигают время детерминированно через Advance.
package clock

import "time"

// Clock — минимальный набор операций со временем, нужный сессии.
type Clock interface {
	// Now возвращает текущее время.
	Now() time.Time
	// NewTicker возвращает периодический таймер. Паникует при d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker — периодический таймер. Тики читаются из C (ёмкость 1,
// как у time.Ticker: отстающий потребитель теряет тики, а не копит их).
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop выключает тикер. После возврата новых тиков в C не будет; C не закрывается.
func (t *Ticker) Stop() { t.stopFunc() }

type realClock struct{}

// Real возвращает Clock поверх пакета time.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stopFunc: t.Stop}
}
