package clock

import (
	"sync"
	"time"
)

// FakeClock — детерминированные часы для тестов. Время стоит на месте,
// пока не вызван Advance. Безопасен для конкурентного использования.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	tickers []*fakeTicker
}

type fakeTicker struct {
	deadline time.Time
	interval time.Duration
	ch       chan time.Time
	stopped  bool
}

// Fake возвращает FakeClock, выставленный на initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now возвращает текущее фейковое время.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NewTicker регистрирует фейковый тикер с первым срабатыванием через d.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ft := &fakeTicker{
		deadline: c.current.Add(d),
		interval: d,
		ch:       make(chan time.Time, 1),
	}
	c.tickers = append(c.tickers, ft)

	return &Ticker{
		C: ft.ch,
		stopFunc: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			ft.stopped = true
		},
	}
}

// Advance сдвигает время на d и отправляет тики всем активным тикерам,
// чей дедлайн попал в новый момент. Если сдвиг покрывает несколько интервалов,
// тикер срабатывает по разу на интервал; не поместившиеся в буфер тики теряются.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = c.current.Add(d)

	alive := c.tickers[:0]
	for _, ft := range c.tickers {
		if ft.stopped {
			continue
		}
		for !ft.deadline.After(c.current) {
			select {
			case ft.ch <- c.current:
			default:
			}
			ft.deadline = ft.deadline.Add(ft.interval)
		}
		alive = append(alive, ft)
	}
	c.tickers = alive
}

// Set переставляет часы на t без срабатывания тикеров.
// Удобно для проверок истечения токенов.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// PendingCount возвращает число активных (не остановленных) тикеров.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, ft := range c.tickers {
		if !ft.stopped {
			n++
		}
	}

	return n
}
