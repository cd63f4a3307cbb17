package matcher

import (
	"fmt"
	"sync"
	"time"
)

// progressTracker prints periodic phase progress to the console. Mirrors
// run outcomes only; it never influences them.
type progressTracker struct {
	label  string
	total  int
	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	processed int
	errors    int
}

func newProgressTracker(label string, total int, enabled bool) *progressTracker {
	p := &progressTracker{label: label, total: total, done: make(chan struct{})}
	if !enabled || total == 0 {
		return p
	}

	p.ticker = time.NewTicker(500 * time.Millisecond)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-p.done:
				return
			case <-p.ticker.C:
				p.print()
			}
		}
	}()
	return p
}

func (p *progressTracker) print() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.errors > 0 {
		fmt.Printf("\r%s: %d/%d (errors: %d)", p.label, p.processed, p.total, p.errors)
	} else {
		fmt.Printf("\r%s: %d/%d", p.label, p.processed, p.total)
	}
}

func (p *progressTracker) step(failed bool) {
	p.mu.Lock()
	p.processed++
	if failed {
		p.errors++
	}
	p.mu.Unlock()
}

func (p *progressTracker) stop() {
	if p.ticker == nil {
		return
	}
	p.ticker.Stop()
	close(p.done)
	p.wg.Wait()
	p.print()
	fmt.Println()
}
