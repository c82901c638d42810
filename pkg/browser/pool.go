package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/arnavsurve/stepwright/pkg/log"
	"github.com/arnavsurve/stepwright/pkg/types"
	"github.com/prometheus/procfs"
)

// DefaultMemoryThreshold is the fraction of system memory in use above which
// a resident browser is restarted before the next task.
const DefaultMemoryThreshold = 0.6

// Resetter is implemented by drivers that can be cleaned up for reuse.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Pool hands out browsers to tasks one at a time. A browser released by a
// dedicated task stays resident and is reset for the next task; a browser
// released by any other task is closed. The resident browser is restarted
// when memory use crosses Threshold.
type Pool struct {
	Launch         func(ctx context.Context) (Driver, error)
	MemoryFraction func() (float64, error)
	Threshold      float64
	Logger         types.Logger

	mu       sync.Mutex
	resident Driver
	leased   bool
}

// Lease is a browser checked out of the pool.
type Lease struct {
	Driver    Driver
	Dedicated bool
}

func (p *Pool) logger() types.Logger {
	if p.Logger == nil {
		return log.Nop()
	}
	return p.Logger
}

func (p *Pool) threshold() float64 {
	if p.Threshold <= 0 {
		return DefaultMemoryThreshold
	}
	return p.Threshold
}

// Acquire returns the resident browser when it can be reused, otherwise a
// fresh one.
func (p *Pool) Acquire(ctx context.Context, dedicated bool) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.leased {
		return nil, fmt.Errorf("browser pool: a browser is already leased")
	}
	logger := p.logger()

	if p.resident != nil && p.memoryExceeded() {
		logger.Info().Msg("Memory exceeded, restarting browser")
		if err := p.resident.Close(); err != nil {
			logger.Warn().Err(err).Msg("Closing resident browser")
		}
		p.resident = nil
	}

	d := p.resident
	if d != nil {
		if r, ok := d.(Resetter); ok {
			if err := r.Reset(ctx); err != nil {
				logger.Warn().Err(err).Msg("Resetting resident browser, restarting it")
				_ = d.Close()
				d = nil
			}
		} else if err := d.CloseAllButLastTab(ctx); err != nil {
			logger.Warn().Err(err).Msg("Closing extra tabs, restarting browser")
			_ = d.Close()
			d = nil
		}
	}
	p.resident = nil

	if d == nil {
		logger.Info().Bool("dedicated", dedicated).Msg("Starting new browser")
		var err error
		if d, err = p.Launch(ctx); err != nil {
			return nil, err
		}
	} else {
		logger.Info().Bool("dedicated", dedicated).Msg("Reusing resident browser")
	}
	p.leased = true
	return &Lease{Driver: d, Dedicated: dedicated}, nil
}

// Release returns a lease. Only dedicated leases keep the browser resident.
func (p *Pool) Release(l *Lease) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leased = false
	if l.Dedicated {
		p.resident = l.Driver
		return nil
	}
	p.logger().Debug().Msg("Closing browser of non-dedicated task")
	return l.Driver.Close()
}

// Close shuts down the resident browser, if any.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resident == nil {
		return nil
	}
	err := p.resident.Close()
	p.resident = nil
	return err
}

func (p *Pool) memoryExceeded() bool {
	measure := p.MemoryFraction
	if measure == nil {
		measure = SystemMemoryFraction
	}
	frac, err := measure()
	if err != nil {
		p.logger().Warn().Err(err).Msg("Reading memory usage")
		return false
	}
	p.logger().Debug().Interface("memory_fraction", frac).Msg("Memory usage")
	return frac > p.threshold()
}

// SystemMemoryFraction reports used over total memory from /proc/meminfo.
func SystemMemoryFraction() (float64, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return 0, fmt.Errorf("opening procfs: %w", err)
	}
	mi, err := fs.Meminfo()
	if err != nil {
		return 0, fmt.Errorf("reading meminfo: %w", err)
	}
	if mi.MemTotal == nil || mi.MemAvailable == nil || *mi.MemTotal == 0 {
		return 0, fmt.Errorf("meminfo is missing MemTotal or MemAvailable")
	}
	used := *mi.MemTotal - *mi.MemAvailable
	return float64(used) / float64(*mi.MemTotal), nil
}
