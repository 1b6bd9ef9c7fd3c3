package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var errTimeout = errors.New("timed out")

// Options configures one benchmark run.
type Options struct {
	URL      string
	Room     string
	Clients  int
	Messages int
	Interval time.Duration
	Timeout  time.Duration
}

// Report summarizes a run.
type Report struct {
	Clients    int           `json:"clients"`
	Messages   int           `json:"messages_per_client"`
	Expected   int           `json:"expected"`
	Received   int           `json:"received"`
	OutOfOrder int           `json:"out_of_order"`
	Errors     int           `json:"errors"`
	P50        time.Duration `json:"p50"`
	P99        time.Duration `json:"p99"`
	Max        time.Duration `json:"max"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Complete reports whether every delta reached every other member in order.
func (r *Report) Complete() bool {
	return r.Received == r.Expected && r.OutOfOrder == 0 && r.Errors == 0
}

func (r *Report) String() string {
	return fmt.Sprintf("clients=%d messages=%d received=%d/%d out_of_order=%d errors=%d p50=%s p99=%s max=%s elapsed=%s",
		r.Clients, r.Messages, r.Received, r.Expected, r.OutOfOrder, r.Errors,
		r.P50, r.P99, r.Max, r.Elapsed.Truncate(time.Millisecond))
}

// Run opens opts.Clients sessions in one room, has each publish
// opts.Messages deltas and waits for every other session to receive them.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Clients < 2 {
		return nil, fmt.Errorf("need at least 2 clients, got %d", opts.Clients)
	}
	if opts.Room == "" {
		opts.Room = "bench-" + uuid.NewString()[:8]
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	client := NewClient(opts.URL)
	sessions := make([]*Session, opts.Clients)

	g, gctx := errgroup.WithContext(ctx)
	for i := range sessions {
		i := i
		g.Go(func() error {
			s, err := client.Open(gctx, fmt.Sprintf("bench-%d", i), opts.Room)
			if err != nil {
				return fmt.Errorf("client %d: %w", i, err)
			}
			sessions[i] = s
			return nil
		})
	}
	err := g.Wait()
	defer func() {
		for _, s := range sessions {
			if s != nil {
				s.Close()
			}
		}
	}()
	if err != nil {
		return nil, err
	}

	slog.Info("bench: sessions open", "room", opts.Room, "clients", opts.Clients)

	if err := waitFor(ctx, func() bool {
		for _, s := range sessions {
			if s.Members() != opts.Clients {
				return false
			}
		}
		return true
	}); err != nil {
		return nil, fmt.Errorf("waiting for members: %w", err)
	}

	start := time.Now()
	g, gctx = errgroup.WithContext(ctx)
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			for n := 1; n <= opts.Messages; n++ {
				if err := s.Publish(n); err != nil {
					return fmt.Errorf("%s publish %d: %w", s.ClientID, n, err)
				}
				if opts.Interval > 0 {
					select {
					case <-time.After(opts.Interval):
					case <-gctx.Done():
						return gctx.Err()
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	perSession := (opts.Clients - 1) * opts.Messages
	waitErr := waitFor(ctx, func() bool {
		for _, s := range sessions {
			if s.Received() < perSession {
				return false
			}
		}
		return true
	})

	report := &Report{
		Clients:  opts.Clients,
		Messages: opts.Messages,
		Expected: perSession * opts.Clients,
		Elapsed:  time.Since(start),
	}
	var latencies []time.Duration
	for _, s := range sessions {
		s.mu.Lock()
		report.Received += s.received
		report.OutOfOrder += s.outOfOrder
		report.Errors += s.errors
		latencies = append(latencies, s.latencies...)
		s.mu.Unlock()
	}
	sortDurations(latencies)
	report.P50 = percentile(latencies, 0.50)
	report.P99 = percentile(latencies, 0.99)
	report.Max = percentile(latencies, 1)

	if waitErr != nil {
		return report, fmt.Errorf("waiting for deltas: %w", waitErr)
	}
	return report, nil
}

func waitFor(ctx context.Context, cond func() bool) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if cond() {
			return nil
		}
		select {
		case <-ctx.Done():
			return errTimeout
		case <-ticker.C:
		}
	}
}
