package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/spf13/viper"
	"github.com/techfix/backend/internal/services"
)

// Sweeper drives the automatic release sweep on a fixed interval. Delivery
// is at-least-once: a tick that overlaps a manual sweep is harmless because
// every release is a conditional update.
type Sweeper struct {
	escrow   *services.EscrowService
	interval time.Duration
	timeout  time.Duration
}

func New(escrow *services.EscrowService) *Sweeper {
	viper.SetDefault("escrow.sweep_interval", 5*time.Minute)
	viper.SetDefault("escrow.sweep_timeout", 2*time.Minute)

	return &Sweeper{
		escrow:   escrow,
		interval: viper.GetDuration("escrow.sweep_interval"),
		timeout:  viper.GetDuration("escrow.sweep_timeout"),
	}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("[SWEEP] Scheduler started, interval %s", s.interval)

	for {
		select {
		case <-ctx.Done():
			log.Println("[SWEEP] Scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.escrow.RunAutomaticReleaseSweep(runCtx, time.Now()); err != nil {
		log.Printf("[SWEEP] Run failed: %v", err)
	}
}
