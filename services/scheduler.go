// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Image hashes older than this no longer contribute to duplicate detection
// and are swept from the store.
const hashRetention = 7 * 24 * time.Hour

// StartMaintenanceScheduler runs the periodic housekeeping jobs.
func (s *FraudDetectionService) StartMaintenanceScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Every hour: prune stale perceptual hashes
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Hour),
		gocron.NewTask(func() {
			if s.Hashes == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			removed, err := s.Hashes.Prune(ctx, time.Now().Add(-hashRetention))
			if err != nil {
				log.Printf("[Scheduler] Hash prune failed: %v", err)
				return
			}
			if removed > 0 {
				log.Printf("🧹 Pruned %d stale image hashes", removed)
			}
		}),
	)
}
