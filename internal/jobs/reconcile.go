package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pairprep/interview-server-go/internal/repository"
	"github.com/pairprep/interview-server-go/internal/stream"
)

const (
	reconcileBatchSize = 50
	reconcileTimeout   = 30 * time.Second
)

// ReconcileJob sweeps completed sessions whose provider resources could not
// be deleted when the host ended them, and retries the teardown. Ending a
// session never blocks on the provider, so leaks are expected; this job
// keeps them from accumulating.
type ReconcileJob struct {
	sessionRepo repository.SessionRepository
	provisioner stream.Provisioner
	interval    time.Duration
	done        chan struct{}
}

func NewReconcileJob(
	sessionRepo repository.SessionRepository,
	provisioner stream.Provisioner,
	interval time.Duration,
) *ReconcileJob {
	return &ReconcileJob{
		sessionRepo: sessionRepo,
		provisioner: provisioner,
		interval:    interval,
		done:        make(chan struct{}),
	}
}

func (j *ReconcileJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("resource reconcile job started")
}

func (j *ReconcileJob) Stop() {
	close(j.done)
	log.Info().Msg("resource reconcile job stopped")
}

func (j *ReconcileJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.reconcile()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.reconcile()
		}
	}
}

func (j *ReconcileJob) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	sessions, err := j.sessionRepo.ListUnreleased(ctx, reconcileBatchSize)
	if err != nil {
		log.Error().Err(err).Msg("reconcile: failed to list unreleased sessions")
		return
	}

	released := 0
	for _, session := range sessions {
		if j.release(ctx, session.ID, session.CallID) {
			released++
		}
	}

	if released > 0 {
		log.Info().Int("count", released).Msg("reconcile: released leaked provider resources")
	}
}

// release retries both deletions. Both must succeed before the session is
// marked released; a partial success retries in full on the next sweep.
func (j *ReconcileJob) release(ctx context.Context, sessionID, callID string) bool {
	if err := j.provisioner.DeleteCall(ctx, callID); err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Str("callId", callID).Msg("reconcile: call deletion failed")
		return false
	}
	if err := j.provisioner.DeleteChatChannel(ctx, callID); err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Str("callId", callID).Msg("reconcile: chat channel deletion failed")
		return false
	}

	if err := j.sessionRepo.MarkReleased(ctx, sessionID); err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("reconcile: failed to mark session released")
		return false
	}

	return true
}
