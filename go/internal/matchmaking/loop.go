package matchmaking

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/mafia/go/internal/models"
)

// Start runs the periodic matching pass until ctx is cancelled or Stop is
// called, so wait-time escalation applies without new joins.
func (q *Queue) Start(ctx context.Context) error {
	q.runMu.Lock()
	defer q.runMu.Unlock()
	if q.started {
		return ErrAlreadyStarted
	}
	q.started = true

	ctx, q.cancel = context.WithCancel(ctx)
	q.wg.Add(1)
	go q.run(ctx)

	log.Info().Dur("interval", q.config.MatchInterval).Msg("matchmaking loop started")
	return nil
}

// Stop halts the matching loop and waits for it to exit.
func (q *Queue) Stop() {
	q.runMu.Lock()
	cancel := q.cancel
	q.runMu.Unlock()
	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
	log.Info().Msg("matchmaking loop stopped")
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()
	ticker := q.clock.NewTicker(q.config.MatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			q.MatchAll(ctx)
		}
	}
}

// MatchAll forms as many lobbies as the current queues allow and returns
// their ids.
func (q *Queue) MatchAll(ctx context.Context) []string {
	var formed []string
	for _, mode := range models.GameModes {
		for {
			id, ok := q.TryMatch(ctx, mode)
			if !ok {
				break
			}
			formed = append(formed, id)
		}
	}
	if len(formed) > 0 {
		log.Debug().Strs("lobbies", formed).Msg("matching pass formed lobbies")
	}
	return formed
}
