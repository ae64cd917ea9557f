package batch

import (
	"context"
	"time"

	"github.com/cozy-creator/captioner/internal/types"
	"go.uber.org/zap"
)

// Poller waits for a job by checking its status at a fixed interval.
type Poller struct {
	endpoint Endpoint
	interval time.Duration
	logger   *zap.Logger
}

func NewPoller(endpoint Endpoint, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		endpoint: endpoint,
		interval: interval,
		logger:   logger,
	}
}

// Wait sleeps one interval before every status request and returns the first
// terminal status. It never polls again after that.
func (p *Poller) Wait(ctx context.Context, id string, label string) (*JobStatusResponse, error) {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		resp, err := p.endpoint.Status(ctx, id)
		if err != nil {
			return nil, err
		}

		if resp.Status.IsTerminal() {
			return resp, nil
		}

		switch resp.Status {
		case types.StatusInQueue, types.StatusQueued, types.StatusInProgress:
			p.logger.Info("Job status", zap.String("item", label), zap.String("status", string(resp.Status)))
		default:
			p.logger.Warn("Unknown job status", zap.String("item", label), zap.String("status", string(resp.Status)))
		}

		timer.Reset(p.interval)
	}
}
