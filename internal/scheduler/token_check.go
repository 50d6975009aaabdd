package scheduler

import (
	"context"
	"fmt"

	"github.com/sageinvest/kis-engine/internal/logger"
	"github.com/sageinvest/kis-engine/internal/model"
)

type TokenManager interface {
	IsExpiringSoon(ctx context.Context) (bool, error)
	ForceRefresh(ctx context.Context) (model.AccessToken, error)
}

// TokenCheckJob refreshes the broker token when it is inside the
// staleness margin. Both steps are idempotent, so overlapping runs and
// manual refreshes are harmless.
type TokenCheckJob struct {
	manager TokenManager
	logger  logger.Logger
}

func NewTokenCheckJob(manager TokenManager, logger logger.Logger) *TokenCheckJob {
	return &TokenCheckJob{manager: manager, logger: logger}
}

func (j *TokenCheckJob) Name() string {
	return "token-check"
}

func (j *TokenCheckJob) Run() error {
	ctx := context.Background()

	expiring, err := j.manager.IsExpiringSoon(ctx)
	if err != nil {
		return fmt.Errorf("%w: can't check token staleness", err)
	}
	if !expiring {
		return nil
	}

	j.logger.Infof("token is expiring soon, refreshing")
	if _, err := j.manager.ForceRefresh(ctx); err != nil {
		return fmt.Errorf("%w: can't refresh token", err)
	}
	return nil
}
