package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sageinvest/kis-engine/internal/logger"
	"github.com/sageinvest/kis-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeManager struct {
	expiring   bool
	checkErr   error
	refreshErr error
	refreshes  int
}

func (f *fakeManager) IsExpiringSoon(context.Context) (bool, error) {
	return f.expiring, f.checkErr
}

func (f *fakeManager) ForceRefresh(context.Context) (model.AccessToken, error) {
	f.refreshes++
	if f.refreshErr != nil {
		return model.AccessToken{}, f.refreshErr
	}
	return model.AccessToken{AccessToken: "tok", ExpiresAt: time.Now().Add(24 * time.Hour)}, nil
}

func TestTokenCheckJob_RefreshesWhenExpiring(t *testing.T) {
	m := &fakeManager{expiring: true}
	job := NewTokenCheckJob(m, logger.NewNopLogger())

	require.NoError(t, job.Run())
	assert.Equal(t, 1, m.refreshes)
}

func TestTokenCheckJob_SkipsFreshToken(t *testing.T) {
	m := &fakeManager{expiring: false}
	job := NewTokenCheckJob(m, logger.NewNopLogger())

	require.NoError(t, job.Run())
	assert.Equal(t, 0, m.refreshes)
}

func TestTokenCheckJob_PropagatesErrors(t *testing.T) {
	checkErr := errors.New("db down")
	m := &fakeManager{checkErr: checkErr}
	job := NewTokenCheckJob(m, logger.NewNopLogger())

	assert.ErrorIs(t, job.Run(), checkErr)

	m = &fakeManager{expiring: true, refreshErr: errors.New("broker down")}
	job = NewTokenCheckJob(m, logger.NewNopLogger())
	assert.Error(t, job.Run())
}
