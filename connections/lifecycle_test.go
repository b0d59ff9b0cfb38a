package connections

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/link-connect/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type countingObserver struct {
	mu     sync.Mutex
	events map[string]int
}

func (o *countingObserver) AuthSessionEvent(event string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.events == nil {
		o.events = make(map[string]int)
	}
	o.events[event]++
}

func (o *countingObserver) count(event string) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.events[event]
}

func newTestManager(t *testing.T, cfg ManagerConfig) (*AuthSessionManager, *MockAuthSessionAPI) {
	t.Helper()

	ctrl := gomock.NewController(t)
	mockAPI := NewMockAuthSessionAPI(ctrl)

	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}

	m := NewAuthSessionManager(mockAPI, cfg)
	t.Cleanup(m.Wait)

	return m, mockAPI
}

func TestCreate_ReplacesPendingWithoutCanceling(t *testing.T) {
	m, mockAPI := newTestManager(t, ManagerConfig{})
	ctx := context.Background()

	mockAPI.EXPECT().CreateAuthSession(gomock.Any(), "inst_1").Return(&AuthSession{ID: "fcauth_a"}, nil)
	mockAPI.EXPECT().CreateAuthSession(gomock.Any(), "inst_1").Return(&AuthSession{ID: "fcauth_b"}, nil)

	_, err := m.Create(ctx, "inst_1")
	require.NoError(t, err)
	assert.Equal(t, "fcauth_a", m.Pending().ID)

	_, err = m.Create(ctx, "inst_1")
	require.NoError(t, err)
	assert.Equal(t, "fcauth_b", m.Pending().ID)
}

func TestCreate_ErrorLeavesPendingAlone(t *testing.T) {
	obs := &countingObserver{}
	m, mockAPI := newTestManager(t, ManagerConfig{Observer: obs})

	serverErr := api.NewServerError(400, "institution_unavailable", "down", []byte(`{"institution_unavailable":true}`))
	mockAPI.EXPECT().CreateAuthSession(gomock.Any(), "inst_1").Return(nil, serverErr)

	_, err := m.Create(context.Background(), "inst_1")
	se, ok := api.AsServerError(err)
	require.True(t, ok)
	assert.True(t, se.ExtraBool("institution_unavailable"))
	assert.Nil(t, m.Pending())
	assert.Equal(t, 1, obs.count(EventCreateFailed))
}

func TestCancelPendingIfNeeded_TwiceSendsOneCancel(t *testing.T) {
	obs := &countingObserver{}
	m, mockAPI := newTestManager(t, ManagerConfig{Observer: obs})
	ctx := context.Background()

	mockAPI.EXPECT().CreateAuthSession(gomock.Any(), "inst_1").Return(&AuthSession{ID: "fcauth_1"}, nil)
	mockAPI.EXPECT().CancelAuthSession(gomock.Any(), "fcauth_1").Return(&AuthSession{ID: "fcauth_1"}, nil).Times(1)

	_, err := m.Create(ctx, "inst_1")
	require.NoError(t, err)

	m.CancelPendingIfNeeded(ctx)
	assert.Nil(t, m.Pending())
	m.CancelPendingIfNeeded(ctx)

	m.Wait()
	assert.Equal(t, 1, obs.count(EventCanceled))
}

func TestCancelPendingIfNeeded_ConcurrentCallers(t *testing.T) {
	m, mockAPI := newTestManager(t, ManagerConfig{})
	ctx := context.Background()

	mockAPI.EXPECT().CreateAuthSession(gomock.Any(), "inst_1").Return(&AuthSession{ID: "fcauth_1"}, nil)
	mockAPI.EXPECT().CancelAuthSession(gomock.Any(), "fcauth_1").Return(nil, nil).Times(1)

	_, err := m.Create(ctx, "inst_1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.CancelPendingIfNeeded(ctx)
		}()
	}
	wg.Wait()
	m.Wait()
}

func TestCancelPendingIfNeeded_FailureIsDiscarded(t *testing.T) {
	obs := &countingObserver{}
	m, mockAPI := newTestManager(t, ManagerConfig{Observer: obs})
	ctx := context.Background()

	mockAPI.EXPECT().CreateAuthSession(gomock.Any(), "inst_1").Return(&AuthSession{ID: "fcauth_1"}, nil)
	mockAPI.EXPECT().CancelAuthSession(gomock.Any(), "fcauth_1").
		Return(nil, &api.NetworkError{Resource: resourceCancel, Err: errors.New("offline")})

	_, err := m.Create(ctx, "inst_1")
	require.NoError(t, err)

	m.CancelPendingIfNeeded(ctx)
	m.Wait()
	assert.Equal(t, 1, obs.count(EventCancelFailed))
}

func TestCancelPendingIfNeeded_SurvivesCallerCancellation(t *testing.T) {
	m, mockAPI := newTestManager(t, ManagerConfig{})

	mockAPI.EXPECT().CreateAuthSession(gomock.Any(), "inst_1").Return(&AuthSession{ID: "fcauth_1"}, nil)
	mockAPI.EXPECT().CancelAuthSession(gomock.Any(), "fcauth_1").DoAndReturn(
		func(ctx context.Context, _ string) (*AuthSession, error) {
			assert.NoError(t, ctx.Err())
			return nil, nil
		})

	_, err := m.Create(context.Background(), "inst_1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.CancelPendingIfNeeded(ctx)
	m.Wait()
}

func TestAuthorize_PollsThenExchangesToken(t *testing.T) {
	obs := &countingObserver{}
	m, mockAPI := newTestManager(t, ManagerConfig{Observer: obs})
	ctx := context.Background()

	session := &AuthSession{ID: "fcauth_1", IsOAuth: true}
	mockAPI.EXPECT().CreateAuthSession(gomock.Any(), "inst_1").Return(session, nil)
	gomock.InOrder(
		mockAPI.EXPECT().FetchOAuthResults(gomock.Any(), "fcauth_1").Return(nil, api.ErrNotReady).Times(2),
		mockAPI.EXPECT().FetchOAuthResults(gomock.Any(), "fcauth_1").Return(&OAuthResults{PublicToken: "pt_1"}, nil),
	)
	mockAPI.EXPECT().AuthorizeAuthSession(gomock.Any(), "fcauth_1", "pt_1").
		Return(&AuthSession{ID: "fcauth_1", IsOAuth: true, NextPane: PaneAccountPicker}, nil).Times(1)

	_, err := m.Create(ctx, "inst_1")
	require.NoError(t, err)

	got, err := m.Authorize(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, PaneAccountPicker, got.NextPane)
	assert.Nil(t, m.Pending())
	assert.Equal(t, 1, obs.count(EventAuthorized))
}

func TestAuthorize_RejectsLegacySession(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})

	_, err := m.Authorize(context.Background(), &AuthSession{ID: "fcauth_1"})
	var ie *api.IntegrationError
	require.ErrorAs(t, err, &ie)
}

func TestAuthorize_ServerRejectsToken(t *testing.T) {
	m, mockAPI := newTestManager(t, ManagerConfig{})
	session := &AuthSession{ID: "fcauth_1", IsOAuth: true}

	mockAPI.EXPECT().FetchOAuthResults(gomock.Any(), "fcauth_1").Return(&OAuthResults{PublicToken: "bad"}, nil)
	mockAPI.EXPECT().AuthorizeAuthSession(gomock.Any(), "fcauth_1", "bad").
		Return(nil, api.NewServerError(400, "invalid_public_token", "nope", nil))

	_, err := m.Authorize(context.Background(), session)
	_, ok := api.AsServerError(err)
	assert.True(t, ok)
}

func TestAuthorize_ClosedWhilePolling(t *testing.T) {
	m, mockAPI := newTestManager(t, ManagerConfig{PollInterval: time.Hour})
	session := &AuthSession{ID: "fcauth_1", IsOAuth: true}

	mockAPI.EXPECT().FetchOAuthResults(gomock.Any(), "fcauth_1").DoAndReturn(
		func(context.Context, string) (*OAuthResults, error) {
			m.Close()
			return nil, api.ErrNotReady
		})

	_, err := m.Authorize(context.Background(), session)
	assert.ErrorIs(t, err, api.ErrDeallocatedCaller)
	assert.False(t, api.IsRetryable(err))
}

func TestAuthorize_AfterClose(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	m.Close()
	m.Close()

	_, err := m.Authorize(context.Background(), &AuthSession{ID: "fcauth_1", IsOAuth: true})
	assert.ErrorIs(t, err, api.ErrDeallocatedCaller)

	_, err = m.Create(context.Background(), "inst_1")
	assert.ErrorIs(t, err, api.ErrDeallocatedCaller)
}

func TestCreate_ClosedInFlightCancelsOrphan(t *testing.T) {
	m, mockAPI := newTestManager(t, ManagerConfig{})

	mockAPI.EXPECT().CreateAuthSession(gomock.Any(), "inst_1").DoAndReturn(
		func(context.Context, string) (*AuthSession, error) {
			m.Close()
			return &AuthSession{ID: "fcauth_orphan"}, nil
		})
	mockAPI.EXPECT().CancelAuthSession(gomock.Any(), "fcauth_orphan").Return(nil, nil)

	_, err := m.Create(context.Background(), "inst_1")
	assert.ErrorIs(t, err, api.ErrDeallocatedCaller)
	assert.Nil(t, m.Pending())
	m.Wait()
}

func TestRetrieve_DisabledSkipsRequest(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{DisableRetrieval: true})
	session := &AuthSession{ID: "fcauth_1"}

	got, err := m.Retrieve(context.Background(), session)
	require.NoError(t, err)
	assert.Same(t, session, got)
}

func TestRetrieve(t *testing.T) {
	m, mockAPI := newTestManager(t, ManagerConfig{})

	mockAPI.EXPECT().RetrieveAuthSession(gomock.Any(), "fcauth_1").Return(&AuthSession{ID: "fcauth_1", Status: StatusSuccess}, nil)

	got, err := m.Retrieve(context.Background(), &AuthSession{ID: "fcauth_1"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)
}

func TestClearReturnURL_Manager(t *testing.T) {
	m, mockAPI := newTestManager(t, ManagerConfig{})

	mockAPI.EXPECT().ClearReturnURL(gomock.Any(), "fcauth_1", "https://p.example/?return_url=x").
		Return(&AuthSession{ID: "fcauth_1"}, nil)

	_, err := m.ClearReturnURL(context.Background(), &AuthSession{ID: "fcauth_1"}, "https://p.example/?return_url=x")
	require.NoError(t, err)
}
