package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgupta-algo/tickrunner/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type persistedToken struct {
	token  string
	expiry time.Time
}

type fakeTokenStore struct {
	mu     sync.Mutex
	byCred map[string]persistedToken
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{byCred: make(map[string]persistedToken)}
}

func (s *fakeTokenStore) ReplaceToken(_ context.Context, _, credentialID, token string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCred[credentialID] = persistedToken{token: token, expiry: expiry}
	return nil
}

func (s *fakeTokenStore) Latest(_ context.Context, _, credentialID string) (string, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pt, ok := s.byCred[credentialID]
	if !ok {
		return "", time.Time{}, domain.ErrNoToken
	}
	return pt.token, pt.expiry, nil
}

func testCred() domain.Credential {
	return domain.Credential{ID: "cred-1", Broker: "sharekhan", CustomerID: "CUST1"}
}

func TestTokenFailsFastWithoutSession(t *testing.T) {
	s := NewSessionTokenStore(time.Minute, nil, testLogger())

	_, err := s.Token(context.Background(), "cred-1")
	assert.ErrorIs(t, err, domain.ErrNoToken)
}

func TestSetTokenAndLookup(t *testing.T) {
	s := NewSessionTokenStore(time.Minute, nil, testLogger())
	ctx := context.Background()

	s.SetToken(ctx, testCred(), domain.SessionToken{Token: "tok-1", ExpiresIn: time.Hour})

	got, err := s.Token(ctx, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", got)
	assert.True(t, s.Valid("cred-1"))
}

func TestSafetyMarginExpiresTokenEarly(t *testing.T) {
	// The margin exceeds the token's lifetime, so the token is born expired.
	s := NewSessionTokenStore(time.Hour, nil, testLogger())
	ctx := context.Background()

	s.SetToken(ctx, testCred(), domain.SessionToken{Token: "tok-1", ExpiresIn: time.Minute})

	_, err := s.Token(ctx, "cred-1")
	assert.ErrorIs(t, err, domain.ErrNoToken)
	assert.False(t, s.Valid("cred-1"))
}

func TestSetTokenMirrorsToPersistence(t *testing.T) {
	persist := newFakeTokenStore()
	s := NewSessionTokenStore(time.Minute, persist, testLogger())
	ctx := context.Background()

	s.SetToken(ctx, testCred(), domain.SessionToken{Token: "tok-1", ExpiresIn: time.Hour})

	token, expiry, err := persist.Latest(ctx, "sharekhan", "cred-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
	assert.WithinDuration(t, time.Now().Add(59*time.Minute), expiry, 5*time.Second)
}

func TestLoadPersistedRestoresLiveToken(t *testing.T) {
	persist := newFakeTokenStore()
	ctx := context.Background()
	require.NoError(t, persist.ReplaceToken(ctx, "sharekhan", "cred-1", "tok-old", time.Now().Add(30*time.Minute)))

	s := NewSessionTokenStore(time.Minute, persist, testLogger())
	require.NoError(t, s.LoadPersisted(ctx, testCred()))

	got, err := s.Token(ctx, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-old", got)
}

func TestLoadPersistedSkipsExpired(t *testing.T) {
	persist := newFakeTokenStore()
	ctx := context.Background()
	require.NoError(t, persist.ReplaceToken(ctx, "sharekhan", "cred-1", "tok-dead", time.Now().Add(-time.Minute)))

	s := NewSessionTokenStore(time.Minute, persist, testLogger())
	require.NoError(t, s.LoadPersisted(ctx, testCred()))

	_, err := s.Token(ctx, "cred-1")
	assert.ErrorIs(t, err, domain.ErrNoToken)
}

func TestLoadPersistedNoTokenIsNotAnError(t *testing.T) {
	s := NewSessionTokenStore(time.Minute, newFakeTokenStore(), testLogger())
	assert.NoError(t, s.LoadPersisted(context.Background(), testCred()))
}

type fakeLogin struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (l *fakeLogin) Login(context.Context, domain.Credential) (domain.SessionToken, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return domain.SessionToken{}, l.err
	}
	return domain.SessionToken{Token: "tok-fresh", ExpiresIn: time.Hour}, nil
}

func TestRefreshSkipsValidTokens(t *testing.T) {
	s := NewSessionTokenStore(time.Minute, nil, testLogger())
	ctx := context.Background()
	cred := testCred()
	s.SetToken(ctx, cred, domain.SessionToken{Token: "tok-live", ExpiresIn: time.Hour})

	login := &fakeLogin{}
	r := NewTokenRefresher(s, login, []domain.Credential{cred}, time.Hour, testLogger())
	r.refreshAll(ctx)

	assert.Zero(t, login.calls)
	got, _ := s.Token(ctx, cred.ID)
	assert.Equal(t, "tok-live", got)
}

func TestRefreshReplacesMissingToken(t *testing.T) {
	s := NewSessionTokenStore(time.Minute, nil, testLogger())
	ctx := context.Background()
	cred := testCred()

	login := &fakeLogin{}
	r := NewTokenRefresher(s, login, []domain.Credential{cred}, time.Hour, testLogger())
	r.refreshAll(ctx)

	assert.Equal(t, 1, login.calls)
	got, err := s.Token(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, "tok-fresh", got)
}

func TestRefreshToleratesLoginFailure(t *testing.T) {
	s := NewSessionTokenStore(time.Minute, nil, testLogger())
	ctx := context.Background()
	cred := testCred()

	login := &fakeLogin{err: errors.New("captcha wall")}
	r := NewTokenRefresher(s, login, []domain.Credential{cred}, time.Hour, testLogger())
	r.refreshAll(ctx)

	_, err := s.Token(ctx, cred.ID)
	assert.ErrorIs(t, err, domain.ErrNoToken)
}
