package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbank-platform/qbank/internal/profiles"
)

type stubReader struct {
	profiles map[uuid.UUID]*profiles.Profile
	err      error
}

func (s *stubReader) GetByID(_ context.Context, id uuid.UUID) (*profiles.Profile, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.profiles[id], nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware(t *testing.T) {
	mgr := NewJWTManager(testSecret, "qbank", time.Minute)
	userID := uuid.New()

	var seen uuid.UUID
	h := Middleware(mgr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("non-uuid subject rejected", func(t *testing.T) {
		token, err := mgr.GenerateAccessToken("not-a-uuid")
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := mgr.GenerateAccessToken(userID.String())
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, userID, seen)
	})
}

func TestRequireRole(t *testing.T) {
	mgr := NewJWTManager(testSecret, "qbank", time.Minute)
	admin := uuid.New()
	member := uuid.New()
	reader := &stubReader{profiles: map[uuid.UUID]*profiles.Profile{
		admin:  {UserID: admin, Role: profiles.RoleAdmin, MembershipTier: profiles.TierBasic},
		member: {UserID: member, Role: profiles.RoleUser, MembershipTier: profiles.TierBasic},
	}}

	do := func(t *testing.T, r profiles.Reader, id uuid.UUID) int {
		t.Helper()
		token, err := mgr.GenerateAccessToken(id.String())
		require.NoError(t, err)
		h := Middleware(mgr)(RequireRole(r, profiles.RoleAdmin, profiles.RoleSuperAdmin)(okHandler()))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do(t, reader, admin))
	assert.Equal(t, http.StatusForbidden, do(t, reader, member))
	assert.Equal(t, http.StatusForbidden, do(t, reader, uuid.New()))
	assert.Equal(t, http.StatusServiceUnavailable, do(t, &stubReader{err: errors.New("db down")}, admin))
}
