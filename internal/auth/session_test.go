package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"git.platform.alem.school/amibragim/order-tracker/internal/domain/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssueAndVerify(t *testing.T) {
	s := NewSessions(testSecret, "order-tracker", time.Hour)
	who := identity.Identity{Role: identity.RoleRestaurantAdmin, UserID: "u1"}

	token, err := s.Issue(who)
	require.NoError(t, err)

	got, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, who, got)
}

func TestVerifyRejects(t *testing.T) {
	s := NewSessions(testSecret, "order-tracker", time.Hour)
	token, err := s.Issue(identity.Identity{Role: identity.RoleCustomer, UserID: "c1"})
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		other := NewSessions("ffffffffffffffffffffffffffffffff", "order-tracker", time.Hour)
		_, err := other.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewSessions(testSecret, "someone-else", time.Hour)
		_, err := other.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		later := NewSessions(testSecret, "order-tracker", time.Hour)
		later.Now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := later.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := s.Verify("not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestSystemRoleIsNeverIssued(t *testing.T) {
	s := NewSessions(testSecret, "order-tracker", time.Hour)
	_, err := s.Issue(identity.System("sweeper"))
	assert.ErrorIs(t, err, ErrRoleNotIssuable)

	_, err = s.Issue(identity.Identity{})
	assert.ErrorIs(t, err, ErrRoleNotIssuable)
}

func TestFromRequest(t *testing.T) {
	s := NewSessions(testSecret, "order-tracker", time.Hour)
	who := identity.Identity{Role: identity.RoleCustomer, UserID: "c1"}
	token, err := s.Issue(who)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	got, err := s.FromRequest(r)
	require.NoError(t, err)
	assert.True(t, got.Anonymous())

	r = httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	got, err = s.FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, who, got)

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	got, err = s.FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, who, got)

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Basic abc")
	_, err = s.FromRequest(r)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	s := NewSessions(testSecret, "order-tracker", time.Hour)
	var seen identity.Identity
	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = IdentityFrom(r.Context())
	}))

	token, err := s.Issue(identity.Identity{Role: identity.RoleSuperadmin, UserID: "root"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/system/stats", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, seen.Is(identity.RoleSuperadmin))

	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/system/stats", nil)
	r.Header.Set("Authorization", "Bearer nope")
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
