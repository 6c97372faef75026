package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-dev/aegis-api/internal/models"
	appErrors "github.com/aegis-dev/aegis-api/pkg/errors"
)

type validatorStub struct {
	claims *models.JWTClaims
	err    error
}

func (v *validatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.claims, nil
}

func newJWTRouter(v TokenValidator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", JWT(v), func(c *gin.Context) {
		claims := c.MustGet(ContextUserKey).(*models.JWTClaims)
		c.JSON(http.StatusOK, gin.H{"user_id": claims.UserID})
	})
	return r
}

func TestJWTMissingHeader(t *testing.T) {
	r := newJWTRouter(&validatorStub{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTMalformedHeader(t *testing.T) {
	r := newJWTRouter(&validatorStub{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Token abc")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTExpiredTokenStatus(t *testing.T) {
	r := newJWTRouter(&validatorStub{err: appErrors.Clone(appErrors.ErrTokenExpired, "")})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer expired")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "TOKEN_EXPIRED")
}

func TestJWTValidTokenSetsClaims(t *testing.T) {
	r := newJWTRouter(&validatorStub{claims: &models.JWTClaims{UserID: "u1", Role: models.RoleStudent}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer good")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "u1")
}

type checkerStub struct {
	active bool
	err    error
}

func (c *checkerStub) HasActiveSubscription(ctx context.Context, userID string) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	return c.active, nil
}

func newGatedRouter(v TokenValidator, checker SubscriptionChecker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/exam", JWT(v), RequireSubscription(checker), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestRequireSubscriptionDenied(t *testing.T) {
	v := &validatorStub{claims: &models.JWTClaims{UserID: "u1", Role: models.RoleStudent}}
	r := newGatedRouter(v, &checkerStub{active: false})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/exam", nil)
	req.Header.Set("Authorization", "Bearer good")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "SUBSCRIPTION_REQUIRED")
}

func TestRequireSubscriptionCheckFailure(t *testing.T) {
	v := &validatorStub{claims: &models.JWTClaims{UserID: "u1", Role: models.RoleStudent}}
	checkErr := appErrors.Wrap(errors.New("redis down"), appErrors.ErrSubscriptionCheck.Code, appErrors.ErrSubscriptionCheck.Status, "unable to verify subscription")
	r := newGatedRouter(v, &checkerStub{err: checkErr})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/exam", nil)
	req.Header.Set("Authorization", "Bearer good")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "SUBSCRIPTION_CHECK_FAILED")
}

func TestRequireSubscriptionAllowed(t *testing.T) {
	v := &validatorStub{claims: &models.JWTClaims{UserID: "u1", Role: models.RoleStudent}}
	r := newGatedRouter(v, &checkerStub{active: true})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/exam", nil)
	req.Header.Set("Authorization", "Bearer good")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	admin := &validatorStub{claims: &models.JWTClaims{UserID: "a1", Role: models.RoleAdmin}}
	r.POST("/admin", JWT(admin), RequireRoles(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin", nil)
	req.Header.Set("Authorization", "Bearer good")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	student := &validatorStub{claims: &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}}
	r2 := gin.New()
	r2.POST("/admin", JWT(student), RequireRoles(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/admin", nil)
	req2.Header.Set("Authorization", "Bearer good")
	r2.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusForbidden, w2.Code)
}
