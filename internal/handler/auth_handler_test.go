package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/aegis-dev/aegis-api/internal/models"
)

type authServiceStub struct {
	user *models.User
	err  error
}

func (s *authServiceStub) Register(ctx context.Context, req models.RegisterRequest) (*models.UserInfo, error) {
	return nil, s.err
}

func (s *authServiceStub) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	return nil, s.err
}

func (s *authServiceStub) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest) error {
	return s.err
}

func (s *authServiceStub) Profile(ctx context.Context, userID string) (*models.User, error) {
	return s.user, s.err
}

func newAuthRouter(stub *authServiceStub) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewAuthHandler(stub)
	r := gin.New()
	g := r.Group("/auth")
	g.POST("/verify-token", withClaims, h.Verify)
	return r
}

func TestVerifyTokenRoute(t *testing.T) {
	r := newAuthRouter(&authServiceStub{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/verify-token", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"valid":true`)
	assert.Contains(t, w.Body.String(), "u1")
}

func TestVerifyTokenRejectsGet(t *testing.T) {
	r := newAuthRouter(&authServiceStub{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/verify-token", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVerifyWithoutClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewAuthHandler(&authServiceStub{})
	r := gin.New()
	r.POST("/auth/verify-token", h.Verify)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/verify-token", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
