package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/aegis-dev/aegis-api/internal/models"
	appErrors "github.com/aegis-dev/aegis-api/pkg/errors"
	"github.com/aegis-dev/aegis-api/pkg/response"
)

// SubscriptionChecker answers whether a user holds an active subscription.
type SubscriptionChecker interface {
	HasActiveSubscription(ctx context.Context, userID string) (bool, error)
}

// RequireSubscription gates exam routes on an active subscription. A failed
// check is a server-side error, distinct from a negative answer.
func RequireSubscription(checker SubscriptionChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := claimsValue.(*models.JWTClaims)

		active, err := checker.HasActiveSubscription(c.Request.Context(), claims.UserID)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		if !active {
			response.Error(c, appErrors.Clone(appErrors.ErrSubscriptionRequired, "an active subscription is required"))
			c.Abort()
			return
		}

		c.Next()
	}
}
