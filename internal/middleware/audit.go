package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/batch-enrollment/internal/models"
	"github.com/noah-isme/batch-enrollment/pkg/middleware/requestid"
)

// Audit writes one structured audit entry per successful admin decision.
// Rejected requests are already visible in the access log.
func Audit(logger *zap.Logger, action string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("audit")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.Writer.Status() >= 400 {
			return
		}

		actor := ""
		if value, ok := c.Get(ContextUserKey); ok {
			if claims, ok := value.(*models.JWTClaims); ok && claims != nil {
				actor = claims.UserID
			}
		}
		logger.Info(action,
			zap.String("actor", actor),
			zap.String("user_id", c.Param("userId")),
			zap.String("batch_id", c.Param("batchId")),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.String("request_id", requestid.Value(c)),
		)
	}
}
