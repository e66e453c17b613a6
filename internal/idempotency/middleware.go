package idempotency

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HeaderName is the request header carrying the client-supplied key.
const HeaderName = "Idempotency-Key"

// responseRecorder tees the handler's response body so it can be stored
// against the key after the handler returns.
type responseRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (recorder *responseRecorder) Write(data []byte) (int, error) {
	recorder.body.Write(data)
	return recorder.ResponseWriter.Write(data)
}

func (recorder *responseRecorder) WriteString(data string) (int, error) {
	recorder.body.WriteString(data)
	return recorder.ResponseWriter.WriteString(data)
}

// Middleware replays stored responses for repeated Idempotency-Key values
// and records the response of first executions. Requests without the header
// pass through untouched.
func Middleware(store Store, now func() int64, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx *gin.Context) {
		key := ctx.GetHeader(HeaderName)
		if key == "" {
			ctx.Next()
			return
		}
		outcome, err := store.GetOrReserve(ctx.Request.Context(), key, now())
		if err != nil {
			logger.Error("idempotency reservation failed",
				zap.String("key", key),
				zap.Error(err),
			)
			ctx.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": gin.H{"code": "idempotency_unavailable", "message": "idempotency store unavailable"},
			})
			return
		}
		if outcome.Replay {
			ctx.Data(outcome.StatusCode, "application/json", outcome.Response)
			ctx.Abort()
			return
		}
		recorder := &responseRecorder{ResponseWriter: ctx.Writer}
		ctx.Writer = recorder
		ctx.Next()
		if completeErr := store.Complete(ctx.Request.Context(), key, recorder.Status(), json.RawMessage(recorder.body.Bytes())); completeErr != nil {
			// The operation already ran; a lost completion only means the
			// next retry re-executes, which handlers must tolerate.
			logger.Error("idempotency completion failed",
				zap.String("key", key),
				zap.Error(completeErr),
			)
		}
	}
}
