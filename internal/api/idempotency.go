package api

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cardvault/valuation-engine/internal/store"
	"github.com/cardvault/valuation-engine/pkg/models"
)

// bodyCapturingWriter buffers everything a handler writes so the idempotency
// middleware can persist the response verbatim for replay (§4.9 step 4).
type bodyCapturingWriter struct {
	gin.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (w *bodyCapturingWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyCapturingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// requireIdempotencyKey wraps a mutating-POST handler with the §4.9
// idempotency protocol: replay a completed token's cached response
// verbatim, reject a concurrent in-progress token with 409, and otherwise
// create a placeholder token before running the handler, completing or
// deleting it based on the handler's status code.
func requireIdempotencyKey(tokens *store.Store, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := SubjectFromContext(c)
		key := c.GetHeader("Idempotency-Key")
		if key == "" {
			writeProblem(c, http.StatusBadRequest, "validation-error", "missing required Idempotency-Key header")
			c.Abort()
			return
		}

		existing, err := tokens.GetToken(c.Request.Context(), subject, key)
		switch {
		case err == nil && existing.Status == models.TokenStatusCompleted:
			c.Data(existing.ResultStatus, "application/json", existing.ResultBody)
			c.Abort()
			return
		case err == nil && existing.Status == models.TokenStatusInProgress:
			writeProblem(c, http.StatusConflict, "conflict/in-progress", "an identical request is already in progress")
			c.Abort()
			return
		case err != nil && !errors.Is(err, store.ErrNotFound):
			writeProblem(c, http.StatusInternalServerError, "data-layer-error", err.Error())
			c.Abort()
			return
		}

		now := time.Now().UTC()
		createErr := tokens.CreateInProgressToken(c.Request.Context(), models.IdempotencyToken{
			Subject: subject, Key: key, Operation: c.Request.URL.Path,
			Status: models.TokenStatusInProgress, CreatedAt: now, ExpiresAt: now.Add(ttl),
		})
		if createErr != nil {
			if errors.Is(createErr, store.ErrConflict) {
				writeProblem(c, http.StatusConflict, "conflict/in-progress", "an identical request is already in progress")
			} else {
				writeProblem(c, http.StatusInternalServerError, "data-layer-error", createErr.Error())
			}
			c.Abort()
			return
		}

		capture := &bodyCapturingWriter{ResponseWriter: c.Writer, status: http.StatusOK}
		c.Writer = capture

		c.Next()

		if capture.status >= 200 && capture.status < 300 {
			_ = tokens.CompleteToken(c.Request.Context(), subject, key, capture.status, capture.buf.Bytes())
		} else {
			_ = tokens.DeleteToken(c.Request.Context(), subject, key)
		}
	}
}
