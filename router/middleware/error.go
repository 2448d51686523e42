package middleware

import (
	"net/http"

	"emperror.dev/errors"
	"github.com/gin-gonic/gin"

	"github.com/luigi-project/hearth/manifest"
	"github.com/luigi-project/hearth/registry"
	"github.com/luigi-project/hearth/status"
	"github.com/luigi-project/hearth/supervisor"
)

// ErrorResponse is the structured error shape returned by the API. A corrupt
// record produces one of these, never a partially parsed record.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	RequestID string `json:"request_id,omitempty"`
}

// CaptureErrors converts errors attached to the gin context during handler
// execution into structured responses.
func CaptureErrors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if err := c.Errors.Last(); err != nil && !c.Writer.Written() {
			respond(c, err.Err)
		}
	}
}

// CaptureAndAbort attaches an error to the request, logs it, and aborts with
// the structured response mapped from the error's kind.
func CaptureAndAbort(c *gin.Context, err error) {
	c.Abort()
	_ = c.Error(err)
	ExtractLogger(c).WithField("error", err).Warn("request failed")
	respond(c, err)
}

func respond(c *gin.Context, err error) {
	code, kind := classify(err)
	message := err.Error()
	if code == http.StatusInternalServerError {
		// Internal detail stays in the logs; the client only learns that the
		// request failed.
		message = "An unexpected error was encountered while processing this request."
	}
	c.AbortWithStatusJSON(code, ErrorResponse{
		Error:     message,
		Kind:      kind,
		RequestID: RequestID(c),
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, manifest.ErrNotFound):
		return http.StatusNotFound, "source_missing"
	case errors.Is(err, registry.ErrCorrupt):
		return http.StatusInternalServerError, "corrupt_record"
	case errors.Is(err, status.ErrActionNotSupported):
		return http.StatusBadRequest, "action_not_supported"
	case errors.Is(err, status.ErrUnknownAction):
		return http.StatusBadRequest, "unknown_action"
	case errors.Is(err, supervisor.ErrControlFailed):
		return http.StatusBadGateway, "service_control_failed"
	}
	return http.StatusInternalServerError, "internal"
}
