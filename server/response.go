package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kbukum/regd/errors"
	"github.com/kbukum/regd/logger"
)

// retryAfter is the hint sent with 429 and 503 responses, in seconds.
const retryAfter = "1"

// RespondWithError writes err as an error envelope. Errors that are not
// *errors.AppError are logged and reported as INTERNAL_ERROR so their text
// never reaches clients.
func RespondWithError(c *gin.Context, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		logger.Global().WithContext(c.Request.Context()).
			Error("Unhandled error", logger.ErrorFields(c.FullPath(), err))
		appErr = apperrors.Internal(err)
	}
	switch appErr.HTTPStatus {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		c.Header("Retry-After", retryAfter)
	}
	c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.ToResponse())
}

// RespondOK writes data as a 200 JSON body.
func RespondOK(c *gin.Context, data any) { c.JSON(http.StatusOK, data) }

// RespondNoContent writes an empty 204.
func RespondNoContent(c *gin.Context) { c.Status(http.StatusNoContent) }
