package response

import (
	"net/http"

	"anoa.com/notifyhub/pkg/apperror"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ResponseError standardized error response
func ResponseError(c *gin.Context, err error) {
	code := apperror.MapErrorToStatus(err)

	// Log internal errors
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("internal error")
		c.JSON(code, gin.H{"error": http.StatusText(code)})
		return
	}

	c.JSON(code, gin.H{"error": err.Error()})
}
