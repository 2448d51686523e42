package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/luigi-project/hearth/router/middleware"
	"github.com/luigi-project/hearth/system"
)

// getSystemInformation returns a summary of the host this instance runs on.
func getSystemInformation(c *gin.Context) {
	info, err := system.GetSystemInformation(c.Request.Context())
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}
