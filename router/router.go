package router

import (
	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/gin-gonic/gin"

	"github.com/luigi-project/hearth/config"
	"github.com/luigi-project/hearth/installer"
	"github.com/luigi-project/hearth/registry"
	"github.com/luigi-project/hearth/router/middleware"
	"github.com/luigi-project/hearth/status"
	"github.com/luigi-project/hearth/updates"
)

// Configure configures the routing infrastructure for this daemon instance.
func Configure(store *registry.Store, agg *status.Aggregator, checker *updates.Checker, inst *installer.Installer) *gin.Engine {
	gin.SetMode("release")

	router := gin.New()
	// Module paths arrive URL-encoded ("motion-detection%2Fmario") in the
	// :module parameter; raw-path matching keeps the encoded slash intact
	// until the parameter is unescaped.
	router.UseRawPath = true
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(config.Get().Api.TrustedProxies); err != nil {
		panic(errors.WithStack(err))
	}
	router.Use(middleware.AttachRequestID(), middleware.CaptureErrors(), middleware.SetAccessControlHeaders())
	router.Use(
		middleware.AttachStore(store),
		middleware.AttachAggregator(agg),
		middleware.AttachChecker(checker),
		middleware.AttachInstaller(inst),
	)
	router.Use(gin.LoggerWithFormatter(func(params gin.LogFormatterParams) string {
		log.WithFields(log.Fields{
			"client_ip":  params.ClientIP,
			"status":     params.StatusCode,
			"latency":    params.Latency,
			"request_id": params.Keys["request_id"],
		}).Debugf("%s %s", params.Method, params.Path)

		return ""
	}))

	// All the routes beyond this point require the correct Authorization
	// header to be provided.
	protected := router.Group("")
	protected.Use(middleware.RequireAuthorization())
	protected.GET("/api/system", getSystemInformation)

	protected.GET("/api/modules", getModules)
	module := protected.Group("/api/modules/:module")
	{
		module.GET("", getModule)
		module.GET("/update-check", getModuleUpdateCheck)
		module.POST("/start", postModuleStart)
		module.POST("/stop", postModuleStop)
		module.POST("/restart", postModuleRestart)
		module.POST("/install", postModuleInstall)
		module.DELETE("", deleteModule)
	}

	return router
}
