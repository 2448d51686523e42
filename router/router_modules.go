package router

import (
	"net/http"
	"strings"

	"emperror.dev/errors"
	"github.com/gin-gonic/gin"

	"github.com/luigi-project/hearth/registry"
	"github.com/luigi-project/hearth/router/middleware"
	"github.com/luigi-project/hearth/status"
)

// ModuleListResponse contains the summary projection of every non-removed
// module.
type ModuleListResponse struct {
	Data []status.Summary `json:"data"`
}

// resolveModulePath turns the :module route parameter into a registry key.
// The parameter is either a bare module name or a full "<category>/<name>"
// path (URL-encoded); bare names are resolved against the registry.
func resolveModulePath(c *gin.Context) (string, error) {
	param := c.Param("module")
	if strings.Contains(param, "/") {
		return param, nil
	}

	records, err := middleware.ExtractStore(c).List(c.Request.Context(), true)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, rec := range records {
		if rec.Name == param && !rec.IsRemoved() {
			matches = append(matches, rec.ModulePath)
		}
	}
	switch len(matches) {
	case 0:
		// Fall back to removed records so their detail stays reachable.
		for _, rec := range records {
			if rec.Name == param {
				return rec.ModulePath, nil
			}
		}
		return "", errors.WithMessagef(registry.ErrNotFound, "no module named %s", param)
	case 1:
		return matches[0], nil
	default:
		return "", errors.Errorf("module name %s is ambiguous, use the full <category>/<name> path", param)
	}
}

// getModules returns the summary list of all non-removed modules.
func getModules(c *gin.Context) {
	summaries, err := middleware.ExtractAggregator(c).ListSummaries(c.Request.Context())
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	c.JSON(http.StatusOK, ModuleListResponse{Data: summaries})
}

// getModule returns the full record for a module plus, for service modules,
// its live runtime snapshot.
func getModule(c *gin.Context) {
	modulePath, err := resolveModulePath(c)
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	detail, err := middleware.ExtractAggregator(c).GetDetail(c.Request.Context(), modulePath)
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// getModuleUpdateCheck reports version drift between the registry record and
// the module's source manifest.
func getModuleUpdateCheck(c *gin.Context) {
	modulePath, err := resolveModulePath(c)
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	result, err := middleware.ExtractChecker(c).CheckUpdate(c.Request.Context(), modulePath)
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func postModuleStart(c *gin.Context) {
	controlModule(c, status.ActionStart)
}

func postModuleStop(c *gin.Context) {
	controlModule(c, status.ActionStop)
}

func postModuleRestart(c *gin.Context) {
	controlModule(c, status.ActionRestart)
}

// controlModule delegates a control verb to the supervision facility. The
// response intentionally carries no status field: callers must re-fetch the
// module detail, where live data decides what actually happened.
func controlModule(c *gin.Context, action status.Action) {
	modulePath, err := resolveModulePath(c)
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	if err := middleware.ExtractAggregator(c).ControlAction(c.Request.Context(), modulePath, action); err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"applied": string(action), "module_path": modulePath})
}

// postModuleInstall runs the installation routine for a module source already
// present under the modules root, capturing its manifest into the registry.
func postModuleInstall(c *gin.Context) {
	modulePath, err := resolveModulePath(c)
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	rec, err := middleware.ExtractInstaller(c).Install(c.Request.Context(), modulePath)
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// deleteModule soft-deletes a module: its service is stopped best-effort and
// its record marked removed, but retained.
func deleteModule(c *gin.Context) {
	modulePath, err := resolveModulePath(c)
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	rec, err := middleware.ExtractInstaller(c).Remove(c.Request.Context(), modulePath)
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
