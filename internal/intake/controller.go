package intake

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	appErr "optibench/pkg/errors"
	"optibench/pkg/utils/response"
)

// maxArchiveBytes bounds one upload. Agent archives are source trees; far
// below this in practice.
const maxArchiveBytes = 100 << 20

// Controller serves the submission endpoints.
type Controller struct {
	service *Service
}

// NewController creates an intake controller.
func NewController(service *Service) *Controller {
	return &Controller{service: service}
}

// RegisterRoutes mounts the intake endpoints.
func (c *Controller) RegisterRoutes(r *gin.Engine) {
	r.POST("/submit", c.Submit)
	r.GET("/submissions/:filename", c.Download)
}

// Submit handles the multipart upload form. Browser submits are redirected
// back to the leaderboard; API clients get the job id.
func (c *Controller) Submit(ctx *gin.Context) {
	name := ctx.PostForm("name")
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		response.BadRequest(ctx, "archive file is required")
		return
	}
	if fileHeader.Size > maxArchiveBytes {
		response.BadRequest(ctx, "archive too large")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.Error(ctx, appErr.Wrapf(err, appErr.SubmissionCreateFailed,
			"failed to read upload: %v", err))
		return
	}
	defer file.Close()

	jobID, err := c.service.Submit(ctx.Request.Context(), name, fileHeader.Filename, file, fileHeader.Size)
	if err != nil {
		response.Error(ctx, err)
		return
	}

	if wantsHTML(ctx) {
		ctx.Redirect(http.StatusSeeOther, "/")
		return
	}
	response.Success(ctx, gin.H{"job_id": jobID})
}

// Download streams a stored submission archive back.
func (c *Controller) Download(ctx *gin.Context) {
	key := ctx.Param("filename")
	reader, err := c.service.Open(ctx.Request.Context(), key)
	if err != nil {
		response.Error(ctx, err)
		return
	}
	defer reader.Close()

	ctx.Header("Content-Disposition", `attachment; filename="`+key+`"`)
	ctx.Header("Content-Type", "application/zip")
	ctx.Status(http.StatusOK)
	_, _ = io.Copy(ctx.Writer, reader)
}

// wantsHTML reports whether the client is a browser form post rather than
// an API caller.
func wantsHTML(ctx *gin.Context) bool {
	return strings.Contains(ctx.GetHeader("Accept"), "text/html")
}
