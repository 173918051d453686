package handler

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable/pkg/response"
)

type exportResolver interface {
	ResolveDownload(ctx context.Context, token string) (*os.File, string, error)
}

// DownloadHandler serves rendered exports behind signed tokens.
type DownloadHandler struct {
	exports exportResolver
}

// NewDownloadHandler constructs the handler.
func NewDownloadHandler(exports exportResolver) *DownloadHandler {
	return &DownloadHandler{exports: exports}
}

// Download godoc
// @Summary Download a rendered export
// @Tags Timetables
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} file
// @Failure 401 {object} response.Envelope
// @Router /export/{token} [get]
func (h *DownloadHandler) Download(c *gin.Context) {
	file, name, err := h.exports.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		response.Error(c, err)
		return
	}
	headers := map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, name),
		"Cache-Control":       "private, no-store",
	}
	c.DataFromReader(http.StatusOK, info.Size(), contentType(name), file, headers)
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".pdf":
		return "application/pdf"
	case ".csv":
		return "text/csv; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
