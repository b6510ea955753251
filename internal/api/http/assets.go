package http

import (
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Asset serves files that relative requires resolved to asset URIs
func (h *Handlers) Asset(c *gin.Context) {
	if h.assetsDir == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "assets are not served"})
		return
	}

	name := path.Clean("/" + c.Param("path"))
	full := filepath.Join(h.assetsDir, filepath.FromSlash(name))

	if info, err := os.Stat(full); err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "asset not found", "path": name})
		return
	}

	data, err := os.ReadFile(full)
	if err != nil {
		h.logger.Warn("Failed to read asset", zap.String("path", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read asset"})
		return
	}

	c.Data(http.StatusOK, mimetype.Detect(data).String(), data)
}
