package httptransport

import (
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zhiyuan411/public-share/internal/domain"
	"github.com/zhiyuan411/public-share/internal/security"
	"github.com/zhiyuan411/public-share/internal/storage"
)

// BlobHandler 附件下载接口
type BlobHandler struct {
	blobs storage.BlobStore
	log   *zap.Logger
}

// NewBlobHandler 创建附件下载处理器
func NewBlobHandler(blobs storage.BlobStore, log *zap.Logger) *BlobHandler {
	return &BlobHandler{blobs: blobs, log: log}
}

// serve 返回指定类型附件的下载处理函数。
//
// 图片以内联方式返回，只使用图片类 Content-Type；文件一律作为附件下载。
func (h *BlobHandler) serve(kind domain.AssetKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("filename")
		if err := security.ValidateStoredName(name); err != nil {
			NotFound(c, MsgBlobNotFound)
			return
		}

		rc, err := h.blobs.Open(c.Request.Context(), kind.Dir, name)
		if err != nil {
			if errors.Is(err, storage.ErrBlobNotFound) {
				NotFound(c, MsgBlobNotFound)
				return
			}
			h.log.Error("failed to open blob", zap.String("kind", kind.Name), zap.String("filename", name), zap.Error(err))
			InternalError(c, MsgStorageUnavailable)
			return
		}
		defer rc.Close()

		contentType := "application/octet-stream"
		disposition := "attachment"
		if kind.SniffImage {
			if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); strings.HasPrefix(t, "image/") && t != "image/svg+xml" {
				contentType = t
			}
			disposition = "inline"
		}

		if cd := mime.FormatMediaType(disposition, map[string]string{"filename": downloadName(name)}); cd != "" {
			disposition = cd
		}
		headers := map[string]string{
			"Content-Disposition":    disposition,
			"X-Content-Type-Options": "nosniff",
			"Cache-Control":          "public, max-age=3600",
		}
		c.DataFromReader(http.StatusOK, -1, contentType, rc, headers)
	}
}

// downloadName 去掉存储文件名中的时间和随机前缀
func downloadName(stored string) string {
	if _, rest, ok := strings.Cut(stored, "_"); ok && rest != "" {
		return rest
	}
	return stored
}
