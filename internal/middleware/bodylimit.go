package middleware

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// BodySizeLimit 限制请求体大小的中间件。
//
// Content-Length 已超限时直接拒绝，否则用 MaxBytesReader 限制实际读取量，
// 处理器读取超限时会得到 *http.MaxBytesError。
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes <= 0 {
			c.Next()
			return
		}

		if c.Request.ContentLength > maxBytes {
			abortWithMessage(c, http.StatusRequestEntityTooLarge, "请求体超过 "+strconv.FormatInt(maxBytes, 10)+" 字节上限")
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Header("X-Max-Body-Size", strconv.FormatInt(maxBytes, 10))

		c.Next()
	}
}

// IsBodyTooLarge 判断错误是否由请求体超限引起
func IsBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
