package httptransport

import (
	"net"
	"net/http"
	"strings"

	"github.com/zhiyuan411/public-share/internal/domain"
)

const unknownIP = "unknown"

// ClientIP 按代理头优先级获取客户端地址：
// CF-Connecting-IP、X-Real-IP、X-Forwarded-For 第一项，最后是连接地址。
func ClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if addr == "" {
		return unknownIP
	}
	return addr
}

// requestMeta 提取发布请求的来源信息
func requestMeta(r *http.Request) domain.RequestMeta {
	return domain.RequestMeta{
		UserAgent: strings.TrimSpace(r.UserAgent()),
		IPAddress: ClientIP(r),
	}
}
