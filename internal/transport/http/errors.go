package httptransport

import (
	"errors"
	"net/http"

	"github.com/zhiyuan411/public-share/internal/security"
	"github.com/zhiyuan411/public-share/internal/service"
	"github.com/zhiyuan411/public-share/internal/storage"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = []struct {
	err    error
	status int
	msg    string
}{
	{service.ErrEmptySubmission, http.StatusBadRequest, MsgEmptySubmission},
	{service.ErrStorageUnavailable, http.StatusInternalServerError, MsgStorageUnavailable},
	{service.ErrUnknownSetting, http.StatusBadRequest, "未知的设置项"},
	{service.ErrInvalidSettingValue, http.StatusBadRequest, "设置值无效"},
	{storage.ErrBlobNotFound, http.StatusNotFound, MsgBlobNotFound},
	{security.ErrInvalidFilename, http.StatusBadRequest, MsgInvalidFilename},
}

// classify 返回错误对应的 HTTP 状态码和中文消息，未知错误按内部错误处理
func classify(err error) (int, string) {
	for _, m := range errorMessages {
		if errors.Is(err, m.err) {
			return m.status, m.msg
		}
	}
	return http.StatusInternalServerError, MsgInternalError
}

// 通用错误消息
const (
	MsgInvalidRequest     = "请求参数格式错误"
	MsgInvalidPostID      = "帖子ID格式无效"
	MsgEmptySubmission    = "内容不能为空，请输入文本或选择附件"
	MsgNothingSaved       = "所有附件均未能保存"
	MsgBodyTooLarge       = "上传内容超过大小限制"
	MsgStorageUnavailable = "存储服务暂不可用，请稍后再试"
	MsgInternalError      = "服务器内部错误"
	MsgEmptyBoard         = "暂无内容，或所有消息已过期"
	MsgDeleted            = "删除成功"
	MsgBlobNotFound       = "文件不存在或已过期"
	MsgInvalidFilename    = "文件名无效"
)
