package httptransport

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zhiyuan411/public-share/internal/domain"
	"github.com/zhiyuan411/public-share/internal/middleware"
	"github.com/zhiyuan411/public-share/internal/service"
)

// multipartMemory 解析表单时保留在内存中的上限，超出部分写入临时文件
const multipartMemory = 8 << 20

// PostHandler 帖子相关接口
type PostHandler struct {
	engine *service.Engine
	log    *zap.Logger
}

// NewPostHandler 创建帖子处理器
func NewPostHandler(engine *service.Engine, log *zap.Logger) *PostHandler {
	return &PostHandler{engine: engine, log: log}
}

type assetResponse struct {
	ID           uint64    `json:"id"`
	Filename     string    `json:"filename"`
	OriginalName string    `json:"original_name"`
	Size         int64     `json:"size"`
	SizeText     string    `json:"size_text"`
	URL          string    `json:"url"`
	CreatedAt    time.Time `json:"created_at"`
}

type postResponse struct {
	ID          uint64          `json:"id"`
	Content     *string         `json:"content"`
	CreatedAt   time.Time       `json:"created_at"`
	TextExpire  *time.Time      `json:"text_expire"`
	ImageExpire *time.Time      `json:"image_expire"`
	FileExpire  *time.Time      `json:"file_expire"`
	UserAgent   string          `json:"user_agent,omitempty"`
	IPAddress   string          `json:"ip_address,omitempty"`
	Images      []assetResponse `json:"images"`
	Files       []assetResponse `json:"files"`
}

type pageResponse struct {
	Posts        []postResponse `json:"posts"`
	Page         int            `json:"page"`
	PageSize     int            `json:"page_size"`
	TotalPages   int            `json:"total_pages"`
	Total        int64          `json:"total"`
	ShowUserInfo bool           `json:"show_user_info"`
}

type createResponse struct {
	ID      uint64                `json:"id,omitempty"`
	Images  []assetResponse       `json:"images"`
	Files   []assetResponse       `json:"files"`
	Skipped []domain.SkippedAsset `json:"skipped"`
}

func toAssetResponses(kind domain.AssetKind, assets []domain.Asset) []assetResponse {
	out := make([]assetResponse, 0, len(assets))
	for _, a := range assets {
		out = append(out, assetResponse{
			ID:           a.ID,
			Filename:     a.Filename,
			OriginalName: a.OriginalName,
			Size:         a.Size,
			SizeText:     domain.FormatSize(a.Size),
			URL:          "/" + kind.Dir + "/" + a.Filename,
			CreatedAt:    a.CreatedAt,
		})
	}
	return out
}

func toPostResponse(p *domain.Post) postResponse {
	return postResponse{
		ID:          p.ID,
		Content:     p.Content,
		CreatedAt:   p.CreatedAt,
		TextExpire:  p.TextExpire,
		ImageExpire: p.ImageExpire,
		FileExpire:  p.FileExpire,
		UserAgent:   p.UserAgent,
		IPAddress:   p.IPAddress,
		Images:      toAssetResponses(domain.ImageKind, p.Images),
		Files:       toAssetResponses(domain.FileKind, p.Files),
	}
}

// respondError 按错误类型输出统一响应
func (h *PostHandler) respondError(c *gin.Context, err error) {
	status, msg := classify(err)
	if status >= 500 {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	Error(c, status, msg)
}

// createPost 发布帖子（multipart 表单：content、images、files）
func (h *PostHandler) createPost(c *gin.Context) {
	form, err := c.MultipartForm()
	if errors.Is(err, http.ErrNotMultipart) {
		// 纯文本帖子也可以用普通表单提交
		form = &multipart.Form{Value: map[string][]string{"content": {c.PostForm("content")}}}
		err = nil
	}
	if err != nil {
		if middleware.IsBodyTooLarge(err) {
			Error(c, CodeTooLarge, MsgBodyTooLarge)
			return
		}
		BadRequest(c, MsgInvalidRequest)
		return
	}
	defer form.RemoveAll()

	uploads := func(keys ...string) ([]domain.Upload, []multipart.File, error) {
		var out []domain.Upload
		var opened []multipart.File
		for _, key := range keys {
			for _, fh := range form.File[key] {
				f, err := fh.Open()
				if err != nil {
					return out, opened, err
				}
				opened = append(opened, f)
				out = append(out, domain.Upload{Name: fh.Filename, Size: fh.Size, Body: f})
			}
		}
		return out, opened, nil
	}

	images, openedImages, err := uploads("images", "images[]")
	defer closeAll(openedImages)
	if err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	files, openedFiles, err := uploads("files", "files[]")
	defer closeAll(openedFiles)
	if err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	var content string
	if values := form.Value["content"]; len(values) > 0 {
		content = values[0]
	}

	result, err := h.engine.Create(c.Request.Context(), service.CreateInput{
		Content: content,
		Images:  images,
		Files:   files,
		Meta:    requestMeta(c.Request),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := createResponse{
		ID:      result.PostID,
		Images:  toAssetResponses(domain.ImageKind, result.Images),
		Files:   toAssetResponses(domain.FileKind, result.Files),
		Skipped: result.Skipped,
	}
	if resp.Skipped == nil {
		resp.Skipped = []domain.SkippedAsset{}
	}

	if !result.Created() {
		if writeFailedOnly(result.Skipped) {
			// 全部写入失败按存储故障处理
			h.log.Error("all attachments failed to store", zap.Int("skipped", len(result.Skipped)))
			status, msg := classify(service.ErrStorageUnavailable)
			ErrorWithData(c, status, msg, resp)
			return
		}
		BadRequestWithData(c, MsgNothingSaved, resp)
		return
	}
	Created(c, resp)
}

func writeFailedOnly(skipped []domain.SkippedAsset) bool {
	if len(skipped) == 0 {
		return false
	}
	for _, s := range skipped {
		if s.Reason != domain.SkipWriteFailed {
			return false
		}
	}
	return true
}

// deletePost 删除帖子，帖子不存在时同样返回成功
func (h *PostHandler) deletePost(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, MsgInvalidPostID)
		return
	}

	deleted, err := h.engine.Delete(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	SuccessWithMsg(c, MsgDeleted, gin.H{"id": id, "deleted": deleted})
}

// listPosts 分页查询帖子，page 参数无效时按第 1 页处理
func (h *PostHandler) listPosts(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		page = 1
	}

	result, err := h.engine.List(c.Request.Context(), page)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := pageResponse{
		Posts:        make([]postResponse, 0, len(result.Posts)),
		Page:         result.Page,
		PageSize:     result.PageSize,
		TotalPages:   result.TotalPages,
		Total:        result.Total,
		ShowUserInfo: result.ShowUserInfo,
	}
	for i := range result.Posts {
		resp.Posts = append(resp.Posts, toPostResponse(&result.Posts[i]))
	}

	if len(resp.Posts) == 0 {
		SuccessWithMsg(c, MsgEmptyBoard, resp)
		return
	}
	Success(c, resp)
}

// getSettings 返回公开设置
func (h *PostHandler) getSettings(c *gin.Context) {
	settings, err := h.engine.Settings(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	Success(c, settings)
}

func closeAll(files []multipart.File) {
	for _, f := range files {
		f.Close()
	}
}
