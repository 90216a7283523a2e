package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zhiyuan411/public-share/internal/config"
	"github.com/zhiyuan411/public-share/internal/domain"
	"github.com/zhiyuan411/public-share/internal/middleware"
	"github.com/zhiyuan411/public-share/internal/service"
	"github.com/zhiyuan411/public-share/internal/storage"
	"github.com/zhiyuan411/public-share/internal/storage/memory"
	sqlstore "github.com/zhiyuan411/public-share/internal/storage/sql"
)

var dbSeq atomic.Int64

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)

type testServer struct {
	router   *gin.Engine
	settings *service.SettingsService
	blobs    *memory.Store
}

type serverOptions struct {
	blobs          storage.BlobStore // 为空时使用 memory.Store
	limiter        *middleware.IPRateLimiter
	trustedProxies []string
}

func newTestServer(t *testing.T, maxBody int64) *testServer {
	t.Helper()
	return newCustomServer(t, maxBody, serverOptions{})
}

func newCustomServer(t *testing.T, maxBody int64, opts serverOptions) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:http_%d?mode=memory&cache=shared", dbSeq.Add(1))
	store, err := sqlstore.NewStoreWithDialector(sqlite.Open(dsn), sqlstore.PoolOptions{MaxOpenConns: 1})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { store.Close() })

	mem := memory.NewStore()
	var blobs storage.BlobStore = mem
	if opts.blobs != nil {
		blobs = opts.blobs
	}
	settings := service.NewSettingsService(store, nil, zap.NewNop())
	engine := service.NewEngine(store, blobs, settings, zap.NewNop())

	cfg := &config.Config{
		Server: config.ServerConfig{TrustedProxies: opts.trustedProxies},
		CORS:   config.CORSConfig{AllowedOrigins: []string{"*"}},
		Upload: config.UploadConfig{MaxBodySize: maxBody},
	}
	router := NewRouter(RouterDependencies{
		Config:      cfg,
		Engine:      engine,
		Blobs:       blobs,
		RateLimiter: opts.limiter,
		Logger:      zap.NewNop(),
	})
	return &testServer{router: router, settings: settings, blobs: mem}
}

// brokenBlobs 所有写入都失败的附件存储
type brokenBlobs struct {
	storage.BlobStore
}

func (brokenBlobs) Store(context.Context, string, string, io.Reader) (string, int64, error) {
	return "", 0, errors.New("disk full")
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type part struct {
	field, name string
	body        []byte
}

func multipartBody(t *testing.T, content string, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	if content != "" {
		require.NoError(t, w.WriteField("content", content))
	}
	for _, p := range parts {
		fw, err := w.CreateFormFile(p.field, p.name)
		require.NoError(t, err)
		_, err = fw.Write(p.body)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func (s *testServer) createPost(t *testing.T, content string, parts ...part) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, content, parts...)
	req := httptest.NewRequest(http.MethodPost, "/v1/posts", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", "board-test")
	req.Header.Set("X-Real-IP", "203.0.113.9")
	return s.do(req)
}

func TestCreatePost(t *testing.T) {
	t.Run("文本、图片和文件", func(t *testing.T) {
		s := newTestServer(t, 1<<20)

		rec := s.createPost(t, "hello board",
			part{"images", "cat.png", pngBytes},
			part{"files[]", "report.txt", []byte("report body")},
		)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var created createResponse
		env := decode(t, rec, &created)
		assert.Equal(t, CodeCreated, env.Code)
		assert.NotZero(t, created.ID)
		require.Len(t, created.Images, 1)
		require.Len(t, created.Files, 1)
		assert.Empty(t, created.Skipped)
		assert.True(t, strings.HasPrefix(created.Images[0].URL, "/pic/"))
		assert.Equal(t, "report.txt", created.Files[0].OriginalName)
		assert.Equal(t, "11 Bytes", created.Files[0].SizeText)

		// 图片内联返回
		img := s.do(httptest.NewRequest(http.MethodGet, created.Images[0].URL, nil))
		require.Equal(t, http.StatusOK, img.Code)
		assert.Equal(t, "image/png", img.Header().Get("Content-Type"))
		assert.Equal(t, pngBytes, img.Body.Bytes())

		// 文件作为附件下载
		file := s.do(httptest.NewRequest(http.MethodGet, created.Files[0].URL, nil))
		require.Equal(t, http.StatusOK, file.Code)
		assert.Equal(t, "application/octet-stream", file.Header().Get("Content-Type"))
		assert.True(t, strings.HasPrefix(file.Header().Get("Content-Disposition"), "attachment"))
		assert.Equal(t, "report body", file.Body.String())
	})

	t.Run("空提交返回 400", func(t *testing.T) {
		s := newTestServer(t, 1<<20)

		rec := s.createPost(t, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, MsgEmptySubmission, decode(t, rec, nil).Msg)
	})

	t.Run("所有附件被跳过", func(t *testing.T) {
		s := newTestServer(t, 1<<20)

		rec := s.createPost(t, "", part{"images", "fake.png", []byte("plain text, not an image")})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp createResponse
		env := decode(t, rec, &resp)
		assert.Equal(t, MsgNothingSaved, env.Msg)
		require.Len(t, resp.Skipped, 1)
		assert.Equal(t, domain.SkipNotImage, resp.Skipped[0].Reason)
		assert.Zero(t, s.blobs.Count())
	})

	t.Run("附件全部写入失败返回 500", func(t *testing.T) {
		s := newCustomServer(t, 1<<20, serverOptions{blobs: brokenBlobs{memory.NewStore()}})

		rec := s.createPost(t, "",
			part{"images", "cat.png", pngBytes},
			part{"files", "report.txt", []byte("report body")},
		)
		require.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())

		var resp createResponse
		env := decode(t, rec, &resp)
		assert.Equal(t, CodeInternalError, env.Code)
		assert.Equal(t, MsgStorageUnavailable, env.Msg)
		require.Len(t, resp.Skipped, 2)
		for _, skipped := range resp.Skipped {
			assert.Equal(t, domain.SkipWriteFailed, skipped.Reason)
		}
	})

	t.Run("写入失败与非法内容混合时仍为 400", func(t *testing.T) {
		s := newCustomServer(t, 1<<20, serverOptions{blobs: brokenBlobs{memory.NewStore()}})

		rec := s.createPost(t, "",
			part{"images", "cat.png", pngBytes},
			part{"images", "fake.png", []byte("plain text, not an image")},
		)
		require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		assert.Equal(t, MsgNothingSaved, decode(t, rec, nil).Msg)
	})

	t.Run("普通表单提交文本", func(t *testing.T) {
		s := newTestServer(t, 1<<20)

		form := url.Values{"content": {"plain form post"}}
		req := httptest.NewRequest(http.MethodPost, "/v1/posts", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := s.do(req)
		assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	})

	t.Run("请求体超限返回 413", func(t *testing.T) {
		s := newTestServer(t, 512)

		rec := s.createPost(t, "big", part{"files", "big.bin", make([]byte, 4096)})
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("非 multipart 的 JSON 请求", func(t *testing.T) {
		s := newTestServer(t, 1<<20)

		req := httptest.NewRequest(http.MethodPost, "/v1/posts", strings.NewReader(`{"content":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := s.do(req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDeletePost(t *testing.T) {
	s := newTestServer(t, 1<<20)

	rec := s.createPost(t, "to delete", part{"files", "a.txt", []byte("a")})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created createResponse
	decode(t, rec, &created)

	t.Run("ID 格式无效", func(t *testing.T) {
		rec := s.do(httptest.NewRequest(http.MethodDelete, "/v1/posts/abc", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, MsgInvalidPostID, decode(t, rec, nil).Msg)
	})

	t.Run("删除不存在的帖子", func(t *testing.T) {
		rec := s.do(httptest.NewRequest(http.MethodDelete, "/v1/posts/99999", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Deleted bool `json:"deleted"`
		}
		decode(t, rec, &resp)
		assert.False(t, resp.Deleted)
	})

	t.Run("删除后附件不可下载", func(t *testing.T) {
		rec := s.do(httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/v1/posts/%d", created.ID), nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Deleted bool `json:"deleted"`
		}
		decode(t, rec, &resp)
		assert.True(t, resp.Deleted)

		file := s.do(httptest.NewRequest(http.MethodGet, created.Files[0].URL, nil))
		assert.Equal(t, http.StatusNotFound, file.Code)
	})
}

func TestListPosts(t *testing.T) {
	ctx := context.Background()

	t.Run("空列表提示", func(t *testing.T) {
		s := newTestServer(t, 1<<20)

		rec := s.do(httptest.NewRequest(http.MethodGet, "/v1/posts", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var page pageResponse
		env := decode(t, rec, &page)
		assert.Equal(t, MsgEmptyBoard, env.Msg)
		assert.Empty(t, page.Posts)
		assert.Equal(t, 1, page.TotalPages)
	})

	t.Run("分页与发布者信息", func(t *testing.T) {
		s := newTestServer(t, 1<<20)
		require.NoError(t, s.settings.Set(ctx, domain.SettingItemsPerPage, "2"))

		for i := 0; i < 3; i++ {
			require.Equal(t, http.StatusCreated, s.createPost(t, fmt.Sprintf("post %d", i)).Code)
		}

		rec := s.do(httptest.NewRequest(http.MethodGet, "/v1/posts?page=abc", nil))
		var page pageResponse
		decode(t, rec, &page)
		assert.Equal(t, 1, page.Page)
		assert.Equal(t, 2, page.TotalPages)
		require.Len(t, page.Posts, 2)
		assert.Equal(t, "post 2", *page.Posts[0].Content)
		assert.Equal(t, "board-test", page.Posts[0].UserAgent)
		assert.Equal(t, "203.0.113.9", page.Posts[0].IPAddress)

		rec = s.do(httptest.NewRequest(http.MethodGet, "/v1/posts?page=50", nil))
		decode(t, rec, &page)
		assert.Equal(t, 2, page.Page)
		require.Len(t, page.Posts, 1)

		require.NoError(t, s.settings.Set(ctx, domain.SettingShowUserInfo, "0"))
		rec = s.do(httptest.NewRequest(http.MethodGet, "/v1/posts", nil))
		page = pageResponse{}
		decode(t, rec, &page)
		assert.False(t, page.ShowUserInfo)
		assert.NotContains(t, rec.Body.String(), "203.0.113.9")
	})
}

func TestGetSettings(t *testing.T) {
	s := newTestServer(t, 1<<20)
	require.NoError(t, s.settings.Set(context.Background(), domain.SettingMaxImageSize, "5"))

	rec := s.do(httptest.NewRequest(http.MethodGet, "/v1/settings", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var settings domain.Settings
	decode(t, rec, &settings)
	assert.Equal(t, 5, settings.MaxImageSize)
	assert.Equal(t, 10, settings.ItemsPerPage)
	assert.True(t, settings.ShowUserInfo)
}

func TestDownloadRejectsUnsafeNames(t *testing.T) {
	s := newTestServer(t, 1<<20)

	for _, path := range []string{"/file/..%2F..%2Fetc%2Fpasswd", "/pic/.hidden", "/file/missing.txt"} {
		rec := s.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"Cloudflare 优先", map[string]string{"CF-Connecting-IP": " 198.51.100.1 ", "X-Real-IP": "10.0.0.1"}, "127.0.0.1:80", "198.51.100.1"},
		{"X-Real-IP", map[string]string{"X-Real-IP": "10.0.0.1", "X-Forwarded-For": "10.0.0.2"}, "127.0.0.1:80", "10.0.0.1"},
		{"X-Forwarded-For 第一项", map[string]string{"X-Forwarded-For": " 192.0.2.7 , 10.0.0.2"}, "127.0.0.1:80", "192.0.2.7"},
		{"连接地址", nil, "192.0.2.55:4321", "192.0.2.55"},
		{"无端口的连接地址", nil, "192.0.2.56", "192.0.2.56"},
		{"未知", nil, "", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}

func TestWriteRateLimit(t *testing.T) {
	post := func(s *testServer, remoteAddr, forwarded string) int {
		form := url.Values{"content": {"rate limited"}}
		req := httptest.NewRequest(http.MethodPost, "/v1/posts", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Forwarded-For", forwarded)
		req.RemoteAddr = remoteAddr
		return s.do(req).Code
	}

	newLimited := func(t *testing.T, proxies []string) *testServer {
		limiter := middleware.NewIPRateLimiter(0.001, 1)
		t.Cleanup(limiter.Close)
		return newCustomServer(t, 1<<20, serverOptions{limiter: limiter, trustedProxies: proxies})
	}

	t.Run("未配置可信代理时伪造转发头无法绕过限流", func(t *testing.T) {
		s := newLimited(t, nil)

		var created, limited int
		for i := 0; i < 20; i++ {
			switch post(s, "198.51.100.7:4000", fmt.Sprintf("203.0.113.%d", i+1)) {
			case http.StatusCreated:
				created++
			case http.StatusTooManyRequests:
				limited++
			}
		}
		assert.Equal(t, 1, created)
		assert.Equal(t, 19, limited)
	})

	t.Run("可信代理转发的客户端各自计数", func(t *testing.T) {
		s := newLimited(t, []string{"10.0.0.0/8"})

		assert.Equal(t, http.StatusCreated, post(s, "10.0.0.1:4000", "203.0.113.1"))
		assert.Equal(t, http.StatusCreated, post(s, "10.0.0.1:4000", "203.0.113.2"))
		assert.Equal(t, http.StatusTooManyRequests, post(s, "10.0.0.1:4000", "203.0.113.1"))
	})

	t.Run("无效的代理列表回退为不信任", func(t *testing.T) {
		s := newLimited(t, []string{"not-a-cidr"})

		assert.Equal(t, http.StatusCreated, post(s, "10.0.0.1:4000", "203.0.113.1"))
		assert.Equal(t, http.StatusTooManyRequests, post(s, "10.0.0.1:4000", "203.0.113.2"))
	})
}

func TestDownloadName(t *testing.T) {
	assert.Equal(t, "report.txt", downloadName("18c2a1b2c3d4e5f6abcd1234_report.txt"))
	assert.Equal(t, "plain", downloadName("plain"))
}
