package middleware

import (
	"bytes"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/melodia/backend/models"
	"github.com/melodia/backend/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func signToken(t *testing.T, secret, userID string) string {
	t.Helper()
	now := time.Now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, utils.Claims{
		SessionID: "sess_1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestAttachAuth(t *testing.T) {
	const secret = "test-secret"
	valid := signToken(t, secret, "user_42")
	forged := signToken(t, "other-secret", "user_42")

	cases := []struct {
		name    string
		secret  string
		header  string
		wantUID string
	}{
		{name: "valid bearer token", secret: secret, header: "Bearer " + valid, wantUID: "user_42"},
		{name: "lowercase scheme", secret: secret, header: "bearer " + valid, wantUID: "user_42"},
		{name: "forged token is ignored", secret: secret, header: "Bearer " + forged},
		{name: "no header", secret: secret},
		{name: "malformed header", secret: secret, header: valid},
		{name: "no secret configured", secret: "", header: "Bearer " + valid},
	}

	for _, c := range cases {
		r := gin.New()
		r.Use(AttachAuth(c.secret))
		var gotUID string
		r.GET("/", func(ctx *gin.Context) {
			if claims, ok := Auth(ctx); ok {
				gotUID = claims.UserID()
			}
			ctx.Status(http.StatusOK)
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if c.header != "" {
			req.Header.Set("Authorization", c.header)
		}
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("%v: expected request to pass through, got %d", c.name, rr.Code)
		}
		if gotUID != c.wantUID {
			t.Errorf("%v: expected user %q but got %q", c.name, c.wantUID, gotUID)
		}
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RateLimitMiddleware(4)) // burst of 2
	r.GET("/", func(ctx *gin.Context) { ctx.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("unexpected status sequence %v", codes)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.1:1234"
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("another client should have its own bucket, got %d", rr.Code)
	}
}

func TestIPLimitersPruneIdleClients(t *testing.T) {
	l := newIPLimiters(60)
	now := time.Now()
	l.allow("a", now)
	l.allow("b", now.Add(limiterIdleTTL+time.Second))
	if _, ok := l.clients["a"]; ok {
		t.Errorf("expected idle client to be pruned")
	}
}

func TestBodyLimit(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler(true), BodyLimit(16))
	r.POST("/", func(ctx *gin.Context) {
		if _, err := io.ReadAll(ctx.Request.Body); err != nil {
			_ = ctx.Error(err)
			return
		}
		ctx.Status(http.StatusOK)
	})

	cases := []struct {
		name    string
		body    string
		chunked bool
		want    int
	}{
		{name: "small body", body: `{"a":1}`, want: http.StatusOK},
		{name: "declared length over limit", body: strings.Repeat("x", 32), want: http.StatusRequestEntityTooLarge},
		{name: "chunked body over limit", body: strings.Repeat("x", 32), chunked: true, want: http.StatusRequestEntityTooLarge},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(c.body))
		req.Header.Set("Content-Type", "application/json")
		if c.chunked {
			req.ContentLength = -1
		}
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		if rr.Code != c.want {
			t.Errorf("%v: expected %d but got %d", c.name, c.want, rr.Code)
		}
	}
}

func TestErrorHandler(t *testing.T) {
	cases := []struct {
		name       string
		production bool
		want       string
	}{
		{name: "development shows the error", production: false, want: "boom"},
		{name: "production hides the error", production: true, want: internalErrorMessage},
	}
	for _, c := range cases {
		r := gin.New()
		r.Use(ErrorHandler(c.production))
		r.GET("/", func(ctx *gin.Context) { _ = ctx.Error(errors.New("boom")) })

		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("%v: expected 500, got %d", c.name, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"message":"`+c.want+`"`) {
			t.Errorf("%v: unexpected body %s", c.name, rr.Body.String())
		}
	}
}

func multipartBody(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for name, content := range files {
		fw, err := w.CreateFormFile("audioFile", name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func TestFileUpload(t *testing.T) {
	tempDir := t.TempDir() + "/tmp" // created on demand
	r := gin.New()
	r.Use(FileUpload(tempDir, 8, 0))

	var got []models.TempUpload
	var title string
	r.POST("/api/songs", func(ctx *gin.Context) {
		got = UploadedFiles(ctx)
		title = ctx.PostForm("title")
		ctx.Status(http.StatusCreated)
	})

	body, ct := multipartBody(t,
		map[string]string{"title": "Intro"},
		map[string]string{"small.mp3": "1234", "big.mp3": "0123456789abcdef"},
	)
	req := httptest.NewRequest(http.MethodPost, "/api/songs", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if title != "Intro" {
		t.Errorf("expected form field title=Intro, got %q", title)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 buffered files, got %d", len(got))
	}
	byName := map[string]models.TempUpload{}
	for _, f := range got {
		byName[f.Name] = f
		if !strings.HasPrefix(f.TempPath, tempDir) {
			t.Errorf("%s buffered outside the temp dir: %s", f.Name, f.TempPath)
		}
		if _, err := os.Stat(f.TempPath); err != nil {
			t.Errorf("%s: temp file missing: %v", f.Name, err)
		}
	}
	if f := byName["small.mp3"]; f.Size != 4 || f.Truncated || f.Field != "audioFile" {
		t.Errorf("unexpected small file %+v", f)
	}
	if f := byName["big.mp3"]; f.Size != 8 || !f.Truncated {
		t.Errorf("expected big file truncated at 8 bytes, got %+v", f)
	}
}

func TestFileUploadIgnoresNonMultipart(t *testing.T) {
	tempDir := t.TempDir()
	r := gin.New()
	r.Use(FileUpload(tempDir, 8, 0))
	var files []models.TempUpload
	r.POST("/", func(ctx *gin.Context) {
		files = UploadedFiles(ctx)
		ctx.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || files != nil {
		t.Errorf("expected pass-through, got %d %v", rr.Code, files)
	}
	if entries, _ := os.ReadDir(tempDir); len(entries) != 0 {
		t.Errorf("nothing should be written for JSON bodies")
	}
}

func TestFileUploadRejectsTooManyFiles(t *testing.T) {
	tempDir := t.TempDir()
	r := gin.New()
	r.Use(FileUpload(tempDir, 1<<10, 2))
	reached := false
	r.POST("/", func(ctx *gin.Context) {
		reached = true
		ctx.Status(http.StatusCreated)
	})

	body, ct := multipartBody(t, nil, map[string]string{"a.mp3": "a", "b.mp3": "b", "c.mp3": "c"})
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge || reached {
		t.Errorf("expected 413 before the handler, got %d (handler reached: %v)", rr.Code, reached)
	}
	if entries, _ := os.ReadDir(tempDir); len(entries) != 0 {
		t.Errorf("rejected upload left %d files behind", len(entries))
	}
}

func TestErrorHandlerMapsOversizedBody(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler(false))
	r.GET("/", func(ctx *gin.Context) {
		_ = ctx.Error(&http.MaxBytesError{Limit: 16})
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d: %s", rr.Code, rr.Body.String())
	}
}
