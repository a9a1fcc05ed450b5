package middleware

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/melodia/backend/models"
	"github.com/melodia/backend/utils"
)

// ContextUploadsKey stores the []models.TempUpload buffered for the request.
const ContextUploadsKey = "uploads"

const (
	maxFieldBytes = 1 << 20
	maxFieldParts = 256
)

var errTooManyParts = errors.New("too many multipart parts")

// FileUpload streams multipart file parts into tempDir so handlers never hold
// whole uploads in memory. A file larger than maxFileBytes is cut at the limit
// and flagged Truncated. A request carrying more than maxFiles files is rejected
// with 413 and nothing it sent is kept. Plain form fields are exposed through
// ctx.PostForm.
func FileUpload(tempDir string, maxFileBytes int64, maxFiles int) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !isMultipart(ctx.Request) {
			ctx.Next()
			return
		}

		reader, err := ctx.Request.MultipartReader()
		if err != nil {
			utils.Abort(ctx, http.StatusBadRequest, 40030, "malformed multipart body")
			return
		}

		files, fields, err := bufferParts(reader, tempDir, maxFileBytes, maxFiles)
		if err != nil {
			for _, f := range files {
				_ = os.Remove(f.TempPath)
			}
			if errors.Is(err, errTooManyParts) {
				utils.Abort(ctx, http.StatusRequestEntityTooLarge, 41301, "too many files in upload")
				return
			}
			utils.Sugar.Warnf("upload buffering failed: %v", err)
			utils.Abort(ctx, http.StatusBadRequest, 40031, "failed to read upload")
			return
		}

		form := url.Values{}
		for k, v := range ctx.Request.URL.Query() {
			form[k] = append(form[k], v...)
		}
		for k, v := range fields {
			form[k] = append(form[k], v...)
		}
		ctx.Request.PostForm = fields
		ctx.Request.Form = form
		ctx.Request.MultipartForm = &multipart.Form{Value: fields, File: map[string][]*multipart.FileHeader{}}

		ctx.Set(ContextUploadsKey, files)
		ctx.Next()
	}
}

// UploadedFiles returns the files FileUpload buffered for this request.
func UploadedFiles(ctx *gin.Context) []models.TempUpload {
	v, ok := ctx.Get(ContextUploadsKey)
	if !ok {
		return nil
	}
	files, _ := v.([]models.TempUpload)
	return files
}

func bufferParts(reader *multipart.Reader, tempDir string, maxFileBytes int64, maxFiles int) ([]models.TempUpload, url.Values, error) {
	var files []models.TempUpload
	fields := url.Values{}
	nFields := 0
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return files, fields, nil
		}
		if err != nil {
			return files, fields, err
		}

		if part.FileName() == "" {
			if nFields++; nFields > maxFieldParts {
				part.Close()
				return files, fields, errTooManyParts
			}
			b, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			part.Close()
			if err != nil {
				return files, fields, err
			}
			fields.Add(part.FormName(), string(b))
			continue
		}

		// checked before anything touches the disk
		if maxFiles > 0 && len(files) >= maxFiles {
			part.Close()
			return files, fields, errTooManyParts
		}
		up, err := bufferFile(part, tempDir, maxFileBytes)
		part.Close()
		if up.TempPath != "" {
			files = append(files, up)
		}
		if err != nil {
			return files, fields, err
		}
	}
}

func bufferFile(part *multipart.Part, tempDir string, maxFileBytes int64) (models.TempUpload, error) {
	up := models.TempUpload{
		Field:    part.FormName(),
		Name:     filepath.Base(part.FileName()),
		MimeType: part.Header.Get("Content-Type"),
	}
	// the sweeper may have removed the directory since the last upload
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return up, fmt.Errorf("create temp dir: %w", err)
	}

	path := filepath.Join(tempDir, "tmp-"+uuid.NewString())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return up, fmt.Errorf("create temp file: %w", err)
	}
	up.TempPath = path

	src := io.Reader(part)
	if maxFileBytes > 0 {
		src = io.LimitReader(part, maxFileBytes)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	up.Size = n
	if err != nil {
		return up, fmt.Errorf("write temp file: %w", err)
	}

	if maxFileBytes > 0 && n == maxFileBytes {
		extra, _ := io.CopyN(io.Discard, part, 1)
		up.Truncated = extra > 0
	}
	return up, nil
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}
