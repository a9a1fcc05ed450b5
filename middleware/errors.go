package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/melodia/backend/utils"
)

const internalErrorMessage = "Internal server error"

// ErrorHandler turns errors recorded with ctx.Error into a response when the
// handler did not write one itself. A body cut off by BodyLimit becomes a 413;
// anything else is a 500 whose text is returned outside production.
func ErrorHandler(production bool) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Next()

		if len(ctx.Errors) == 0 || ctx.Writer.Written() {
			return
		}
		if IsBodyTooLarge(ctx.Errors.Last().Err) {
			utils.Error(ctx, http.StatusRequestEntityTooLarge, 41300, "request body too large")
			return
		}
		msg := internalErrorMessage
		if !production {
			msg = ctx.Errors.Last().Error()
		}
		utils.Error(ctx, http.StatusInternalServerError, 50000, msg)
	}
}

// BodyLimit caps request bodies at limit bytes. Multipart bodies are left to
// FileUpload, which enforces its own per-file limit.
func BodyLimit(limit int64) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if limit > 0 && ctx.Request.Body != nil && !isMultipart(ctx.Request) {
			if ctx.Request.ContentLength > limit {
				utils.Abort(ctx, http.StatusRequestEntityTooLarge, 41300, "request body too large")
				return
			}
			ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, limit)
		}
		ctx.Next()
	}
}

// IsBodyTooLarge reports whether err came from a body cut off by BodyLimit.
func IsBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
