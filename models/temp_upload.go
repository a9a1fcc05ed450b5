package models

// TempUpload describes a multipart file part buffered into the temp directory.
// The file stays on disk until a handler moves it or the sweeper reclaims it.
type TempUpload struct {
	Field     string `json:"field"`
	Name      string `json:"name"`
	MimeType  string `json:"mimetype"`
	TempPath  string `json:"temp_path"`
	Size      int64  `json:"size"`
	Truncated bool   `json:"truncated"`
}
