package types

// EntryType is the kind of a directory entry.
type EntryType string

const (
	EntryFile      EntryType = "file"
	EntryDirectory EntryType = "directory"
)

// EntryInfo represents a file or directory entry.
type EntryInfo struct {
	Name string    `json:"name"`
	Type EntryType `json:"type"`
}

// WriteFileRequest is the request body for writing a file.
type WriteFileRequest struct {
	Path     string `json:"path"`
	Contents string `json:"contents"`
}

// PathRequest is the request body for operations taking only a path.
type PathRequest struct {
	Path string `json:"path"`
}

// UploadEncoding is the encoding of uploaded content.
type UploadEncoding string

const (
	EncodingUTF8   UploadEncoding = "utf8"
	EncodingBase64 UploadEncoding = "base64"
)

// UploadRequest is the request body for uploading a file.
type UploadRequest struct {
	Filename   string         `json:"filename"`
	TargetPath string         `json:"targetPath"`
	Content    string         `json:"content"`
	Encoding   UploadEncoding `json:"encoding,omitempty"`
}

// PathResult acknowledges a mutating filesystem operation.
type PathResult struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
}

// FileContentsResult is the result of reading a file.
type FileContentsResult struct {
	Contents string `json:"contents"`
}

// DirListing is the result of listing a directory.
type DirListing struct {
	Files []EntryInfo `json:"files"`
}
