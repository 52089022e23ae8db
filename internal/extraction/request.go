package extraction

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"golang.org/x/text/language"

	"fintrack/internal/core"
)

const maxFilenameLen = 255

// SourceDocument is an uploaded file as received at the upload boundary.
type SourceDocument struct {
	Content   []byte
	MediaType string
	Filename  string
}

// Hints are optional and forwarded to the remote API when set.
type Hints struct {
	// ExpectedKind is core.KindExpense or core.KindCardBill.
	ExpectedKind core.RecordKind
	// Locale is a BCP 47 tag such as "pt-BR".
	Locale string
}

// Request is one extraction job, owned by UserID.
type Request struct {
	Document SourceDocument
	UserID   string
	Hints    Hints
}

// Limits bound what the pipeline accepts before doing any I/O.
type Limits struct {
	MaxUploadBytes    int64
	AllowedMediaTypes []string
}

// Media types that http.DetectContentType recognises reliably. Declared
// types outside this set are trusted as-is.
var sniffable = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/gif":       true,
	"image/webp":      true,
}

// validate checks the request and returns a sanitized copy.
func (l Limits) validate(req Request) (Request, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return req, &ValidationError{Field: "user_id", Err: ErrMissingUserID}
	}

	size := int64(len(req.Document.Content))
	if size == 0 {
		return req, &ValidationError{Field: "document", Err: ErrEmptyDocument}
	}
	if l.MaxUploadBytes > 0 && size > l.MaxUploadBytes {
		return req, &ValidationError{Field: "document", Err: ErrDocumentTooLarge}
	}

	mediaType, err := l.allowedMediaType(req.Document.MediaType)
	if err != nil {
		return req, err
	}
	if sniffable[mediaType] {
		sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(req.Document.Content))
		if sniffed != mediaType {
			return req, &ValidationError{Field: "media_type", Err: ErrContentMismatch}
		}
	}

	switch req.Hints.ExpectedKind {
	case "", core.KindExpense, core.KindCardBill:
	default:
		return req, &ValidationError{Field: "hints.kind", Err: ErrInvalidHint}
	}
	if req.Hints.Locale != "" {
		tag, err := language.Parse(req.Hints.Locale)
		if err != nil {
			return req, &ValidationError{Field: "hints.locale", Err: ErrInvalidHint}
		}
		req.Hints.Locale = tag.String()
	}

	req.Document.MediaType = mediaType
	req.Document.Filename = sanitizeFilename(req.Document.Filename)
	return req, nil
}

func (l Limits) allowedMediaType(declared string) (string, error) {
	if strings.TrimSpace(declared) == "" {
		return "", &ValidationError{Field: "media_type", Err: ErrUnsupportedMediaType}
	}
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return "", &ValidationError{Field: "media_type", Err: ErrUnsupportedMediaType}
	}
	for _, allowed := range l.AllowedMediaTypes {
		if strings.EqualFold(mediaType, allowed) {
			return mediaType, nil
		}
	}
	return "", &ValidationError{Field: "media_type", Err: ErrUnsupportedMediaType}
}

func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == '"' {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == "/" {
		return "document"
	}
	if len(name) > maxFilenameLen {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = name[:maxFilenameLen-len(ext)] + ext
	}
	return name
}
