package http

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"fintrack/internal/core"
	"fintrack/internal/extraction"
	"fintrack/internal/log"
)

// multipartOverhead is allowed on top of the document size for part
// headers and the hint fields.
const multipartOverhead = 1 << 20

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	logger := log.FromContext(r.Context()).WithComponent(log.ComponentExtraction)
	if s.extractor == nil {
		ErrorResponse(http.StatusServiceUnavailable, "extraction is not configured").Write(w)
		return
	}

	maxDoc := s.extractor.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxDoc+multipartOverhead)
	req, err := readExtractionRequest(r, maxDoc)
	if err != nil {
		logger.InfoContext(r.Context(), "Rejected extraction upload", log.FieldError, err)
		writeExtractionError(w, err)
		return
	}
	req.UserID = userFrom(r)

	rec, err := s.extractor.Extract(r.Context(), req)
	if err != nil {
		writeExtractionError(w, err)
		return
	}
	writeOK(w, rec)
}

// readExtractionRequest reads the "file" part and the optional "kind" and
// "locale" fields of a multipart upload.
func readExtractionRequest(r *http.Request, maxDoc int64) (extraction.Request, error) {
	var req extraction.Request

	mr, err := r.MultipartReader()
	if err != nil {
		return req, &extraction.ValidationError{Field: "body", Err: err}
	}

	seenFile := false
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return req, uploadReadError("body", err)
		}

		switch part.FormName() {
		case "file":
			if seenFile {
				part.Close()
				return req, &extraction.ValidationError{Field: "file", Err: errors.New("more than one file")}
			}
			seenFile = true
			// One byte over the limit is enough for the pipeline to reject it.
			content, err := io.ReadAll(io.LimitReader(part, maxDoc+1))
			if err != nil {
				part.Close()
				return req, uploadReadError("file", err)
			}
			req.Document = extraction.SourceDocument{
				Content:   content,
				MediaType: partMediaType(part.Header.Get("Content-Type"), content),
				Filename:  part.FileName(),
			}
		case "kind":
			v, err := readField(part)
			if err != nil {
				return req, uploadReadError("kind", err)
			}
			req.Hints.ExpectedKind = core.RecordKind(v)
		case "locale":
			v, err := readField(part)
			if err != nil {
				return req, uploadReadError("locale", err)
			}
			req.Hints.Locale = v
		}
		part.Close()
	}

	if !seenFile {
		return req, &extraction.ValidationError{Field: "file", Err: extraction.ErrEmptyDocument}
	}
	return req, nil
}

func readField(part io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(part, 256))
	return strings.TrimSpace(string(b)), err
}

// partMediaType trusts the declared type unless it is missing or generic,
// in which case the content is sniffed.
func partMediaType(declared string, content []byte) string {
	mt, _, err := mime.ParseMediaType(declared)
	if err == nil && mt != "application/octet-stream" {
		return declared
	}
	return http.DetectContentType(content)
}

func uploadReadError(field string, err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &extraction.ValidationError{Field: field, Err: extraction.ErrDocumentTooLarge}
	}
	return &extraction.ValidationError{Field: field, Err: err}
}

// extractionStatus maps a pipeline failure to an HTTP status.
func extractionStatus(err error) int {
	var (
		verr *extraction.ValidationError
		terr *extraction.TransportError
	)
	switch {
	case errors.As(err, &verr):
		switch {
		case errors.Is(err, extraction.ErrDocumentTooLarge):
			return http.StatusRequestEntityTooLarge
		case errors.Is(err, extraction.ErrUnsupportedMediaType), errors.Is(err, extraction.ErrContentMismatch):
			return http.StatusUnsupportedMediaType
		default:
			return http.StatusUnprocessableEntity
		}
	case errors.As(err, &terr):
		if terr.Timeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case extraction.IsResponseFormat(err):
		return http.StatusBadGateway
	case extraction.IsNormalization(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeExtractionError(w http.ResponseWriter, err error) {
	body := ErrorBody{
		Error:     err.Error(),
		Kind:      string(extraction.KindOf(err)),
		Retryable: extraction.IsRetryable(err),
	}

	var (
		verr *extraction.ValidationError
		nerr *extraction.NormalizationError
		terr *extraction.TransportError
	)
	switch {
	case errors.As(err, &verr):
		body.Field = verr.Field
	case errors.As(err, &nerr):
		body.Field = nerr.Field
	case errors.As(err, &terr):
		// Remote details stay in the logs.
		body.Error = "extraction service unavailable"
		if terr.Timeout {
			body.Error = "extraction service timed out"
		}
	case extraction.IsResponseFormat(err):
		body.Error = "extraction service returned an unexpected response"
	case body.Kind == "":
		body.Error = "internal error"
	}

	NewJSONResponse().Status(extractionStatus(err)).Body(body).Write(w)
}
