package extraction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"time"
)

const defaultMaxResponseBytes = 1 << 20

// Transport submits one document to the remote extraction API and returns
// the raw response body. Implementations must abort the call when ctx is
// done and must not keep per-request state between calls.
type Transport interface {
	Submit(ctx context.Context, doc SourceDocument, hints Hints) ([]byte, error)
}

// HTTPTransport posts documents as multipart/form-data.
type HTTPTransport struct {
	client           *http.Client
	endpoint         string
	apiKey           string
	maxResponseBytes int64
}

type HTTPTransportConfig struct {
	Endpoint         string
	APIKey           string
	MaxResponseBytes int64
	// Client is optional; a pooled client is created when nil.
	Client *http.Client
}

func NewHTTPTransport(cfg HTTPTransportConfig) *HTTPTransport {
	client := cfg.Client
	if client == nil {
		client = newPooledClient()
	}
	maxResp := cfg.MaxResponseBytes
	if maxResp <= 0 {
		maxResp = defaultMaxResponseBytes
	}
	return &HTTPTransport{
		client:           client,
		endpoint:         cfg.Endpoint,
		apiKey:           cfg.APIKey,
		maxResponseBytes: maxResp,
	}
}

// newPooledClient has no overall Timeout; the pipeline bounds each call
// with its context so cancellation reaches the connection.
func newPooledClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			MaxIdleConns:          50,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}

func (t *HTTPTransport) Submit(ctx context.Context, doc SourceDocument, hints Hints) ([]byte, error) {
	if t.endpoint == "" {
		return nil, &TransportError{Stage: StageSubmitting, Err: ErrEndpointNotConfigured}
	}

	body, contentType, err := encodeMultipart(doc, hints)
	if err != nil {
		return nil, &TransportError{Stage: StageSubmitting, Err: fmt.Errorf("encode multipart: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, body)
	if err != nil {
		return nil, &TransportError{Stage: StageSubmitting, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classifyTransportErr(ctx, StageAwaitingResponse, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxResponseBytes+1))
	if err != nil {
		return nil, classifyTransportErr(ctx, StageAwaitingResponse, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{
			Stage:      StageAwaitingResponse,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: %s", ErrUnexpectedStatus, snippet(data)),
		}
	}
	if int64(len(data)) > t.maxResponseBytes {
		return nil, &ResponseFormatError{Err: ErrResponseTooLarge}
	}
	return data, nil
}

func encodeMultipart(doc SourceDocument, hints Hints) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, doc.Filename))
	h.Set("Content-Type", doc.MediaType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(doc.Content); err != nil {
		return nil, "", err
	}
	if hints.ExpectedKind != "" {
		if err := w.WriteField("kind", string(hints.ExpectedKind)); err != nil {
			return nil, "", err
		}
	}
	if hints.Locale != "" {
		if err := w.WriteField("locale", hints.Locale); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

func classifyTransportErr(ctx context.Context, stage Stage, err error) *TransportError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Stage: stage, Timeout: true, Err: fmt.Errorf("%w: %v", ErrTimeout, err)}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{Stage: stage, Timeout: true, Err: fmt.Errorf("%w: %v", ErrTimeout, err)}
	}
	return &TransportError{Stage: stage, Err: err}
}

func snippet(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
