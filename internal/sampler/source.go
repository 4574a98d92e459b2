package sampler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"zenflow-backend/config"
)

var (
	// ErrAcquisition wraps every frame source failure.
	ErrAcquisition = errors.New("frame acquisition failed")
	// ErrClassification wraps every classifier failure.
	ErrClassification = errors.New("classification failed")
)

// maxFrameBytes bounds a single frame read from the camera endpoint.
const maxFrameBytes = 16 << 20

// Frame is one encoded camera image.
type Frame struct {
	Data        []byte
	ContentType string
	CapturedAt  time.Time
}

// FrameSource produces frames. Implementations may fail transiently.
type FrameSource interface {
	NextFrame(ctx context.Context) (Frame, error)
}

// Classifier decides whether a person is present in a frame.
type Classifier interface {
	Classify(ctx context.Context, frame Frame) (bool, error)
}

// newHTTPClient builds a client for an endpoint, honouring its proxy setting.
func newHTTPClient(cfg config.EndpointConfig) *http.Client {
	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			log.Printf("Warning: Invalid proxy URL %q: %v. Requests to %s will not use a proxy.", cfg.HTTPProxy, err, cfg.URL)
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}
	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout(),
	}
}

// HTTPFrameSource fetches a snapshot from a camera's HTTP endpoint on every call.
type HTTPFrameSource struct {
	url     string
	headers map[string]string
	client  *http.Client
	now     func() time.Time
}

// NewHTTPFrameSource creates a frame source for cfg.URL.
func NewHTTPFrameSource(cfg config.EndpointConfig) *HTTPFrameSource {
	return &HTTPFrameSource{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  newHTTPClient(cfg),
		now:     time.Now,
	}
}

// NextFrame downloads one snapshot.
func (s *HTTPFrameSource) NextFrame(ctx context.Context) (Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: failed to create request: %v", ErrAcquisition, err)
	}
	for key, value := range s.headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: http request failed: %v", ErrAcquisition, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Frame{}, fmt.Errorf("%w: received non-200 status code: %d", ErrAcquisition, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return Frame{}, fmt.Errorf("%w: failed to read frame: %v", ErrAcquisition, err)
	}
	if len(body) == 0 {
		return Frame{}, fmt.Errorf("%w: empty frame", ErrAcquisition)
	}

	return Frame{
		Data:        body,
		ContentType: resp.Header.Get("Content-Type"),
		CapturedAt:  s.now(),
	}, nil
}

// classifyResponse is the classifier's answer. Either field may be used;
// Present wins when both are set.
type classifyResponse struct {
	Present *bool `json:"present"`
	Faces   int   `json:"faces"`
}

// HTTPClassifier posts each frame to a presence detection service.
type HTTPClassifier struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewHTTPClassifier creates a classifier for cfg.URL.
func NewHTTPClassifier(cfg config.EndpointConfig) *HTTPClassifier {
	return &HTTPClassifier{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  newHTTPClient(cfg),
	}
}

// Classify reports whether the service detected a person in frame.
func (c *HTTPClassifier) Classify(ctx context.Context, frame Frame) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(frame.Data))
	if err != nil {
		return false, fmt.Errorf("%w: failed to create request: %v", ErrClassification, err)
	}
	contentType := frame.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: http request failed: %v", ErrClassification, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: received non-200 status code: %d", ErrClassification, resp.StatusCode)
	}

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("%w: failed to decode response: %v", ErrClassification, err)
	}
	if out.Present != nil {
		return *out.Present, nil
	}
	return out.Faces > 0, nil
}
