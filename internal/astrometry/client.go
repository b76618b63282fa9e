// Package astrometry is a thin client for the Astrometry.net web API
// (nova.astrometry.net). The API is form-encoded on the way in and JSON on
// the way out; every payload travels in a "request-json" field.
package astrometry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultBaseURL is the public Astrometry.net API endpoint.
const DefaultBaseURL = "http://nova.astrometry.net/api"

// maxResponseBytes bounds API response reads.
const maxResponseBytes = 8 << 20

// APIError is a failure reported by the service itself, as opposed to a
// transport failure. The message is relayed to the caller verbatim.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return "astrometry.net: " + e.Message
}

// Client talks to one Astrometry.net endpoint with one API key. The session
// key obtained from login is cached across calls and invalidated on auth
// failures. Safe for concurrent use.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu      sync.Mutex
	session string
}

// NewClient creates a Client. An empty baseURL selects the public service.
func NewClient(apiKey, baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Session returns the cached session key, logging in first if needed.
func (c *Client) Session(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != "" {
		return c.session, nil
	}
	if c.apiKey == "" {
		return "", &APIError{Message: "API key not configured"}
	}

	payload, _ := json.Marshal(map[string]string{"apikey": c.apiKey})
	form := url.Values{"request-json": {string(payload)}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp struct {
		Status       string `json:"status"`
		Session      string `json:"session"`
		ErrorMessage string `json:"errormessage"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	if resp.Status != "success" || resp.Session == "" {
		return "", &APIError{Message: orUnknown(resp.ErrorMessage, "login failed")}
	}

	c.session = resp.Session
	c.logger.Info("astrometry.net session established")
	return c.session, nil
}

// InvalidateSession drops the cached session key so the next call logs in
// again. Called when the service rejects a session.
func (c *Client) InvalidateSession() {
	c.mu.Lock()
	c.session = ""
	c.mu.Unlock()
}

// UploadHints narrows the solver's search. Zero values omit the hint.
type UploadHints struct {
	ScaleLowerDeg float64 // lower bound on field width, degrees
	ScaleUpperDeg float64 // upper bound on field width, degrees
}

// Upload submits an image for solving and returns the submission ID.
func (c *Client) Upload(ctx context.Context, filename string, data []byte, hints *UploadHints) (int64, error) {
	session, err := c.Session(ctx)
	if err != nil {
		return 0, err
	}

	args := map[string]any{
		"session":          session,
		"publicly_visible": "n",
	}
	if hints != nil && hints.ScaleLowerDeg > 0 && hints.ScaleUpperDeg > 0 {
		args["scale_units"] = "degwidth"
		args["scale_type"] = "ul"
		args["scale_lower"] = hints.ScaleLowerDeg
		args["scale_upper"] = hints.ScaleUpperDeg
	}
	payload, _ := json.Marshal(args)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("request-json", string(payload)); err != nil {
		return 0, fmt.Errorf("building upload form: %w", err)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return 0, fmt.Errorf("building upload form: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return 0, fmt.Errorf("building upload form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return 0, fmt.Errorf("building upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return 0, fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp struct {
		Status       string `json:"status"`
		SubID        int64  `json:"subid"`
		ErrorMessage string `json:"errormessage"`
	}
	if err := c.do(req, &resp); err != nil {
		return 0, err
	}
	if resp.Status != "success" {
		return 0, &APIError{Message: orUnknown(resp.ErrorMessage, "upload failed")}
	}
	return resp.SubID, nil
}

// Submission reports the jobs spawned for a submission. The list is empty
// while the submission is still queued; the service pads it with nulls.
func (c *Client) Submission(ctx context.Context, subID int64) ([]int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/submissions/%d", c.baseURL, subID), nil)
	if err != nil {
		return nil, fmt.Errorf("creating submission request: %w", err)
	}

	var resp struct {
		Jobs []*int64 `json:"jobs"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}

	var jobs []int64
	for _, j := range resp.Jobs {
		if j != nil {
			jobs = append(jobs, *j)
		}
	}
	return jobs, nil
}

// JobStatus returns the solver status for one job: "solving", "success" or
// "failure".
func (c *Client) JobStatus(ctx context.Context, jobID int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/jobs/%d/info", c.baseURL, jobID), nil)
	if err != nil {
		return "", fmt.Errorf("creating job info request: %w", err)
	}

	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	if resp.Status == "" {
		return "unknown", nil
	}
	return resp.Status, nil
}

// Calibration is the solved astrometric solution for a job.
type Calibration struct {
	RADeg          float64 `json:"ra"`
	DecDeg         float64 `json:"dec"`
	OrientationDeg float64 `json:"orientation"`
	PixScaleArcsec float64 `json:"pixscale"`
	RadiusDeg      float64 `json:"radius"`
	Parity         float64 `json:"parity"`
}

// Calibration fetches the WCS solution of a successfully solved job.
func (c *Client) Calibration(ctx context.Context, jobID int64) (Calibration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/jobs/%d/calibration", c.baseURL, jobID), nil)
	if err != nil {
		return Calibration{}, fmt.Errorf("creating calibration request: %w", err)
	}

	var cal Calibration
	if err := c.do(req, &cal); err != nil {
		return Calibration{}, err
	}
	return cal, nil
}

// Annotation is one identified object in a solved image, in image pixel
// coordinates.
type Annotation struct {
	Type   string   `json:"type"`
	Names  []string `json:"names"`
	PixelX float64  `json:"pixelx"`
	PixelY float64  `json:"pixely"`
	Radius float64  `json:"radius"`
}

// Annotations lists the identified objects of a solved job.
func (c *Client) Annotations(ctx context.Context, jobID int64) ([]Annotation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/jobs/%d/annotations", c.baseURL, jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("creating annotations request: %w", err)
	}

	var resp struct {
		Annotations []Annotation `json:"annotations"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Annotations, nil
}

// AnnotatedDisplayURL is the human-viewable annotated image page for a job,
// hosted by the service next to its API.
func (c *Client) AnnotatedDisplayURL(jobID int64) string {
	return fmt.Sprintf("%s/annotated_display/%d", strings.TrimSuffix(c.baseURL, "/api"), jobID)
}

// do executes a request and decodes the JSON body into out.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("astrometry.net request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("astrometry.net: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decoding astrometry.net response: %w", err)
	}
	return nil
}

func orUnknown(msg, fallback string) string {
	if msg == "" {
		return fallback
	}
	return msg
}
