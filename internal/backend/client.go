// Package backend is the REST client for the interview platform.
//
// The platform splits its API across two hosts: the main backend serves user
// and result reads, the bot backend owns session lifecycle and uploads. Both
// authenticate with session cookies, so the client carries a cookie jar and
// every request goes out with credentials attached.
//
// Response bodies are inconsistently enveloped; some endpoints wrap their
// payload in {"data": ...} and some return it bare. decodePayload handles
// both so callers never see the difference.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"time"

	"github.com/intervox/intervox/internal/observe"
)

const defaultTimeout = 30 * time.Second

// resumeField is the multipart field name the upload endpoint expects.
const resumeField = "PdfFile"

// Config configures a Client.
type Config struct {
	// BaseURL is the main backend, e.g. "https://api.example.com".
	BaseURL string

	// BotBaseURL is the bot backend owning session lifecycle. Defaults to
	// BaseURL.
	BotBaseURL string

	// HTTPClient overrides the default client (cookie jar, 30 s timeout).
	HTTPClient *http.Client

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Client talks to the interview backend. Safe for concurrent use.
type Client struct {
	baseURL    string
	botBaseURL string
	httpc      *http.Client
	logger     *slog.Logger
	metrics    *observe.Metrics
}

// New creates a Client. BaseURL must be non-empty.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("backend: BaseURL must not be empty")
	}
	if cfg.BotBaseURL == "" {
		cfg.BotBaseURL = cfg.BaseURL
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("backend: cookie jar: %w", err)
		}
		httpc = &http.Client{Jar: jar, Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		botBaseURL: strings.TrimRight(cfg.BotBaseURL, "/"),
		httpc:      httpc,
		logger:     logger.With("component", "backend"),
		metrics:    metrics,
	}, nil
}

// User is the authenticated account, as the backend reports it.
type User struct {
	ID       string `json:"_id"`
	FullName string `json:"FullName"`
	UserName string `json:"userName"`
	Email    string `json:"email"`
}

// HistoryEntry is one past or active interview.
type HistoryEntry struct {
	ID            string    `json:"_id"`
	InterviewName string    `json:"interviewName"`
	CreatedAt     time.Time `json:"createdAt"`
	Status        string    `json:"Status"`
	RecordAudio   bool      `json:"recordAudio"`
	RecordVideo   bool      `json:"recordVideo"`
}

// DomainScore is the per-topic answer breakdown inside a Result.
type DomainScore struct {
	DomainName string `json:"domainName"`
	Questions  int    `json:"Number_of_question"`
	Correct    int    `json:"Number_of_answers_correct"`
	Incorrect  int    `json:"Number_of_answers_incorrect"`
	Skipped    int    `json:"Number_of_skiped_questions"`
}

// Result is a scored interview. Scores are on a 0-10 scale.
type Result struct {
	TechnicalSkill         float64       `json:"technical_skill_score"`
	CommunicationSkills    float64       `json:"communication_skills_score"`
	QuestionsUnderstanding float64       `json:"questions_understanding_score"`
	ProblemSolving         float64       `json:"problem_solving_score"`
	DepthOfKnowledge       float64       `json:"DepthOfKnowlege_score"`
	DomainScores           []DomainScore `json:"domain_specific_score"`
	CreatedAt              time.Time     `json:"createdAt"`
}

// TopicReferences holds the study links and raw Q&A pairs for one topic. The
// qa field's shape varies between backend versions, so it stays raw.
type TopicReferences struct {
	Links []string        `json:"links"`
	QA    json.RawMessage `json:"qa"`
}

// ReferenceSet maps topic names to their references. The backend stores the
// field with a spelling mistake; the tag must match it.
type ReferenceSet struct {
	Topics map[string]TopicReferences `json:"refrenceLinks"`
}

// StartSession creates a new interview session resource for the named
// interview. Must be called before connecting the voice stream.
func (c *Client) StartSession(ctx context.Context, interviewName string) error {
	body := map[string]string{"interviewName": interviewName}
	return c.postJSON(ctx, c.botBaseURL, "/api/v1/interview/interview-session", "interview-session", body, nil)
}

// UploadResume sends a resume PDF as multipart form data.
func (c *Client) UploadResume(ctx context.Context, filename string, r io.Reader) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(resumeField, filename)
	if err != nil {
		return fmt.Errorf("backend: create form file: %w", err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return fmt.Errorf("backend: write resume: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("backend: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.botBaseURL+"/api/v1/interview/upload-file", &buf)
	if err != nil {
		return fmt.Errorf("backend: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	_, err = c.do(req, "upload-file")
	return err
}

// HasResume reports whether a resume is already on file for this account.
func (c *Client) HasResume(ctx context.Context) (bool, error) {
	var exists bool
	if err := c.getJSON(ctx, c.baseURL, "/api/v1/interview/isResume", "isResume", &exists); err != nil {
		return false, err
	}
	return exists, nil
}

// CurrentUser fetches the authenticated account.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var u User
	if err := c.getJSON(ctx, c.baseURL, "/api/v1/user/current-user", "current-user", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// History lists the account's interviews, newest last (backend order).
func (c *Client) History(ctx context.Context) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	if err := c.getJSON(ctx, c.baseURL, "/api/v1/interview/history", "history", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// TotalInterviews returns the account's interview count.
func (c *Client) TotalInterviews(ctx context.Context) (int, error) {
	var total int
	if err := c.getJSON(ctx, c.baseURL, "/api/v1/interview/totalInterview", "totalInterview", &total); err != nil {
		return 0, err
	}
	return total, nil
}

// Result fetches the scored result for a finished session.
func (c *Client) Result(ctx context.Context, sessionID string) (*Result, error) {
	var res Result
	path := "/api/v1/interview/interview-result/" + sessionID
	if err := c.getJSON(ctx, c.baseURL, path, "interview-result", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ReferenceLinks fetches the study references for a finished session.
func (c *Client) ReferenceLinks(ctx context.Context, sessionID string) (*ReferenceSet, error) {
	var refs ReferenceSet
	path := "/api/v1/interview/interview-result/reference_links/" + sessionID
	if err := c.getJSON(ctx, c.baseURL, path, "reference_links", &refs); err != nil {
		return nil, err
	}
	return &refs, nil
}

// GenerateResult asks the bot backend to score the just-finished session.
// First of the three end-of-session lifecycle calls.
func (c *Client) GenerateResult(ctx context.Context) error {
	return c.postJSON(ctx, c.botBaseURL, "/api/v1/interview/result/generation", "result-generation", struct{}{}, nil)
}

// GenerateReferences asks the bot backend to compile study references.
// Second lifecycle call. The path carries the backend's spelling.
func (c *Client) GenerateReferences(ctx context.Context) error {
	return c.postJSON(ctx, c.botBaseURL, "/api/v1/interview/result/generate_refrences", "generate-references", struct{}{}, nil)
}

// EndSession closes the session on the bot backend and returns the session
// ID under which results were stored. Final lifecycle call.
func (c *Client) EndSession(ctx context.Context) (string, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := c.postJSON(ctx, c.botBaseURL, "/api/v1/interview/end_session", "end-session", struct{}{}, &out); err != nil {
		return "", err
	}
	if out.SessionID == "" {
		return "", errors.New("backend: end_session returned no session_id")
	}
	return out.SessionID, nil
}

// getJSON performs a GET and decodes the (possibly enveloped) payload into v.
func (c *Client) getJSON(ctx context.Context, base, path, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return fmt.Errorf("backend: create request: %w", err)
	}
	body, err := c.do(req, endpoint)
	if err != nil {
		return err
	}
	return decodePayload(endpoint, body, v)
}

// postJSON performs a POST with a JSON body. When out is non-nil the
// response payload is decoded into it.
func (c *Client) postJSON(ctx context.Context, base, path, endpoint string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("backend: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("backend: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	body, err := c.do(req, endpoint)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodePayload(endpoint, body, out)
}

// do executes the request, records metrics, and returns the response body.
// Non-2xx responses become errors carrying the backend's message when it
// sends one.
func (c *Client) do(req *http.Request, endpoint string) ([]byte, error) {
	start := time.Now()
	resp, err := c.httpc.Do(req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		c.metrics.RecordBackendRequest(req.Context(), endpoint, "error", elapsed)
		return nil, fmt.Errorf("backend: %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	c.metrics.RecordBackendRequest(req.Context(), endpoint, strconv.Itoa(resp.StatusCode), elapsed)
	c.logger.Debug("request", "endpoint", endpoint, "status", resp.StatusCode, "elapsed_s", elapsed)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("backend: %s: read body: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if msg := errorMessage(body); msg != "" {
			return nil, fmt.Errorf("backend: %s: HTTP %d: %s", endpoint, resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("backend: %s: HTTP %d", endpoint, resp.StatusCode)
	}
	return body, nil
}

// decodePayload unwraps the optional {"data": ...} envelope and decodes the
// payload into v.
func decodePayload(endpoint string, body []byte, v any) error {
	payload := body
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		payload = envelope.Data
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("backend: %s: decode response: %w", endpoint, err)
	}
	return nil
}

// errorMessage pulls the human-readable message out of an error body.
func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}
