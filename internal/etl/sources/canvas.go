package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"modprogress/internal/etl"
)

// ── Canvas Source ───────────────────────────────────────────
// Reads courses, modules, students and enrollments from the Canvas REST API.
// Lists follow the Link header until no rel="next" page remains.

const (
	defaultPerPage = 50
	defaultTimeout = 30 * time.Second
)

type canvasSource struct{}

func init() { etl.RegisterSource(&canvasSource{}) }

func (s *canvasSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "canvas",
		Label: "Canvas LMS",
		ConfigFields: []etl.ConfigField{
			{Key: "baseUrl", Label: "Base URL", Type: "string", Required: true, Help: "Canvas instance URL (e.g., https://canvas.example.edu)"},
			{Key: "token", Label: "Access Token", Type: "password", Required: true, Help: "Canvas API access token"},
			{Key: "perPage", Label: "Page Size", Type: "number", Required: false, Default: strconv.Itoa(defaultPerPage)},
			{Key: "timeout", Label: "Request Timeout", Type: "duration", Required: false, Default: defaultTimeout.String()},
		},
	}
}

func (s *canvasSource) Connect(_ context.Context, cfg etl.SourceConfig) (etl.Client, error) {
	baseURL, _ := cfg["baseUrl"].(string)
	if baseURL == "" {
		return nil, fmt.Errorf("baseUrl is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse baseUrl: %w", err)
	}
	token, _ := cfg["token"].(string)
	if token == "" {
		return nil, fmt.Errorf("%w: no token configured", etl.ErrInvalidAccessToken)
	}
	timeout, err := durationValue(cfg["timeout"], defaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("timeout: %w", err)
	}
	return &canvasClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		perPage: intValue(cfg["perPage"], defaultPerPage),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type canvasClient struct {
	baseURL string
	token   string
	perPage int
	http    *http.Client
}

func (c *canvasClient) Course(ctx context.Context, courseID string) (etl.Record, error) {
	resp, err := c.get(ctx, c.endpoint("/api/v1/courses/"+url.PathEscape(courseID), nil))
	if err != nil {
		return etl.Record{}, fmt.Errorf("get course %s: %w", courseID, err)
	}
	defer resp.Body.Close()

	recs, err := etl.DecodeRecords(resp.Body)
	if err != nil {
		return etl.Record{}, fmt.Errorf("get course %s: %w", courseID, err)
	}
	if len(recs) != 1 {
		return etl.Record{}, fmt.Errorf("get course %s: expected one object, got %d", courseID, len(recs))
	}
	return recs[0], nil
}

func (c *canvasClient) Modules(ctx context.Context, courseID, studentID string) ([]etl.Record, error) {
	q := url.Values{"include[]": {"items"}}
	if studentID != "" {
		q.Set("student_id", studentID)
	}
	recs, err := c.list(ctx, "/api/v1/courses/"+url.PathEscape(courseID)+"/modules", q)
	if err != nil {
		return nil, fmt.Errorf("list modules for course %s: %w", courseID, err)
	}
	// Modules do not carry their course in the payload.
	for i := range recs {
		if _, ok := recs[i].Lookup("course_id"); !ok {
			recs[i].Set("course_id", courseID)
		}
	}
	return recs, nil
}

func (c *canvasClient) Students(ctx context.Context, courseID string) ([]etl.Record, error) {
	q := url.Values{
		"enrollment_type[]": {"student"},
		"include[]":         {"test_student", "email"},
	}
	recs, err := c.list(ctx, "/api/v1/courses/"+url.PathEscape(courseID)+"/users", q)
	if err != nil {
		return nil, fmt.Errorf("list students for course %s: %w", courseID, err)
	}
	return recs, nil
}

func (c *canvasClient) Enrollments(ctx context.Context, courseID string) ([]etl.Record, error) {
	q := url.Values{"type[]": {"StudentEnrollment"}}
	recs, err := c.list(ctx, "/api/v1/courses/"+url.PathEscape(courseID)+"/enrollments", q)
	if err != nil {
		return nil, fmt.Errorf("list enrollments for course %s: %w", courseID, err)
	}
	return recs, nil
}

// ── HTTP plumbing ──────────────────────────────────────────

func (c *canvasClient) endpoint(path string, q url.Values) string {
	if len(q) == 0 {
		return c.baseURL + path
	}
	return c.baseURL + path + "?" + q.Encode()
}

// list fetches every page of a collection endpoint.
func (c *canvasClient) list(ctx context.Context, path string, q url.Values) ([]etl.Record, error) {
	if q == nil {
		q = url.Values{}
	}
	q.Set("per_page", strconv.Itoa(c.perPage))
	next := c.endpoint(path, q)

	var all []etl.Record
	seen := make(map[string]bool)
	for next != "" {
		if seen[next] {
			return nil, fmt.Errorf("pagination loop at %s", next)
		}
		seen[next] = true

		resp, err := c.get(ctx, next)
		if err != nil {
			return nil, err
		}
		recs, err := etl.DecodeRecords(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
		next = nextLink(resp.Header.Get("Link"))
	}
	if all == nil {
		all = []etl.Record{}
	}
	return all, nil
}

func (c *canvasClient) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

// statusError maps Canvas error responses onto the etl source errors.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	msg := strings.TrimSpace(string(body))
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		if resp.Header.Get("WWW-Authenticate") != "" || strings.Contains(strings.ToLower(msg), "invalid access token") {
			return fmt.Errorf("%w: %s", etl.ErrInvalidAccessToken, msg)
		}
		return fmt.Errorf("%w: %s", etl.ErrUnauthorized, msg)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", etl.ErrUnauthorized, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", etl.ErrNotFound, msg)
	}
	return fmt.Errorf("http %d: %s", resp.StatusCode, msg)
}

// nextLink returns the rel="next" URL of an RFC 8288 Link header, or "".
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		segs := strings.Split(part, ";")
		if len(segs) < 2 {
			continue
		}
		target := strings.TrimSpace(segs[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, p := range segs[1:] {
			p = strings.TrimSpace(p)
			if p == `rel="next"` || p == "rel=next" {
				return strings.Trim(target, "<>")
			}
		}
	}
	return ""
}

// ── Config helpers ─────────────────────────────────────────

func intValue(v any, def int) int {
	switch n := v.(type) {
	case int:
		if n > 0 {
			return n
		}
	case int64:
		if n > 0 {
			return int(n)
		}
	case float64:
		if n > 0 {
			return int(n)
		}
	case string:
		if i, err := strconv.Atoi(n); err == nil && i > 0 {
			return i
		}
	}
	return def
}

func durationValue(v any, def time.Duration) (time.Duration, error) {
	switch d := v.(type) {
	case nil:
		return def, nil
	case time.Duration:
		if d > 0 {
			return d, nil
		}
		return def, nil
	case string:
		if d == "" {
			return def, nil
		}
		return time.ParseDuration(d)
	}
	return 0, fmt.Errorf("unsupported value %T", v)
}
