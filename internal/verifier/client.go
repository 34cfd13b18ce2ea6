package verifier

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
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrTimeout       = errors.New("verification job took too long to complete")
	ErrCompileFailed = errors.New("compilation failed")
	ErrVerifyFailed  = errors.New("verification failed")
	ErrNoEndpoint    = errors.New("network has no API endpoint configured")
)

// errPending marks a job that has not reached a terminal status yet.
var errPending = errors.New("job pending")

// Job is the verification job document.
type Job struct {
	JobID             string    `json:"job_id"`
	Status            JobStatus `json:"status"`
	StatusDescription *string   `json:"status_description"`
	ClassHash         string    `json:"class_hash"`
	CreatedTimestamp  *float64  `json:"created_timestamp"`
	UpdatedTimestamp  *float64  `json:"updated_timestamp"`
	Address           *string   `json:"address"`
	ContractFile      *string   `json:"contract_file"`
	Name              *string   `json:"name"`
	Version           *string   `json:"version"`
	License           *string   `json:"license"`
}

func (j *Job) description() string {
	if j.StatusDescription == nil || *j.StatusDescription == "" {
		return "unknown failure"
	}
	return *j.StatusDescription
}

// File is one source file sent with a verification request, keyed by its
// path relative to the project directory.
type File struct {
	Name    string
	Content []byte
}

type DispatchRequest struct {
	CompilerVersion string
	ScarbVersion    string
	License         string
	Name            string
	// ContractFile is the file declaring the contract, relative to the project.
	ContractFile   string
	ProjectDirPath string
	Files          []File
}

type Client struct {
	http          *http.Client
	endpoints     Endpoints
	interval      time.Duration
	maxRetries    int
	useMaxRetries bool
	logger        *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.http = c } }

// WithEndpoints replaces the network endpoints.
func WithEndpoints(e Endpoints) Option { return func(cl *Client) { cl.endpoints = e } }

func WithPollInterval(d time.Duration) Option { return func(cl *Client) { cl.interval = d } }

// WithMaxRetries bounds polling. The bound is only enforced when
// USE_POLLING_MAX_RETRIES=true or WithEnforceMaxRetries is given.
func WithMaxRetries(n int) Option { return func(cl *Client) { cl.maxRetries = n } }

func WithEnforceMaxRetries(on bool) Option { return func(cl *Client) { cl.useMaxRetries = on } }

func WithLogger(l *slog.Logger) Option { return func(cl *Client) { cl.logger = l } }

func New(network Network, opts ...Option) (*Client, error) {
	c := &Client{
		http:          &http.Client{Timeout: 30 * time.Second},
		endpoints:     network.Endpoints(),
		interval:      5 * time.Second,
		maxRetries:    10,
		useMaxRetries: strings.EqualFold(os.Getenv(EnvUseMaxRetries), "true"),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.endpoints.Internal == "" || c.endpoints.Public == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoEndpoint, network)
	}
	return c, nil
}

// ClassExists reports whether the class hash is known to the network.
func (c *Client) ClassExists(ctx context.Context, classHash string) (bool, error) {
	u := c.endpoints.Internal + "/api/class/" + url.PathEscape(classHash)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("get class %s: %w", classHash, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("unexpected status code %d when getting class %s: %s", resp.StatusCode, classHash, strings.TrimSpace(string(body)))
	}
}

// Dispatch submits a verification job and returns its id.
func (c *Client) Dispatch(ctx context.Context, classHash string, r DispatchRequest) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"compiler_version", r.CompilerVersion},
		{"scarb_version", r.ScarbVersion},
		{"license", r.License},
		{"name", r.Name},
		{"contract_file", r.ContractFile},
		{"project_dir_path", r.ProjectDirPath},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return "", err
		}
	}
	for _, f := range r.Files {
		if err := w.WriteField("files__"+f.Name, string(f.Content)); err != nil {
			return "", err
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	u := c.endpoints.Public + "/class-verify/" + url.PathEscape(classHash)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("dispatch verification: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", ErrJobNotFound
	case http.StatusBadRequest:
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			return "", fmt.Errorf("failed to dispatch verification job with status 400: %w", err)
		}
		return "", fmt.Errorf("failed to dispatch verification job with status 400: %s", apiErr.Error)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("failed to dispatch verification job with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode dispatch response: %w", err)
	}
	if out.JobID == "" {
		return "", errors.New("dispatch response has no job_id")
	}
	return out.JobID, nil
}

// Poll fetches the job until it reaches a terminal status. Non-OK responses
// and failed jobs stop polling immediately.
func (c *Client) Poll(ctx context.Context, jobID string) (*Job, error) {
	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(c.interval)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("verification job pending", "job_id", jobID, "next", next)
		}),
	}
	if c.useMaxRetries {
		opts = append(opts, backoff.WithMaxTries(uint(c.maxRetries)+1))
	}

	job, err := backoff.Retry(ctx, func() (*Job, error) {
		return c.fetchJob(ctx, jobID)
	}, opts...)
	if errors.Is(err, errPending) {
		return nil, ErrTimeout
	}
	return job, err
}

func (c *Client) fetchJob(ctx context.Context, jobID string) (*Job, error) {
	u := c.endpoints.Public + "/class-verify/job/" + url.PathEscape(jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("get job %s: %w", jobID, err))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, backoff.Permanent(ErrJobNotFound)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, backoff.Permanent(fmt.Errorf("unexpected status code: %d, with error message: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var job Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode job: %w", err))
	}
	switch job.Status {
	case StatusSuccess:
		return &job, nil
	case StatusFail:
		return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrVerifyFailed, job.description()))
	case StatusCompileFailed:
		return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrCompileFailed, job.description()))
	case StatusSubmitted, StatusCompiled:
		return nil, errPending
	default:
		return nil, backoff.Permanent(fmt.Errorf("unknown job status %d", int(job.Status)))
	}
}

// ReadFiles loads project files given relative to root.
func ReadFiles(root string, rel []string) ([]File, error) {
	files := make([]File, 0, len(rel))
	for _, name := range rel {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
		if err != nil {
			return nil, err
		}
		files = append(files, File{Name: name, Content: data})
	}
	return files, nil
}
