package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var driveFileID = regexp.MustCompile(`/file/d/([^/]+)/`)

// RemoteStatusError is a non-2xx answer from the remote server.
type RemoteStatusError struct {
	Code   int
	Reason string
}

func (e *RemoteStatusError) Error() string {
	return fmt.Sprintf("HTTP error occurred: %d %s", e.Code, e.Reason)
}

// RemoteTransportError is a failure to reach the remote server at all.
type RemoteTransportError struct {
	Err error
}

func (e *RemoteTransportError) Error() string {
	return fmt.Sprintf("URL error occurred: %v", e.Err)
}

func (e *RemoteTransportError) Unwrap() error { return e.Err }

// RewriteDriveURL turns a Google Drive sharing link into its direct download form.
// Any other URL is returned unchanged.
func RewriteDriveURL(raw string) string {
	if !strings.Contains(raw, "drive.google.com") {
		return raw
	}
	m := driveFileID.FindStringSubmatch(raw)
	if m == nil {
		return raw
	}
	return "https://drive.google.com/uc?export=download&id=" + url.QueryEscape(m[1])
}

// Fetcher downloads remote files.
type Fetcher struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
}

// NewFetcher returns a Fetcher sending userAgent. A zero timeout leaves requests unbounded.
func NewFetcher(client *http.Client, userAgent string, timeout time.Duration) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{client: client, userAgent: userAgent, timeout: timeout}
}

// Fetch issues a GET for rawURL. The caller must close the returned body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &RemoteTransportError{Err: fmt.Errorf("unsupported url %q", rawURL)}
	}

	cancel := context.CancelFunc(func() {})
	if f.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, &RemoteTransportError{Err: err}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		cancel()
		return nil, &RemoteTransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, &RemoteStatusError{Code: resp.StatusCode, Reason: reasonPhrase(resp)}
	}
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

// reasonPhrase prefers the phrase the server sent over the canonical one.
func reasonPhrase(resp *http.Response) string {
	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if reason == "" {
		return http.StatusText(resp.StatusCode)
	}
	return reason
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
