// Package client talks to the versioning routes of a botvault server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"botvault/internal/archive"
	"botvault/internal/errors"
	"botvault/shared/types"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Second * 60,
		},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

func (c *Client) url(bot, route string, query url.Values) string {
	u := fmt.Sprintf("%s/api/bots/%s/versioning/%s", c.baseURL, url.PathEscape(bot), route)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do sends req and returns the response when its status is want. Any
// other status is decoded into an *errors.Error.
func (c *Client) do(req *http.Request, want int) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == want {
		return resp, nil
	}
	defer resp.Body.Close()

	e := &errors.Error{Code: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(body, e) != nil || e.Type == "" {
		e.Type = errors.ErrorTypeInternal
		e.Message = fmt.Sprintf("unexpected status: %s", resp.Status)
	}
	return nil, e
}

func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req, http.StatusOK)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) postJSON(ctx context.Context, u string, body, v any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req, http.StatusOK)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) Pending(ctx context.Context, bot string) ([]shared.PendingChange, error) {
	var changes []shared.PendingChange
	if err := c.getJSON(ctx, c.url(bot, "pending", nil), &changes); err != nil {
		return nil, err
	}
	return changes, nil
}

// Export downloads the current content of bot as an archive. The
// manifest is left empty; unpack Data to read it.
func (c *Client) Export(ctx context.Context, bot string) (*archive.Archive, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(bot, "export", nil), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req, http.StatusOK)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}

	a := &archive.Archive{
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		a.Name = params["filename"]
	}
	return a, nil
}

func (c *Client) Revert(ctx context.Context, bot, path, revision string) error {
	body := map[string]string{"filePath": path, "revision": revision}
	return c.postJSON(ctx, c.url(bot, "revert", nil), body, nil)
}

// Commit records revisions for paths, or for everything pending when no
// path is given.
func (c *Client) Commit(ctx context.Context, bot string, paths ...string) ([]shared.Revision, error) {
	var revs []shared.Revision
	body := map[string][]string{"paths": paths}
	if err := c.postJSON(ctx, c.url(bot, "commit", nil), body, &revs); err != nil {
		return nil, err
	}
	return revs, nil
}

func (c *Client) History(ctx context.Context, bot, path string) ([]shared.Revision, error) {
	var revs []shared.Revision
	if err := c.getJSON(ctx, c.url(bot, "history", url.Values{"path": {path}}), &revs); err != nil {
		return nil, err
	}
	return revs, nil
}

// Diff returns the unified diff between the latest revision of path and
// its current content.
func (c *Client) Diff(ctx context.Context, bot, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(bot, "diff", url.Values{"path": {path}}), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.do(req, http.StatusOK)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Import uploads an archive produced by Export.
func (c *Client) Import(ctx context.Context, bot, name string, data []byte) ([]shared.Revision, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(bot, "import", nil), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(req, http.StatusOK)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var revs []shared.Revision
	if err := json.NewDecoder(resp.Body).Decode(&revs); err != nil {
		return nil, err
	}
	return revs, nil
}
