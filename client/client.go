// Package client talks to a disot server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"disot/internal/api"
	"disot/internal/errors"
	"disot/internal/ledger"
	"disot/internal/signature"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: time.Second * 30,
		},
	}
}

// do sends the request and decodes a JSON response into out. Error
// responses come back as *errors.Error so callers can use errors.IsNotFound.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, want int, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	var e errors.Error
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Type == "" {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}
	e.Code = resp.StatusCode
	return &e
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, want int, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	return c.do(ctx, method, path, body, "application/json", want, out)
}

func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/health", nil, http.StatusOK, nil)
}

// Content operations
func (c *Client) StoreContent(ctx context.Context, data []byte, name, mimeType string) (*api.ContentSummary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/content", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", mimeType)
	if name != "" {
		req.Header.Set("X-Content-Name", name)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, decodeError(resp)
	}
	var result api.ContentSummary
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetContent returns the raw bytes and their MIME type.
func (c *Client) GetContent(ctx context.Context, hash string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/content/"+url.PathEscape(hash), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", decodeError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) ListContent(ctx context.Context) ([]api.ContentSummary, error) {
	var result []api.ContentSummary
	if err := c.doJSON(ctx, http.MethodGet, "/api/content", nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) GenerateKeys(ctx context.Context) (*signature.KeyPair, error) {
	var keys signature.KeyPair
	if err := c.doJSON(ctx, http.MethodPost, "/api/keys", nil, http.StatusCreated, &keys); err != nil {
		return nil, err
	}
	return &keys, nil
}

// Entry operations
func (c *Client) CreateEntry(ctx context.Context, req api.CreateEntryRequest) (*ledger.Entry, error) {
	var e ledger.Entry
	if err := c.doJSON(ctx, http.MethodPost, "/api/entries", req, http.StatusCreated, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Client) CreateMetadataEntry(ctx context.Context, content ledger.MetadataContent, privateKey string) (*ledger.Entry, error) {
	req := api.CreateMetadataEntryRequest{Content: content, PrivateKey: privateKey}
	var e ledger.Entry
	if err := c.doJSON(ctx, http.MethodPost, "/api/metadata-entries", req, http.StatusCreated, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Client) GetEntry(ctx context.Context, id string) (*ledger.Entry, error) {
	var e ledger.Entry
	if err := c.doJSON(ctx, http.MethodGet, "/api/entries/"+url.PathEscape(id), nil, http.StatusOK, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Client) ListEntries(ctx context.Context, filter ledger.Filter) ([]*ledger.Entry, error) {
	q := url.Values{}
	if filter.Type != "" {
		q.Set("type", string(filter.Type))
	}
	if filter.PublicKey != "" {
		q.Set("public_key", filter.PublicKey)
	}
	if !filter.From.IsZero() {
		q.Set("from", filter.From.Format(time.RFC3339Nano))
	}
	if !filter.To.IsZero() {
		q.Set("to", filter.To.Format(time.RFC3339Nano))
	}

	path := "/api/entries"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var entries []*ledger.Entry
	if err := c.doJSON(ctx, http.MethodGet, path, nil, http.StatusOK, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) VerifyEntry(ctx context.Context, id string) (bool, error) {
	var v api.VerifyResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/entries/"+url.PathEscape(id)+"/verify", nil, http.StatusOK, &v); err != nil {
		return false, err
	}
	return v.Valid, nil
}

func (c *Client) VersionHistory(ctx context.Context, id string) ([]string, error) {
	var h api.HistoryResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/entries/"+url.PathEscape(id)+"/history", nil, http.StatusOK, &h); err != nil {
		return nil, err
	}
	return h.History, nil
}
