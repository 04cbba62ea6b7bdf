package erp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const maxFileBytes = 32 << 20 // attachments larger than this are refused

// HTTPClient implements Client against a Frappe-style REST API
// (/api/resource/<doctype>[/<name>]), authenticating with a token pair.
type HTTPClient struct {
	baseURL   string
	apiKey    string
	apiSecret string
	client    *http.Client
}

// NewHTTPClient creates a client for the ERP at baseURL. The key/secret
// pair is sent as a token Authorization header on every request.
func NewHTTPClient(baseURL, apiKey, apiSecret string, client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client:    client,
	}
}

func (c *HTTPClient) Exists(ctx context.Context, doctype, name string) (bool, error) {
	_, err := c.GetDoc(ctx, doctype, name)
	if err == nil {
		return true, nil
	}
	if err == ErrNotFound {
		return false, nil
	}
	return false, err
}

func (c *HTTPClient) GetDoc(ctx context.Context, doctype, name string) (map[string]any, error) {
	u := fmt.Sprintf("%s/api/resource/%s/%s", c.baseURL, url.PathEscape(doctype), url.PathEscape(name))

	var payload struct {
		Data map[string]any `json:"data"`
	}
	if err := c.getJSON(ctx, u, &payload); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

func (c *HTTPClient) List(ctx context.Context, doctype string, q ListQuery) ([]map[string]any, error) {
	filters := make([][3]any, 0, len(q.Filters))
	for _, f := range q.Filters {
		filters = append(filters, [3]any{f.Field, f.Operator, f.Value})
	}

	params := url.Values{}
	if len(q.Fields) > 0 {
		fields, err := json.Marshal(q.Fields)
		if err != nil {
			return nil, fmt.Errorf("erp: encode fields: %w", err)
		}
		params.Set("fields", string(fields))
	}
	if len(filters) > 0 {
		fj, err := json.Marshal(filters)
		if err != nil {
			return nil, fmt.Errorf("erp: encode filters: %w", err)
		}
		params.Set("filters", string(fj))
	}
	if q.OrderBy != "" {
		params.Set("order_by", q.OrderBy)
	}
	if q.Limit > 0 {
		params.Set("limit_page_length", strconv.Itoa(q.Limit))
	} else {
		params.Set("limit_page_length", "0")
	}

	u := fmt.Sprintf("%s/api/resource/%s?%s", c.baseURL, url.PathEscape(doctype), params.Encode())

	var payload struct {
		Data []map[string]any `json:"data"`
	}
	if err := c.getJSON(ctx, u, &payload); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

func (c *HTTPClient) DownloadFile(ctx context.Context, fileURL string) ([]byte, error) {
	u := fileURL
	if strings.HasPrefix(fileURL, "/") {
		u = c.baseURL + fileURL
	}

	resp, err := c.do(ctx, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("erp: download %q: unexpected status %d", fileURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("erp: download %q: %w", fileURL, err)
	}
	if len(data) > maxFileBytes {
		return nil, fmt.Errorf("erp: download %q: file exceeds %d bytes", fileURL, maxFileBytes)
	}
	return data, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, u string, out any) error {
	resp, err := c.do(ctx, u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusForbidden, http.StatusUnauthorized:
		return fmt.Errorf("erp: request %q: access denied (%d)", u, resp.StatusCode)
	default:
		return fmt.Errorf("erp: request %q: unexpected status %d", u, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("erp: decode response: %w", err)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("erp: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "token "+c.apiKey+":"+c.apiSecret)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("erp: request failed: %w", err)
	}
	return resp, nil
}
