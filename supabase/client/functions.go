package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Functions returns an Edge Functions client.
func (c *Client) Functions() *FunctionsClient {
	return &FunctionsClient{client: c}
}

// FunctionsClient invokes Edge Functions under /functions/v1.
type FunctionsClient struct {
	client *Client
}

// Invoke POSTs body as JSON to the named function and decodes the reply into
// out when out is non-nil.
func (f *FunctionsClient) Invoke(ctx context.Context, name string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	reqURL := fmt.Sprintf("%s/functions/v1/%s", f.client.baseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	f.client.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	return f.client.doJSON(req, out)
}
