package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Invoke calls the edge function name with a JSON body and decodes the JSON
// reply into out. A non-2xx reply is returned as *FunctionError.
func (c *Client) Invoke(ctx context.Context, name string, body any, out any) error {
	name = strings.Trim(strings.TrimSpace(name), "/")
	if name == "" {
		return fmt.Errorf("invoke: function name required")
	}
	if body == nil {
		body = map[string]any{}
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/functions/v1/"+url.PathEscape(name), nil, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		fnErr := &FunctionError{Name: name, Status: resp.StatusCode}
		var env struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &env) == nil {
			fnErr.Message = env.Error
			if fnErr.Message == "" {
				fnErr.Message = env.Message
			}
		} else {
			fnErr.Message = strings.TrimSpace(string(data))
		}
		return fnErr
	}
	if out == nil || len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
