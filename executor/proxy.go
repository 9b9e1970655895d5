package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// HTTPProxyClient dispatches tool calls to the remote tool-proxy over HTTP,
// the path every tool not handled by the code-execution backend takes.
type HTTPProxyClient struct {
	BaseURL       string
	ServiceKey    string // bearer used when the caller token isn't user-presentable
	HTTPClient    *http.Client
}

// NewHTTPProxyClient constructs a client with the 10-minute dispatch timeout
// the tool-proxy contract requires; long-running tool calls (e.g. cloud
// provisioning) are expected to take minutes, not seconds.
func NewHTTPProxyClient(baseURL, serviceKey string) *HTTPProxyClient {
	return &HTTPProxyClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ServiceKey: serviceKey,
		HTTPClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

type proxyRequest struct {
	Server    string         `json:"server"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	ID        string         `json:"id"`
}

type proxyResponse struct {
	Result any `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

var jwtLikePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+$`)

// apiKeyPrefixes lists known API-key shapes that should be forwarded as the
// bearer token as-is, rather than treated as an opaque internal user id.
var apiKeyPrefixes = []string{"sk-", "pat-", "Bearer "}

// bearerFor classifies userToken: a JWT or recognized API-key prefix is
// forwarded verbatim; anything else falls back to the service-internal key
// so an opaque user identifier never leaks onto the wire as a credential.
func bearerFor(userToken, serviceKey string) string {
	if userToken != "" {
		if jwtLikePattern.MatchString(userToken) {
			return userToken
		}
		for _, p := range apiKeyPrefixes {
			if strings.HasPrefix(userToken, p) {
				return strings.TrimPrefix(userToken, "Bearer ")
			}
		}
	}
	return serviceKey
}

// Call implements ProxyClient.
func (c *HTTPProxyClient) Call(ctx context.Context, serverID, originalName string, arguments map[string]any, id, userToken, identityToken string) (Result, error) {
	body, err := json.Marshal(proxyRequest{Server: serverID, Tool: originalName, Arguments: arguments, ID: id})
	if err != nil {
		return Result{}, fmt.Errorf("executor: encode proxy request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/invoke", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("executor: build proxy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearerFor(userToken, c.ServiceKey))
	if identityToken != "" {
		req.Header.Set("X-AWS-ID-Token", identityToken)
		req.Header.Set("X-Azure-ID-Token", identityToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("executor: tool-proxy call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("executor: read proxy response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return Result{Error: fmt.Sprintf("tool-proxy returned %d: %s", resp.StatusCode, truncate(string(respBody), 500))}, nil
	}

	var parsed proxyResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{Error: fmt.Sprintf("tool-proxy returned unparseable response: %v", err)}, nil
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return Result{Error: parsed.Error.Message}, nil
	}

	return Result{Payload: unwrapResult(parsed.Result), ExecutedOn: resp.Header.Get("x-mcp-proxy-host"), RequestSize: len(body), RespSize: len(respBody)}, nil
}

// unwrapResult strips one level of `result.result` nesting, the shape the
// proxy's own downstream MCP transport commonly produces.
func unwrapResult(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	inner, ok := m["result"]
	if !ok || len(m) != 1 {
		return v
	}
	return inner
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
