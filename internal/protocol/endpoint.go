package protocol

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	json "github.com/json-iterator/go"
)

// versionInfo is the subset of the /json/version document the bridge needs.
type versionInfo struct {
	Browser              string `json:"Browser"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// ResolveWebSocketURL turns a DevTools endpoint into a websocket debugger URL.
// ws:// and wss:// endpoints are returned unchanged; http:// and https:// endpoints
// are resolved through their /json/version document.
func ResolveWebSocketURL(ctx context.Context, client *http.Client, endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid devtools endpoint %q: %w", endpoint, err)
	}

	switch u.Scheme {
	case "ws", "wss":
		return endpoint, nil
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported devtools endpoint scheme %q", u.Scheme)
	}

	versionURL := strings.TrimSuffix(endpoint, "/") + "/json/version"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, versionURL, nil)
	if err != nil {
		return "", fmt.Errorf("could not build version request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("could not query %s: %w", versionURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d from %s", resp.StatusCode, versionURL)
	}

	var info versionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("could not decode %s: %w", versionURL, err)
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("%s did not advertise a websocket debugger url", versionURL)
	}
	return info.WebSocketDebuggerURL, nil
}
