package resolver

import (
	"net/url"
)

// Query parameters carried by declared webview URLs.
const (
	paramExtensionID    = "extensionId"
	paramID             = "id"
	paramServerWindowID = "serverWindowId"
	paramRequestID      = "requestId"
)

// webviewMatcher recognizes one extension URL shape.
type webviewMatcher func(q url.Values, locatorID string) bool

var webviewMatchers = []webviewMatcher{
	// Server hosted windows carry the window id directly.
	func(q url.Values, locatorID string) bool {
		return q.Get(paramServerWindowID) == locatorID
	},
	// Request scoped panels carry the id alongside an outstanding request id.
	func(q url.Values, locatorID string) bool {
		return q.Get(paramID) == locatorID && q.Get(paramRequestID) != ""
	},
}

// ExtensionID returns the extension id carried by a webview query, preferring
// extensionId over id.
func ExtensionID(q url.Values) string {
	if ext := q.Get(paramExtensionID); ext != "" {
		return ext
	}
	return q.Get(paramID)
}

// MatchDeclaredWebview reports whether rawURL is the webview declared as locatorID.
// When allowed is non-empty the URL's extension id must be in it. An unparsable URL
// is returned as an error so the caller can skip it.
func MatchDeclaredWebview(rawURL, locatorID string, allowed map[string]struct{}) (bool, error) {
	if locatorID == "" {
		return false, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, err
	}
	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return false, err
	}

	ext := ExtensionID(q)
	if ext == "" {
		return false, nil
	}
	if len(allowed) > 0 {
		if _, ok := allowed[ext]; !ok {
			return false, nil
		}
	}

	for _, match := range webviewMatchers {
		if match(q, locatorID) {
			return true, nil
		}
	}
	return false, nil
}
