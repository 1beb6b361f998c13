package apiclient

import (
	"net/url"
	"regexp"
	"strings"
)

// CursorFunc extracts the next page location from a response.
// An empty string ends pagination.
type CursorFunc func(resp *Response) string

// linkRegex matches Link header entries: <url>; rel="type".
var linkRegex = regexp.MustCompile(`<([^>]+)>;\s*rel="([^"]+)"`)

// LinkHeaderCursor follows the rel="next" entry of the Link header.
// A missing header, a missing next relation or an unparsable URL all end
// pagination.
func LinkHeaderCursor(resp *Response) string {
	next := ParseNextLink(resp.Header.Get("Link"))
	if next == "" {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil || !u.IsAbs() {
		return ""
	}
	return next
}

// ParseNextLink extracts the "next" URL from a Link header.
// Returns empty string if no next link is found.
func ParseNextLink(linkHeader string) string {
	if linkHeader == "" {
		return ""
	}

	for _, part := range strings.Split(linkHeader, ",") {
		matches := linkRegex.FindStringSubmatch(strings.TrimSpace(part))
		if len(matches) == 3 && matches[2] == "next" {
			return matches[1]
		}
	}

	return ""
}
