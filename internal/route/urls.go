package route

import (
	"net/url"
	"strings"
)

// DefaultBaseURL is where customer datasets live when no base is configured.
const DefaultBaseURL = "https://raw.githubusercontent.com/fleetsync/reference-data/main"

const (
	datasetFile = "db-latest.json"

	githubHost    = "github.com"
	githubRawHost = "raw.githubusercontent.com"
	blobSegment   = "blob"
)

// BuildURLFromCustomerID derives the reference dataset URL for a customer
// value using DefaultBaseURL.
func BuildURLFromCustomerID(value string) string {
	return defaultResolver.BuildURLFromCustomerID(value)
}

// BuildURLFromCustomerID derives the reference dataset URL for a customer value.
//
// An absolute http(s) URL is used as-is, except that a GitHub "blob" view URL
// is rewritten to its raw-content equivalent. Any other value is treated as
// an opaque identifier: surrounding separators are trimmed, the rest is
// percent-encoded and embedded as <base>/<id>/db-latest.json.
func (r *Resolver) BuildURLFromCustomerID(value string) string {
	value = strings.TrimSpace(value)
	if isHTTPURL(value) {
		return rewriteBlobURL(value)
	}
	return r.base + "/" + encodeIdentifier(value) + "/" + datasetFile
}

// BuildFleetURL derives the fleet descriptor URL for a customer value and
// fleet ID: <base>/<customerId>/fleet-<fleetId>.json. When the customer value
// is itself an absolute URL, the descriptor is expected next to the file it
// names, or inside it when it names a directory.
func (r *Resolver) BuildFleetURL(customer, fleetID string) string {
	customer = strings.TrimSpace(customer)
	file := "fleet-" + url.PathEscape(fleetID) + ".json"

	if isHTTPURL(customer) {
		u := rewriteBlobURL(customer)
		if strings.HasSuffix(u, ".json") {
			return u[:strings.LastIndex(u, "/")+1] + file
		}
		return strings.TrimRight(u, "/") + "/" + file
	}
	return r.base + "/" + encodeIdentifier(customer) + "/" + file
}

// IsAbsoluteURL reports whether s parses as an absolute URL with a host.
func IsAbsoluteURL(s string) bool {
	if s == "" {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Host != ""
}

func isHTTPURL(s string) bool {
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return false
	}
	return IsAbsoluteURL(s)
}

func encodeIdentifier(id string) string {
	return url.PathEscape(strings.Trim(id, "/\\ "))
}

// rewriteBlobURL turns https://github.com/<o>/<r>/blob/<ref>/<path> into
// https://raw.githubusercontent.com/<o>/<r>/<ref>/<path>. Other URLs are
// returned unchanged.
func rewriteBlobURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || !strings.EqualFold(u.Host, githubHost) {
		return raw
	}
	parts := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	if len(parts) < 5 || parts[2] != blobSegment {
		return raw
	}
	rewritten := append(parts[:2:2], parts[3:]...)
	u.Host = githubRawHost
	u.Path = "/" + strings.Join(rewritten, "/")
	u.RawPath = ""
	return u.String()
}
