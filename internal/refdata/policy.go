package refdata

import (
	"net"
	"net/url"
	"slices"
	"strings"

	"github.com/roach88/fleetsync/internal/model"
)

// URLPolicy decides which remote locations may serve reference data.
type URLPolicy struct {
	// AllowHTTP permits plain http for non-loopback hosts.
	AllowHTTP bool
	// AllowedHosts, when non-empty, restricts hosts to this list.
	AllowedHosts []string
}

// Validate returns a *model.Error with CodeInvalidReferenceURL when raw is
// malformed or disallowed.
func (p URLPolicy) Validate(raw string) error {
	invalid := func(reason string) error {
		return &model.Error{Code: model.CodeInvalidReferenceURL, Detail: reason}
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return invalid("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return invalid("malformed url")
	}
	if u.Host == "" || u.Hostname() == "" {
		return invalid("missing host")
	}
	if u.User != nil {
		return invalid("credentials in url")
	}

	switch strings.ToLower(u.Scheme) {
	case "https":
	case "http":
		if !p.AllowHTTP && !isLoopback(u.Hostname()) {
			return invalid("plain http not allowed")
		}
	default:
		return invalid("unsupported scheme " + u.Scheme)
	}

	if len(p.AllowedHosts) > 0 && !slices.Contains(p.AllowedHosts, strings.ToLower(u.Hostname())) {
		return invalid("host not allowed: " + u.Hostname())
	}
	return nil
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
