package refdata

import (
	"strings"

	"golang.org/x/mod/semver"
)

// canonicalVersion converts "1.2.3" style versions to the "v1.2.3" form
// x/mod/semver expects. Invalid or empty versions return "".
func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return v
}

// CompareVersions decides whether remote supersedes local. An update is
// signaled only when both versions are valid and remote is strictly greater.
func CompareVersions(local, remote string) UpdateCheck {
	check := UpdateCheck{LocalVersion: local, RemoteVersion: remote}

	lv, rv := canonicalVersion(local), canonicalVersion(remote)
	if lv == "" || rv == "" {
		check.Reason = ReasonVersionMissing
		return check
	}

	switch c := semver.Compare(rv, lv); {
	case c > 0:
		check.NeedsUpdate = true
		check.Reason = ReasonRemoteNewer
	case c == 0:
		check.Reason = ReasonUpToDate
	default:
		check.Reason = ReasonRemoteOlder
	}
	return check
}
