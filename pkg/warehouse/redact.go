package warehouse

import (
	"net/url"
	"regexp"
	"strings"
)

var libpqPasswordRegex = regexp.MustCompile(`password=\S+`)

// RedactedDSN returns dsn with any password replaced, safe for logs.
func RedactedDSN(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "postgres://<unparseable>"
		}
		if u.User != nil {
			if _, ok := u.User.Password(); ok {
				u.User = url.UserPassword(u.User.Username(), "xxxxx")
			}
		}
		return u.String()
	}
	return libpqPasswordRegex.ReplaceAllString(dsn, "password=xxxxx")
}
