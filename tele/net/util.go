package telenet

import (
	"net"
	"net/url"
	"time"

	"github.com/juju/errors"
)

// past deadline interrupts blocked read
var aLongTimeAgo = time.Unix(1, 0)

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// parseURI splits tcp://host:port and ws://host:port/path
func parseURI(s string) (scheme, hostport, path string, err error) {
	u, err := url.ParseRequestURI(s)
	if err != nil {
		return "", "", "", errors.Annotatef(err, "parse url=%s", s)
	}
	path = u.Path
	if u.Scheme == "ws" && path == "" {
		path = "/"
	}
	return u.Scheme, u.Host, path, nil
}

// ParseListenURL checks that u is tcp://host:port or ws://host:port/path.
func ParseListenURL(u string) (scheme string, err error) {
	scheme, hostport, _, err := parseURI(u)
	if err != nil {
		return "", err
	}
	switch scheme {
	case "tcp", "ws":
	default:
		return "", errors.NotSupportedf("listen url=%s scheme", u)
	}
	if _, _, err = net.SplitHostPort(hostport); err != nil {
		return "", errors.Annotatef(err, "listen url=%s", u)
	}
	return scheme, nil
}
