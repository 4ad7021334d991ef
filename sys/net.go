package sys

import (
	"net"
	neturl "net/url"
	"strings"
)

// IsLocalhost reports whether hostOrURL (a url, host:port or bare host)
// points at the loopback interface or an unspecified address.
func IsLocalhost(hostOrURL string) bool {
	host := hostOrURL
	if u, err := neturl.Parse(hostOrURL); err == nil && u.Host != "" {
		host = u.Hostname()
	} else if h, _, err := net.SplitHostPort(hostOrURL); err == nil {
		host = h
	} else {
		host = strings.Trim(host, "[]")
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback() || ip.IsUnspecified()
	}
	return false
}
