// Package redact masks secrets before they are logged.
package redact

import (
	"net/url"
	"sort"
	"strings"
)

// Mask keeps the first half of s and replaces the rest with asterisks.
func Mask(s string) string {
	l := len(s)
	if l == 0 {
		return s
	}
	if l == 1 {
		return "*"
	}
	h := l / 2
	return s[0:h] + strings.Repeat("*", l-h)
}

// URL masks the credentials and query values of a connection url. The
// password is hidden entirely. A value that does not parse as a url is
// masked as a whole.
func URL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return Mask(raw)
	}
	var str strings.Builder
	str.WriteString(u.Scheme)
	str.WriteString("://")
	if u.User != nil {
		str.WriteString(Mask(u.User.Username()))
		if _, ok := u.User.Password(); ok {
			str.WriteString(":****")
		}
		str.WriteString("@")
	}
	str.WriteString(u.Host)
	if u.Path != "/" && u.Path != "" {
		str.WriteString(u.Path)
	}
	var qs []string
	for k, v := range u.Query() {
		qs = append(qs, k+"="+Mask(strings.Join(v, ",")))
	}
	sort.Strings(qs)
	if len(qs) > 0 {
		str.WriteString("?")
		str.WriteString(strings.Join(qs, "&"))
	}
	return str.String()
}

// Secret masks s, or returns "" when s is unset so an absent secret stays
// visibly absent.
func Secret(s string) string {
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		return URL(s)
	}
	return Mask(s)
}
