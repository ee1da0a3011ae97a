package providers

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Spec describes how a provider's references look, both bare and embedded
// in its receipt URLs.
type Spec struct {
	Provider Provider
	Pattern  *regexp.Regexp
	// Hosts are receipt URL hosts, matched without port.
	Hosts []string
	// QueryKeys are checked in order for the reference.
	QueryKeys []string
	// PathSegment takes the last path segment when no query key matched.
	PathSegment bool
}

var ftPattern = regexp.MustCompile(`^FT[A-Z0-9]{10,}$`)

// DefaultSpecs returns the reference formats of every supported provider.
func DefaultSpecs() []Spec {
	return []Spec{
		{
			Provider:  CBE,
			Pattern:   ftPattern,
			Hosts:     []string{"apps.cbe.com.et"},
			QueryKeys: []string{"id"},
		},
		{
			Provider:  BOA,
			Pattern:   ftPattern,
			Hosts:     []string{"cs.bankofabyssinia.com"},
			QueryKeys: []string{"trx"},
		},
		{
			Provider:    Telebirr,
			Pattern:     regexp.MustCompile(`^[A-Z0-9]{6,}$`),
			Hosts:       []string{"transactioninfo.ethiotelecom.et"},
			PathSegment: true,
		},
		{
			Provider:    Awash,
			Pattern:     regexp.MustCompile(`^[A-Z0-9-]{8,}$`),
			Hosts:       []string{"awashpay.awashbank.com"},
			QueryKeys:   []string{"id"},
			PathSegment: true,
		},
		{
			Provider:    Dashen,
			Pattern:     regexp.MustCompile(`^[A-Z0-9]{10,}$`),
			Hosts:       []string{"receipt.dashensuperapp.com"},
			PathSegment: true,
		},
	}
}

func (s Spec) Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty reference", ErrFormat)
	}

	candidate := raw
	if looksLikeURL(raw) {
		ref, err := s.fromURL(raw)
		if err != nil {
			return "", err
		}
		candidate = ref
	}

	ref := strings.ToUpper(candidate)
	if !s.Pattern.MatchString(ref) {
		return "", fmt.Errorf("%w: %q is not a %s reference", ErrFormat, candidate, s.Provider)
	}
	return ref, nil
}

func looksLikeURL(raw string) bool {
	return strings.Contains(raw, "://") || strings.ContainsAny(raw, "/?")
}

func (s Spec) fromURL(raw string) (string, error) {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: unparseable url", ErrFormat)
	}
	if !s.knownHost(u.Hostname()) {
		return "", fmt.Errorf("%w: %s is not a %s receipt host", ErrFormat, u.Hostname(), s.Provider)
	}

	q := u.Query()
	for _, key := range s.QueryKeys {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			return v, nil
		}
	}

	if s.PathSegment {
		if seg := path.Base(strings.TrimRight(u.Path, "/")); seg != "" && seg != "." && seg != "/" {
			return seg, nil
		}
	}

	return "", fmt.Errorf("%w: no reference in url", ErrFormat)
}

func (s Spec) knownHost(host string) bool {
	host = strings.ToLower(host)
	for _, h := range s.Hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
