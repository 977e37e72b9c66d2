package browser

import (
	"fmt"
	"strings"
)

// ProxyDescriptor is one upstream proxy a session can be bound to. It is
// immutable once parsed. A nil *ProxyDescriptor means a direct connection.
type ProxyDescriptor struct {
	Server   string
	Username string
	Password string
}

// Label returns a short identifier suitable for logging.
func (p *ProxyDescriptor) Label() string {
	if p == nil {
		return "direct"
	}
	return p.Server
}

// ParseProxy converts the compact configuration form into a descriptor.
// Accepted forms: "host:port", "host:port:user", "host:port:user:pass", or a
// full URL such as "socks5://host:1080". Empty strings are rejected so bad
// proxy lists fail at startup rather than mid-run.
func ParseProxy(raw string) (*ProxyDescriptor, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, fmt.Errorf("proxy entry must be a non-empty string")
	}
	if strings.Contains(value, "://") {
		return &ProxyDescriptor{Server: value}, nil
	}

	parts := strings.Split(value, ":")
	switch {
	case len(parts) >= 4:
		return &ProxyDescriptor{
			Server:   fmt.Sprintf("http://%s:%s", parts[0], parts[1]),
			Username: parts[2],
			Password: parts[3],
		}, nil
	case len(parts) == 3:
		return &ProxyDescriptor{
			Server:   fmt.Sprintf("http://%s:%s", parts[0], parts[1]),
			Username: parts[2],
		}, nil
	default:
		return &ProxyDescriptor{Server: "http://" + value}, nil
	}
}

// ParseProxyList parses every entry, failing on the first invalid one.
func ParseProxyList(entries []string) ([]*ProxyDescriptor, error) {
	out := make([]*ProxyDescriptor, 0, len(entries))
	for i, entry := range entries {
		desc, err := ParseProxy(entry)
		if err != nil {
			return nil, fmt.Errorf("proxy entry %d: %w", i, err)
		}
		out = append(out, desc)
	}
	return out, nil
}
