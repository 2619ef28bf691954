package target

import (
	"fmt"
	"strconv"
	"strings"
)

// HostSpec is the result of parsing a host specification string.
// Zero values mean "not present in the spec".
type HostSpec struct {
	Host string
	User string
	Port int
}

// ParseHostSpec parses a host specification as accepted in request
// overrides: a bare hostname or address, "user@host", "host:port",
// "[ipv6]:port", or a full "ssh://user@host:port" URI.
func ParseHostSpec(raw string) (HostSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return HostSpec{}, fmt.Errorf("host cannot be empty")
	}

	if strings.HasPrefix(strings.ToLower(s), "ssh://") {
		s = strings.TrimSpace(s[len("ssh://"):])
	} else if i := strings.Index(s, "://"); i >= 0 {
		return HostSpec{}, fmt.Errorf("unsupported host URI scheme: %s", s[:i])
	}
	if s == "" {
		return HostSpec{}, fmt.Errorf("host cannot be empty")
	}

	if i := strings.IndexByte(s, '/'); i >= 0 {
		if strings.TrimSpace(s[i+1:]) != "" {
			return HostSpec{}, fmt.Errorf("host specification must not include a path component")
		}
		s = strings.TrimSpace(s[:i])
	}

	var spec HostSpec

	if i := strings.IndexByte(s, '@'); i >= 0 {
		user := strings.TrimSpace(s[:i])
		s = strings.TrimSpace(s[i+1:])
		if user == "" {
			return HostSpec{}, fmt.Errorf("username in host specification cannot be empty")
		}
		if s == "" {
			return HostSpec{}, fmt.Errorf("host cannot be empty")
		}
		spec.User = user
	}

	switch {
	case strings.HasPrefix(s, "["):
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return HostSpec{}, fmt.Errorf("invalid IPv6 host format: expected closing ']'")
		}
		inner := strings.TrimSpace(s[1:end])
		if inner == "" {
			return HostSpec{}, fmt.Errorf("host cannot be empty")
		}
		rest := s[end+1:]
		if rest != "" {
			if !strings.HasPrefix(rest, ":") {
				return HostSpec{}, fmt.Errorf("invalid host format after IPv6 literal")
			}
			port, err := parsePort(rest[1:])
			if err != nil {
				return HostSpec{}, err
			}
			spec.Port = port
		}
		spec.Host = inner

	case strings.Count(s, ":") == 1:
		i := strings.IndexByte(s, ':')
		host := strings.TrimSpace(s[:i])
		if host == "" {
			return HostSpec{}, fmt.Errorf("host cannot be empty")
		}
		port, err := parsePort(s[i+1:])
		if err != nil {
			return HostSpec{}, err
		}
		spec.Host = host
		spec.Port = port

	default:
		// Bare host, or a raw IPv6 literal without brackets (multiple colons).
		spec.Host = s
	}

	return spec, nil
}

func parsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("port in host specification cannot be empty")
	}
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port value: %s", s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port must be between 1 and 65535")
	}
	return port, nil
}
