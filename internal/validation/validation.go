package validation

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"unicode"
)

// ErrHostEmpty is returned when the station host is empty or whitespace-only after trim.
var ErrHostEmpty = errors.New("station host is required")

// ErrHostInvalid is returned when the host carries a scheme, port, path or whitespace.
var ErrHostInvalid = errors.New("station host is invalid")

// ErrPortInvalid is returned when the port is not an integer in 1..65535.
var ErrPortInvalid = errors.New("station port must be 1-65535")

// ValidateStationAddress trims host and port and returns the dialable
// "host:port" form. The host is a bare name or IP literal; IPv6 literals may
// be given with or without brackets.
func ValidateStationAddress(host, port string) (string, error) {
	h, err := validateHost(host)
	if err != nil {
		return "", err
	}
	p, err := ValidatePort(port)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(h, strconv.Itoa(p)), nil
}

// ValidatePort parses a TCP port.
func ValidatePort(port string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(port))
	if err != nil || p < 1 || p > 65535 {
		return 0, ErrPortInvalid
	}
	return p, nil
}

func validateHost(host string) (string, error) {
	s := strings.TrimSpace(host)
	if s == "" {
		return "", ErrHostEmpty
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		s = s[1 : len(s)-1]
	}
	if ip := net.ParseIP(s); ip != nil {
		return s, nil
	}
	for _, c := range s {
		if !isAllowedHostRune(c) {
			return "", ErrHostInvalid
		}
	}
	return s, nil
}

// isAllowedHostRune returns true for letters, digits, dot, hyphen and underscore.
func isAllowedHostRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.', '-', '_':
		return true
	}
	return false
}
