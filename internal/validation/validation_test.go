package validation

import (
	"errors"
	"testing"
)

func TestValidateStationAddress_Valid(t *testing.T) {
	tests := []struct {
		name string
		host string
		port string
		want string
	}{
		{"hostname", "wx-bridge.local", "22222", "wx-bridge.local:22222"},
		{"trimmed", "  10.0.0.5 ", " 23 ", "10.0.0.5:23"},
		{"ipv6", "::1", "1", "[::1]:1"},
		{"bracketed ipv6", "[fe80::1]", "65535", "[fe80::1]:65535"},
		{"underscore", "wx_bridge", "80", "wx_bridge:80"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateStationAddress(tc.host, tc.port)
			if err != nil {
				t.Fatalf("ValidateStationAddress() error = %v", err)
			}
			if got != tc.want {
				t.Errorf("ValidateStationAddress() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestValidateStationAddress_HostErrors(t *testing.T) {
	tests := []struct {
		name string
		host string
		want error
	}{
		{"empty", "", ErrHostEmpty},
		{"whitespace", " \t", ErrHostEmpty},
		{"scheme", "tcp://wx", ErrHostInvalid},
		{"with port", "wx:22222", ErrHostInvalid},
		{"inner space", "wx bridge", ErrHostInvalid},
		{"path", "wx/loop", ErrHostInvalid},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateStationAddress(tc.host, "22222")
			if !errors.Is(err, tc.want) {
				t.Errorf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestValidatePort_Errors(t *testing.T) {
	for _, port := range []string{"", "0", "65536", "-1", "http", "22.5"} {
		if _, err := ValidatePort(port); !errors.Is(err, ErrPortInvalid) {
			t.Errorf("ValidatePort(%q) error = %v, want ErrPortInvalid", port, err)
		}
	}
}
