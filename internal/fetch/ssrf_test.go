package fetch

import (
	"context"
	"fmt"
	"net/netip"
	"testing"
)

func staticResolver(addrs ...string) Resolver {
	return func(ctx context.Context, host string) ([]netip.Addr, error) {
		var out []netip.Addr
		for _, a := range addrs {
			out = append(out, netip.MustParseAddr(a))
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("no such host")
		}
		return out, nil
	}
}

func TestSSRFLiteralAddresses(t *testing.T) {
	tests := []struct {
		host string
		risk bool
	}{
		{"127.0.0.1", true},
		{"::1", true},
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"192.168.1.1", true},
		{"169.254.169.254", true},
		{"fc00::1", true},
		{"fd12::1", true},
		{"fe80::1", true},
		{"0.0.0.0", true},
		{"8.8.8.8", false},
		{"93.184.216.34", false},
		{"2606:4700::1111", false},
	}
	for _, tt := range tests {
		if got := SSRFRisk(context.Background(), tt.host, nil, false); got != tt.risk {
			t.Errorf("SSRFRisk(%s) = %v, want %v", tt.host, got, tt.risk)
		}
	}
}

func TestSSRFLocalhostNames(t *testing.T) {
	for _, host := range []string{"localhost", "Localhost", "foo.localhost"} {
		if !SSRFRisk(context.Background(), host, nil, false) {
			t.Errorf("%s should be risky", host)
		}
	}
	if SSRFRisk(context.Background(), "localhost", nil, true) {
		t.Error("allowLoopback should exempt localhost")
	}
}

func TestSSRFResolvedHosts(t *testing.T) {
	ctx := context.Background()

	// Public resolution is fine.
	if SSRFRisk(ctx, "good.example", staticResolver("93.184.216.34"), false) {
		t.Error("public host flagged")
	}
	// Rebinding: one private record taints the host.
	if !SSRFRisk(ctx, "evil.example", staticResolver("93.184.216.34", "10.0.0.5"), false) {
		t.Error("host with private record not flagged")
	}
	// Resolution failure fails closed.
	if !SSRFRisk(ctx, "unresolvable.example", staticResolver(), false) {
		t.Error("unresolvable host not flagged")
	}
}
