package seed

import (
	"context"
	"net"
	"strings"
)

// LookupHost resolves a hostname for the local fallback check. Tests replace it.
var LookupHost = net.DefaultResolver.LookupHost

// ResolveLocalFallbackAddr keeps addr when its host resolves. Compose service
// names such as "ledger:8090" do not resolve outside the compose network, so
// those fall back to the loopback address on the same port.
func ResolveLocalFallbackAddr(ctx context.Context, addr string) string {
	addr = strings.TrimSpace(addr)
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host == "" || port == "" {
		return addr
	}
	if _, err := LookupHost(ctx, host); err == nil {
		return addr
	}
	return net.JoinHostPort("127.0.0.1", port)
}
