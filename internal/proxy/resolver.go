// Package proxy decides which hosts are reached through the SOCKS proxy and
// dials accordingly.
package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	xproxy "golang.org/x/net/proxy"
)

const dialTimeout = 30 * time.Second

// Settings configures the proxy. A zero Hostname or Port disables it.
type Settings struct {
	Hostname      string   `yaml:"hostname"`
	Port          int      `yaml:"port"`
	Username      string   `yaml:"username"`
	Password      string   `yaml:"password"`
	NonProxyHosts []string `yaml:"non_proxy_hosts"`
}

// Resolver is safe for concurrent use. A nil *Resolver dials directly.
type Resolver struct {
	settings Settings
	direct   *net.Dialer
}

func New(settings Settings) *Resolver {
	return &Resolver{settings: settings, direct: &net.Dialer{Timeout: dialTimeout}}
}

// Enabled reports whether a proxy is configured.
func (r *Resolver) Enabled() bool {
	return r != nil && r.settings.Hostname != "" && r.settings.Port != 0
}

// ShouldProxy reports whether host must be reached through the proxy: a
// proxy is configured and host does not end with any non-proxy entry.
func (r *Resolver) ShouldProxy(host string) bool {
	if !r.Enabled() {
		return false
	}
	host = strings.ToLower(host)
	for _, suffix := range r.settings.NonProxyHosts {
		suffix = strings.ToLower(strings.TrimSpace(suffix))
		if suffix != "" && strings.HasSuffix(host, suffix) {
			return false
		}
	}
	return true
}

// Address returns the proxy host and port.
func (r *Resolver) Address() (string, int) {
	if r == nil {
		return "", 0
	}
	return r.settings.Hostname, r.settings.Port
}

func (r *Resolver) addr() string {
	return net.JoinHostPort(r.settings.Hostname, strconv.Itoa(r.settings.Port))
}

// DialContext connects to addr, through the proxy when ShouldProxy says so.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	direct := &net.Dialer{Timeout: dialTimeout}
	if r != nil && r.direct != nil {
		direct = r.direct
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if !r.ShouldProxy(host) {
		return direct.DialContext(ctx, network, addr) //nolint:wrapcheck // net errors carry the address
	}

	var auth *xproxy.Auth
	if r.settings.Username != "" {
		auth = &xproxy.Auth{User: r.settings.Username, Password: r.settings.Password}
	}
	dialer, err := xproxy.SOCKS5("tcp", r.addr(), auth, direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer: %w", err)
	}
	if cd, ok := dialer.(xproxy.ContextDialer); ok {
		conn, err := cd.DialContext(ctx, network, addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s via proxy %s: %w", addr, r.addr(), err)
		}
		return conn, nil
	}
	conn, err := dialer.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s via proxy %s: %w", addr, r.addr(), err)
	}
	return conn, nil
}

// HTTPProxy is suitable for http.Transport.Proxy.
func (r *Resolver) HTTPProxy(req *http.Request) (*url.URL, error) {
	if !r.ShouldProxy(req.URL.Hostname()) {
		return nil, nil //nolint:nilnil // nil URL means no proxy
	}
	u := &url.URL{Scheme: "socks5", Host: r.addr()}
	if r.settings.Username != "" {
		u.User = url.UserPassword(r.settings.Username, r.settings.Password)
	}
	return u, nil
}
