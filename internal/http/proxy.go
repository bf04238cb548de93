// Package http builds the shared HTTP client used by the cloud providers.
package http

import (
	"crypto/tls"
	"fmt"
	"net"
	nethttp "net/http"
	"net/url"
	"strings"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"golang.org/x/net/http/httpproxy"

	"github.com/rescale/duopane/internal/config"
	"github.com/rescale/duopane/internal/constants"
	"github.com/rescale/duopane/internal/logging"
)

var logger = logging.NewLogger("http")

// ConfigureHTTPClient returns a client honouring the proxy settings.
// Modes: "no-proxy" (or empty), "system", "basic", "ntlm".
func ConfigureHTTPClient(proxy config.ProxySettings) (*nethttp.Client, error) {
	transport := newTransport()

	switch strings.ToLower(proxy.Mode) {
	case "no-proxy", "":
		transport.Proxy = nil

	case "system":
		transport.Proxy = nethttp.ProxyFromEnvironment

	case "ntlm":
		if proxy.Host == "" {
			logger.Warnf("proxy mode is ntlm but host is missing, falling back to no-proxy")
			return &nethttp.Client{Transport: transport, Timeout: constants.HTTPClientTimeout}, nil
		}
		transport.Proxy = proxyFuncWithBypass(buildProxyURL(proxy), proxy.NoProxy)
		return &nethttp.Client{
			Transport: ntlmssp.Negotiator{RoundTripper: transport},
			Timeout:   constants.HTTPClientTimeout,
		}, nil

	case "basic":
		if proxy.Host == "" {
			logger.Warnf("proxy mode is basic but host is missing, falling back to no-proxy")
			return &nethttp.Client{Transport: transport, Timeout: constants.HTTPClientTimeout}, nil
		}
		if proxy.User != "" && proxy.Password == "" {
			logger.Warnf("proxy user configured but password missing, proxy auth disabled")
		}
		transport.Proxy = proxyFuncWithBypass(buildProxyURL(proxy), proxy.NoProxy)

	default:
		return nil, fmt.Errorf("unsupported proxy mode: %s", proxy.Mode)
	}

	return &nethttp.Client{
		Transport: transport,
		Timeout:   constants.HTTPClientTimeout,
	}, nil
}

func newTransport() *nethttp.Transport {
	return &nethttp.Transport{
		DialContext: (&net.Dialer{
			Timeout:   constants.HTTPDialTimeout,
			KeepAlive: constants.HTTPDialKeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: constants.HTTPExpectContinueTimeout,
		ResponseHeaderTimeout: constants.HTTPResponseHeaderTimeout,
	}
}

// buildProxyURL constructs a proxy URL; credentials are embedded only when both are set.
func buildProxyURL(proxy config.ProxySettings) *url.URL {
	port := proxy.Port
	if port == 0 {
		port = constants.DefaultProxyPort
	}

	proxyURL := &url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(proxy.Host, fmt.Sprintf("%d", port)),
	}
	if proxy.User != "" && proxy.Password != "" {
		proxyURL.User = url.UserPassword(proxy.User, proxy.Password)
	}
	return proxyURL
}

// proxyFuncWithBypass routes through proxyURL unless the host matches noProxy.
func proxyFuncWithBypass(proxyURL *url.URL, noProxy string) func(*nethttp.Request) (*url.URL, error) {
	if noProxy == "" {
		return nethttp.ProxyURL(proxyURL)
	}
	cfg := httpproxy.Config{
		HTTPProxy:  proxyURL.String(),
		HTTPSProxy: proxyURL.String(),
		NoProxy:    noProxy,
	}
	proxyFunc := cfg.ProxyFunc()
	return func(req *nethttp.Request) (*url.URL, error) {
		result, err := proxyFunc(req.URL)
		if result == nil {
			logger.Debug().Str("host", req.URL.Host).Msg("proxy bypass")
		}
		return result, err
	}
}

// NeedsProxyPassword reports whether an authenticating proxy mode has a user but no password.
func NeedsProxyPassword(proxy config.ProxySettings) bool {
	mode := strings.ToLower(proxy.Mode)
	if mode != "basic" && mode != "ntlm" {
		return false
	}
	return proxy.User != "" && proxy.Password == ""
}
