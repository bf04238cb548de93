package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"
	"strings"

	"golang.org/x/net/http2"

	"github.com/rescale/duopane/internal/config"
)

// NewTransferClient returns a client for streamed uploads and downloads.
// It builds on ConfigureHTTPClient, removes the overall timeout (callers bound
// transfers with their context) and enables HTTP/2 unless a proxy is active
// or DISABLE_HTTP2=true.
func NewTransferClient(proxy config.ProxySettings) (*nethttp.Client, error) {
	client, err := ConfigureHTTPClient(proxy)
	if err != nil {
		return nil, err
	}
	client.Timeout = 0

	tr, ok := client.Transport.(*nethttp.Transport)
	if !ok {
		// ntlm wraps the transport; leave it untouched
		return client, nil
	}

	tr.DisableCompression = true
	tr.ForceAttemptHTTP2 = true
	_ = http2.ConfigureTransport(tr)

	if os.Getenv("DISABLE_HTTP2") == "true" || proxyActive(proxy) {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}

	return client, nil
}

func proxyActive(proxy config.ProxySettings) bool {
	switch strings.ToLower(proxy.Mode) {
	case "no-proxy", "":
		return false
	case "system":
		return os.Getenv("HTTP_PROXY") != "" || os.Getenv("HTTPS_PROXY") != "" ||
			os.Getenv("http_proxy") != "" || os.Getenv("https_proxy") != ""
	default:
		return true
	}
}
