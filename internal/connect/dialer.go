// Package connect opens remote sessions from saved descriptors.
package connect

import (
	"context"
	"fmt"
	nethttp "net/http"
	"sync"

	"github.com/rescale/duopane/internal/backend"
	"github.com/rescale/duopane/internal/cloud/providers"
	"github.com/rescale/duopane/internal/config"
	"github.com/rescale/duopane/internal/events"
	"github.com/rescale/duopane/internal/ftp"
	"github.com/rescale/duopane/internal/http"
	"github.com/rescale/duopane/internal/models"
)

// Dialer connects FTP servers directly and cloud accounts through the
// provider factory, sharing one proxy-aware HTTP client.
type Dialer struct {
	proxy config.ProxySettings
	bus   *events.EventBus

	once       sync.Once
	httpClient *nethttp.Client
	httpErr    error
}

// NewDialer creates a dialer. The HTTP client is built on first cloud dial.
func NewDialer(proxy config.ProxySettings, bus *events.EventBus) *Dialer {
	return &Dialer{proxy: proxy, bus: bus}
}

// DialFTP logs in to an FTP or FTPS server.
func (d *Dialer) DialFTP(ctx context.Context, desc models.FTPDescriptor) (backend.FTP, error) {
	if err := config.ValidateFTP(desc); err != nil {
		return nil, err
	}
	c, err := ftp.Dial(ctx, desc, d.bus)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DialCloud connects a cloud-drive account.
func (d *Dialer) DialCloud(ctx context.Context, desc models.CloudDescriptor) (backend.Cloud, error) {
	if err := config.ValidateCloud(desc); err != nil {
		return nil, err
	}
	client, err := d.client()
	if err != nil {
		return nil, err
	}
	return providers.NewFactory(client, d.bus).New(ctx, desc)
}

func (d *Dialer) client() (*nethttp.Client, error) {
	d.once.Do(func() {
		d.httpClient, d.httpErr = http.NewTransferClient(d.proxy)
		if d.httpErr != nil {
			d.httpErr = fmt.Errorf("failed to configure HTTP client: %w", d.httpErr)
		}
	})
	return d.httpClient, d.httpErr
}
