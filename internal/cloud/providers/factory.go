// Package providers contains the cloud-drive implementations and the factory
// that picks one from a saved descriptor.
package providers

import (
	"context"
	"fmt"
	nethttp "net/http"
	"strings"

	"github.com/rescale/duopane/internal/backend"
	"github.com/rescale/duopane/internal/cloud/providers/azure"
	"github.com/rescale/duopane/internal/cloud/providers/gdrive"
	"github.com/rescale/duopane/internal/cloud/providers/s3"
	"github.com/rescale/duopane/internal/events"
	"github.com/rescale/duopane/internal/models"
)

// Providers that can be saved but have no backend yet.
const (
	ProviderDropbox  = "dropbox"
	ProviderOneDrive = "onedrive"
)

// Factory creates cloud backends. HTTPClient carries the proxy settings and
// is shared by every backend it creates.
type Factory struct {
	HTTPClient *nethttp.Client
	Bus        *events.EventBus

	// GoogleOptions overrides Drive endpoints (tests).
	GoogleOptions gdrive.Options
}

// NewFactory creates a factory.
func NewFactory(httpClient *nethttp.Client, bus *events.EventBus) *Factory {
	return &Factory{HTTPClient: httpClient, Bus: bus}
}

// New connects to the account described by desc. Google accounts are
// authenticated before returning.
func (f *Factory) New(ctx context.Context, desc models.CloudDescriptor) (backend.Cloud, error) {
	switch strings.ToLower(desc.Provider) {
	case gdrive.ProviderName:
		opts := f.GoogleOptions
		if opts.HTTPClient == nil {
			opts.HTTPClient = f.HTTPClient
		}
		opts.Bus = f.Bus
		c := gdrive.New(desc, opts)
		if err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
		return c, nil
	case s3.ProviderName:
		c, err := s3.New(ctx, desc, s3.Options{HTTPClient: f.HTTPClient, Bus: f.Bus})
		if err != nil {
			return nil, err
		}
		return c, nil
	case azure.ProviderName:
		c, err := azure.New(desc, azure.Options{HTTPClient: f.HTTPClient, Bus: f.Bus})
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderDropbox, ProviderOneDrive:
		return nil, fmt.Errorf("%s: %w", desc.Provider, backend.ErrNotSupported)
	default:
		return nil, fmt.Errorf("unsupported cloud provider: %q", desc.Provider)
	}
}
