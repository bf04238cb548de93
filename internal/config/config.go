// Package config provides configuration management for duopane.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/ini.v1"

	"github.com/rescale/duopane/internal/constants"
	"github.com/rescale/duopane/internal/models"
)

// AppConfig is the whole persisted configuration. It is always loaded and
// saved as one object.
//
// Config file location:
//   - Windows: %USERPROFILE%\.config\duopane\connections.ini
//   - Unix: ~/.config/duopane/connections.ini
//
// INI format:
//
//	[ui]
//	theme = dark
//	local_pane_width = 50
//	remote_pane_width = 50
//	last_download_dir = /home/me/Downloads
//	show_hidden = false
//
//	[proxy]
//	mode = no-proxy
//
//	[ftp:3f1c...]
//	name = nas
//	host = 192.168.1.10
//	port = 21
//	username = me
//	password =
//	secure = true
//
//	[cloud:9a0b...]
//	provider = google
//	account_name = me@example.com
//	access_token = ya29...
type AppConfig struct {
	FTPConnections   []models.FTPDescriptor
	CloudConnections []models.CloudDescriptor
	UI               UISettings
	Proxy            ProxySettings
}

// UISettings holds front-end preferences that survive restarts.
type UISettings struct {
	Theme           string
	LocalPaneWidth  int // percent of the window
	RemotePaneWidth int
	LastDownloadDir string
	ShowHidden      bool
}

// ProxySettings configures the shared HTTP client used by cloud providers.
// Mode is one of "no-proxy", "system", "basic" or "ntlm".
type ProxySettings struct {
	Mode     string
	Host     string
	Port     int
	User     string
	Password string
	NoProxy  string // comma-separated bypass list
}

const (
	sectionUI          = "ui"
	sectionProxy       = "proxy"
	ftpSectionPrefix   = "ftp:"
	cloudSectionPrefix = "cloud:"
)

// Supported cloud providers.
var knownProviders = map[string]bool{
	"google":   true,
	"s3":       true,
	"azure":    true,
	"dropbox":  true,
	"onedrive": true,
}

// Validation errors
var (
	ErrMissingHost         = errors.New("host is required")
	ErrInvalidPort         = errors.New("port must be between 1 and 65535")
	ErrMissingProvider     = errors.New("provider is required")
	ErrUnknownProvider     = errors.New("unknown cloud provider")
	ErrMissingAccount      = errors.New("account_name is required")
	ErrMissingBucket       = errors.New("bucket is required for this provider")
	ErrInvalidTheme        = errors.New("theme must be dark or light")
	ErrInvalidPaneWidth    = errors.New("pane widths must be between 10 and 90 percent")
	ErrInvalidProxyMode    = errors.New("proxy mode must be no-proxy, system, basic or ntlm")
	ErrConnectionNotFound  = errors.New("connection not found")
	ErrDuplicateConnection = errors.New("connection id already exists")
)

// NewAppConfig creates a configuration with default values.
func NewAppConfig() *AppConfig {
	return &AppConfig{
		UI: UISettings{
			Theme:           "dark",
			LocalPaneWidth:  50,
			RemotePaneWidth: 50,
		},
		Proxy: ProxySettings{
			Mode: "no-proxy",
		},
	}
}

// DefaultPath returns the default config file path.
func DefaultPath() (string, error) {
	var base string
	if runtime.GOOS == "windows" {
		userProfile := os.Getenv("USERPROFILE")
		if userProfile == "" {
			return "", errors.New("USERPROFILE environment variable not set")
		}
		base = userProfile
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = home
	}
	return filepath.Join(base, ".config", constants.ConfigDirName, constants.ConfigFileName), nil
}

// Store loads and saves an AppConfig at a fixed path.
type Store struct {
	path string
}

// NewStore returns a store for path; an empty path uses DefaultPath.
func NewStore(path string) (*Store, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return &Store{path: path}, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the whole configuration. A missing file yields defaults and no error.
func (s *Store) Load() (*AppConfig, error) {
	cfg := NewAppConfig()

	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	ui := iniFile.Section(sectionUI)
	cfg.UI.Theme = ui.Key("theme").MustString(cfg.UI.Theme)
	cfg.UI.LocalPaneWidth = ui.Key("local_pane_width").MustInt(cfg.UI.LocalPaneWidth)
	cfg.UI.RemotePaneWidth = ui.Key("remote_pane_width").MustInt(cfg.UI.RemotePaneWidth)
	cfg.UI.LastDownloadDir = ui.Key("last_download_dir").String()
	cfg.UI.ShowHidden = ui.Key("show_hidden").MustBool(false)

	proxy := iniFile.Section(sectionProxy)
	cfg.Proxy.Mode = proxy.Key("mode").MustString(cfg.Proxy.Mode)
	cfg.Proxy.Host = proxy.Key("host").String()
	cfg.Proxy.Port = proxy.Key("port").MustInt(0)
	cfg.Proxy.User = proxy.Key("user").String()
	cfg.Proxy.Password = proxy.Key("password").String()
	cfg.Proxy.NoProxy = proxy.Key("no_proxy").String()

	for _, section := range iniFile.Sections() {
		name := section.Name()
		switch {
		case strings.HasPrefix(name, ftpSectionPrefix):
			cfg.FTPConnections = append(cfg.FTPConnections, models.FTPDescriptor{
				ID:       strings.TrimPrefix(name, ftpSectionPrefix),
				Name:     section.Key("name").String(),
				Host:     section.Key("host").String(),
				Port:     section.Key("port").MustInt(constants.DefaultFTPPort),
				Username: section.Key("username").String(),
				Password: section.Key("password").String(),
				Secure:   section.Key("secure").MustBool(false),
			})
		case strings.HasPrefix(name, cloudSectionPrefix):
			cfg.CloudConnections = append(cfg.CloudConnections, models.CloudDescriptor{
				ID:           strings.TrimPrefix(name, cloudSectionPrefix),
				Provider:     section.Key("provider").String(),
				AccountName:  section.Key("account_name").String(),
				AccessToken:  section.Key("access_token").String(),
				RefreshToken: section.Key("refresh_token").String(),
				ClientID:     section.Key("client_id").String(),
				ClientSecret: section.Key("client_secret").String(),
				Bucket:       section.Key("bucket").String(),
				Region:       section.Key("region").String(),
				Endpoint:     section.Key("endpoint").String(),
			})
		}
	}

	return cfg, nil
}

// Save writes the whole configuration atomically with owner-only permissions.
func (s *Store) Save(cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()

	ui, err := iniFile.NewSection(sectionUI)
	if err != nil {
		return fmt.Errorf("failed to create ui section: %w", err)
	}
	ui.Key("theme").SetValue(cfg.UI.Theme)
	ui.Key("local_pane_width").SetValue(strconv.Itoa(cfg.UI.LocalPaneWidth))
	ui.Key("remote_pane_width").SetValue(strconv.Itoa(cfg.UI.RemotePaneWidth))
	ui.Key("last_download_dir").SetValue(cfg.UI.LastDownloadDir)
	ui.Key("show_hidden").SetValue(strconv.FormatBool(cfg.UI.ShowHidden))

	proxy, err := iniFile.NewSection(sectionProxy)
	if err != nil {
		return fmt.Errorf("failed to create proxy section: %w", err)
	}
	proxy.Key("mode").SetValue(cfg.Proxy.Mode)
	proxy.Key("host").SetValue(cfg.Proxy.Host)
	proxy.Key("port").SetValue(strconv.Itoa(cfg.Proxy.Port))
	proxy.Key("user").SetValue(cfg.Proxy.User)
	proxy.Key("password").SetValue(cfg.Proxy.Password)
	proxy.Key("no_proxy").SetValue(cfg.Proxy.NoProxy)

	for _, c := range cfg.FTPConnections {
		section, err := iniFile.NewSection(ftpSectionPrefix + c.ID)
		if err != nil {
			return fmt.Errorf("failed to create section for ftp connection %s: %w", c.ID, err)
		}
		section.Key("name").SetValue(c.Name)
		section.Key("host").SetValue(c.Host)
		section.Key("port").SetValue(strconv.Itoa(c.Port))
		section.Key("username").SetValue(c.Username)
		section.Key("password").SetValue(c.Password)
		section.Key("secure").SetValue(strconv.FormatBool(c.Secure))
	}

	for _, c := range cfg.CloudConnections {
		section, err := iniFile.NewSection(cloudSectionPrefix + c.ID)
		if err != nil {
			return fmt.Errorf("failed to create section for cloud connection %s: %w", c.ID, err)
		}
		section.Key("provider").SetValue(c.Provider)
		section.Key("account_name").SetValue(c.AccountName)
		section.Key("access_token").SetValue(c.AccessToken)
		section.Key("refresh_token").SetValue(c.RefreshToken)
		section.Key("client_id").SetValue(c.ClientID)
		section.Key("client_secret").SetValue(c.ClientSecret)
		section.Key("bucket").SetValue(c.Bucket)
		section.Key("region").SetValue(c.Region)
		section.Key("endpoint").SetValue(c.Endpoint)
	}

	// Passwords and tokens live in this file: temp file + chmod + rename.
	tmpPath := s.path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Validate checks UI, proxy and every saved connection.
func (cfg *AppConfig) Validate() error {
	if cfg.UI.Theme != "dark" && cfg.UI.Theme != "light" {
		return ErrInvalidTheme
	}
	for _, w := range []int{cfg.UI.LocalPaneWidth, cfg.UI.RemotePaneWidth} {
		if w < 10 || w > 90 {
			return ErrInvalidPaneWidth
		}
	}
	switch strings.ToLower(cfg.Proxy.Mode) {
	case "", "no-proxy", "system", "basic", "ntlm":
	default:
		return ErrInvalidProxyMode
	}
	for _, c := range cfg.FTPConnections {
		if err := ValidateFTP(c); err != nil {
			return fmt.Errorf("ftp connection %s: %w", c.ID, err)
		}
	}
	for _, c := range cfg.CloudConnections {
		if err := ValidateCloud(c); err != nil {
			return fmt.Errorf("cloud connection %s: %w", c.ID, err)
		}
	}
	return nil
}

// ValidateFTP checks a single FTP descriptor.
func ValidateFTP(d models.FTPDescriptor) error {
	if strings.TrimSpace(d.Host) == "" {
		return ErrMissingHost
	}
	if d.Port < 0 || d.Port > 65535 {
		return ErrInvalidPort
	}
	return nil
}

// ValidateCloud checks a single cloud descriptor.
func ValidateCloud(d models.CloudDescriptor) error {
	provider := strings.ToLower(strings.TrimSpace(d.Provider))
	if provider == "" {
		return ErrMissingProvider
	}
	if !knownProviders[provider] {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, d.Provider)
	}
	if strings.TrimSpace(d.AccountName) == "" && provider != "s3" {
		return ErrMissingAccount
	}
	if (provider == "s3" || provider == "azure") && strings.TrimSpace(d.Bucket) == "" {
		return ErrMissingBucket
	}
	return nil
}

// AddFTP validates and appends an FTP connection, assigning an ID when empty.
func (cfg *AppConfig) AddFTP(d models.FTPDescriptor) (models.FTPDescriptor, error) {
	if d.Port == 0 {
		d.Port = constants.DefaultFTPPort
	}
	if err := ValidateFTP(d); err != nil {
		return d, err
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if cfg.hasID(d.ID) {
		return d, fmt.Errorf("%w: %s", ErrDuplicateConnection, d.ID)
	}
	cfg.FTPConnections = append(cfg.FTPConnections, d)
	return d, nil
}

// AddCloud validates and appends a cloud connection, assigning an ID when empty.
func (cfg *AppConfig) AddCloud(d models.CloudDescriptor) (models.CloudDescriptor, error) {
	d.Provider = strings.ToLower(strings.TrimSpace(d.Provider))
	if err := ValidateCloud(d); err != nil {
		return d, err
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if cfg.hasID(d.ID) {
		return d, fmt.Errorf("%w: %s", ErrDuplicateConnection, d.ID)
	}
	cfg.CloudConnections = append(cfg.CloudConnections, d)
	return d, nil
}

// FindFTP looks up an FTP connection by ID or display name.
func (cfg *AppConfig) FindFTP(key string) (models.FTPDescriptor, bool) {
	for _, c := range cfg.FTPConnections {
		if c.ID == key || c.Name == key {
			return c, true
		}
	}
	return models.FTPDescriptor{}, false
}

// FindCloud looks up a cloud connection by ID or account name.
func (cfg *AppConfig) FindCloud(key string) (models.CloudDescriptor, bool) {
	for _, c := range cfg.CloudConnections {
		if c.ID == key || c.AccountName == key {
			return c, true
		}
	}
	return models.CloudDescriptor{}, false
}

// RemoveConnection deletes the connection with the given ID from either list.
func (cfg *AppConfig) RemoveConnection(id string) error {
	for i, c := range cfg.FTPConnections {
		if c.ID == id {
			cfg.FTPConnections = append(cfg.FTPConnections[:i], cfg.FTPConnections[i+1:]...)
			return nil
		}
	}
	for i, c := range cfg.CloudConnections {
		if c.ID == id {
			cfg.CloudConnections = append(cfg.CloudConnections[:i], cfg.CloudConnections[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
}

func (cfg *AppConfig) hasID(id string) bool {
	for _, c := range cfg.FTPConnections {
		if c.ID == id {
			return true
		}
	}
	for _, c := range cfg.CloudConnections {
		if c.ID == id {
			return true
		}
	}
	return false
}
