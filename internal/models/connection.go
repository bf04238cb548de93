package models

import (
	"fmt"
	"net"
	"strconv"
)

// ConnectionKind tells which kind of remote backend a pane is attached to.
type ConnectionKind string

const (
	ConnectionNone  ConnectionKind = ""
	ConnectionFTP   ConnectionKind = "ftp"
	ConnectionCloud ConnectionKind = "cloud"
)

// ConnectionState is the remote connection lifecycle.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

var connectionTransitions = map[ConnectionState][]ConnectionState{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateError},
	StateConnected:    {StateDisconnected},
	StateError:        {StateDisconnected, StateConnecting},
}

// CanTransitionTo reports whether moving from s to next is a legal step.
func (s ConnectionState) CanTransitionTo(next ConnectionState) bool {
	for _, allowed := range connectionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// FTPDescriptor describes a saved FTP or FTPS server.
type FTPDescriptor struct {
	ID       string
	Name     string
	Host     string
	Port     int
	Username string
	Password string
	Secure   bool // explicit TLS (AUTH TLS)
}

// Address returns host:port, defaulting the port to 21.
func (d FTPDescriptor) Address() string {
	port := d.Port
	if port == 0 {
		port = 21
	}
	return net.JoinHostPort(d.Host, strconv.Itoa(port))
}

// DisplayName returns Name or falls back to user@host.
func (d FTPDescriptor) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	if d.Username != "" {
		return fmt.Sprintf("%s@%s", d.Username, d.Host)
	}
	return d.Host
}

// CloudDescriptor describes a saved cloud-drive account.
//
// Provider-specific use of the fields:
//   - google: AccessToken is an OAuth bearer token.
//   - s3: Bucket, Region, optional Endpoint; AccessToken is "ACCESS_KEY:SECRET_KEY"
//     (empty uses the default AWS credential chain).
//   - azure: AccountName is the storage account, Bucket the container,
//     AccessToken a SAS query string; Endpoint overrides the service URL.
type CloudDescriptor struct {
	ID           string
	Provider     string
	AccountName  string
	AccessToken  string
	RefreshToken string
	ClientID     string
	ClientSecret string
	Bucket       string
	Region       string
	Endpoint     string
}

// DisplayName returns "provider:account".
func (d CloudDescriptor) DisplayName() string {
	if d.AccountName == "" {
		return d.Provider
	}
	return d.Provider + ":" + d.AccountName
}
