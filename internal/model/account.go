package model

import (
	"net"
	"strconv"
)

// AuthMechanism selects how a session authenticates against the server
type AuthMechanism string

const (
	AuthLogin       AuthMechanism = "login"
	AuthOAuthBearer AuthMechanism = "oauthbearer"
)

// DefaultPrimaryFolder is watched for push notifications after backfill
const DefaultPrimaryFolder = "INBOX"

// DefaultForceInclude lists folders some providers mark \Noselect that still hold mail
var DefaultForceInclude = []string{"[Gmail]/Sent Mail"}

// Credentials holds the authentication material for one account
type Credentials struct {
	Mechanism    AuthMechanism `mapstructure:"mechanism"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	RefreshToken string        `mapstructure:"refresh_token"`
}

// Account describes one monitored mailbox. It is immutable for the run.
type Account struct {
	Name          string      `mapstructure:"name"`
	Address       string      `mapstructure:"address"`
	Host          string      `mapstructure:"host"`
	Port          int         `mapstructure:"port"`
	Secure        bool        `mapstructure:"secure"`
	Auth          Credentials `mapstructure:"auth"`
	ForceInclude  []string    `mapstructure:"force_include"`
	PrimaryFolder string      `mapstructure:"primary_folder"`
}

// Identity returns the address used to key cursors and index records
func (a Account) Identity() string {
	if a.Address != "" {
		return a.Address
	}
	return a.Auth.Username
}

// Addr returns the host:port of the IMAP endpoint
func (a Account) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Primary returns the folder watched after backfill
func (a Account) Primary() string {
	if a.PrimaryFolder == "" {
		return DefaultPrimaryFolder
	}
	return a.PrimaryFolder
}

// ForceIncluded reports whether folder must be synchronized even when non-selectable
func (a Account) ForceIncluded(folder string) bool {
	for _, name := range a.ForceInclude {
		if name == folder {
			return true
		}
	}
	return false
}
