package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Configuration keys as the gateways and the transport read them.
const (
	KeyURL      = "retailex-url"
	KeyWSDL     = "retailex-wsdl"
	KeyClient   = "retailex-client"
	KeyUsername = "retailex-username"
	KeyPassword = "retailex-password"
	KeyChannel  = "retailex-channel"
)

// HeaderField maps a SOAP header element to the configuration key holding its value.
type HeaderField struct {
	Element string
	Key     string
}

// DefaultHeaderMap is the header block sent with every call.
var DefaultHeaderMap = []HeaderField{
	{Element: "ClientID", Key: KeyClient},
	{Element: "UserName", Key: KeyUsername},
	{Element: "Password", Key: KeyPassword},
}

// Config holds the credential and endpoint set of a single Retail Express node.
// It is immutable once loaded.
type Config struct {
	NodeID    int    `yaml:"node_id"`
	URL       string `yaml:"url"`
	WSDL      string `yaml:"wsdl"`
	ClientID  string `yaml:"client_id"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	ChannelID string `yaml:"channel_id"`

	HeaderMap []HeaderField `yaml:"-"`
}

func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	nodeID := 1
	if raw := os.Getenv("RETAILEX_NODE_ID"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("RETAILEX_NODE_ID must be numeric: %w", err)
		}
		nodeID = id
	}

	cfg := &Config{
		NodeID:    nodeID,
		URL:       os.Getenv("RETAILEX_URL"),
		WSDL:      os.Getenv("RETAILEX_WSDL"),
		ClientID:  os.Getenv("RETAILEX_CLIENT"),
		Username:  os.Getenv("RETAILEX_USERNAME"),
		Password:  os.Getenv("RETAILEX_PASSWORD"),
		ChannelID: os.Getenv("RETAILEX_CHANNEL"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("RETAILEX_URL is required")
	}
	if c.WSDL == "" {
		return fmt.Errorf("RETAILEX_WSDL is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("RETAILEX_CLIENT is required")
	}
	if c.Username == "" {
		return fmt.Errorf("RETAILEX_USERNAME is required")
	}
	if c.Password == "" {
		return fmt.Errorf("RETAILEX_PASSWORD is required")
	}
	if c.ChannelID == "" {
		return fmt.Errorf("RETAILEX_CHANNEL is required")
	}
	return nil
}

// Get returns the value stored under one of the retailex-* keys, or "" for unknown keys.
func (c *Config) Get(key string) string {
	switch key {
	case KeyURL:
		return c.URL
	case KeyWSDL:
		return c.WSDL
	case KeyClient:
		return c.ClientID
	case KeyUsername:
		return c.Username
	case KeyPassword:
		return c.Password
	case KeyChannel:
		return c.ChannelID
	}
	return ""
}

// Headers returns the header map, falling back to DefaultHeaderMap.
func (c *Config) Headers() []HeaderField {
	if len(c.HeaderMap) > 0 {
		return c.HeaderMap
	}
	return DefaultHeaderMap
}

// Endpoint joins the base URL and the WSDL path with exactly one slash.
func (c *Config) Endpoint() string {
	return strings.TrimRight(c.URL, "/") + "/" + strings.TrimLeft(c.WSDL, "/")
}
