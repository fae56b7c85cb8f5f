package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoPrimaryService is returned when a connection carries no primary service.
var ErrNoPrimaryService = errors.New("connection has no primary service")

// ConnectionStatus represents the user's enablement status for a connection.
type ConnectionStatus string

const (
	ConnectionStatusUnknown      ConnectionStatus = "unknown"
	ConnectionStatusNeverEnabled ConnectionStatus = "never_enabled"
	ConnectionStatusEnabled      ConnectionStatus = "enabled"
	ConnectionStatusDisabled     ConnectionStatus = "disabled"
)

// ParseConnectionStatus maps a wire value to a status. Unrecognised values map to unknown.
func ParseConnectionStatus(raw string) ConnectionStatus {
	switch ConnectionStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case ConnectionStatusNeverEnabled:
		return ConnectionStatusNeverEnabled
	case ConnectionStatusEnabled:
		return ConnectionStatusEnabled
	case ConnectionStatusDisabled:
		return ConnectionStatusDisabled
	default:
		return ConnectionStatusUnknown
	}
}

// UnmarshalJSON decodes a status, tolerating unknown values.
func (s *ConnectionStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = ParseConnectionStatus(raw)
	return nil
}

// Connection is a user-facing integration between two services. A Connection is
// a snapshot: it is replaced wholesale on every fetch and never mutated.
type Connection struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	Status       ConnectionStatus `json:"user_status"`
	URL          string           `json:"url"`
	Services     []Service        `json:"services"`
	Features     []Feature        `json:"features,omitempty"`
	UserFeatures []UserFeature    `json:"user_features,omitempty"`
}

// PrimaryService returns the connection's owning service.
func (c *Connection) PrimaryService() (Service, error) {
	if c == nil {
		return Service{}, ErrNoPrimaryService
	}
	for _, svc := range c.Services {
		if svc.IsPrimary {
			return svc, nil
		}
	}
	return Service{}, ErrNoPrimaryService
}

// MustPrimaryService is like PrimaryService but panics when the connection is malformed.
func (c *Connection) MustPrimaryService() Service {
	svc, err := c.PrimaryService()
	if err != nil {
		id := ""
		if c != nil {
			id = c.ID
		}
		panic(fmt.Sprintf("connection %q: %v", id, err))
	}
	return svc
}

// Validate checks the invariants a fetched connection must satisfy.
func (c *Connection) Validate() error {
	if c == nil {
		return errors.New("connection is nil")
	}
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("connection id is required")
	}
	primaries := 0
	for _, svc := range c.Services {
		if svc.IsPrimary {
			primaries++
		}
	}
	switch {
	case primaries == 0:
		return ErrNoPrimaryService
	case primaries > 1:
		return fmt.Errorf("connection %s has %d primary services", c.ID, primaries)
	}
	return nil
}

// Service is one side of a connection.
type Service struct {
	ID                string `json:"service_id"`
	Name              string `json:"service_name"`
	IsPrimary         bool   `json:"is_primary"`
	MonochromeIconURL string `json:"monochrome_icon_url"`
	ColorIconURL      string `json:"color_icon_url"`
	BrandColor        Color  `json:"brand_color"`
	URL               string `json:"url"`
}

// Color is a packed 0xRRGGBB value.
type Color uint32

// ParseColor parses "#RRGGBB" or "RRGGBB".
func ParseColor(raw string) (Color, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(raw), "#")
	if len(hex) != 6 {
		return 0, fmt.Errorf("invalid color %q", raw)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid color %q: %w", raw, err)
	}
	return Color(v), nil
}

// String renders the color as "#rrggbb".
func (c Color) String() string {
	return fmt.Sprintf("#%06x", uint32(c)&0xffffff)
}

// MarshalJSON encodes the color as a hex string.
func (c Color) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts a hex string. An empty or malformed color decodes to black.
func (c *Color) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseColor(raw)
	if err != nil {
		*c = 0
		return nil
	}
	*c = parsed
	return nil
}
