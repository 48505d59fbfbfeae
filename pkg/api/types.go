package api

import (
	"time"

	"github.com/ssargent/userdots/pkg/codec"
	"github.com/ssargent/userdots/pkg/query"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// GroupResult is the resolved users of one selector group
type GroupResult struct {
	Name     string              `json:"name"`
	Users    []*codec.UserRecord `json:"users"`
	Timeline []int64             `json:"timeline"`
}

// UsersResponse is the payload of a users query
type UsersResponse struct {
	QueryID  string        `json:"query_id"`
	Strategy string        `json:"strategy"`
	Groups   []GroupResult `json:"groups"`
}

// ServerConfig holds configuration for the API server
type ServerConfig struct {
	Bind string
	Port int

	// Limit caps matches per request, 0 = unlimited. Requests may ask for less.
	Limit    int
	UseIndex bool

	QueryTimeout   time.Duration
	RetryAfter     int // seconds, sent with 503 responses
	AllowedOrigins []string
}

// Settings returns the query settings for a request asking for limit matches
func (c ServerConfig) Settings(limit int) query.Settings {
	settings := query.Settings{UseIndex: c.UseIndex, Limit: c.Limit}
	if limit > 0 && (c.Limit <= 0 || limit < c.Limit) {
		settings.Limit = limit
	}
	return settings
}
