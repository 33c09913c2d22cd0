package registry

import (
	"encoding/json"
	"maps"
	"net"
	"net/url"
	"strconv"
	"time"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Metadata keys stamped on every registration.
const (
	MetaPID       = "pid"
	MetaInstance  = "instance"
	MetaStartTime = "startTime"
)

const scheme = "http"

// Record is the registry entry of one service. Its URL is always derived
// from Host and Port.
type Record struct {
	Name          string            `json:"name"`
	Host          string            `json:"host"`
	Port          int               `json:"port"`
	Status        Status            `json:"status"`
	LastHeartbeat time.Time         `json:"lastHeartbeat"`
	Metadata      map[string]string `json:"metadata"`
}

func (r Record) URL() string {
	return r.BaseURL().String()
}

func (r Record) BaseURL() *url.URL {
	return &url.URL{Scheme: scheme, Host: net.JoinHostPort(r.Host, strconv.Itoa(r.Port))}
}

func (r Record) Healthy() bool {
	return r.Status == StatusHealthy
}

func (r Record) clone() Record {
	r.Metadata = maps.Clone(r.Metadata)
	return r
}

type recordAlias Record

// MarshalJSON adds the derived url field for readers of the registry file
// and the introspection routes. It is ignored when decoding.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		recordAlias
		URL string `json:"url"`
	}{recordAlias(r), r.URL()})
}
