package registry

import (
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
)

var serviceName = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Registration is the body a collaborator sends to register itself over
// HTTP. Instance identifies the registering process; when it is empty the
// registry assigns one so the record never collides with its own.
type Registration struct {
	Name      string            `json:"name"`
	Host      string            `json:"host"`
	Port      int               `json:"port"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Instance  string            `json:"instance,omitempty"`
	PID       int               `json:"pid,omitempty"`
	StartTime time.Time         `json:"startTime,omitzero"`
}

func (r Registration) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Match(serviceName)),
		validation.Field(&r.Host, validation.Required, is.Host),
		validation.Field(&r.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// Identity returns the owner of the registration.
func (r Registration) Identity() Identity {
	id := Identity{PID: r.PID, Instance: r.Instance, StartTime: r.StartTime}
	if id.Instance == "" {
		id.Instance = uuid.NewString()
	}
	if id.StartTime.IsZero() {
		id.StartTime = time.Now().UTC()
	}
	return id
}
