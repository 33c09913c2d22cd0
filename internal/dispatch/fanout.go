package dispatch

import (
	"context"
	"net/url"

	"github.com/sourcegraph/conc/iter"

	"github.com/angeloszaimis/mesh-gateway/internal/backend"
)

// Request is one call of a fan-out. Label names the call in error entries;
// it defaults to the service name.
type Request struct {
	Label   string
	Service backend.Service
	Run     func(ctx context.Context, base *url.URL) ([]byte, error)
}

// Outcome is the settled result of the Request at the same position.
type Outcome struct {
	Label string
	Body  []byte
	Err   error
}

func (o Outcome) OK() bool {
	return o.Err == nil
}

// ErrorEntry reports one failed call of an aggregate response.
type ErrorEntry struct {
	Service string `json:"service"`
	Error   string `json:"error"`
}

// FanOut runs every request concurrently through Call and waits for all of
// them. Outcomes are positional and a failure never cancels its siblings.
func (d *Dispatcher) FanOut(ctx context.Context, requests ...Request) []Outcome {
	mapper := iter.Mapper[Request, Outcome]{MaxGoroutines: len(requests)}

	return mapper.Map(requests, func(req *Request) Outcome {
		label := req.Label
		if label == "" {
			label = req.Service.String()
		}

		var body []byte
		err := d.Call(ctx, req.Service, func(ctx context.Context, base *url.URL) error {
			var err error
			body, err = req.Run(ctx, base)
			return err
		})
		return Outcome{Label: label, Body: body, Err: err}
	})
}

// Errors lists the failed outcomes in order. It never returns nil.
func Errors(outcomes []Outcome) []ErrorEntry {
	entries := make([]ErrorEntry, 0)
	for _, o := range outcomes {
		if o.Err != nil {
			entries = append(entries, ErrorEntry{Service: o.Label, Error: o.Err.Error()})
		}
	}
	return entries
}
