// Package chameleon turns routed analytics events into request descriptors
// for the Chameleon observe-hooks API.
package chameleon

import (
	"fmt"
	"io/fs"
	"net/http"

	"github.com/lsm/chameleon/internal/event"
	"github.com/lsm/chameleon/internal/transform/mapping"
)

// UserAgent identifies the integration to the Chameleon API.
const UserAgent = "RudderStack-Chameleon-Integration/1.0.0"

// Body holds the encoded request body variants. Only JSON is populated.
type Body struct {
	JSON      mapping.Payload        `json:"JSON"`
	JSONArray map[string]interface{} `json:"JSON_ARRAY"`
	XML       map[string]interface{} `json:"XML"`
	Form      map[string]interface{} `json:"FORM"`
}

// Request describes one outbound HTTP call. It is executed by the caller,
// never by this package.
type Request struct {
	Version  string            `json:"version"`
	Type     string            `json:"type"`
	Method   string            `json:"method"`
	Endpoint string            `json:"endpoint"`
	Headers  map[string]string `json:"headers"`
	Params   map[string]string `json:"params"`
	Body     Body              `json:"body"`
	Files    map[string]string `json:"files"`
}

func newRequest(endpoint string, payload mapping.Payload) *Request {
	return &Request{
		Version:  "1",
		Type:     "REST",
		Method:   http.MethodPost,
		Endpoint: endpoint,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"User-Agent":   UserAgent,
		},
		Params: map[string]string{},
		Body: Body{
			JSON:      payload.Clean(),
			JSONArray: map[string]interface{}{},
			XML:       map[string]interface{}{},
			Form:      map[string]interface{}{},
		},
		Files: map[string]string{},
	}
}

// Option configures a Transformer.
type Option func(*options)

type options struct {
	mappings fs.FS
}

// WithMappings loads the category mapping tables from fsys instead of the
// built-in set. fsys must contain mappings/{identify,track,page,group}.yaml.
func WithMappings(fsys fs.FS) Option {
	return func(o *options) {
		o.mappings = fsys
	}
}

// Transformer classifies, validates and maps single events. It holds only
// read-only tables and is safe for concurrent use.
type Transformer struct {
	specs map[Category]categorySpec
}

// NewTransformer loads the mapping tables once.
func NewTransformer(opts ...Option) (*Transformer, error) {
	o := options{mappings: builtinMappings}
	for _, opt := range opts {
		opt(&o)
	}
	specs, err := loadSpecs(o.mappings)
	if err != nil {
		return nil, fmt.Errorf("load category specs: %w", err)
	}
	return &Transformer{specs: specs}, nil
}

// ProcessSingleEvent converts one message for dest. Failures are returned as
// *Error values.
func (t *Transformer) ProcessSingleEvent(msg event.Event, dest event.Destination) (*Request, error) {
	c, err := Classify(msg)
	if err != nil {
		return nil, err
	}
	return t.process(c, msg, dest)
}

func (t *Transformer) process(c Category, msg event.Event, dest event.Destination) (*Request, error) {
	secret, err := accountSecret(dest)
	if err != nil {
		return nil, err
	}

	spec := t.specs[c]
	payload := spec.table.Build(msg)
	if spec.defaults != nil {
		spec.defaults(payload)
	}
	if spec.validate != nil {
		if err := spec.validate(payload, msg); err != nil {
			return nil, err
		}
	}

	return newRequest(ResolveEndpoint(secret, c), payload), nil
}

// Explain returns, per destination key, how the mapping for msg's category
// resolved each candidate path.
func (t *Transformer) Explain(msg event.Event) (Category, map[string][]string, error) {
	c, err := Classify(msg)
	if err != nil {
		return 0, nil, err
	}
	return c, t.specs[c].table.Explain(msg), nil
}
