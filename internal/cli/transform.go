package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/term"

	"github.com/lsm/chameleon/internal/batch"
	"github.com/lsm/chameleon/internal/chameleon"
	"github.com/lsm/chameleon/internal/event"
)

const transformUsage = `Usage: chameleon transform --input <json|file> [--router] [--explain] [--mappings <dir>]

Transform events without starting the service and print the results.

Options:
  --input <data>     A routed event, an array of them, or {"input": [...]},
                     as inline JSON or a path to a JSON file (required)
  --router           Wrap successes in router envelopes
  --explain          Print which source path fed each payload field instead
  --mappings <dir>   Directory containing mappings/{identify,track,page,group}.yaml

Examples:
  chameleon transform --input '{"message":{"type":"track","event":"Signed Up","userId":"u1"},"destination":{"Config":{"accountSecret":"abc123"}}}'
  chameleon transform --input batch.json --router`

// RunTransform performs a dry run of the transformer. Output goes to out,
// or stdout when out is nil, and is indented when it is a terminal.
func RunTransform(args []string, out io.Writer) error {
	if out == nil {
		out = os.Stdout
	}
	if isHelp(args) {
		_, _ = fmt.Fprintln(out, transformUsage)
		return nil
	}

	opts, err := parseArgs(args, []string{"input", "mappings"}, []string{"router", "explain"})
	if err != nil {
		return err
	}
	input := opts.values["input"]
	if input == "" {
		return fmt.Errorf("--input is required")
	}

	data, err := loadInput(input)
	if err != nil {
		return fmt.Errorf("load input: %w", err)
	}
	events, err := decodeInput(data)
	if err != nil {
		return fmt.Errorf("decode input: %w", err)
	}

	tr, err := newTransformer(opts.values["mappings"])
	if err != nil {
		return err
	}

	var result interface{}
	switch {
	case opts.switches["explain"]:
		result = explain(tr, events)
	case opts.switches["router"]:
		result = batch.New(tr).ProcessRouterDest(context.Background(), events)
	default:
		result = batch.New(tr).Process(context.Background(), events)
	}
	return writeJSON(out, result)
}

func newTransformer(mappingsDir string) (*chameleon.Transformer, error) {
	var opts []chameleon.Option
	if mappingsDir != "" {
		opts = append(opts, chameleon.WithMappings(os.DirFS(mappingsDir)))
	}
	tr, err := chameleon.NewTransformer(opts...)
	if err != nil {
		return nil, fmt.Errorf("load mappings: %w", err)
	}
	return tr, nil
}

type explanation struct {
	Index    int                 `json:"index"`
	Category string              `json:"category,omitempty"`
	Sources  map[string][]string `json:"sources,omitempty"`
	Error    string              `json:"error,omitempty"`
}

func explain(tr *chameleon.Transformer, events []event.RoutedEvent) []explanation {
	out := make([]explanation, len(events))
	for i, ev := range events {
		out[i].Index = i
		c, sources, err := tr.Explain(ev.Message)
		if err != nil {
			out[i].Error = err.Error()
			continue
		}
		out[i].Category = c.String()
		out[i].Sources = sources
	}
	return out
}

func loadInput(input string) ([]byte, error) {
	if _, err := os.Stat(input); err == nil {
		data, err := os.ReadFile(filepath.Clean(input))
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		return data, nil
	}
	return []byte(input), nil
}

// decodeInput also accepts a single routed event object.
func decodeInput(data []byte) ([]event.RoutedEvent, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return nil, err
		}
		if _, ok := probe["message"]; ok {
			return event.DecodeBatch(append(append([]byte{'['}, trimmed...), ']'))
		}
	}
	return event.DecodeBatch(trimmed)
}

func writeJSON(out io.Writer, v interface{}) error {
	var (
		data []byte
		err  error
	)
	if isTerminal(out) {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("format output: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
