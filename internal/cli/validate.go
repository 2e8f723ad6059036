package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/lsm/chameleon/internal/config"
)

const validateUsage = `Usage: chameleon validate --config <file> [--mappings <dir>]

Validates the service configuration and, when given, a directory of
mapping tables.`

// RunValidate checks a config file and optional mapping directory. Every
// problem is reported, one per line.
func RunValidate(args []string, out io.Writer) error {
	if out == nil {
		out = os.Stdout
	}
	if isHelp(args) {
		_, _ = fmt.Fprintln(out, validateUsage)
		return nil
	}

	opts, err := parseArgs(args, []string{"config", "mappings"}, nil)
	if err != nil {
		return err
	}
	path := opts.values["config"]
	if path == "" {
		return fmt.Errorf("--config is required")
	}

	var problems []error
	if _, err := config.Load(path); err != nil {
		problems = append(problems, err)
	}
	if dir := opts.values["mappings"]; dir != "" {
		if _, err := newTransformer(dir); err != nil {
			problems = append(problems, err)
		}
	}

	if len(problems) == 0 {
		_, _ = fmt.Fprintf(out, "%s is valid.\n", path)
		return nil
	}
	for _, p := range problems {
		_, _ = fmt.Fprintf(out, "  %v\n", p)
	}
	return fmt.Errorf("validation failed: %w", errors.Join(problems...))
}
