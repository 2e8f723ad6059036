package cli

import (
	"fmt"
	"strings"
)

// parsedArgs holds --name value / --name=value options and bare switches.
type parsedArgs struct {
	values   map[string]string
	switches map[string]bool
}

// parseArgs accepts the options listed in valued and the switches listed
// in bools. Anything else is an error.
func parseArgs(args []string, valued, bools []string) (*parsedArgs, error) {
	p := &parsedArgs{values: map[string]string{}, switches: map[string]bool{}}
	isValued := make(map[string]bool, len(valued))
	for _, v := range valued {
		isValued[v] = true
	}
	isBool := make(map[string]bool, len(bools))
	for _, b := range bools {
		isBool[b] = true
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("unexpected argument %q", arg)
		}
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		switch {
		case isValued[name] && hasValue:
			p.values[name] = value
		case isValued[name]:
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--%s requires a value", name)
			}
			p.values[name] = args[i+1]
			i++
		case isBool[name] && !hasValue:
			p.switches[name] = true
		default:
			return nil, fmt.Errorf("unknown option %q", arg)
		}
	}
	return p, nil
}

func isHelp(args []string) bool {
	return len(args) > 0 && (args[0] == "-h" || args[0] == "--help")
}
