package base

import (
	"flag"
	"fmt"
	"strings"
)

// FlagSet wraps flag.FlagSet to render command help.
type FlagSet struct {
	*flag.FlagSet
}

// NewFlagSet wraps f.
func NewFlagSet(f *flag.FlagSet) *FlagSet {
	return &FlagSet{FlagSet: f}
}

// Help returns the "Options" section of a command's help text.
func (f *FlagSet) Help() string {
	var b strings.Builder
	b.WriteString("\n\nOptions:\n")
	f.VisitAll(func(fl *flag.Flag) {
		fmt.Fprintf(&b, "\n  -%s", fl.Name)
		if name, _ := flag.UnquoteUsage(fl); name != "" {
			fmt.Fprintf(&b, "=<%s>", name)
		}
		_, usage := flag.UnquoteUsage(fl)
		for _, line := range strings.Split(usage, "\n") {
			fmt.Fprintf(&b, "\n      %s", line)
		}
		if fl.DefValue != "" && fl.DefValue != "false" && fl.DefValue != "0" {
			fmt.Fprintf(&b, " (default: %s)", fl.DefValue)
		}
		b.WriteString("\n")
	})
	return strings.TrimRight(b.String(), "\n")
}
