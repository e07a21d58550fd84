package indexer

import (
	"fmt"
	"strings"

	"curveScope/internal/aptos"
)

// Move modules of the launchpad program.
const (
	ModuleLaunchpad    = "launchpad"
	ModuleBondingCurve = "bonding_curve_pool"
)

// DefaultNamespaces returns the entry-function namespaces of a program.
func DefaultNamespaces(program string) []string {
	return []string{
		program + "::" + ModuleLaunchpad,
		program + "::" + ModuleBondingCurve,
	}
}

// Classifier decides whether a transaction touches the indexed program.
type Classifier struct {
	program    string
	namespaces []string
}

// NewClassifier builds a classifier for program. Each namespace is an
// "<address>::<module>" prefix; an empty list means DefaultNamespaces.
func NewClassifier(program string, namespaces []string) (*Classifier, error) {
	addr, err := aptos.NormalizeAddress(program)
	if err != nil {
		return nil, fmt.Errorf("program address: %w", err)
	}
	if len(namespaces) == 0 {
		namespaces = DefaultNamespaces(addr)
	}

	normalized := make([]string, 0, len(namespaces))
	for _, ns := range namespaces {
		ns = strings.TrimSuffix(strings.TrimSpace(ns), "::")
		if ns == "" {
			continue
		}
		parts := strings.Split(ns, "::")
		if len(parts) != 2 || parts[1] == "" {
			return nil, fmt.Errorf("invalid namespace %q: want <address>::<module>", ns)
		}
		nsAddr, err := aptos.NormalizeAddress(parts[0])
		if err != nil {
			return nil, fmt.Errorf("namespace %q: %w", ns, err)
		}
		normalized = append(normalized, nsAddr+"::"+parts[1]+"::")
	}
	if len(normalized) == 0 {
		return nil, fmt.Errorf("no namespaces configured")
	}

	return &Classifier{program: addr, namespaces: normalized}, nil
}

// Program returns the normalized program address.
func (c *Classifier) Program() string {
	return c.program
}

// IsRelevant reports whether tx invoked a function in a configured namespace
// or emitted an event whose type references the program address.
// Failed transactions are classified like any other.
func (c *Classifier) IsRelevant(tx aptos.Transaction) bool {
	if c.matchesFunction(tx.EntryFunction()) {
		return true
	}
	for _, ev := range tx.Events {
		if c.referencesProgram(ev.Type) {
			return true
		}
	}
	return false
}

func (c *Classifier) matchesFunction(function string) bool {
	if function == "" {
		return false
	}
	id, err := aptos.ParseFunctionID(function)
	if err != nil {
		return false
	}
	full := id.String()
	for _, ns := range c.namespaces {
		if strings.HasPrefix(full, ns) {
			return true
		}
	}
	return false
}

// referencesProgram checks every address inside a type tag, including
// generic arguments, against the program address.
func (c *Classifier) referencesProgram(typeTag string) bool {
	fields := strings.FieldsFunc(typeTag, func(r rune) bool {
		return r == '<' || r == '>' || r == ',' || r == ' '
	})
	for _, field := range fields {
		idx := strings.Index(field, "::")
		if idx <= 0 {
			continue
		}
		addr, err := aptos.NormalizeAddress(field[:idx])
		if err != nil {
			continue
		}
		if addr == c.program {
			return true
		}
	}
	return false
}
