// Package commands loads the markdown command catalog and expands slash
// commands found in user input into additive instruction text.
package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Definition is one loaded command: the body text plus the commands it
// references. Loaded once, read-only afterwards.
type Definition struct {
	Name       string
	Body       string
	References []string
}

// Catalog is an immutable snapshot of the command directory. Reloads build a
// new snapshot; in-flight requests keep using the one they started with.
type Catalog struct {
	defs     map[string]*Definition
	maxDepth int
}

// EmptyCatalog returns a catalog with no definitions; expansion is a no-op.
func EmptyCatalog() *Catalog {
	return &Catalog{defs: map[string]*Definition{}, maxDepth: 1}
}

// LoadCatalog reads every .md file in dir as one command definition named
// after the file. Reference cycles and chains deeper than maxDepth are
// configuration errors rejected here, never expanded at request time.
func LoadCatalog(dir string, maxDepth int) (*Catalog, error) {
	if dir == "" {
		return EmptyCatalog(), nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read command directory: %w", err)
	}

	c := &Catalog{defs: make(map[string]*Definition), maxDepth: maxDepth}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		body, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read command file %s: %w", entry.Name(), err)
		}
		name := strings.TrimSuffix(entry.Name(), ".md")
		c.defs[name] = &Definition{
			Name: name,
			Body: strings.TrimSpace(string(body)),
		}
	}

	// resolve references now that all names are known
	for _, def := range c.defs {
		for _, tok := range scanTokens(def.Body) {
			if _, ok := c.defs[tok.name]; ok && tok.name != def.Name {
				def.References = append(def.References, tok.name)
			}
		}
	}

	for name := range c.defs {
		if err := c.checkReferences(name, []string{name}); err != nil {
			return nil, err
		}
	}

	logrus.Debugf("Loaded %d command definitions from %s", len(c.defs), dir)
	return c, nil
}

// checkReferences walks the reference graph depth-first, rejecting cycles
// and chains deeper than the configured bound.
func (c *Catalog) checkReferences(name string, chain []string) error {
	if len(chain) > c.maxDepth {
		return fmt.Errorf("command reference chain too deep (max %d): %s", c.maxDepth, strings.Join(chain, " -> "))
	}
	for _, ref := range c.defs[name].References {
		for _, seen := range chain {
			if seen == ref {
				return fmt.Errorf("command reference cycle: %s -> %s", strings.Join(chain, " -> "), ref)
			}
		}
		next := append(append([]string{}, chain...), ref)
		if err := c.checkReferences(ref, next); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the definition for a command name.
func (c *Catalog) Lookup(name string) (*Definition, bool) {
	def, ok := c.defs[name]
	return def, ok
}

// Len returns the number of loaded definitions.
func (c *Catalog) Len() int {
	return len(c.defs)
}
