// Package cli assembles kong command trees from registered console
// commands.
package cli

import "strings"

// Command is anything that can be mounted on the command line. The
// handler is a kong command struct, typically a pointer with a Run
// method.
type Command interface {
	CLIHandler() any
	CLIOptions() Config
}

// Config places a command in the tree.
type Config struct {
	Name        string
	Description string
	Group       string
	Aliases     []string
	Hidden      bool
	// Path nests the command under parent commands, e.g.
	// []string{"mock", "backend"}. Empty mounts it at the root as Name.
	Path []string
	// Groups describe intermediate path segments.
	Groups []GroupConfig
}

type GroupConfig struct {
	Name        string
	Description string
}

// BuildTags renders the kong tags of a root level command.
func (opts Config) BuildTags() []string {
	var tags []string
	if len(opts.Aliases) > 0 {
		tags = append(tags, `aliases:"`+strings.Join(opts.Aliases, ",")+`"`)
	}

	if opts.Hidden {
		tags = append(tags, `hidden:""`)
	}

	return tags
}

func (opts Config) path() []string {
	if len(opts.Path) == 0 {
		if opts.Name == "" {
			return nil
		}
		return []string{opts.Name}
	}
	return append([]string{}, opts.Path...)
}
