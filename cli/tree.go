package cli

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"

	"github.com/alecthomas/kong"
	"github.com/goliatone/go-errors"
)

// node is one segment of a nested command path.
type node struct {
	name     string
	help     string
	group    string
	aliases  []string
	hidden   bool
	handler  any
	children map[string]*node
}

func newNode(name string) *node {
	return &node{
		name:     name,
		children: make(map[string]*node),
	}
}

func (n *node) insert(path []string, opts Config, handler any) error {
	if len(path) == 0 {
		return errors.New("cli path cannot be empty", errors.CategoryBadInput).
			WithTextCode(CodePathEmpty)
	}

	curr := n
	for idx, segment := range path {
		child, ok := curr.children[segment]
		if !ok {
			child = newNode(segment)
			curr.children[segment] = child
		}

		if idx == len(path)-1 {
			if child.handler != nil || len(child.children) > 0 {
				return errors.New("cli command already registered for path", errors.CategoryConflict).
					WithTextCode(CodePathConflict).
					WithMetadata(map[string]any{"path": strings.Join(path, " ")})
			}
			child.handler = handler
			child.help = opts.Description
			child.aliases = opts.Aliases
			child.hidden = opts.Hidden
			child.group = opts.Group
			return nil
		}

		if child.handler != nil {
			return errors.New("cli command cannot have sub commands", errors.CategoryConflict).
				WithTextCode(CodePathConflict).
				WithMetadata(map[string]any{"path": strings.Join(path[:idx+1], " ")})
		}
		if desc := opts.groupDescription(segment); desc != "" && child.help == "" {
			child.help = desc
		}
		curr = child
	}
	return nil
}

func (opts Config) groupDescription(name string) string {
	for _, g := range opts.Groups {
		if strings.EqualFold(g.Name, name) {
			return g.Description
		}
	}
	return ""
}

// model builds a struct type kong can embed. Nil when the tree is empty.
func (n *node) model() (any, error) {
	if len(n.children) == 0 {
		return nil, nil
	}

	val, err := buildStruct(n)
	if err != nil {
		return nil, err
	}
	return val.Addr().Interface(), nil
}

func buildStruct(n *node) (reflect.Value, error) {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]reflect.StructField, 0, len(names))
	values := make([]reflect.Value, 0, len(names))
	used := make(map[string]struct{})

	for _, name := range names {
		child := n.children[name]

		fieldName := exportFieldName(name)
		if _, exists := used[fieldName]; exists {
			return reflect.Value{}, fmt.Errorf("duplicate cli command field name after normalization: %s", fieldName)
		}
		used[fieldName] = struct{}{}

		var (
			fieldType  reflect.Type
			fieldValue reflect.Value
		)
		if len(child.children) == 0 {
			if child.handler == nil {
				return reflect.Value{}, fmt.Errorf("cli command %q missing handler", child.name)
			}
			fieldType = reflect.TypeOf(child.handler)
			fieldValue = reflect.ValueOf(child.handler)
		} else {
			val, err := buildStruct(child)
			if err != nil {
				return reflect.Value{}, err
			}
			fieldType = val.Type()
			fieldValue = val
		}

		fields = append(fields, reflect.StructField{
			Name: fieldName,
			Type: fieldType,
			Tag:  structTag(child),
		})
		values = append(values, fieldValue)
	}

	structVal := reflect.New(reflect.StructOf(fields)).Elem()
	for idx, val := range values {
		field := structVal.Field(idx)
		if val.Type().AssignableTo(field.Type()) {
			field.Set(val)
		}
	}
	return structVal, nil
}

func structTag(n *node) reflect.StructTag {
	tags := []string{
		fmt.Sprintf(`name:"%s"`, escapeTag(n.name)),
		`cmd:""`,
	}
	if n.help != "" {
		tags = append(tags, fmt.Sprintf(`help:"%s"`, escapeTag(n.help)))
	}
	if n.group != "" {
		tags = append(tags, fmt.Sprintf(`group:"%s"`, escapeTag(n.group)))
	}
	if len(n.aliases) > 0 {
		tags = append(tags, fmt.Sprintf(`aliases:"%s"`, escapeTag(strings.Join(n.aliases, ","))))
	}
	if n.hidden {
		tags = append(tags, `hidden:""`)
	}
	return reflect.StructTag(strings.Join(tags, " "))
}

func exportFieldName(name string) string {
	var b strings.Builder
	for _, part := range strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		runes := []rune(part)
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	out := b.String()
	if out == "" {
		out = "Cmd"
	}
	if first := rune(out[0]); !unicode.IsLetter(first) {
		out = "Cmd" + out
	}
	return out
}

func escapeTag(val string) string {
	val = strings.ReplaceAll(val, `\`, `\\`)
	val = strings.ReplaceAll(val, `"`, `\"`)
	return val
}

func embedOptions(root *node) ([]kong.Option, error) {
	model, err := root.model()
	if err != nil {
		return nil, err
	}
	if model == nil {
		return nil, nil
	}
	return []kong.Option{kong.Embed(model)}, nil
}
