package ftp

import (
	"slices"
	"strings"
)

// HandlerFunc is the single shape every command runs with: arg is the rest of the line after the verb.
type HandlerFunc func(s *Session, arg string) error

// NoArgs adapts a handler that takes no argument.
func NoArgs(f func(s *Session) error) HandlerFunc {
	return func(s *Session, _ string) error {
		return f(s)
	}
}

// RawArg adapts a handler that wants the argument untouched.
func RawArg(f func(s *Session, arg string) error) HandlerFunc {
	return f
}

// MultiArgs adapts a handler that wants the argument split on whitespace.
func MultiArgs(f func(s *Session, args []string) error) HandlerFunc {
	return func(s *Session, arg string) error {
		return f(s, strings.Fields(arg))
	}
}

// CommandInfo is a registered command.
type CommandInfo struct {
	Handler  HandlerFunc
	Help     string
	NeedAuth bool
}

// Registry maps verbs to commands and holds what FEAT and OPTS negotiate.
// Each session owns one.
type Registry struct {
	commands map[string]CommandInfo
	features []string
	options  map[string]string
}

// optionAliases lets clients use the spelling they know
var optionAliases = map[string]string{
	"UTF8": "UTF-8",
}

func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]CommandInfo),
		options:  make(map[string]string),
	}
}

// Register adds a command; the verb is stored uppercase
func (r *Registry) Register(verb string, h HandlerFunc, help string, needAuth bool) {
	r.commands[strings.ToUpper(verb)] = CommandInfo{Handler: h, Help: help, NeedAuth: needAuth}
}

// Lookup finds a command by verb, in any case
func (r *Registry) Lookup(verb string) (CommandInfo, bool) {
	cmd, ok := r.commands[strings.ToUpper(verb)]
	return cmd, ok
}

// Verbs returns the registered verbs sorted
func (r *Registry) Verbs() []string {
	verbs := make([]string, 0, len(r.commands))
	for verb := range r.commands {
		verbs = append(verbs, verb)
	}
	slices.Sort(verbs)
	return verbs
}

// RegisterFeature adds a feature advertised by FEAT, once
func (r *Registry) RegisterFeature(feature string) {
	if !slices.Contains(r.features, feature) {
		r.features = append(r.features, feature)
	}
}

// Features returns the features in registration order
func (r *Registry) Features() []string {
	return slices.Clone(r.features)
}

// RegisterOption declares an option and its initial value
func (r *Registry) RegisterOption(name, value string) {
	r.options[strings.ToUpper(name)] = value
}

// Option returns the value of an option, ok is false for unknown options
func (r *Registry) Option(name string) (value string, ok bool) {
	value, ok = r.options[r.optionKey(name)]
	return
}

// SetOption updates a known option and reports whether it exists
func (r *Registry) SetOption(name, value string) bool {
	key := r.optionKey(name)
	if _, ok := r.options[key]; !ok {
		return false
	}
	r.options[key] = value
	return true
}

func (r *Registry) optionKey(name string) string {
	key := strings.ToUpper(name)
	if alias, ok := optionAliases[key]; ok {
		return alias
	}
	return key
}
