// ABOUTME: Parsing of slash-command input into plugin id, command name and inline arguments.
// ABOUTME: Anything not matching /plugin:command [args] is rejected as bad syntax.

package dispatch

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Prefix marks input as a command.
const Prefix = "/"

var (
	// ErrBadSyntax indicates input that is not /plugin:command [args].
	ErrBadSyntax = errors.New("bad command syntax")
	// ErrUnknownCommand indicates no enabled plugin provides the command.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrCancelled indicates the caller abandoned input collection.
	ErrCancelled = errors.New("command invocation cancelled")
	// ErrMissingInput indicates a required input slot was left empty.
	ErrMissingInput = errors.New("missing required input")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Parsed is the syntactic form of a command invocation.
type Parsed struct {
	PluginID string
	Command  string
	Args     string // inline arguments, surrounding whitespace trimmed
}

// QualifiedName returns "pluginId:command".
func (p Parsed) QualifiedName() string { return p.PluginID + ":" + p.Command }

func (p Parsed) String() string {
	if p.Args == "" {
		return Prefix + p.QualifiedName()
	}
	return Prefix + p.QualifiedName() + " " + p.Args
}

// IsCommand reports whether input uses the reserved prefix.
func IsCommand(input string) bool {
	return strings.HasPrefix(strings.TrimLeftFunc(input, unicode.IsSpace), Prefix)
}

// Parse splits input of the form /plugin:command [args].
func Parse(input string) (Parsed, error) {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, Prefix) {
		return Parsed{}, fmt.Errorf("%w: missing %q prefix", ErrBadSyntax, Prefix)
	}
	rest := trimmed[len(Prefix):]

	name, args := rest, ""
	if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
		name, args = rest[:i], strings.TrimSpace(rest[i:])
	}

	pluginID, command, ok := strings.Cut(name, ":")
	if !ok {
		return Parsed{}, fmt.Errorf("%w: %q is not plugin:command", ErrBadSyntax, name)
	}
	if !namePattern.MatchString(pluginID) || !namePattern.MatchString(command) {
		return Parsed{}, fmt.Errorf("%w: %q is not plugin:command", ErrBadSyntax, name)
	}
	return Parsed{PluginID: pluginID, Command: command, Args: args}, nil
}
