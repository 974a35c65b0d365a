/*
	This file holds the Command type used to parse command-line requests.
*/

package dvid

import (
	"strings"
)

// Command is a parsed command line.  The first item in the string slice is the
// command, e.g., "build".  The other arguments are command arguments or optional
// settings of the form "<key>=<value>".
type Command []string

// String returns a space-separated command line
func (cmd Command) String() string {
	return strings.Join([]string(cmd), " ")
}

// Name returns the first argument which is assumed to be the name of the command.
func (cmd Command) Name() string {
	if len(cmd) == 0 {
		return ""
	}
	return strings.ToLower(cmd[0])
}

func isSetting(arg string) (key, value string, ok bool) {
	key, value, ok = strings.Cut(arg, "=")
	if !ok || key == "" {
		return "", "", false
	}
	return key, value, true
}

// Argument returns the nth non-setting argument, where 0 is the command name, or
// the empty string if there is no such argument.
func (cmd Command) Argument(pos int) string {
	n := 0
	for _, arg := range cmd {
		if _, _, ok := isSetting(arg); ok {
			continue
		}
		if n == pos {
			return arg
		}
		n++
	}
	return ""
}

// Parameter scans a command for any "key=value" argument and returns
// the value of the passed 'key'.
func (cmd Command) Parameter(key string) (value string, found bool) {
	if len(cmd) > 1 {
		for _, arg := range cmd[1:] {
			k, v, ok := isSetting(arg)
			if ok && strings.EqualFold(k, key) {
				return v, true
			}
		}
	}
	return
}

// Settings returns all "key=value" arguments as a configuration.
func (cmd Command) Settings() Config {
	config := make(Config)
	if len(cmd) > 1 {
		for _, arg := range cmd[1:] {
			if k, v, ok := isSetting(arg); ok {
				config.Set(k, v)
			}
		}
	}
	return config
}
