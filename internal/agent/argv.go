package agent

import "strings"

// HasFlag reports whether args contains the short or long form of a flag.
// Empty forms are ignored.
func HasFlag(args []string, short, long string) bool {
	for _, arg := range args {
		if short != "" && arg == short {
			return true
		}
		if long != "" && arg == long {
			return true
		}
	}
	return false
}

// FlagValue returns the value of a flag given as "short value", "-svalue",
// "long value" or "long=value", or "" when the flag is absent or last.
func FlagValue(args []string, short, long string) string {
	for i, arg := range args {
		if long != "" && strings.HasPrefix(arg, long+"=") {
			return arg[len(long)+1:]
		}
		if short != "" && len(arg) > len(short) && strings.HasPrefix(arg, short) && !strings.HasPrefix(arg, "--") {
			return strings.TrimPrefix(arg[len(short):], "=")
		}
		if i == len(args)-1 {
			break
		}
		if (short != "" && arg == short) || (long != "" && arg == long) {
			return args[i+1]
		}
	}
	return ""
}
