//go:build windows

package process

// wrapCommand routes through cmd /c so npm.cmd-style shims resolve on Windows.
func wrapCommand(name string, args []string) (string, []string) {
	return "cmd", append([]string{"/c", name}, args...)
}
