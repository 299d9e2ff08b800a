//go:build !windows

package process

// wrapCommand runs executables directly on Unix systems.
func wrapCommand(name string, args []string) (string, []string) {
	return name, args
}
