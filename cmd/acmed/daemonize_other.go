//go:build !unix

package main

// daemonize has no session-detaching implementation outside unix
// targets; it degrades to plain PID-file handling and the process
// keeps running attached to its caller.
func daemonize(pidFile string) error {
	return writePIDFile(pidFile)
}
