package main

import (
	"fmt"
	"os"
)

// writePIDFile records the current process's PID at path, matching
// original_source/acmed/src/main.rs's use of an external
// acme_common::init_server/clean_pid_file pair (marked out of scope by
// spec.md §1: "PID-file handling... their internals are not
// specified"). An empty path suppresses PID-file handling entirely.
func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}
