//go:build linux || darwin

package engine

import "syscall"

// freeBytes returns the free space available to unprivileged users on the
// volume containing path.
func freeBytes(path string) (int64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, err
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}
