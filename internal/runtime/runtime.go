// Package runtime reports host identity and resource-limit information
// that ppd logs once at startup, alongside the build version, so a
// bug report carries enough context to reproduce a sysfs-layout issue.
package runtime

import (
	"fmt"
	"math"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// syscall.RLIM_INFINITY is a constant.
// Its type is int on most architectures but there are exceptions such as loong64.
// Uniform it to uint accorind to the standard.
// https://pubs.opengroup.org/onlinepubs/9699919799/basedefs/sys_resource.h.html
var unlimited uint64 = syscall.RLIM_INFINITY & math.MaxUint64

// Uname returns the kernel identity of the host ppd is arbitrating
// power for (sysname, release, version, machine, hostname, domain).
func Uname() string {
	buf := unix.Utsname{}

	if err := unix.Uname(&buf); err != nil {
		panic("unix.Uname failed: " + err.Error())
	}

	var b strings.Builder

	b.WriteByte('(')
	b.WriteString(unix.ByteSliceToString(buf.Sysname[:]))
	b.WriteByte(' ')
	b.WriteString(unix.ByteSliceToString(buf.Release[:]))
	b.WriteByte(' ')
	b.WriteString(unix.ByteSliceToString(buf.Version[:]))
	b.WriteByte(' ')
	b.WriteString(unix.ByteSliceToString(buf.Machine[:]))
	b.WriteByte(' ')
	b.WriteString(unix.ByteSliceToString(buf.Nodename[:]))
	b.WriteByte(' ')
	b.WriteString(unix.ByteSliceToString(buf.Domainname[:]))
	b.WriteByte(')')

	return b.String()
}

func limitToString(v uint64, unit string) string {
	if v == unlimited {
		return "unlimited"
	}

	return fmt.Sprintf("%d%s", v, unit)
}

func getLimit(resource int, unit string) string {
	rlimit := syscall.Rlimit{}

	if err := syscall.Getrlimit(resource, &rlimit); err != nil {
		panic("syscall.Getrlimit failed: " + err.Error())
	}

	// rlimit.Cur and rlimit.Max are int64 on some platforms, such as dragonfly.
	// We need to cast them explicitly to uint64.
	return fmt.Sprintf(
		"(soft=%s, hard=%s)",
		limitToString(uint64(rlimit.Cur), unit),
		limitToString(uint64(rlimit.Max), unit),
	)
}

// FdLimits returns the soft and hard file descriptor limits. ppd keeps
// one file-watcher instance for all watched paths plus the system bus
// connection open, so a too-low nofile limit is worth having in the log.
func FdLimits() string {
	return getLimit(syscall.RLIMIT_NOFILE, "")
}
