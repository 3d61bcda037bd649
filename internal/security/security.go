// Package security drops ppd's startup privileges down to the bare
// capabilities driver activation actually needs (§4.1: the sysfs/
// procfs gateway, not the daemon process as a whole, is what must
// reach privileged files).
package security

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"syscall"

	"kernel.org/pub/linux/libs/security/libcap/cap"
)

// Config describes the privilege drop ppd performs once at startup.
type Config struct {
	RunAsUser string // Unprivileged user to switch to if started as root.
	Caps      []cap.Value // Capabilities kept in the permitted set (DAC_OVERRIDE, SYS_ADMIN).

	// ReadWritePaths are chowned to RunAsUser and made user-writable
	// before the switch: the sysfs root and the config-file directory,
	// the only two trees ppd's own process needs write access to.
	ReadWritePaths []string
}

// DropPrivileges changes from root to RunAsUser and drops every
// capability except the ones listed in config.Caps. If the process is
// not running as root, no ownership change or user switch happens: a
// process holding no capabilities is left as it is, and one holding any
// has its set narrowed to config.Caps.
func DropPrivileges(config *Config) error {
	if syscall.Geteuid() != 0 {
		existing := cap.GetProc()

		// No capabilities at all: nothing to narrow, nothing to do.
		if isPriv, err := existing.Cf(cap.NewSet()); err == nil && isPriv == 0 {
			return nil
		}

		return setCapabilities(config.Caps)
	}

	// Change ownership on sysfs/config paths runAsUser needs to write,
	// then change users, then verify the paths are still reachable
	// (a restrictive parent directory mode can hide them from a
	// non-root user even after chown).
	if err := changeOwnership(config.ReadWritePaths, config.RunAsUser); err != nil {
		return err
	}

	if err := changeUser(config.RunAsUser); err != nil {
		return err
	}

	if err := pathsReachable(config.ReadWritePaths); err != nil {
		return err
	}

	return setCapabilities(config.Caps)
}

// DropCapabilities drops every capability on the process.
func DropCapabilities() error {
	return setCapabilities(nil)
}

// changeUser switches the current process to localUserName.
func changeUser(localUserName string) error {
	localUser, err := user.Lookup(localUserName)
	if err != nil {
		return fmt.Errorf("could not lookup %s: %w", localUserName, err)
	}

	localUserUID, err := strconv.Atoi(localUser.Uid)
	if err != nil {
		return fmt.Errorf("could not parse UID %s as int: %w", localUser.Uid, err)
	}

	localUserGID, err := strconv.Atoi(localUser.Gid)
	if err != nil {
		return fmt.Errorf("could not parse GID %s as int: %w", localUser.Gid, err)
	}

	// Set the main group first so files ppd still creates after the
	// switch (the config file) are owned by the user's group.
	if err := syscall.Setgid(localUserGID); err != nil {
		return fmt.Errorf("could not set gid to %d: %w", localUserGID, err)
	}

	// Not the regular SetUID: libcap's SetUID preserves capabilities
	// across the switch, which is what lets setCapabilities run after.
	if err := cap.SetUID(localUserUID); err != nil {
		return fmt.Errorf("could not setuid to %d: %w", localUserUID, err)
	}

	return os.Setenv("HOME", localUser.HomeDir)
}

// pathsReachable confirms every path in paths still stats successfully
// (i.e. is reachable for the now-current, unprivileged user).
func pathsReachable(paths []string) error {
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("could not reach path %s after dropping privileges: %w", path, err)
		}
	}

	return nil
}

// changeOwnership chowns every path in paths to runAsUserName and
// ensures it is user-writable.
func changeOwnership(paths []string, runAsUserName string) error {
	for _, path := range paths {
		if path == "" {
			continue
		}

		if err := changePathOwnership(path, runAsUserName); err != nil {
			return err
		}
	}

	return nil
}

func changePathOwnership(path, runAsUserName string) error {
	runAsUser, err := user.Lookup(runAsUserName)
	if err != nil {
		return fmt.Errorf("could not lookup %s: %w", runAsUserName, err)
	}

	runAsUserUID, err := strconv.Atoi(runAsUser.Uid)
	if err != nil {
		return fmt.Errorf("could not parse UID %s as int: %w", runAsUser.Uid, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("could not stat path %s: %w", path, err)
	}

	// Preserve the existing group; only the owning user changes.
	var gid int
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		gid = int(stat.Gid)
	} else {
		return fmt.Errorf("could not get UID and GID of path %s", path)
	}

	if err := os.Chown(path, runAsUserUID, gid); err != nil {
		return fmt.Errorf("could not change ownership on path %s: %w", path, err)
	}

	return os.Chmod(path, info.Mode()|os.FileMode(syscall.S_IWUSR))
}

// setCapabilities sets the permitted capability set of the current
// process to exactly caps and clears effective and inheritable for
// them; nothing in ppd raises them into the effective set afterwards.
func setCapabilities(caps []cap.Value) error {
	newcaps := cap.NewSet()

	for _, c := range caps {
		if err := newcaps.SetFlag(cap.Permitted, true, c); err != nil {
			return fmt.Errorf("error setting permitted setcap: %w", err)
		}

		if err := newcaps.SetFlag(cap.Effective, false, c); err != nil {
			return fmt.Errorf("error setting effective setcap: %w", err)
		}

		if err := newcaps.SetFlag(cap.Inheritable, false, c); err != nil {
			return fmt.Errorf("error setting inheritable setcap: %w", err)
		}
	}

	if err := newcaps.SetProc(); err != nil {
		return fmt.Errorf("error setting new process capabilities via setcap: %w", err)
	}

	return nil
}
