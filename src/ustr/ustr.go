// Package ustr implements the immutable byte-string type process names
// are compared and hashed as. The original kernel uses this same type
// for filesystem path components; process names have no path
// structure, so only the byte-equality and NUL-terminated-slice
// conveniences carry over here — everything path-specific (join,
// dot/dotdot, absolute-path checks) has no process-name analogue and
// does not.
package ustr

// Ustr is an immutable byte string, compared by content rather than by
// reference.
type Ustr []uint8

// Eq compares two Ustr values for equality.
func (us Ustr) Eq(s Ustr) bool {
	if len(us) != len(s) {
		return false
	}
	for i, v := range us {
		if v != s[i] {
			return false
		}
	}
	return true
}

// MkUstrSlice truncates buf at its first NUL byte, for process names
// that were written into the kernel from a C-style NUL-terminated
// buffer. pid_by_name does not go through it: that syscall takes an
// explicit name length.
func MkUstrSlice(buf []uint8) Ustr {
	for i := 0; i < len(buf); i++ {
		if buf[i] == 0 {
			return buf[:i]
		}
	}
	return buf
}

// String converts the Ustr to a Go string.
func (us Ustr) String() string {
	return string(us)
}
