// Package defs holds types and constants shared across every kernel
// package: the error taxonomy, kernel-call numbers, and the small
// integer identifiers (pid, tid, frame number) that would otherwise
// create import cycles between mem, sched, proc and kcall.
package defs

// Err_t is the error code kernel functions return. Zero means success;
// the taxonomy below is positive, and the kcall dispatcher negates a
// code before writing it back as the kcall's machine-word result.
type Err_t int

const (
	EINVAL  Err_t = 1 /// argument violates a documented precondition
	EFAULT  Err_t = 2 /// pointer does not refer to caller-accessible memory
	ENOMEM  Err_t = 3 /// frame or kernel page pool exhausted
	EPERM   Err_t = 4 /// identity check failed
	EAGAIN  Err_t = 5 /// resource temporarily unavailable (e.g. table full)
	EBUSY   Err_t = 6 /// lock already held (Trylock only)
	ENOSYS  Err_t = 7 /// unknown kcall number
	ENOHEAP = ENOMEM  /// alias kept for call sites ported from the frame/kpool path
)

// String names an error code for log lines and panics.
func (e Err_t) String() string {
	switch e {
	case 0:
		return "ok"
	case EINVAL:
		return "EINVAL"
	case EFAULT:
		return "EFAULT"
	case ENOMEM:
		return "ENOMEM"
	case EPERM:
		return "EPERM"
	case EAGAIN:
		return "EAGAIN"
	case EBUSY:
		return "EBUSY"
	case ENOSYS:
		return "ENOSYS"
	default:
		return "E?"
	}
}
