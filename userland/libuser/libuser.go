// Package libuser is the tiny syscall-stub library every user-mode
// program in this kernel links against: it issues SYSCALL with the
// descriptor/out-slot calling convention the kernel's dispatcher
// expects and wraps the five operations as ordinary Go functions.
package libuser

// tag mirrors kernel/syscall.Tag; duplicated rather than imported
// since userland code and kernel code are never linked together.
type tag uint32

const (
	tagPing tag = iota
	tagPutChar
	tagGetKbdCode
	tagSleepMs
	tagExit
)

type syscallDescriptor struct {
	Tag  tag
	Arg1 uint64
}

type syscallResult struct {
	Value uint64
}

// ErrorCode mirrors kernel/syscall.ErrorCode.
type ErrorCode uint32

const (
	Ok ErrorCode = iota
	InvalidArgument
)

// rawSyscall executes SYSCALL with RDI pointing at desc and RSI
// pointing at out, returning the error code the kernel left in RAX.
// Implemented in libuser_amd64.s.
//
//go:noescape
func rawSyscall(desc *syscallDescriptor, out *syscallResult) uint32

// Ping asks the kernel to print "Ping!" to its console.
func Ping() ErrorCode {
	var out syscallResult
	return ErrorCode(rawSyscall(&syscallDescriptor{Tag: tagPing}, &out))
}

// PutChar writes one byte to the kernel's console. The kernel rejects
// anything outside printable ASCII plus newline with InvalidArgument.
func PutChar(c byte) ErrorCode {
	var out syscallResult
	return ErrorCode(rawSyscall(&syscallDescriptor{Tag: tagPutChar, Arg1: uint64(c)}, &out))
}

// GetKbdCode blocks until a keyboard scancode is available and returns
// it.
func GetKbdCode() (byte, ErrorCode) {
	var out syscallResult
	code := rawSyscall(&syscallDescriptor{Tag: tagGetKbdCode}, &out)
	return byte(out.Value), ErrorCode(code)
}

// SleepMs suspends the calling process for at least ms milliseconds.
func SleepMs(ms uint32) ErrorCode {
	var out syscallResult
	return ErrorCode(rawSyscall(&syscallDescriptor{Tag: tagSleepMs, Arg1: uint64(ms)}, &out))
}

// Exit terminates the calling process; it never returns.
func Exit(code int8) {
	var out syscallResult
	rawSyscall(&syscallDescriptor{Tag: tagExit, Arg1: uint64(uint8(code))}, &out)
	for {
	}
}

// Print writes every byte of s via PutChar, the way the original
// userland Printer shim built fmt-style output on top of put_char.
func Print(s string) {
	for i := 0; i < len(s); i++ {
		PutChar(s[i])
	}
}

