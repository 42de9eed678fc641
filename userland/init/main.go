// Command init is the first user-mode program the kernel loads: it
// pings the kernel a few times, prints a greeting through put_char,
// counts seconds from 0 to 5 with a blocking sleep_ms between lines,
// and then calls exit, the way the original userland demo exercised
// these syscalls end to end.
package main

import (
	"strconv"

	"vkernel/userland/libuser"
)

func main() {
	for i := 0; i < 3; i++ {
		libuser.Ping()
	}

	libuser.Print("Hello from userland!\n")

	for seconds := 0; seconds <= 5; seconds++ {
		libuser.Print(strconv.Itoa(seconds) + " seconds\n")
		libuser.SleepMs(1000)
	}

	libuser.Exit(0)
}
