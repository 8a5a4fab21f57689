package loop

import (
	"bytes"
	"runtime"
	"strconv"
)

// goid returns the current goroutine's id from its stack header
// ("goroutine 42 [running]:"). It is only consulted on teardown paths.
func goid() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
