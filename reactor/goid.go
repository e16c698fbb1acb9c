// File: reactor/goid.go
// Author: momentics <momentics@gmail.com>
//
// Goroutine identity. Go offers no goroutine-local storage; the id is
// parsed from the runtime.Stack header ("goroutine N [running]:").

package reactor

import (
	"runtime"
	"strconv"
)

func goid() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// Skip "goroutine " and read digits up to the following space.
	const prefix = len("goroutine ")
	i := prefix
	for i < n && buf[i] != ' ' {
		i++
	}
	id, err := strconv.ParseInt(string(buf[prefix:i]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}

func goidKey() string {
	return strconv.FormatInt(goid(), 10)
}
