//go:build !(darwin || linux || freebsd)

package odbxuv

import (
	"fmt"
	"runtime"
)

func loadLibrary(candidates []string) (uintptr, error) {
	return 0, fmt.Errorf("unable to load opendbx library %v: unsupported operating system %s", candidates, runtime.GOOS)
}
