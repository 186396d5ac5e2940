//go:build darwin || linux || freebsd

package odbxuv

import (
	"errors"
	"fmt"

	"github.com/ebitengine/purego"
)

// loadLibrary opens the first candidate the dynamic loader accepts.
func loadLibrary(candidates []string) (uintptr, error) {
	var errs []error
	for _, name := range candidates {
		handle, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			return handle, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return 0, fmt.Errorf("unable to load opendbx library: %w", errors.Join(errs...))
}
