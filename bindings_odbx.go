package odbxuv

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// result codes of odbx_result
type odbxResult int32

const (
	ODBX_RES_DONE    odbxResult = 0
	ODBX_RES_TIMEOUT odbxResult = 1
	ODBX_RES_NOROWS  odbxResult = 2
	ODBX_RES_ROWS    odbxResult = 3
)

// result codes of odbx_row_fetch
const (
	ODBX_ROW_DONE int32 = 0
	ODBX_ROW_NEXT int32 = 1
)

// opaque pointers of the native library
type odbx_t struct{}
type odbx_result_t struct{}

type OdbxHandle *odbx_t
type OdbxResult *odbx_result_t

// LibraryPathEnv names the environment variable that points at the
// OpenDBX shared library.
const LibraryPathEnv = "ODBXUV_LIB_PATH"

var (
	c_odbx_init func(
		handle unsafe.Pointer, // odbx_t**
		backend string,
		host string,
		port string,
	) int32

	c_odbx_bind func(
		handle unsafe.Pointer,
		database string,
		who string,
		cred string,
		method int32,
	) int32

	c_odbx_unbind func(handle unsafe.Pointer) int32

	c_odbx_finish func(handle unsafe.Pointer) int32

	c_odbx_escape func(
		handle unsafe.Pointer,
		from string,
		fromlen uintptr, // unsigned long
		to unsafe.Pointer, // char*
		tolen unsafe.Pointer, // unsigned long*
	) int32

	c_odbx_query func(
		handle unsafe.Pointer,
		query string,
		length uintptr, // unsigned long
	) int32

	c_odbx_result func(
		handle unsafe.Pointer,
		result unsafe.Pointer, // odbx_result_t**
		timeout unsafe.Pointer, // struct timeval*
		chunk uintptr, // unsigned long
	) int32

	c_odbx_result_finish func(result unsafe.Pointer) int32

	c_odbx_row_fetch func(result unsafe.Pointer) int32

	c_odbx_column_count func(result unsafe.Pointer) uintptr

	c_odbx_column_name func(result unsafe.Pointer, pos uintptr) unsafe.Pointer

	c_odbx_field_value func(result unsafe.Pointer, pos uintptr) unsafe.Pointer

	c_odbx_field_length func(result unsafe.Pointer, pos uintptr) uintptr

	c_odbx_error func(handle unsafe.Pointer, err int32) unsafe.Pointer

	c_odbx_error_type func(handle unsafe.Pointer, err int32) int32
)

// register extern methods from the loaded library
func register_odbx(handle uintptr) {
	purego.RegisterLibFunc(&c_odbx_init, handle, "odbx_init")
	purego.RegisterLibFunc(&c_odbx_bind, handle, "odbx_bind")
	purego.RegisterLibFunc(&c_odbx_unbind, handle, "odbx_unbind")
	purego.RegisterLibFunc(&c_odbx_finish, handle, "odbx_finish")
	purego.RegisterLibFunc(&c_odbx_escape, handle, "odbx_escape")
	purego.RegisterLibFunc(&c_odbx_query, handle, "odbx_query")
	purego.RegisterLibFunc(&c_odbx_result, handle, "odbx_result")
	purego.RegisterLibFunc(&c_odbx_result_finish, handle, "odbx_result_finish")
	purego.RegisterLibFunc(&c_odbx_row_fetch, handle, "odbx_row_fetch")
	purego.RegisterLibFunc(&c_odbx_column_count, handle, "odbx_column_count")
	purego.RegisterLibFunc(&c_odbx_column_name, handle, "odbx_column_name")
	purego.RegisterLibFunc(&c_odbx_field_value, handle, "odbx_field_value")
	purego.RegisterLibFunc(&c_odbx_field_length, handle, "odbx_field_length")
	purego.RegisterLibFunc(&c_odbx_error, handle, "odbx_error")
	purego.RegisterLibFunc(&c_odbx_error_type, handle, "odbx_error_type")
}

var (
	libraryOnce sync.Once
	libraryErr  error
)

// InitLibrary loads the OpenDBX library once. The path in ODBXUV_LIB_PATH
// wins over the platform default names.
func InitLibrary() error {
	libraryOnce.Do(func() {
		candidates := libraryNames()
		if p := os.Getenv(LibraryPathEnv); p != "" {
			candidates = append([]string{p}, candidates...)
		}
		var handle uintptr
		handle, libraryErr = loadLibrary(candidates)
		if libraryErr != nil {
			return
		}
		register_odbx(handle)
	})
	return libraryErr
}

// LibraryLoaded reports whether the OpenDBX library is available.
func LibraryLoaded() bool {
	return InitLibrary() == nil
}

func libraryNames() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"libopendbx.1.dylib", "libopendbx.dylib"}
	case "windows":
		return []string{"opendbx.dll"}
	default:
		return []string{"libopendbx.so.1", "libopendbx.so"}
	}
}

// Go wrappers over the imported C functions

func odbx_init(backend, host, port string) (OdbxHandle, error) {
	var h unsafe.Pointer
	code := c_odbx_init(unsafe.Pointer(&h), backend, host, port)
	if code < 0 {
		// no handle to ask for the message
		return nil, &NativeError{Code: int(code), Type: -1, Message: fmt.Sprintf("odbx_init(%s) failed", backend)}
	}
	return OdbxHandle(h), nil
}

func odbx_bind(self OdbxHandle, database, who, cred string, method int) error {
	code := c_odbx_bind(unsafe.Pointer(self), database, who, cred, int32(method))
	return odbxError(self, code)
}

func odbx_unbind(self OdbxHandle) error {
	return odbxError(self, c_odbx_unbind(unsafe.Pointer(self)))
}

func odbx_finish(self OdbxHandle) error {
	if self == nil {
		return nil
	}
	code := c_odbx_finish(unsafe.Pointer(self))
	if code < 0 {
		return &NativeError{Code: int(code), Type: -1, Message: "odbx_finish failed"}
	}
	return nil
}

/** Escape a string for the bound backend.
 * The output buffer is sized for the worst case of every byte doubled.
 */
func odbx_escape(self OdbxHandle, from string) (string, error) {
	buf := make([]byte, 2*len(from)+1)
	tolen := uintptr(len(buf))
	code := c_odbx_escape(unsafe.Pointer(self), from, uintptr(len(from)), unsafe.Pointer(&buf[0]), unsafe.Pointer(&tolen))
	runtime.KeepAlive(buf)
	if err := odbxError(self, code); err != nil {
		return "", err
	}
	if tolen > uintptr(len(buf)) {
		tolen = uintptr(len(buf))
	}
	return string(buf[:tolen]), nil
}

func odbx_query(self OdbxHandle, sql string) error {
	return odbxError(self, c_odbx_query(unsafe.Pointer(self), sql, uintptr(len(sql))))
}

/** Wait for the next result of the last query.
 * A nil timeout blocks; chunk 0 fetches all rows at once.
 */
func odbx_result(self OdbxHandle) (odbxResult, OdbxResult, error) {
	var res unsafe.Pointer
	code := c_odbx_result(unsafe.Pointer(self), unsafe.Pointer(&res), nil, 0)
	if err := odbxError(self, code); err != nil {
		return 0, nil, err
	}
	return odbxResult(code), OdbxResult(res), nil
}

func odbx_result_finish(res OdbxResult) {
	if res == nil {
		return
	}
	c_odbx_result_finish(unsafe.Pointer(res))
}

func odbx_row_fetch(self OdbxHandle, res OdbxResult) (bool, error) {
	code := c_odbx_row_fetch(unsafe.Pointer(res))
	if err := odbxError(self, code); err != nil {
		return false, err
	}
	return code == ODBX_ROW_NEXT, nil
}

func odbx_column_count(res OdbxResult) int {
	return int(c_odbx_column_count(unsafe.Pointer(res)))
}

func odbx_column_name(res OdbxResult, pos int) string {
	return copyCString(c_odbx_column_name(unsafe.Pointer(res), uintptr(pos)))
}

/** Return the value of a field as a Go string (copied), or nil for NULL. */
func odbx_field_value(res OdbxResult, pos int) any {
	ptr := c_odbx_field_value(unsafe.Pointer(res), uintptr(pos))
	if ptr == nil {
		return nil
	}
	n := c_odbx_field_length(unsafe.Pointer(res), uintptr(pos))
	return string(unsafe.Slice((*byte)(ptr), n))
}

// odbxError converts a negative status of a call on self.
func odbxError(self OdbxHandle, code int32) error {
	if code >= 0 {
		return nil
	}
	return &NativeError{
		Code:    int(code),
		Type:    int(c_odbx_error_type(unsafe.Pointer(self), code)),
		Message: copyCString(c_odbx_error(unsafe.Pointer(self), code)),
	}
}

func copyCString(p unsafe.Pointer) string {
	if p == nil {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Add(p, n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(p), n))
}
