package odbxuv

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeName(t *testing.T) {
	names := []string{
		"SUCCESS", "BACKEND", "NOCAP", "PARAM", "NOMEM", "SIZE", "NOTEXISTS",
		"NOOP", "OPTION", "OPTRO", "OPTWR", "RESULT", "NOTSUP", "HANDLE",
	}
	seen := map[string]bool{}
	for code, want := range names {
		got, ok := CodeName(-code)
		require.True(t, ok, "code %d", code)
		require.Equal(t, want, got, "code %d", code)
		require.False(t, seen[got], "name %s used twice", got)
		seen[got] = true

		positive, _ := CodeName(code)
		require.Equal(t, got, positive)
	}
	_, ok := CodeName(-14)
	require.False(t, ok)
	_, ok = CodeName(-1000)
	require.False(t, ok)
}

func TestNewAsyncError(t *testing.T) {
	t.Run("known code", func(t *testing.T) {
		e := NewAsyncError(&NativeError{Code: -3, Type: 1, Message: "bad parameter"}, "after_query", "")
		require.Equal(t, "-3, bad parameter", e.Message)
		require.Equal(t, "PARAM", e.Code)
		require.Equal(t, 1, e.Type)
		require.Equal(t, "after_query", e.Source)
		require.Equal(t, "", e.Path)
	})
	t.Run("path is quoted into the message", func(t *testing.T) {
		e := NewAsyncError(&NativeError{Code: -6, Type: -1, Message: "no such file"}, "after_connect", "/tmp/x.db")
		require.Equal(t, "-6, no such file '/tmp/x.db'", e.Message)
		require.Equal(t, "NOTEXISTS", e.Code)
		require.Equal(t, "/tmp/x.db", e.Path)
	})
	t.Run("unknown code stays numeric", func(t *testing.T) {
		e := NewAsyncError(&NativeError{Code: -42, Message: "weird"}, "after_fetch", "")
		require.Equal(t, -42, e.Code)
		require.Equal(t, "-42, weird", e.Error())
	})
}

func TestUsageErrors(t *testing.T) {
	err := enqueueError("query", nativeErrorf(ODBX_ERR_HANDLE, -1, "closed"))
	var uerr *UsageError
	require.True(t, errors.As(err, &uerr))
	require.Equal(t, "query", uerr.Op)
	require.Contains(t, err.Error(), "odbxuv_query: -13")

	var nerr *NativeError
	require.True(t, errors.As(err, &nerr))
	require.Equal(t, -13, nerr.Code)

	require.ErrorIs(t, usageError("close", ErrAlreadyClosed), ErrAlreadyClosed)
}
