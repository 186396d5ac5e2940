package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDetectLang(t *testing.T) {
	require.Equal(t, langLua, detectLang("", nil))
	require.Equal(t, langJS, detectLang("", []string{"a.lua", "b.js"}))
	require.Equal(t, langLua, detectLang("", []string{"a.lua"}))
	require.Equal(t, langJS, detectLang("JS", []string{"a.lua"}))
}

func TestBuildLogger(t *testing.T) {
	log, err := buildLogger("debug")
	require.Nil(t, err)
	require.True(t, log.Core().Enabled(zap.DebugLevel))

	log, err = buildLogger("")
	require.Nil(t, err)
	require.False(t, log.Core().Enabled(zap.InfoLevel))

	_, err = buildLogger("loud")
	require.Error(t, err)
}

const luaScript = `
local odbx = require("opendbxuv")
local conn = odbx.createHandle()
odbx.setHandler(conn, "connect", function()
	local q = odbx.query(conn, "SELECT 1")
	odbx.setHandler(q, "query", function()
		odbx.close(q)
		odbx.close(conn)
	end)
end)
odbx.connect(conn, "sqlite3", "", "", ":memory:", "", "")
`

func TestRun(t *testing.T) {
	opts := func(lang, inline string, files ...string) runOptions {
		return runOptions{inline: inline, files: files, lang: lang, timeout: 10 * time.Second}
	}
	t.Run("lua inline", func(t *testing.T) {
		require.Nil(t, run(opts(langLua, luaScript), zap.NewNop()))
	})
	t.Run("js file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "script.js")
		src := strings.NewReplacer(
			"local ", "const ",
			"function()", "() => {",
			"\tend)", "\t})",
			"end)\n", "});\n",
		).Replace(luaScript)
		require.Nil(t, os.WriteFile(path, []byte(src), 0o644))
		require.Nil(t, run(opts(langJS, "", path), zap.NewNop()))
	})
	t.Run("example scripts", func(t *testing.T) {
		for _, path := range []string{"../../examples/lua/query.lua", "../../examples/js/query.js"} {
			require.Nil(t, run(opts(detectLang("", []string{path}), "", path), zap.NewNop()), path)
		}
	})
	t.Run("script errors fail the run", func(t *testing.T) {
		err := run(opts(langLua, `error("boom")`), zap.NewNop())
		require.Error(t, err)
		require.Contains(t, err.Error(), "boom")
	})
	t.Run("missing file", func(t *testing.T) {
		err := run(opts(langLua, "", filepath.Join(t.TempDir(), "nope.lua")), zap.NewNop())
		require.Error(t, err)
	})
	t.Run("unknown language", func(t *testing.T) {
		require.Error(t, run(opts("cobol", "x"), zap.NewNop()))
	})
}

func TestReplModel(t *testing.T) {
	var evaluated []string
	m := newReplModel("lua", func(src string) tea.Cmd {
		evaluated = append(evaluated, src)
		return func() tea.Msg { return evalMsg{input: src, out: []string{"2"}} }
	})
	key := func(k tea.KeyType) tea.KeyMsg { return tea.KeyMsg{Type: k} }

	m.input.SetValue("1 + 1")
	_, cmd := m.Update(key(tea.KeyEnter))
	require.NotNil(t, cmd)
	require.Equal(t, []string{"1 + 1"}, evaluated)
	require.Equal(t, "", m.input.Value())

	m.Update(cmd())
	m.Update(outputMsg("printed"))
	m.Update(scriptErrMsg{errors.New("boom")})
	require.Len(t, m.lines, 4)
	require.Contains(t, m.lines[0], "1 + 1")
	require.Contains(t, m.lines[1], "2")
	require.Equal(t, "printed", m.lines[2])
	require.Contains(t, m.lines[3], "uncaught: boom")

	m.Update(key(tea.KeyUp))
	require.Equal(t, "1 + 1", m.input.Value())
	m.Update(key(tea.KeyDown))
	require.Equal(t, "", m.input.Value())

	_, cmd = m.Update(key(tea.KeyEnter))
	require.Nil(t, cmd)

	_, cmd = m.Update(key(tea.KeyCtrlD))
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
	require.Contains(t, m.View(), "odbxuv lua")
}
