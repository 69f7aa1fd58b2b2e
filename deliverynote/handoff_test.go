package deliverynote

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewHandoff(t *testing.T) {
	h := NewHandoff(nil, zap.NewNop().Sugar())
	require.Equal(t, nopHandoff{}, h)
	require.Nil(t, h.Deliver(context.Background(), Delivery{Vendor: "v", Files: []string{"a.json"}}))

	h = NewHandoff([]string{"true"}, zap.NewNop().Sugar())
	require.IsType(t, &commandHandoff{}, h)
}

func TestCommandHandoff(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "args")
	h := NewHandoff([]string{"sh", "-c", `printf '%s\n' "$@" > "$0"`, out}, zap.NewNop().Sugar())

	err := h.Deliver(context.Background(), Delivery{
		Vendor: "华宇",
		Files:  []string{"/out/a.json", "/out/b.json"},
	})
	require.Nil(t, err)
	content, err := os.ReadFile(out)
	require.Nil(t, err)
	require.Equal(t, "/out/a.json\n/out/b.json\n", string(content))

	// nothing to hand off
	require.Nil(t, os.Remove(out))
	require.Nil(t, h.Deliver(context.Background(), Delivery{Vendor: "华宇"}))
	_, err = os.Stat(out)
	require.True(t, os.IsNotExist(err))
}

func TestRunExternalCommand(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sugar := zap.New(core).Sugar()

	err := runExternalCommand(context.Background(), sugar, []string{"echo", "hello"})
	require.Nil(t, err)
	require.Equal(t, 1, logs.FilterMessage("Command executed successfully").Len())
	require.Equal(t, "hello\n", logs.All()[0].ContextMap()["output"])

	err = runExternalCommand(context.Background(), sugar, []string{"sh", "-c", "echo oops; exit 3"})
	require.NotNil(t, err)
	failed := logs.FilterMessage("Command execution failed").All()
	require.Len(t, failed, 1)
	require.Equal(t, "oops\n", failed[0].ContextMap()["output"])

	err = runExternalCommand(context.Background(), sugar, []string{"/nonexistent/command"})
	require.NotNil(t, err)
}
