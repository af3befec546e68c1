package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/wem-technology/ios-webxr-sub000/internal/harness"
	"github.com/wem-technology/ios-webxr-sub000/internal/recorder"
	"github.com/wem-technology/ios-webxr-sub000/internal/store"
)

var scenariosDir = filepath.Join("..", "harness", "testdata", "scenarios")

// writeConfig writes a config file that points the store at a temp path.
func writeConfig(t *testing.T, driver string) (cfgPath, storePath string) {
	t.Helper()
	dir := t.TempDir()
	storePath = filepath.Join(dir, "xrsim.db")
	if driver == "json" {
		storePath = filepath.Join(dir, "anchors.json")
	}
	cfgPath = filepath.Join(dir, "xrsim.yaml")
	content := fmt.Sprintf("store:\n  driver: %s\n  path: %s\n", driver, storePath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))
	return cfgPath, storePath
}

// execute runs cmd with args and returns stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// scenarioRecording runs a harness scenario with recording on.
func scenarioRecording(t *testing.T, name string) *recorder.Recording {
	t.Helper()
	s, err := harness.LoadScenario(filepath.Join(scenariosDir, name+".yaml"))
	require.NoError(t, err)
	s.Record = true
	result, err := harness.Run(s)
	require.NoError(t, err)
	require.NotNil(t, result.Recording)
	return result.Recording
}

// seedRecording stores rec under name in a fresh SQLite store.
func seedRecording(t *testing.T, storePath, name string, rec *recorder.Recording) {
	t.Helper()
	st, err := store.Open(storePath)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.SaveRecording(context.Background(), name, rec))
}
