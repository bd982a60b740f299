package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/firi/lspcore/internal/protocol"
)

func TestFolderWatcherReportsAddedSubdirectory(t *testing.T) {
	root := t.TempDir()

	changes := make(chan []protocol.WorkspaceFolder, 8)
	fw, err := New(root, func(folders []protocol.WorkspaceFolder) {
		changes <- folders
	})
	require.NoError(t, err)
	defer fw.Stop()

	require.NoError(t, os.Mkdir(filepath.Join(root, "service-a"), 0755))

	select {
	case folders := <-changes:
		require.Len(t, folders, 1)
		require.Equal(t, "service-a", folders[0].Name)
		require.Equal(t, filepath.Join(root, "service-a"), folders[0].Path)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for folder change notification")
	}
}

func TestFolderWatcherIgnoresHiddenDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0755))

	changes := make(chan []protocol.WorkspaceFolder, 8)
	fw, err := New(root, func(folders []protocol.WorkspaceFolder) {
		changes <- folders
	})
	require.NoError(t, err)
	defer fw.Stop()

	require.NoError(t, os.Mkdir(filepath.Join(root, "service-b"), 0755))

	select {
	case folders := <-changes:
		require.Len(t, folders, 1)
		require.Equal(t, "service-b", folders[0].Name)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for folder change notification")
	}
}
