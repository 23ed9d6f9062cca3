package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotateWriter_WriteAndRotate(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	rw, err := newRotateWriter(logPath, 50, 2)
	require.NoError(t, err)
	defer func() { _ = rw.Close() }()

	msg := []byte("hello world\n")
	n, err := rw.Write(msg)
	require.NoError(t, err)
	assert.Equal(t, len(msg), n)

	_, err = rw.Write([]byte(strings.Repeat("x", 60)))
	require.NoError(t, err)

	rotated, err := os.ReadFile(logPath + ".1")
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", string(rotated))
}

func TestRotateWriter_KeepsMaxBackups(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	rw, err := newRotateWriter(logPath, 10, 2)
	require.NoError(t, err)
	defer func() { _ = rw.Close() }()

	for i := 0; i < 5; i++ {
		_, err := rw.Write([]byte("0123456789"))
		require.NoError(t, err)
	}

	for _, suffix := range []string{"", ".1", ".2"} {
		_, err := os.Stat(logPath + suffix)
		assert.NoError(t, err, suffix)
	}
	_, err = os.Stat(logPath + ".3")
	assert.True(t, os.IsNotExist(err))
}

func TestRotateWriter_SyncAndClose(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	rw, err := newRotateWriter(logPath, 100, 1)
	require.NoError(t, err)

	assert.NoError(t, rw.Sync())
	assert.NoError(t, rw.Close())
	assert.NoError(t, rw.Sync(), "sync on closed writer is a no-op")
	assert.NoError(t, rw.Close())

	_, err = rw.Write([]byte("reopened\n"))
	require.NoError(t, err)
	assert.NoError(t, rw.Close())
}

func TestNewRotateWriter_Defaults(t *testing.T) {
	rw, err := newRotateWriter(filepath.Join(t.TempDir(), "d.log"), 0, 0)
	require.NoError(t, err)
	defer func() { _ = rw.Close() }()
	assert.Equal(t, int64(10*1024*1024), rw.maxSize)
	assert.Equal(t, 3, rw.maxBackups)
}
