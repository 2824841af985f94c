package filetransfer

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenOutgoingReadsInChunks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.bin")
	content := make([]byte, ChunkSize+100)
	for i := range content {
		content[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(path, content, 0o600))

	tr, err := openOutgoing(1, path)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(content)), tr.Length)

	var collected []byte
	for {
		chunk, err := tr.ReadChunk()
		collected = append(collected, chunk...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, content, collected)
	assert.True(t, tr.Done())
	require.NoError(t, tr.Close(nil))
}

func TestOpenIncomingWritesChunksAndTracksProgress(t *testing.T) {
	dir := t.TempDir()
	destPath := filepath.Join(dir, "out.bin")

	tr, err := openIncoming(2, destPath, 10)
	require.NoError(t, err)

	require.NoError(t, tr.WriteChunk([]byte("hello")))
	assert.InDelta(t, 0.5, tr.Fraction(), 0.001)
	assert.False(t, tr.Done())

	require.NoError(t, tr.WriteChunk([]byte("world")))
	assert.True(t, tr.Done())
	require.NoError(t, tr.Close(nil))

	got, err := os.ReadFile(destPath)
	require.NoError(t, err)
	assert.Equal(t, "helloworld", string(got))
}

func TestReadChunkOnIncomingTransferFails(t *testing.T) {
	dir := t.TempDir()
	tr, err := openIncoming(3, filepath.Join(dir, "out.bin"), 5)
	require.NoError(t, err)
	defer tr.Close(nil)

	_, err = tr.ReadChunk()
	assert.Error(t, err)
}
