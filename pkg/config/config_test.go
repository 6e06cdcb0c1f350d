package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/deskbridge/deskbridge/pkg/wire"
	"github.com/stretchr/testify/assert"
)

func writeEmptyFile(path string) error {
	return os.WriteFile(path, nil, 0o644)
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestNewAppliesOptions(t *testing.T) {
	s := New(
		WithConnectTimeout(5*time.Second),
		WithChunkSize(16*1024),
		WithMinVersion(wire.Version{Major: 1, Minor: 6}),
	)
	assert.Equal(t, 5*time.Second, s.ConnectTimeout)
	assert.Equal(t, 16*1024, s.ChunkSize)
	assert.Equal(t, wire.Version{Major: 1, Minor: 6}, s.MinVersion)
	assert.NoError(t, s.Validate())
}

func TestValidateRejectsOversizedChunk(t *testing.T) {
	s := New(WithChunkSize(64 * 1024))
	assert.Error(t, s.Validate())
}

func TestValidateRejectsNonPositiveTimeout(t *testing.T) {
	s := New(WithConnectTimeout(0))
	assert.Error(t, s.Validate())
}

func TestValidateAcceptsExistingReceiveDir(t *testing.T) {
	s := New(WithReceiveDir(t.TempDir()))
	assert.NoError(t, s.Validate())
}

func TestValidateRejectsMissingReceiveDir(t *testing.T) {
	s := New(WithReceiveDir(filepath.Join(t.TempDir(), "does-not-exist")))
	assert.Error(t, s.Validate())
}

func TestValidateRejectsReceiveDirThatIsAFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "afile")
	assert.NoError(t, writeEmptyFile(file))
	s := New(WithReceiveDir(file))
	assert.Error(t, s.Validate())
}
