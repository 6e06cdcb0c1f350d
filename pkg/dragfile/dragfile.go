// Package dragfile describes the metadata carried in a DDRG drag-info
// message (spec.md §6): the file names, sizes and MIME types of a dragged
// payload, supplementing spec.md with the content-type detection the
// teacher repo's file-structure walker performs for every file it sends.
package dragfile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"
)

// Info describes one file within a drag operation.
type Info struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	Checksum string `json:"checksum,omitempty"`
}

// Describe stats path and detects its MIME type, mirroring the teacher's
// fileInfo.CreateNode for a single (non-directory) file, grounded on
// pkg/fileInfo/fileNode.go.
func Describe(path string) (Info, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("dragfile: stat %s: %w", path, err)
	}
	if stat.IsDir() {
		return Info{}, fmt.Errorf("dragfile: %s is a directory, drag payloads are flat files", path)
	}

	mime, err := mimetype.DetectFile(path)
	mimeType := "application/octet-stream"
	if err == nil {
		mimeType = mime.String()
	}

	return Info{
		Name:     stat.Name(),
		Size:     stat.Size(),
		MimeType: mimeType,
	}, nil
}

// Checksum computes the SHA-256 digest of path's contents, grounded on
// pkg/fileInfo/checksum.go's calculateSHA256.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// EncodeInfoList renders a drag's file list as the DDRG "info" string field
// (spec.md §6: `u32 fileNum, string info`): the fileNum is the list length,
// and info is this JSON encoding of it.
func EncodeInfoList(files []Info) (string, error) {
	b, err := json.Marshal(files)
	if err != nil {
		return "", fmt.Errorf("dragfile: encode info list: %w", err)
	}
	return string(b), nil
}

// DecodeInfoList parses a DDRG info string back into its file list.
func DecodeInfoList(info string) ([]Info, error) {
	var files []Info
	if err := json.Unmarshal([]byte(info), &files); err != nil {
		return nil, fmt.Errorf("dragfile: decode info list: %w", err)
	}
	return files, nil
}
