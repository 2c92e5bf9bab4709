package fileio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

const (
	filePerm = 0o644
	dirPerm  = 0o755
	// jsonIndent matches the layout evaluation records have always been stored with.
	jsonIndent = "    "
)

// ReadText returns the whole content of the file at path.
func ReadText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	return string(data), nil
}

// WriteText creates or truncates the file at path and writes content into it.
// The parent directory must already exist.
func WriteText(path, content string) error {
	if err := os.WriteFile(path, []byte(content), filePerm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}

// WriteJSON stores v as an indented JSON document. Non-ASCII text and HTML
// characters are written as is.
func WriteJSON(path string, v any) error {
	data, err := MarshalJSON(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	return WriteText(path, string(data))
}

// MarshalJSON encodes v the same way WriteJSON does.
func MarshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", jsonIndent)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// EnsureDir creates the directory with all parents. Existing directories are fine.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, dirPerm); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}

	return nil
}
