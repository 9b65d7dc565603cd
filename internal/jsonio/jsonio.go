// Package jsonio reads and writes the JSON reports and manifests.
package jsonio

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

// Marshal encodes v with two-space indentation. Map keys come out sorted.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// WriteFile writes v to path, creating parent directories as needed.
// An existing file is overwritten.
func WriteFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("jsonio: create parent of %s: %w", path, err)
	}

	data, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("jsonio: encode %s: %w", path, err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("jsonio: write %s: %w", path, err)
	}
	return nil
}

// ReadFile decodes the JSON document at path into v.
func ReadFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("jsonio: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("jsonio: decode %s: %w", path, err)
	}
	return nil
}
