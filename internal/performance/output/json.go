package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/wesleyorama2/bookload/internal/performance/engine"
)

// WriteJSON writes the result as indented JSON.
func WriteJSON(w io.Writer, result *engine.TestResult) error {
	return WriteValue(w, result)
}

// WriteValue writes any value as indented JSON followed by a newline.
func WriteValue(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	data = append(data, '\n')

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// SaveJSON writes the result as indented JSON to path.
func SaveJSON(path string, result *engine.TestResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	if err := WriteJSON(f, result); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
