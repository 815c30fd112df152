// Package source reads raw rows from JSON-lines input.
package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"go-auditrisk/pkg/models"
)

const maxLineSize = 4 * 1024 * 1024

// Reader decodes one models.RawRow per non-empty line.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	return &Reader{scanner: scanner}
}

// Next returns the next row, io.EOF at the end of input. A line that is not a
// JSON object fails with the line number; reading may continue afterwards.
func (r *Reader) Next() (models.RawRow, error) {
	for r.scanner.Scan() {
		r.line++
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		var row models.RawRow
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			return models.RawRow{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		return row, nil
	}
	if err := r.scanner.Err(); err != nil {
		return models.RawRow{}, err
	}
	return models.RawRow{}, io.EOF
}

// ReadAll reads every row. Undecodable lines are returned as rows with an
// empty CreationDate so they surface as skipped rows downstream instead of
// shifting row numbers.
func ReadAll(r io.Reader) ([]models.RawRow, error) {
	var rows []models.RawRow
	err := ReadChunks(context.Background(), r, 0, func(chunk []models.RawRow) error {
		rows = append(rows, chunk...)
		return nil
	})
	return rows, err
}

// ReadChunks streams rows to fn in chunks of at most size rows. size <= 0
// delivers everything in one chunk. The chunk slice is reused between calls.
func ReadChunks(ctx context.Context, r io.Reader, size int, fn func([]models.RawRow) error) error {
	reader := NewReader(r)
	capacity := size
	if capacity <= 0 {
		capacity = 1024
	}
	chunk := make([]models.RawRow, 0, capacity)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if reader.scanner.Err() != nil {
				return err
			}
			row = models.RawRow{Extras: map[string]string{"decode_error": err.Error()}}
		}
		chunk = append(chunk, row)
		if size > 0 && len(chunk) == size {
			if err := fn(chunk); err != nil {
				return err
			}
			chunk = chunk[:0]
		}
	}
	if len(chunk) > 0 {
		return fn(chunk)
	}
	return nil
}

// ReadFile reads all rows of a JSON-lines file.
func ReadFile(path string) ([]models.RawRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadAll(f)
}
