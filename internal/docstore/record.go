package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Aman-CERP/fmindex/internal/codec"
	fmerrors "github.com/Aman-CERP/fmindex/internal/errors"
)

// textField is the required document body field of every corpus line.
const textField = "text"

// MetaRecord is the metadata stored for every document.
type MetaRecord struct {
	Path     string                     `json:"path"`
	LineNum  int                        `json:"linenum"`
	Metadata map[string]json.RawMessage `json:"metadata"`
}

// record is the pair of channel entries produced from one corpus line.
type record struct {
	data []byte
	meta []byte
}

// parseLine splits a corpus line into its document and metadata entries.
// The document entry is the separator followed by the text bytes. The
// metadata entry is the separator, the compact JSON MetaRecord and a
// trailing newline.
func parseLine(relPath string, num int, raw []byte) (record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return record{}, parseError(relPath, num, "invalid JSON", err)
	}
	textRaw, ok := fields[textField]
	if !ok {
		return record{}, parseError(relPath, num, "missing \"text\" field", nil)
	}
	var text string
	if err := json.Unmarshal(textRaw, &text); err != nil {
		return record{}, parseError(relPath, num, "\"text\" is not a string", err)
	}
	delete(fields, textField)

	data := make([]byte, 0, len(text)+1)
	data = append(data, codec.DocSeparator)
	data = append(data, text...)

	meta, err := encodeMeta(MetaRecord{Path: relPath, LineNum: num, Metadata: fields})
	if err != nil {
		return record{}, parseError(relPath, num, "encode metadata", err)
	}
	return record{data: data, meta: meta}, nil
}

func encodeMeta(m MetaRecord) ([]byte, error) {
	if m.Metadata == nil {
		m.Metadata = map[string]json.RawMessage{}
	}
	var buf bytes.Buffer
	buf.WriteByte(codec.DocSeparator)
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encode appends the trailing newline.
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeMeta parses a metadata channel entry. The leading separator and the
// trailing newline are optional.
func DecodeMeta(entry []byte) (*MetaRecord, error) {
	entry = bytes.TrimPrefix(entry, []byte{codec.DocSeparator})
	entry = bytes.TrimSuffix(entry, []byte{'\n'})
	var m MetaRecord
	if err := json.Unmarshal(entry, &m); err != nil {
		return nil, fmt.Errorf("decode metadata record: %w", err)
	}
	return &m, nil
}

func parseError(relPath string, num int, reason string, cause error) error {
	return fmerrors.New(fmerrors.ErrCodeParseFailed,
		fmt.Sprintf("%s:%d: %s", relPath, num, reason), cause).
		WithDetail("path", relPath).
		WithDetail("line", fmt.Sprint(num))
}
