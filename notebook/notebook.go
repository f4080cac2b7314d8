// Package notebook reads Jupyter notebooks (nbformat 4) and applies cell
// edits to them. Only the parts of a cell that are replaced are re-encoded,
// everything else in the file is written back byte for byte.
package notebook

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	MimePNG      = "image/png"
	MimeMarkdown = "text/markdown"

	MimeStdout = "application/vnd.code.notebook.stdout"
	MimeStderr = "application/vnd.code.notebook.stderr"
	MimeError  = "application/vnd.code.notebook.error"
)

// Notebook is a notebook loaded from disk.
type Notebook struct {
	mu   sync.Mutex
	path string
	raw  []byte

	Language string
	Cells    []*Cell
}

// Cell is a read-only view of one notebook cell.
type Cell struct {
	Index          int
	Kind           string // code, markdown or raw
	Text           string
	Language       string
	Metadata       json.RawMessage
	ExecutionCount *int64 // nil if the cell never ran
	Outputs        []Output

	raw []byte
}

// Output is one entry of a cell's output list. Raw holds its JSON encoding.
type Output struct {
	Kind  string // output_type
	Items []OutputItem

	Raw json.RawMessage
}

type OutputItem struct {
	Mime string
	Data []byte
}

// Range is the half-open cell range [Start, End).
type Range struct {
	Start, End int
}

// Edit replaces the cells in Range with Cells.
type Edit struct {
	Range Range
	Cells []*CellData
}

// CellData is the content of a cell to be written by an Edit.
type CellData struct {
	Kind           string
	Text           string
	Language       string
	Metadata       json.RawMessage
	ExecutionCount *int64
	Outputs        []Output

	base []byte // original cell JSON, used to keep fields nbvision doesn't model
}

// Load reads and parses the notebook at path.
func Load(path string) (*Notebook, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	nb, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	nb.path = path
	return nb, nil
}

// Parse parses notebook JSON. The returned notebook has no path and
// ApplyEdit only updates it in memory.
func Parse(raw []byte) (*Notebook, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("invalid notebook JSON")
	}
	doc := gjson.ParseBytes(raw)
	if major := doc.Get("nbformat"); major.Exists() && major.Int() < 4 {
		return nil, fmt.Errorf("unsupported nbformat %d", major.Int())
	}
	cells := doc.Get("cells")
	if !cells.IsArray() {
		return nil, fmt.Errorf("notebook has no cells array")
	}

	nb := &Notebook{
		raw:      raw,
		Language: notebookLanguage(doc),
	}
	for i, c := range cells.Array() {
		cell, err := parseCell(c, nb.Language)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", i, err)
		}
		cell.Index = i
		nb.Cells = append(nb.Cells, cell)
	}
	return nb, nil
}

// Path returns the file the notebook was loaded from.
func (nb *Notebook) Path() string { return nb.path }

// Bytes returns the current notebook JSON.
func (nb *Notebook) Bytes() []byte {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	return nb.raw
}

func notebookLanguage(doc gjson.Result) string {
	if l := doc.Get("metadata.kernelspec.language").String(); l != "" {
		return l
	}
	if l := doc.Get("metadata.language_info.name").String(); l != "" {
		return l
	}
	return "python"
}

func parseCell(c gjson.Result, language string) (*Cell, error) {
	if !c.IsObject() {
		return nil, fmt.Errorf("not an object")
	}
	cell := &Cell{
		Kind:     c.Get("cell_type").String(),
		Text:     multiline(c.Get("source")),
		Language: language,
		Metadata: json.RawMessage(c.Get("metadata").Raw),
		raw:      []byte(c.Raw),
	}
	if cell.Kind == "markdown" {
		cell.Language = "markdown"
	}
	if l := c.Get("metadata.vscode.languageId").String(); l != "" {
		cell.Language = l
	}
	if ec := c.Get("execution_count"); ec.Type == gjson.Number {
		n := ec.Int()
		cell.ExecutionCount = &n
	}

	for i, o := range c.Get("outputs").Array() {
		out, err := parseOutput(o)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		cell.Outputs = append(cell.Outputs, out)
	}
	return cell, nil
}

func parseOutput(o gjson.Result) (Output, error) {
	out := Output{
		Kind: o.Get("output_type").String(),
		Raw:  json.RawMessage(o.Raw),
	}

	switch out.Kind {
	case "stream":
		mime := MimeStdout
		if o.Get("name").String() == "stderr" {
			mime = MimeStderr
		}
		out.Items = []OutputItem{{Mime: mime, Data: []byte(multiline(o.Get("text")))}}
	case "error":
		errjson, err := json.Marshal(struct {
			Name      string   `json:"ename"`
			Value     string   `json:"evalue"`
			Traceback []string `json:"traceback"`
		}{
			Name:      o.Get("ename").String(),
			Value:     o.Get("evalue").String(),
			Traceback: stringArray(o.Get("traceback")),
		})
		if err != nil {
			return out, err
		}
		out.Items = []OutputItem{{Mime: MimeError, Data: errjson}}
	default:
		// display_data, execute_result and update_display_data carry a mime bundle.
		var err error
		o.Get("data").ForEach(func(key, value gjson.Result) bool {
			var item OutputItem
			item, err = parseItem(key.String(), value)
			if err != nil {
				return false
			}
			out.Items = append(out.Items, item)
			return true
		})
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func parseItem(mime string, value gjson.Result) (OutputItem, error) {
	switch {
	case isBinary(mime):
		b64 := strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' || r == ' ' {
				return -1
			}
			return r
		}, multiline(value))
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return OutputItem{}, fmt.Errorf("decoding %s: %w", mime, err)
		}
		return OutputItem{Mime: mime, Data: data}, nil
	case value.Type == gjson.String || value.IsArray():
		return OutputItem{Mime: mime, Data: []byte(multiline(value))}, nil
	default:
		return OutputItem{Mime: mime, Data: []byte(value.Raw)}, nil
	}
}

// isBinary reports whether nbformat stores mime as base64.
func isBinary(mime string) bool {
	return strings.HasPrefix(mime, "image/") && mime != "image/svg+xml"
}

// multiline joins nbformat's "string or list of strings" text encoding.
func multiline(v gjson.Result) string {
	if !v.IsArray() {
		return v.String()
	}
	var sb strings.Builder
	for _, line := range v.Array() {
		sb.WriteString(line.String())
	}
	return sb.String()
}

func stringArray(v gjson.Result) []string {
	arr := v.Array()
	s := make([]string, len(arr))
	for i, e := range arr {
		s[i] = e.String()
	}
	return s
}

// splitLines is the inverse of multiline, each element keeps its newline.
func splitLines(s string) []string {
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// NewTextOutput returns a display_data output with a single text item.
func NewTextOutput(mime, text string) (Output, error) {
	raw, err := json.Marshal(struct {
		OutputType string              `json:"output_type"`
		Data       map[string][]string `json:"data"`
		Metadata   struct{}            `json:"metadata"`
	}{
		OutputType: "display_data",
		Data:       map[string][]string{mime: splitLines(text)},
	})
	if err != nil {
		return Output{}, err
	}
	return Output{
		Kind:  "display_data",
		Items: []OutputItem{{Mime: mime, Data: []byte(text)}},
		Raw:   raw,
	}, nil
}

// Data returns the cell's content as CellData, the starting point for an
// Edit that replaces it.
func (c *Cell) Data() *CellData {
	return &CellData{
		Kind:           c.Kind,
		Text:           c.Text,
		Language:       c.Language,
		Metadata:       c.Metadata,
		ExecutionCount: c.ExecutionCount,
		Outputs:        c.Outputs,
		base:           c.raw,
	}
}

// MarshalJSON encodes the cell in nbformat 4. Fields of the original cell
// that CellData doesn't model (id, attachments) are carried over.
func (cd *CellData) MarshalJSON() ([]byte, error) {
	out := cd.base
	if len(out) == 0 {
		out = []byte(`{}`)
	}
	out = append([]byte(nil), out...)

	metadata := []byte(cd.Metadata)
	if len(metadata) == 0 {
		metadata = []byte(`{}`)
	}

	var err error
	if out, err = sjson.SetBytes(out, "cell_type", cd.Kind); err != nil {
		return nil, err
	}
	if out, err = sjson.SetRawBytes(out, "metadata", metadata); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "source", splitLines(cd.Text)); err != nil {
		return nil, err
	}
	if cd.Kind != "code" {
		return out, nil
	}

	if out, err = sjson.SetBytes(out, "execution_count", cd.ExecutionCount); err != nil {
		return nil, err
	}
	outputs := make([][]byte, len(cd.Outputs))
	for i, o := range cd.Outputs {
		outputs[i] = o.Raw
	}
	return sjson.SetRawBytes(out, "outputs", jsonArray(outputs))
}

// ApplyEdit applies e to the notebook. Notebooks loaded from a file are saved
// by writing a temporary file next to it and renaming it into place, so the
// file on disk changes in one step.
func (nb *Notebook) ApplyEdit(ctx context.Context, e Edit) error {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	cells := gjson.GetBytes(nb.raw, "cells").Array()
	if e.Range.Start < 0 || e.Range.End > len(cells) || e.Range.Start > e.Range.End {
		return fmt.Errorf("edit range [%d,%d) out of bounds for %d cells", e.Range.Start, e.Range.End, len(cells))
	}

	var newcells [][]byte
	for _, c := range cells[:e.Range.Start] {
		newcells = append(newcells, []byte(c.Raw))
	}
	for _, cd := range e.Cells {
		b, err := cd.MarshalJSON()
		if err != nil {
			return err
		}
		newcells = append(newcells, b)
	}
	for _, c := range cells[e.Range.End:] {
		newcells = append(newcells, []byte(c.Raw))
	}

	raw, err := sjson.SetRawBytes(nb.raw, "cells", jsonArray(newcells))
	if err != nil {
		return err
	}
	reparsed, err := Parse(raw)
	if err != nil {
		return fmt.Errorf("edit produced an invalid notebook: %w", err)
	}

	if nb.path != "" {
		if err := writeFile(nb.path, raw); err != nil {
			return err
		}
	}
	nb.raw = raw
	nb.Language = reparsed.Language
	nb.Cells = reparsed.Cells
	return nil
}

func jsonArray(elems [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	buf.Write(bytes.Join(elems, []byte(",")))
	buf.WriteByte(']')
	return buf.Bytes()
}

func writeFile(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if fi, err := os.Stat(path); err == nil {
		mode = fi.Mode().Perm()
	}

	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name()) // no-op once renamed

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Chmod(mode); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}
