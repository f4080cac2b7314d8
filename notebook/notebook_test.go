package notebook

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/tidwall/gjson"
)

// "iVBORw0KGgo=" is the PNG signature.
const sampleNotebook = `{
 "cells": [
  {
   "cell_type": "markdown",
   "id": "md-1",
   "metadata": {},
   "source": ["# Title\n", "Some text"]
  },
  {
   "cell_type": "code",
   "execution_count": 3,
   "id": "code-1",
   "metadata": {"tags": ["plot"]},
   "outputs": [
    {
     "name": "stdout",
     "output_type": "stream",
     "text": ["hello\n", "world\n"]
    },
    {
     "data": {
      "text/plain": ["<Figure size 640x480 with 1 Axes>"],
      "image/png": "iVBO\nRw0KGgo=\n"
     },
     "metadata": {},
     "output_type": "display_data"
    },
    {
     "ename": "ValueError",
     "evalue": "bad",
     "output_type": "error",
     "traceback": ["line 1", "line 2"]
    }
   ],
   "source": "import matplotlib.pyplot as plt\nplt.plot([1, 2])"
  },
  {
   "cell_type": "code",
   "execution_count": null,
   "metadata": {},
   "outputs": [],
   "source": []
  }
 ],
 "metadata": {
  "kernelspec": {"display_name": "Python 3", "language": "python", "name": "python3"}
 },
 "nbformat": 4,
 "nbformat_minor": 5
}`

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func TestParse(t *testing.T) {
	nb, err := Parse([]byte(sampleNotebook))
	if err != nil {
		t.Fatalf("Unexpected error %s", err)
	}

	if expected, actual := 3, len(nb.Cells); expected != actual {
		t.Fatalf("Expected %d cells, got %d", expected, actual)
	}
	if expected, actual := "python", nb.Language; expected != actual {
		t.Errorf("Expected language %q, got %q", expected, actual)
	}

	t.Run("markdown cell", func(t *testing.T) {
		c := nb.Cells[0]
		if expected, actual := "# Title\nSome text", c.Text; expected != actual {
			t.Errorf("Expected text %q, got %q", expected, actual)
		}
		if expected, actual := "markdown", c.Language; expected != actual {
			t.Errorf("Expected language %q, got %q", expected, actual)
		}
		if c.ExecutionCount != nil {
			t.Errorf("Expected no execution count, got %d", *c.ExecutionCount)
		}
	})

	t.Run("code cell", func(t *testing.T) {
		c := nb.Cells[1]
		if expected, actual := 1, c.Index; expected != actual {
			t.Errorf("Expected index %d, got %d", expected, actual)
		}
		if expected, actual := "import matplotlib.pyplot as plt\nplt.plot([1, 2])", c.Text; expected != actual {
			t.Errorf("Expected text %q, got %q", expected, actual)
		}
		if c.ExecutionCount == nil || *c.ExecutionCount != 3 {
			t.Errorf("Expected execution count 3, got %v", c.ExecutionCount)
		}
		if expected, actual := 3, len(c.Outputs); expected != actual {
			t.Fatalf("Expected %d outputs, got %d", expected, actual)
		}

		stream := c.Outputs[0]
		if expected, actual := MimeStdout, stream.Items[0].Mime; expected != actual {
			t.Errorf("Expected mime %q, got %q", expected, actual)
		}
		if expected, actual := "hello\nworld\n", string(stream.Items[0].Data); expected != actual {
			t.Errorf("Expected stream text %q, got %q", expected, actual)
		}

		display := c.Outputs[1]
		if expected, actual := 2, len(display.Items); expected != actual {
			t.Fatalf("Expected %d items, got %d", expected, actual)
		}
		// Items keep document order.
		if expected, actual := "text/plain", display.Items[0].Mime; expected != actual {
			t.Errorf("Expected first mime %q, got %q", expected, actual)
		}
		if expected, actual := MimePNG, display.Items[1].Mime; expected != actual {
			t.Errorf("Expected second mime %q, got %q", expected, actual)
		}
		if !bytes.Equal(display.Items[1].Data, pngSignature) {
			t.Errorf("Expected decoded PNG signature, got %v", display.Items[1].Data)
		}

		errout := c.Outputs[2]
		if expected, actual := MimeError, errout.Items[0].Mime; expected != actual {
			t.Errorf("Expected mime %q, got %q", expected, actual)
		}
		if expected, actual := "ValueError", gjson.GetBytes(errout.Items[0].Data, "ename").String(); expected != actual {
			t.Errorf("Expected ename %q, got %q", expected, actual)
		}
	})

	t.Run("empty cell", func(t *testing.T) {
		c := nb.Cells[2]
		if c.Text != "" || len(c.Outputs) != 0 || c.ExecutionCount != nil {
			t.Errorf("Expected an empty cell, got %+v", c)
		}
	})
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"invalid json", `{"cells": [`},
		{"no cells", `{"nbformat": 4}`},
		{"old format", `{"nbformat": 3, "cells": []}`},
		{"bad image", `{"cells": [{"cell_type": "code", "source": "", "outputs": [{"output_type": "display_data", "data": {"image/png": "!!!"}}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.raw)); err == nil {
				t.Errorf("Expected an error")
			}
		})
	}
}

func TestApplyEdit(t *testing.T) {
	nb, err := Parse([]byte(sampleNotebook))
	if err != nil {
		t.Fatalf("Unexpected error %s", err)
	}

	orig := nb.Cells[1]
	md, err := NewTextOutput(MimeMarkdown, "A line\n\n![image](data:image/png;base64,iVBORw0KGgo=)")
	if err != nil {
		t.Fatalf("Unexpected error %s", err)
	}

	cd := orig.Data()
	cd.Outputs = []Output{orig.Outputs[0], md, orig.Outputs[2]}
	err = nb.ApplyEdit(t.Context(), Edit{Range: Range{Start: 1, End: 2}, Cells: []*CellData{cd}})
	if err != nil {
		t.Fatalf("Unexpected error %s", err)
	}

	if expected, actual := 3, len(nb.Cells); expected != actual {
		t.Fatalf("Expected %d cells, got %d", expected, actual)
	}
	c := nb.Cells[1]
	if expected, actual := orig.Text, c.Text; expected != actual {
		t.Errorf("Expected text %q, got %q", expected, actual)
	}
	if c.ExecutionCount == nil || *c.ExecutionCount != 3 {
		t.Errorf("Expected execution count 3, got %v", c.ExecutionCount)
	}
	if expected, actual := `{"tags": ["plot"]}`, string(c.Metadata); expected != actual {
		t.Errorf("Expected metadata %s, got %s", expected, actual)
	}
	if expected, actual := "code-1", gjson.GetBytes(nb.Bytes(), "cells.1.id").String(); expected != actual {
		t.Errorf("Expected cell id %q, got %q", expected, actual)
	}
	if expected, actual := 3, len(c.Outputs); expected != actual {
		t.Fatalf("Expected %d outputs, got %d", expected, actual)
	}
	for _, i := range []int{0, 2} {
		if !bytes.Equal(orig.Outputs[i].Raw, c.Outputs[i].Raw) {
			t.Errorf("Expected output %d unchanged, got %s", i, c.Outputs[i].Raw)
		}
	}
	if expected, actual := MimeMarkdown, c.Outputs[1].Items[0].Mime; expected != actual {
		t.Errorf("Expected mime %q, got %q", expected, actual)
	}
	if expected, actual := string(md.Items[0].Data), string(c.Outputs[1].Items[0].Data); expected != actual {
		t.Errorf("Expected markdown %q, got %q", expected, actual)
	}

	// Other cells are untouched.
	before := gjson.Get(sampleNotebook, "cells.0").Raw
	if expected, actual := before, gjson.GetBytes(nb.Bytes(), "cells.0").Raw; expected != actual {
		t.Errorf("Expected cell 0 to be %s, got %s", expected, actual)
	}
}

func TestApplyEditOutOfRange(t *testing.T) {
	nb, err := Parse([]byte(sampleNotebook))
	if err != nil {
		t.Fatalf("Unexpected error %s", err)
	}
	before := nb.Bytes()

	err = nb.ApplyEdit(t.Context(), Edit{Range: Range{Start: 3, End: 4}, Cells: []*CellData{{Kind: "code"}}})
	if err == nil {
		t.Errorf("Expected an error")
	}
	if !bytes.Equal(before, nb.Bytes()) {
		t.Errorf("Expected notebook unchanged after a failed edit")
	}
}

func TestApplyEditSavesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plot.ipynb")
	if err := os.WriteFile(path, []byte(sampleNotebook), 0o600); err != nil {
		t.Fatal(err)
	}

	nb, err := Load(path)
	if err != nil {
		t.Fatalf("Unexpected error %s", err)
	}
	if expected, actual := path, nb.Path(); expected != actual {
		t.Errorf("Expected path %q, got %q", expected, actual)
	}

	cd := nb.Cells[2].Data()
	out, err := NewTextOutput("text/plain", "done")
	if err != nil {
		t.Fatal(err)
	}
	cd.Outputs = []Output{out}
	if err := nb.ApplyEdit(t.Context(), Edit{Range: Range{Start: 2, End: 3}, Cells: []*CellData{cd}}); err != nil {
		t.Fatalf("Unexpected error %s", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Unexpected error %s", err)
	}
	if expected, actual := 1, len(reloaded.Cells[2].Outputs); expected != actual {
		t.Fatalf("Expected %d outputs, got %d", expected, actual)
	}
	if expected, actual := "done", string(reloaded.Cells[2].Outputs[0].Items[0].Data); expected != actual {
		t.Errorf("Expected output %q, got %q", expected, actual)
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if expected, actual := os.FileMode(0o600), fi.Mode().Perm(); expected != actual {
		t.Errorf("Expected mode %v, got %v", expected, actual)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if expected, actual := 1, len(entries); expected != actual {
		t.Errorf("Expected %d files after save, got %d", expected, actual)
	}
}

func TestNewTextOutput(t *testing.T) {
	out, err := NewTextOutput(MimeMarkdown, "line one\nline two")
	if err != nil {
		t.Fatalf("Unexpected error %s", err)
	}

	var decoded struct {
		OutputType string              `json:"output_type"`
		Data       map[string][]string `json:"data"`
	}
	if err := json.Unmarshal(out.Raw, &decoded); err != nil {
		t.Fatalf("Unexpected error %s", err)
	}
	if expected, actual := "display_data", decoded.OutputType; expected != actual {
		t.Errorf("Expected output_type %q, got %q", expected, actual)
	}
	lines := decoded.Data[MimeMarkdown]
	if len(lines) != 2 || lines[0] != "line one\n" || lines[1] != "line two" {
		t.Errorf("Unexpected markdown lines %q", lines)
	}
}
