package nbvision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/chriskillpack/nbvision/describer"
	"github.com/chriskillpack/nbvision/notebook"
)

// ErrMissingKey is returned when no API key could be obtained, typically
// because the user cancelled a prompt.
var ErrMissingKey = errors.New("missing API key")

const promptTemplate = `

This is an image output from a cell that contains the following text:
%s

Please describe the image in details for users who may not be able to see the image.
`

// CredentialResolver supplies the credential for each image. ok is false if
// none could be obtained.
type CredentialResolver interface {
	Resolve(ctx context.Context) (cred Credential, ok bool, err error)
}

// Document is the notebook a cell belongs to.
type Document interface {
	ApplyEdit(ctx context.Context, e notebook.Edit) error
}

// Progress shows the user that fn is running.
type Progress interface {
	WithProgress(ctx context.Context, title string, fn func(report func(increment int)) error) error
}

type noProgress struct{}

func (noProgress) WithProgress(ctx context.Context, title string, fn func(func(int)) error) error {
	return fn(func(int) {})
}

// Explainer replaces the image outputs of notebook cells with a description
// of the image followed by the image itself.
type Explainer struct {
	creds        CredentialResolver
	progress     Progress
	describerFor func(Credential) (describer.Describer, error)
	logger       *log.Logger
}

// NewExplainer returns an Explainer that builds describers from nio. A nil
// progress shows nothing.
func NewExplainer(creds CredentialResolver, progress Progress, nio InitOptions) *Explainer {
	if progress == nil {
		progress = noProgress{}
	}
	return &Explainer{
		creds:    creds,
		progress: progress,
		describerFor: func(cred Credential) (describer.Describer, error) {
			return NewDescriber(cred, nio)
		},
		logger: log.Default(),
	}
}

// SetLogger replaces the default logger.
func (e *Explainer) SetLogger(l *log.Logger) { e.logger = l }

// ExplainOutputs describes every output of cell that holds a PNG image. If
// any output was replaced, the cell is swapped in doc with a single edit and
// ExplainOutputs returns true. An error aborts the whole cell: outputs
// described before the error are not written.
func (e *Explainer) ExplainOutputs(ctx context.Context, doc Document, cell *notebook.Cell) (bool, error) {
	prompt := fmt.Sprintf(promptTemplate, cell.Text)

	newOutputs := make([]notebook.Output, 0, len(cell.Outputs))
	described := 0
	for _, output := range cell.Outputs {
		image := firstImage(output)
		if image == nil {
			newOutputs = append(newOutputs, output)
			continue
		}

		// The resolver may prompt, so it runs before the progress bar draws.
		cred, ok, err := e.creds.Resolve(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, ErrMissingKey
		}

		var replacement *notebook.Output
		err = e.progress.WithProgress(ctx, "Explaining image...", func(report func(int)) error {
			var err error
			replacement, err = e.explainImage(ctx, cred, prompt, image.Data)
			if err != nil {
				return err
			}
			report(100)
			return nil
		})
		if err != nil {
			return false, err
		}

		if replacement == nil {
			newOutputs = append(newOutputs, output)
			continue
		}
		newOutputs = append(newOutputs, *replacement)
		described++
	}

	if described == 0 {
		return false, nil
	}

	cd := cell.Data()
	cd.Outputs = newOutputs
	edit := notebook.Edit{
		Range: notebook.Range{Start: cell.Index, End: cell.Index + 1},
		Cells: []*notebook.CellData{cd},
	}
	if err := doc.ApplyEdit(ctx, edit); err != nil {
		return false, err
	}

	e.logger.Printf("cell %d: described %d image output(s)", cell.Index, described)
	return true, nil
}

// explainImage returns the markdown output replacing image, or nil if the
// provider returned no description.
func (e *Explainer) explainImage(ctx context.Context, cred Credential, prompt string, image []byte) (*notebook.Output, error) {
	d, err := e.describerFor(cred)
	if err != nil {
		return nil, err
	}
	if c, ok := d.(io.Closer); ok {
		defer c.Close()
	}
	desc, err := d.DescribeImage(ctx, prompt, image)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.Name(), err)
	}
	if desc == "" {
		return nil, nil
	}

	out, err := notebook.NewTextOutput(notebook.MimeMarkdown, describedImageMarkdown(desc, image))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func describedImageMarkdown(desc string, image []byte) string {
	return desc + "\n\n![image](data:image/png;base64," + base64.StdEncoding.EncodeToString(image) + ")"
}

// firstImage returns the first PNG item of output.
func firstImage(output notebook.Output) *notebook.OutputItem {
	for i := range output.Items {
		if output.Items[i].Mime == notebook.MimePNG {
			return &output.Items[i]
		}
	}
	return nil
}
