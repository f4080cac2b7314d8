package describer

import "context"

// Describer describes an image using a specific vision LLM provider.
type Describer interface {
	// Name returns the name of the backing provider, e.g. "openai" or "gemini"
	Name() string

	// DescribeImage returns an English description of the provided image.
	// prompt carries the instructions and any context about where the image
	// came from. The image data should be the full contents of a PNG file. The
	// provided ctx is used as a parent context for the request to the
	// provider.
	//
	// An empty description with a nil error means the provider had nothing to
	// say about the image.
	DescribeImage(ctx context.Context, prompt string, image []byte) (string, error)
}
