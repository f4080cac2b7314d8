package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/chriskillpack/nbvision/describer"

	oagc "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	DefaultModel = "gpt-4o"

	// Descriptions are meant to sit next to the image, keep them short.
	maxTokens = 300
)

type openai struct {
	oac   *oagc.Client
	model string
}

var _ describer.Describer = &openai{}

type Options struct {
	Model   string // if empty uses DefaultModel
	BaseURL string // if empty uses the official API endpoint

	HttpClient *http.Client // if nil uses http.DefaultClient
}

func Init(apiKey string, opts Options) *openai {
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	httpClient := opts.HttpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	reqopts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
		// A failed request surfaces straight to the user, no retries.
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqopts = append(reqopts, option.WithBaseURL(opts.BaseURL))
	}

	return &openai{
		oac:   oagc.NewClient(reqopts...),
		model: model,
	}
}

func (o *openai) Name() string { return "openai" }

func (o *openai) Model() string { return o.model }

func (o *openai) DescribeImage(ctx context.Context, prompt string, image []byte) (string, error) {
	imageURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(image)

	ccp := oagc.ChatCompletionNewParams{
		Messages: oagc.F([]oagc.ChatCompletionMessageParamUnion{
			oagc.UserMessageParts(
				oagc.TextPart(prompt),
				oagc.ImagePart(imageURL),
			),
		}),
		Model:     oagc.F(oagc.ChatModel(o.model)),
		MaxTokens: oagc.Int(maxTokens),
	}
	resp, err := o.oac.Chat.Completions.New(ctx, ccp)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in chat completion %q", resp.ID)
	}

	return resp.Choices[0].Message.Content, nil
}
