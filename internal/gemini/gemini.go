package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/chriskillpack/nbvision/describer"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"
)

const DefaultModel = "gemini-1.5-flash"

var blockedCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

type gemini struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
}

var _ describer.Describer = &gemini{}

type Options struct {
	Model    string // if empty uses DefaultModel
	Endpoint string // if empty uses the official API endpoint

	HttpClient *http.Client // if nil uses http.DefaultClient
}

func Init(apiKey string, opts Options) (*gemini, error) {
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	httpClient := opts.HttpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	// option.WithAPIKey is ignored by the REST clients once a custom HTTP
	// client is supplied, so the key is attached by the transport as well.
	keyed := &http.Client{
		Transport: &transport.APIKey{Key: apiKey, Transport: httpClient.Transport},
		Timeout:   httpClient.Timeout,
	}
	clientopts := []option.ClientOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(keyed),
	}
	if opts.Endpoint != "" {
		clientopts = append(clientopts, option.WithEndpoint(opts.Endpoint))
	}

	client, err := genai.NewClient(context.Background(), clientopts...)
	if err != nil {
		return nil, err
	}

	gm := client.GenerativeModel(model)
	gm.SetTemperature(0.4)
	gm.SetTopK(32)
	gm.SetTopP(1)
	gm.SetMaxOutputTokens(4096)
	gm.SafetySettings = safetySettings()

	return &gemini{client: client, model: gm, modelName: model}, nil
}

func (g *gemini) Name() string { return "gemini" }

func (g *gemini) Model() string { return g.modelName }

func (g *gemini) Close() error { return g.client.Close() }

func (g *gemini) DescribeImage(ctx context.Context, prompt string, image []byte) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.ImageData("png", image), genai.Text(prompt))
	if err != nil {
		return "", err
	}
	return responseText(resp)
}

func safetySettings() []*genai.SafetySetting {
	ss := make([]*genai.SafetySetting, len(blockedCategories))
	for i, cat := range blockedCategories {
		ss[i] = &genai.SafetySetting{Category: cat, Threshold: genai.HarmBlockMediumAndAbove}
	}
	return ss
}

// responseText joins the text parts of the first candidate. The client already
// rejects blocked prompts and candidates stopped for safety or recitation.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", nil
	}

	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonOther {
		return "", fmt.Errorf("response stopped: %s", cand.FinishReason)
	}
	if cand.Content == nil {
		return "", nil
	}

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String(), nil
}
