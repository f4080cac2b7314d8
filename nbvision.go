package nbvision

import (
	"fmt"
	"net/http"

	"github.com/chriskillpack/nbvision/describer"
	"github.com/chriskillpack/nbvision/internal/gemini"
	"github.com/chriskillpack/nbvision/internal/openai"
)

// Provider is a vision provider nbvision can describe images with.
type Provider int

const (
	OpenAI Provider = iota + 1
	Google
)

// Providers lists every provider in the order they are offered to the user.
var Providers = []Provider{OpenAI, Google}

func (p Provider) String() string {
	switch p {
	case OpenAI:
		return "OpenAI"
	case Google:
		return "Google"
	}
	return fmt.Sprintf("Provider(%d)", int(p))
}

// ParseProvider is the inverse of Provider.String.
func ParseProvider(s string) (Provider, bool) {
	for _, p := range Providers {
		if p.String() == s {
			return p, true
		}
	}
	return 0, false
}

// secretName is the secret store key the provider's API key lives under.
func (p Provider) secretName() string {
	switch p {
	case OpenAI:
		return "openai.aiKey"
	case Google:
		return "google.aiKey"
	}
	panic("unknown provider " + p.String())
}

func (p Provider) keyPlaceholder() string {
	return "Enter your " + p.String() + " API key"
}

func (p Provider) keyHint() string {
	if p == OpenAI {
		return "You can create an API key at https://platform.openai.com/api-keys"
	}
	return ""
}

type InitOptions struct {
	OpenAIModel   string
	OpenAIBaseURL string

	GeminiModel    string
	GeminiEndpoint string

	HttpClient *http.Client // if nil uses http.DefaultClient
}

// NewDescriber returns the describer for the credential's provider.
func NewDescriber(cred Credential, nio InitOptions) (describer.Describer, error) {
	httpClient := nio.HttpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	switch cred.Provider {
	case OpenAI:
		return openai.Init(cred.Secret, openai.Options{
			Model:      nio.OpenAIModel,
			BaseURL:    nio.OpenAIBaseURL,
			HttpClient: httpClient,
		}), nil
	case Google:
		return gemini.Init(cred.Secret, gemini.Options{
			Model:      nio.GeminiModel,
			Endpoint:   nio.GeminiEndpoint,
			HttpClient: httpClient,
		})
	}
	return nil, fmt.Errorf("unknown provider %s", cred.Provider)
}
