package nbvision

import (
	"context"
	"fmt"
)

// providerPreference is the preference key remembering the selected provider.
const providerPreference = "nbvision.keyprovider"

// Credential is an API key for a provider.
type Credential struct {
	Provider Provider
	Secret   string
}

// SecretStore holds API keys by name. A missing secret is returned as "".
type SecretStore interface {
	Secret(ctx context.Context, name string) (string, error)
	StoreSecret(ctx context.Context, name, secret string) error
	DeleteSecret(ctx context.Context, name string) error
}

// Preferences is persistent key-value state. An unset key is returned as "".
type Preferences interface {
	Preference(ctx context.Context, key string) (string, error)
	SetPreference(ctx context.Context, key, value string) error
	ClearPreference(ctx context.Context, key string) error
}

// Prompter asks the user for input. Both methods return "" if the user
// cancelled.
type Prompter interface {
	// Pick asks the user to choose one of items.
	Pick(ctx context.Context, placeholder string, items []string) (string, error)

	// Input asks the user to type a secret value. hint may be empty.
	Input(ctx context.Context, placeholder, hint string) (string, error)
}

// CredentialManager decides which provider to use and finds its API key,
// asking the user for whatever is missing.
type CredentialManager struct {
	secrets  SecretStore
	prefs    Preferences
	prompter Prompter
}

var _ CredentialResolver = &CredentialManager{}

func NewCredentialManager(secrets SecretStore, prefs Preferences, prompter Prompter) *CredentialManager {
	return &CredentialManager{
		secrets:  secrets,
		prefs:    prefs,
		prompter: prompter,
	}
}

// Resolve returns the credential to describe images with. ok is false if the
// user cancelled one of the prompts.
func (cm *CredentialManager) Resolve(ctx context.Context) (Credential, bool, error) {
	provider, ok, err := cm.provider(ctx)
	if err != nil || !ok {
		return Credential{}, false, err
	}

	secret, err := cm.secrets.Secret(ctx, provider.secretName())
	if err != nil {
		return Credential{}, false, fmt.Errorf("reading %s key: %w", provider, err)
	}
	if secret != "" {
		return Credential{Provider: provider, Secret: secret}, true, nil
	}

	secret, err = cm.prompter.Input(ctx, provider.keyPlaceholder(), provider.keyHint())
	if err != nil || secret == "" {
		return Credential{}, false, err
	}
	if err := cm.secrets.StoreSecret(ctx, provider.secretName(), secret); err != nil {
		return Credential{}, false, fmt.Errorf("storing %s key: %w", provider, err)
	}
	return Credential{Provider: provider, Secret: secret}, true, nil
}

// provider returns the remembered provider, asking the user to pick one if
// there is none.
func (cm *CredentialManager) provider(ctx context.Context) (Provider, bool, error) {
	remembered, err := cm.prefs.Preference(ctx, providerPreference)
	if err != nil {
		return 0, false, err
	}
	if p, ok := ParseProvider(remembered); ok {
		return p, true, nil
	}

	p, ok, err := cm.pickProvider(ctx, "Select the API key to use")
	if err != nil || !ok {
		return 0, false, err
	}
	if err := cm.prefs.SetPreference(ctx, providerPreference, p.String()); err != nil {
		return 0, false, err
	}
	return p, true, nil
}

func (cm *CredentialManager) pickProvider(ctx context.Context, placeholder string) (Provider, bool, error) {
	names := make([]string, len(Providers))
	for i, p := range Providers {
		names[i] = p.String()
	}

	picked, err := cm.prompter.Pick(ctx, placeholder, names)
	if err != nil || picked == "" {
		return 0, false, err
	}
	p, ok := ParseProvider(picked)
	if !ok {
		return 0, false, fmt.Errorf("unknown provider %q", picked)
	}
	return p, true, nil
}

// Clear asks the user which provider's key to forget, deletes it and resets
// the remembered provider. It runs in the background, the returned channel
// receives the result once and may be ignored. Cancelling the prompt is not
// an error.
func (cm *CredentialManager) Clear(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- cm.clear(ctx)
	}()
	return done
}

func (cm *CredentialManager) clear(ctx context.Context) error {
	p, ok, err := cm.pickProvider(ctx, "Select the API key to clear")
	if err != nil || !ok {
		return err
	}
	if err := cm.secrets.DeleteSecret(ctx, p.secretName()); err != nil {
		return fmt.Errorf("deleting %s key: %w", p, err)
	}
	return cm.prefs.ClearPreference(ctx, providerPreference)
}
