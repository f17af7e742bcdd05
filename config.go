package azs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AccountConfig says where blobs live.
type AccountConfig struct {
	// ServiceURL is the blob service URL, e.g. "https://<account>.blob.core.windows.net".
	// A bare account name is expanded to that form.
	ServiceURL string
	Retry      RetryConfig

	// azClientOpts is used to pass additional options to the Azure Blob Storage client.
	// This is used by tests to inject custom options such as custom HTTP client with
	// its own CA pool for self-signed certificates.
	azClientOpts []func(*azblob.ClientOptions)
}

// WithClientOption adds a hook that can adjust the SDK client options.
func (cfg *AccountConfig) WithClientOption(o func(*azblob.ClientOptions)) {
	cfg.azClientOpts = append(cfg.azClientOpts, o)
}

// Normalize validates the config and expands a bare account name.
func (cfg AccountConfig) Normalize() (AccountConfig, error) {
	cfg.ServiceURL = strings.TrimSpace(cfg.ServiceURL)
	if cfg.ServiceURL == "" {
		return cfg, errors.New("storage account is required")
	}
	if !strings.Contains(cfg.ServiceURL, "://") {
		// Assume storage account name if no scheme is provided
		cfg.ServiceURL = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.ServiceURL)
	}
	return cfg, nil
}

// NewClient creates a BlobClient for the configured account.
func NewClient(cfg AccountConfig, cred azcore.TokenCredential) (BlobClient, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}

	opt := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: cfg.Retry.policyOptions(),
		},
	}
	for _, o := range cfg.azClientOpts {
		o(opt)
	}

	client, err := azblob.NewClient(cfg.ServiceURL, cred, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}
	return NewAzBlobClient(client), nil
}
