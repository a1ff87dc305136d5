// Package embedding routes text-embedding calls to the configured backend.
// Changing the backend changes the vector dimension: the schema initializer
// must be rerun and stored embeddings become invalid.
package embedding

import (
	"fmt"

	"github.com/memforge-ai/memforge/internal/domain"
)

// Provider constants
const (
	ProviderIntelli = "intelli"
	ProviderAzure   = "azure"
	ProviderNomic   = "nomic"
	ProviderMock    = "mock"
)

// Native dimensions per provider.
const (
	DimIntelli = 1024
	DimAzure   = 1536
	DimNomic   = 768
)

// Options carries provider credentials; only the fields for the selected
// provider are read.
type Options struct {
	IntelliAPIKey  string
	IntelliBaseURL string

	AzureAPIKey     string
	AzureEndpoint   string
	AzureDeployment string
	AzureAPIVersion string

	NomicAPIKey string

	// DimOverride replaces the provider's native dimension when positive.
	DimOverride int
}

// NewClient creates an embedding client for the named provider.
func NewClient(provider string, opts Options) (domain.EmbeddingClient, error) {
	switch provider {
	case ProviderIntelli:
		if opts.IntelliAPIKey == "" {
			return nil, fmt.Errorf("INTELLI_API_KEY is required for the intelli embedding provider")
		}
		return NewIntelliClient(opts.IntelliAPIKey, opts.IntelliBaseURL, dimOr(opts.DimOverride, DimIntelli)), nil

	case ProviderAzure:
		if opts.AzureAPIKey == "" || opts.AzureEndpoint == "" {
			return nil, fmt.Errorf("EMBEDDING_AZURE_OPENAI_API_KEY and EMBEDDING_AZURE_ENDPOINT are required for the azure embedding provider")
		}
		return NewAzureClient(opts.AzureAPIKey, opts.AzureEndpoint, opts.AzureDeployment, opts.AzureAPIVersion, dimOr(opts.DimOverride, DimAzure)), nil

	case ProviderNomic:
		if opts.NomicAPIKey == "" {
			return nil, fmt.Errorf("NOMIC_API_KEY is required for the nomic embedding provider")
		}
		return NewNomicClient(opts.NomicAPIKey, dimOr(opts.DimOverride, DimNomic)), nil

	case ProviderMock:
		return NewMockClient(dimOr(opts.DimOverride, DimIntelli)), nil

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (valid options: intelli, azure, nomic, mock)", provider)
	}
}

// NativeDim returns the provider's native vector dimension.
func NativeDim(provider string) int {
	switch provider {
	case ProviderAzure:
		return DimAzure
	case ProviderNomic:
		return DimNomic
	default:
		return DimIntelli
	}
}

func dimOr(override, native int) int {
	if override > 0 {
		return override
	}
	return native
}
