package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by MEMFORGE_ENV (or .env by default),
// then loads the corresponding .secret sidecar if it exists. All config is
// flat env vars read via os.Getenv after loading. Unrecognized keys are
// ignored.
func Load() error {
	envFile := os.Getenv("MEMFORGE_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8765
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

func MemgraphURL() string {
	u := os.Getenv("MEMGRAPH_URL")
	if u == "" {
		return "bolt://localhost:7687"
	}
	return u
}

func MemgraphUser() string {
	return os.Getenv("MEMGRAPH_USER")
}

func MemgraphPassword() string {
	return os.Getenv("MEMGRAPH_PASSWORD")
}

// PoolSize returns the store connection pool size.
func PoolSize() int {
	n, err := strconv.Atoi(os.Getenv("MEMGRAPH_POOL_SIZE"))
	if err != nil || n <= 0 {
		return 25
	}
	return n
}

// EmbeddingProvider returns the configured embedding backend.
// Valid values: intelli, azure, nomic, mock. Defaults to "intelli".
func EmbeddingProvider() string {
	p := os.Getenv("EMBEDDING_PROVIDER")
	if p == "" {
		return "intelli"
	}
	return p
}

// EmbeddingDims overrides the provider's native dimension when set.
func EmbeddingDims() int {
	d, err := strconv.Atoi(os.Getenv("EMBEDDING_DIMS"))
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

func IntelliAPIKey() string {
	return os.Getenv("INTELLI_API_KEY")
}

func IntelliBaseURL() string {
	u := os.Getenv("INTELLI_BASE_URL")
	if u == "" {
		return "https://api.intellinode.ai/v1"
	}
	return u
}

func NomicAPIKey() string {
	return os.Getenv("NOMIC_API_KEY")
}

// Azure OpenAI settings are prefixed per consumer: LLM_AZURE_* for chat,
// EMBEDDING_AZURE_* for embeddings.

func LLMAzureAPIKey() string {
	return os.Getenv("LLM_AZURE_OPENAI_API_KEY")
}

func LLMAzureEndpoint() string {
	return os.Getenv("LLM_AZURE_ENDPOINT")
}

func LLMAzureDeployment() string {
	d := os.Getenv("LLM_AZURE_DEPLOYMENT")
	if d == "" {
		return "gpt-4o-mini"
	}
	return d
}

func LLMAzureAPIVersion() string {
	v := os.Getenv("LLM_AZURE_API_VERSION")
	if v == "" {
		return "2024-08-01-preview"
	}
	return v
}

func EmbeddingAzureAPIKey() string {
	return os.Getenv("EMBEDDING_AZURE_OPENAI_API_KEY")
}

func EmbeddingAzureEndpoint() string {
	return os.Getenv("EMBEDDING_AZURE_ENDPOINT")
}

func EmbeddingAzureDeployment() string {
	d := os.Getenv("EMBEDDING_AZURE_DEPLOYMENT")
	if d == "" {
		return "text-embedding-3-small"
	}
	return d
}

func EmbeddingAzureAPIVersion() string {
	v := os.Getenv("EMBEDDING_AZURE_API_VERSION")
	if v == "" {
		return "2024-02-01"
	}
	return v
}

// GroqAPIKey enables the fast graph-LLM override when set.
func GroqAPIKey() string {
	return os.Getenv("GROQ_API_KEY")
}

// CategorizationModel is the fallback model name for category assignment.
func CategorizationModel() string {
	m := os.Getenv("MEMFORGE_CATEGORIZATION_MODEL")
	if m == "" {
		return "gpt-4o-mini"
	}
	return m
}

// LLMProvider returns the configured chat provider.
// Valid values: azure, groq, mock. Defaults to groq when GROQ_API_KEY is
// set, azure otherwise.
func LLMProvider() string {
	p := os.Getenv("LLM_PROVIDER")
	if p != "" {
		return p
	}
	if GroqAPIKey() != "" {
		return "groq"
	}
	return "azure"
}

// RequestsPerMinute is the LLM provider's minute budget, used to derive bulk
// ingestion concurrency.
func RequestsPerMinute() int {
	rpm, err := strconv.Atoi(os.Getenv("OPENAI_REQUESTS_PER_MINUTE"))
	if err != nil || rpm <= 0 {
		return 100
	}
	return rpm
}

// ContextWindowSize returns the number of recent memories prefixed to the
// embedding text. 0 disables the feature.
func ContextWindowSize() int {
	n, err := strconv.Atoi(os.Getenv("EMBEDDING_CONTEXT_WINDOW"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// RateLimitRPS returns the HTTP requests-per-second limit. Defaults to 100.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting. Defaults to 20.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error). Defaults to "info".
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}
