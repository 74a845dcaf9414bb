package config

// Model provider backends
const (
	ProviderOpenAI    = "openai"
	ProviderLangChain = "langchain"
)

// Supported hosting platforms
const (
	PlatformGitHub = "github"
	PlatformGitLab = "gitlab"
)

// Posting limits
const (
	// MaxCommentBodyChars is the platform-safe upper bound for one body.
	MaxCommentBodyChars = 65_000
	// InterCommentDelayMs spaces out inline posts to stay under platform
	// rate limits.
	InterCommentDelayMs = 100
	// MinRateRemaining aborts the review when the platform probe reports
	// fewer requests left.
	MinRateRemaining = 10
)
