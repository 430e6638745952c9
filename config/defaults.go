package config

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DataDirectory: "~/.local/share/rhythm",
	}
}

func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		DefaultProvider: "openrouter",
		Providers: []ProviderConfig{
			{ID: "openrouter", Name: "OpenRouter", Enabled: true, BaseURL: DefaultBaseURL("openrouter"), Model: "meta-llama/llama-3.2-90b-instruct"},
			{ID: "ollama", Name: "Ollama", Enabled: true, BaseURL: DefaultBaseURL("ollama"), Model: "llama3.1:latest"},
			{ID: "lmstudio", Name: "LM Studio", Enabled: false, BaseURL: DefaultBaseURL("lmstudio"), Model: "local-model"},
			{ID: "gemini", Name: "Gemini", Enabled: false, BaseURL: DefaultBaseURL("gemini"), Model: "gemini-2.0-flash"},
			{ID: "openai-compatible", Name: "OpenAI-compatible", Enabled: false},
		},
		Chat: ChatConfig{
			MaxToolCallsPerTurn: 5,
			ToolTimeoutSeconds:  30,
			HistoryWindow:       200,
			Capabilities:        []string{"basic_stats", "history_search"},
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelayMs: 1000,
			MaxDelayMs:  10000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Storage: StorageConfig{
			Driver: "sqlite",
		},
	}
}

func GenerateSystemConfigTemplate() string {
	return `# Rhythm System Configuration
# Location: ~/.config/rhythm/settings.toml
# This file uses TOML format: https://toml.io

# Directory where sessions, credentials and user config are stored
data_directory = "~/.local/share/rhythm"
`
}

func GenerateUserConfigTemplate() string {
	return `# Rhythm User Configuration
# Location: <data_directory>/config.toml
# This file uses TOML format: https://toml.io
# API keys live in credentials.toml next to this file.

# Provider used for new conversations: openrouter, ollama, lmstudio, gemini, openai-compatible
default_provider = "openrouter"

[chat]
# Maximum tool calls the assistant may make while answering one message
max_tool_calls_per_turn = 5

# Seconds a single tool may run before it is cancelled
tool_timeout_seconds = 30

# Non-system messages kept in memory per session
history_window = 200

# Streaming history export (JSON array) the tools analyse
streams_file = ""

# Enabled features: basic_stats, history_search, genre_insights, unlimited_tools
capabilities = ["basic_stats", "history_search"]

[retry]
max_attempts = 3
base_delay_ms = 1000
max_delay_ms = 10000

[log]
# debug, info, warn, error
level = "info"
# console or json
format = "console"

[storage]
# sqlite or bolt
driver = "sqlite"

[[providers]]
id = "openrouter"
name = "OpenRouter"
enabled = true
base_url = "https://openrouter.ai/api/v1"
model = "meta-llama/llama-3.2-90b-instruct"
# temperature = 0.7
# top_p = 0.9
# max_tokens = 4500

[[providers]]
id = "ollama"
name = "Ollama"
enabled = true
base_url = "http://localhost:11434"
model = "llama3.1:latest"

[[providers]]
id = "lmstudio"
name = "LM Studio"
enabled = false
base_url = "http://localhost:1234/v1"
model = "local-model"

[[providers]]
id = "gemini"
name = "Gemini"
enabled = false
base_url = "https://generativelanguage.googleapis.com/v1beta/openai"
model = "gemini-2.0-flash"

[[providers]]
id = "openai-compatible"
name = "OpenAI-compatible"
enabled = false
base_url = ""
`
}
