// Package config loads deployment configuration: defaults, then an
// optional TOML file, then environment variables (env wins), matching the
// layered loader idiom used elsewhere in this family of services.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/agentic-work/chatcore/pipelineerr"
)

// Config is the enumerated deployment configuration surface.
type Config struct {
	RouteSimpleToOllama        bool          `toml:"route_simple_to_ollama"`
	DefaultChatModel           string        `toml:"default_chat_model"`
	VisionCapableModels        []string      `toml:"vision_capable_models"`
	ToolProxyURL               string        `toml:"tool_proxy_url"`
	APIInternalKey             string        `toml:"api_internal_key"`
	ToolLimit                  int           `toml:"tool_limit"`
	MaxToolRounds              int           `toml:"max_tool_rounds"`
	SemanticCacheSimilarityMin float64       `toml:"semantic_cache_similarity_min"`
	ToolTimeoutMs              int           `toml:"tool_timeout_ms"`
	RAGMinRelevance            float64       `toml:"rag_min_relevance"`
	RAGMaxDocs                 int           `toml:"rag_max_docs"`
	RAGMaxChats                int           `toml:"rag_max_chats"`
	RAGMaxArtifacts            int           `toml:"rag_max_artifacts"`
	ProviderStreamIdleTimeout  time.Duration `toml:"-"`
	CodeAgentServerMarker      string        `toml:"code_agent_server_marker"`
	CodeToolPrefixes           []string      `toml:"code_tool_prefixes"`
	CodeToolSuffixes           []string      `toml:"code_tool_suffixes"`
}

// Default returns a Config with every documented default applied.
func Default() Config {
	return Config{
		RouteSimpleToOllama:        false,
		VisionCapableModels:        nil,
		ToolLimit:                  127,
		MaxToolRounds:              8,
		SemanticCacheSimilarityMin: 0.9,
		ToolTimeoutMs:              600000,
		RAGMinRelevance:            0.3,
		RAGMaxDocs:                 10,
		RAGMaxChats:                5,
		RAGMaxArtifacts:            5,
		ProviderStreamIdleTimeout:  2 * time.Minute,
		CodeToolPrefixes:           []string{"code_", "execute_code"},
		CodeToolSuffixes:           []string{"_code_exec"},
	}
}

// Load reads config: defaults -> TOML file (path may be empty to skip) ->
// environment variables, with env winning ties. DEFAULT_CHAT_MODEL is
// mandatory once all three layers are applied; its absence is a
// ConfigurationError, not a panic, since it is discovered at ingress.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if _, err := toml.Decode(string(data), &cfg); err != nil {
				return Config{}, pipelineerr.NewConfigurationError("failed to parse config file "+path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.DefaultChatModel == "" {
		return Config{}, pipelineerr.NewConfigurationError("DEFAULT_CHAT_MODEL must be set via config file or environment", nil)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := lookupBool("ROUTE_SIMPLE_TO_OLLAMA"); ok {
		cfg.RouteSimpleToOllama = v
	}
	if v := os.Getenv("DEFAULT_CHAT_MODEL"); v != "" {
		cfg.DefaultChatModel = v
	}
	if v := os.Getenv("VISION_CAPABLE_MODELS"); v != "" {
		cfg.VisionCapableModels = splitCSV(v)
	}
	if v := os.Getenv("TOOL_PROXY_URL"); v != "" {
		cfg.ToolProxyURL = v
	}
	if v := os.Getenv("API_INTERNAL_KEY"); v != "" {
		cfg.APIInternalKey = v
	}
	if v, ok := lookupInt("TOOL_LIMIT"); ok {
		cfg.ToolLimit = v
	}
	if v, ok := lookupInt("MAX_TOOL_ROUNDS"); ok {
		cfg.MaxToolRounds = v
	}
	if v, ok := lookupFloat("SEMANTIC_CACHE_SIMILARITY_MIN"); ok {
		cfg.SemanticCacheSimilarityMin = v
	}
	if v, ok := lookupInt("TOOL_TIMEOUT_MS"); ok {
		cfg.ToolTimeoutMs = v
	}
	if v, ok := lookupFloat("RAG_MIN_RELEVANCE"); ok {
		cfg.RAGMinRelevance = v
	}
	if v, ok := lookupInt("RAG_MAX_DOCS"); ok {
		cfg.RAGMaxDocs = v
	}
	if v, ok := lookupInt("RAG_MAX_CHATS"); ok {
		cfg.RAGMaxChats = v
	}
	if v, ok := lookupInt("RAG_MAX_ARTIFACTS"); ok {
		cfg.RAGMaxArtifacts = v
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func lookupBool(key string) (bool, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	return b, err == nil
}

func lookupInt(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

func lookupFloat(key string) (float64, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	return f, err == nil
}

// VisionCapableSet converts VisionCapableModels into a lookup set for the
// model router.
func (c Config) VisionCapableSet() map[string]bool {
	out := make(map[string]bool, len(c.VisionCapableModels))
	for _, m := range c.VisionCapableModels {
		out[m] = true
	}
	return out
}
