package config

import (
	"fmt"
	"strings"
	"time"
)

var providerTypes = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"bedrock":   true,
}

// Validate checks a loaded configuration for internal consistency.
// It is called by Load after defaults are applied, but is exported so
// tools can validate a config without loading secrets.
func Validate(cfg *Config) error {
	var errs []string

	if len(cfg.LLM.Providers) == 0 {
		errs = append(errs, "llm.providers: at least one provider is required")
	}

	names := make(map[string]bool, len(cfg.LLM.Providers))
	for i, p := range cfg.LLM.Providers {
		prefix := fmt.Sprintf("llm.providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, prefix+": name is required")
		}
		if names[p.Name] {
			errs = append(errs, fmt.Sprintf("%s: duplicate provider name %q", prefix, p.Name))
		}
		names[p.Name] = true
		if !providerTypes[p.Type] {
			errs = append(errs, fmt.Sprintf("%s: unknown type %q", prefix, p.Type))
		}
		if p.Model == "" {
			errs = append(errs, prefix+": model is required")
		}
	}

	if cfg.LLM.Default == "" {
		errs = append(errs, "llm.default: default provider name is required")
	} else if len(names) > 0 && !names[cfg.LLM.Default] {
		errs = append(errs, fmt.Sprintf("llm.default: provider %q is not defined", cfg.LLM.Default))
	}
	if cfg.LLM.Titler != "" && len(names) > 0 && !names[cfg.LLM.Titler] {
		errs = append(errs, fmt.Sprintf("llm.titler: provider %q is not defined", cfg.LLM.Titler))
	}

	if cfg.Chat.Temperature < 0 || cfg.Chat.Temperature > 2 {
		errs = append(errs, "chat.temperature: must be between 0 and 2")
	}

	if cfg.Search.Enabled && cfg.Search.APIKey == "" {
		errs = append(errs, "search.api_key: required when search is enabled")
	}

	if cfg.Retention.Enabled {
		if _, err := time.ParseDuration(cfg.Retention.MaxAge); err != nil {
			errs = append(errs, fmt.Sprintf("retention.max_age: %v", err))
		}
	}

	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("logger.level: unknown level %q", cfg.Logger.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
