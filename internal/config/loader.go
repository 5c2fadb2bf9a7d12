package config

import (
	"bytes"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([a-zA-Z0-9_]+)`)

// Load reads a job config from a JSON file. Environment references in the
// file body (${VAR} or $VAR) are expanded before parsing; unknown variables
// are left as-is. Environment overrides use the GLIDER_ prefix.
func Load(path string) (*JobConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job config: %w", err)
	}

	expanded := expandEnv(raw)

	cfg := DefaultJobConfig()

	v := viper.New()
	v.SetConfigType("json")

	setDefaults(v, cfg)

	v.SetEnvPrefix("GLIDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadConfig(bytes.NewReader(expanded)); err != nil {
		return nil, fmt.Errorf("parse job config: %w", err)
	}

	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		stringToSelectorHook,
		stringToTransformerHook,
	))
	if err := v.Unmarshal(cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshal job config: %w", err)
	}

	cfg.Normalize()
	return cfg, nil
}

// expandEnv substitutes ${VAR} and $VAR references with environment values,
// keeping the original text when the variable is unset.
func expandEnv(content []byte) []byte {
	return envVarPattern.ReplaceAllFunc(content, func(match []byte) []byte {
		groups := envVarPattern.FindSubmatch(match)
		name := string(groups[1])
		if name == "" {
			name = string(groups[2])
		}
		if val, ok := os.LookupEnv(name); ok {
			return []byte(val)
		}
		return match
	})
}

func setDefaults(v *viper.Viper, cfg *JobConfig) {
	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("response_type", cfg.ResponseType)
	v.SetDefault("min_delay", cfg.MinDelay)
	v.SetDefault("max_delay", cfg.MaxDelay)
	v.SetDefault("concurrency", cfg.Concurrency)
	v.SetDefault("rate_limit", cfg.RateLimit)
	v.SetDefault("request_timeout", cfg.RequestTimeout)
	v.SetDefault("max_nested_urls", cfg.MaxNestedURLs)
	v.SetDefault("batch_size", cfg.BatchSize)
	v.SetDefault("data_dir", cfg.DataDir)
}

// stringToSelectorHook converts bare string selectors into css selectors.
func stringToSelectorHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	switch to {
	case reflect.TypeOf(Selector{}):
		return Selector{Type: SelectorCSS, Value: data.(string)}, nil
	case reflect.TypeOf(&Selector{}):
		return &Selector{Type: SelectorCSS, Value: data.(string)}, nil
	}
	return data, nil
}

// stringToTransformerHook converts bare string transformers into the full
// {name, args} form.
func stringToTransformerHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(Transformer{}) {
		return data, nil
	}
	return Transformer{Name: data.(string)}, nil
}
