package config

import (
	"os"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Token   string `toml:"token" envconfig:"ALT_TOKEN"`
	Host    string `toml:"host" envconfig:"ALT_HOST"`
	Port    string `toml:"port" envconfig:"ALT_PORT"`
	Libonnx string `toml:"libonnx" envconfig:"ALT_LIBONNX"`
	Device  string `toml:"device" envconfig:"ALT_DEVICE"`

	ModelDir   string `toml:"model_dir" envconfig:"ALT_MODEL_DIR"`
	HubBaseUrl string `toml:"hub_base_url" envconfig:"ALT_HUB_BASE_URL"`

	CaptionModel string `toml:"caption_model" envconfig:"BLIP_MODEL"`
	RefineModel  string `toml:"refine_model" envconfig:"ALT_REFINEMENT_MODEL"`

	InferenceTimeoutS float64 `toml:"inference_timeout_s" envconfig:"INFERENCE_TIMEOUT_S"`
	RefinePrompt      string  `toml:"refine_prompt" envconfig:"ALT_REFINEMENT_PROMPT"`
	RefineMaxTokens   int     `toml:"refine_max_tokens" envconfig:"ALT_REFINEMENT_MAX_LENGTH"`
	RefineTemperature float64 `toml:"refine_temperature" envconfig:"ALT_REFINEMENT_TEMPERATURE"`
}

// InferenceTimeout is the per-stage deadline for a single model call.
func (c Config) InferenceTimeout() time.Duration {
	return time.Duration(c.InferenceTimeoutS * float64(time.Second))
}

func defaults() Config {
	return Config{
		Token:             "",
		Host:              "0.0.0.0",
		Port:              "8000",
		Device:            "auto",
		ModelDir:          "models",
		HubBaseUrl:        "https://huggingface.co",
		CaptionModel:      "Xenova/blip-image-captioning-base",
		RefineModel:       "Xenova/distilgpt2",
		InferenceTimeoutS: 20,
		RefinePrompt:      "Create SEO-optimized alt text (8-12 words): {caption}\nAlt:",
		RefineMaxTokens:   30,
		RefineTemperature: 0.3,
	}
}

func load() (Config, error) {
	cfg := defaults()
	if _, err := os.Stat("config.toml"); err == nil {
		data, err := os.ReadFile("config.toml")
		if err != nil {
			return cfg, err
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var (
	cfg      Config
	loadOnce sync.Once
)

func C() Config {
	loadOnce.Do(func() {
		c, err := load()
		if err != nil {
			panic(err)
		}
		cfg = c
	})
	return cfg
}
