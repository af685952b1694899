package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type RateLimitBucketConfig struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

type RateLimitConfig struct {
	Demo RateLimitBucketConfig `yaml:"demo"`
}

type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
	Region    string `yaml:"region"`
}

type DispatchConfig struct {
	BaseURL string `yaml:"baseUrl"`
	Project string `yaml:"project"`
	Region  string `yaml:"region"`
	JobName string `yaml:"jobName"`
	Token   string `yaml:"token"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	OTLPInsecure bool    `yaml:"otlpInsecure"`
	SampleRatio  float64 `yaml:"sampleRatio"`
}

type Config struct {
	Port          int    `yaml:"port"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	LogLevel      string `yaml:"logLevel"`
	LogFormat     string `yaml:"logFormat"`
	Env           string `yaml:"env"`

	// APIKeys is the producer credential allowlist. An empty list outside
	// dev is a misconfiguration: the service fails closed rather than open.
	APIKeys []string `yaml:"apiKeys"`

	// AuthProvider selects a registered credential validator by name, with
	// AuthConfig as its provider-specific JSON config. When unset the apikey
	// provider is built directly from APIKeys.
	AuthProvider string `yaml:"authProvider"`
	AuthConfig   string `yaml:"authConfig"`

	ObjectStore ObjectStoreConfig `yaml:"objectStore"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	RateLimit   RateLimitConfig   `yaml:"rateLimit"`
	Tracing     TracingConfig     `yaml:"tracing"`

	SignURLs          bool   `yaml:"signUrls"`
	SignURLTTLSeconds int    `yaml:"signUrlTtlSeconds"`
	DemoAllowlistPath string `yaml:"demoAllowlistPath"`
	WorkRoot          string `yaml:"workRoot"`

	// PipelineCommand is the executable the worker invokes to produce
	// artifacts. It receives the request JSON on stdin and the work dir as
	// its only argument.
	PipelineCommand string `yaml:"pipelineCommand"`
}

// LoadConfigOptional loads the YAML file when filePath is non-empty and then
// applies env overrides and defaults. An empty path yields an env-only config.
func LoadConfigOptional(filePath string) (*Config, error) {
	var c Config
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, err
		}
	}
	applyEnv(&c)
	applyDefaults(&c)
	return &c, nil
}

func applyEnv(c *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("CITYLENS_API_KEYS"); v != "" {
		keys := make([]string, 0, 4)
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		c.APIKeys = keys
	}
	if v := os.Getenv("CITYLENS_AUTH_PROVIDER"); v != "" {
		c.AuthProvider = v
	}
	if v := os.Getenv("CITYLENS_AUTH_CONFIG"); v != "" {
		c.AuthConfig = v
	}
	if v := os.Getenv("CITYLENS_BUCKET"); v != "" {
		c.ObjectStore.Bucket = v
	}
	if v := os.Getenv("CITYLENS_OBJECT_STORE_ENDPOINT"); v != "" {
		c.ObjectStore.Endpoint = v
	}
	if v := os.Getenv("CITYLENS_OBJECT_STORE_ACCESS_KEY"); v != "" {
		c.ObjectStore.AccessKey = v
	}
	if v := os.Getenv("CITYLENS_OBJECT_STORE_SECRET_KEY"); v != "" {
		c.ObjectStore.SecretKey = v
	}
	if v := os.Getenv("CITYLENS_OBJECT_STORE_USE_SSL"); v != "" {
		c.ObjectStore.UseSSL = parseBool(v)
	}
	if v := os.Getenv("CITYLENS_DISPATCH_BASE_URL"); v != "" {
		c.Dispatch.BaseURL = v
	}
	if v := os.Getenv("CITYLENS_PROJECT"); v != "" {
		c.Dispatch.Project = v
	}
	if v := os.Getenv("CITYLENS_REGION"); v != "" {
		c.Dispatch.Region = v
	}
	if v := os.Getenv("CITYLENS_JOB_NAME"); v != "" {
		c.Dispatch.JobName = v
	}
	if v := os.Getenv("CITYLENS_DISPATCH_TOKEN"); v != "" {
		c.Dispatch.Token = v
	}
	if v := os.Getenv("CITYLENS_SIGN_URLS"); v != "" {
		c.SignURLs = parseBool(v)
	}
	if v := os.Getenv("CITYLENS_SIGN_URL_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SignURLTTLSeconds = n
		}
	}
	if v := os.Getenv("CITYLENS_DEMO_ALLOWLIST_PATH"); v != "" {
		c.DemoAllowlistPath = v
	}
	if v := os.Getenv("CITYLENS_WORK_ROOT"); v != "" {
		c.WorkRoot = v
	}
	if v := os.Getenv("CITYLENS_PIPELINE_CMD"); v != "" {
		c.PipelineCommand = v
	}
	if v := os.Getenv("CITYLENS_DEMO_RL_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.Demo.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("CITYLENS_DEMO_RL_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.Demo.BurstSize = n
		}
	}
}

func applyDefaults(c *Config) {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.Dispatch.BaseURL == "" {
		c.Dispatch.BaseURL = "https://run.googleapis.com"
	}
	if c.SignURLTTLSeconds <= 0 {
		c.SignURLTTLSeconds = 300
	}
	if c.DemoAllowlistPath == "" {
		c.DemoAllowlistPath = "deploy/demo_runs.json"
	}
	if c.WorkRoot == "" {
		c.WorkRoot = "/tmp/citylens"
	}
	if c.RateLimit.Demo.RequestsPerMinute <= 0 {
		c.RateLimit.Demo.RequestsPerMinute = 60
	}
	if c.RateLimit.Demo.BurstSize <= 0 {
		c.RateLimit.Demo.BurstSize = 30
	}
}

func (c *Config) Validate() error {
	var errs []string
	env := strings.ToLower(strings.TrimSpace(c.Env))
	dev := env == "dev"

	if len(c.APIKeys) == 0 && !dev {
		errs = append(errs, "apiKeys is required in non-dev (service fails closed without it)")
	}
	if c.ObjectStore.Bucket == "" && !dev {
		errs = append(errs, "objectStore.bucket is required in non-dev")
	}
	if c.Dispatch.JobName == "" && !dev {
		errs = append(errs, "dispatch.jobName is required in non-dev")
	}
	if c.Dispatch.JobName != "" && (c.Dispatch.Project == "" || c.Dispatch.Region == "") {
		errs = append(errs, "dispatch.project and dispatch.region are required when dispatch.jobName is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "t", "true", "y", "yes", "on":
		return true
	}
	return false
}
