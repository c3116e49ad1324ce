package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Data     DataConfig     `yaml:"data"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Jobs     JobsConfig     `yaml:"jobs"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release
}

type DatabaseConfig struct {
	Type string `yaml:"type"` // sqlite, mysql
	DSN  string `yaml:"dsn"`
}

type LLMConfig struct {
	APIURL    string  `yaml:"api_url"`
	APIKey    string  `yaml:"api_key"`
	Model     string  `yaml:"model"`
	MaxTokens int     `yaml:"max_tokens"`
	RateLimit float64 `yaml:"rate_limit"` // 每秒请求数，<=0 表示不限速
	Burst     int     `yaml:"burst"`
}

type DataConfig struct {
	Dir string `yaml:"dir"`
}

// RevisionPolicy 修订轮次耗尽后仍需修订时的处理策略
type RevisionPolicy string

const (
	RevisionBestEffort RevisionPolicy = "best_effort" // 返回当前最优文档
	RevisionStrict     RevisionPolicy = "strict"      // 直接判定流水线失败
)

type PipelineConfig struct {
	MaxFixAttempts    int            `yaml:"max_fix_attempts"`
	MaxRevisionRounds int            `yaml:"max_revision_rounds"`
	RevisionPolicy    RevisionPolicy `yaml:"revision_policy"`
	UnitRetries       int            `yaml:"unit_retries"`
	UnitConcurrency   int            `yaml:"unit_concurrency"`
	CallTimeout       time.Duration  `yaml:"call_timeout"`
	Assessor          string         `yaml:"assessor"` // llm, heuristic
}

type JobsConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`

	// RecordRetention 启动时清理早于该时长的任务记录，0 表示不清理
	RecordRetention time.Duration `yaml:"record_retention"`
}

var (
	cfg  *Config
	once sync.Once
)

func GetConfig() *Config {
	once.Do(func() {
		cfg = loadConfig()
	})
	return cfg
}

// Default 返回未叠加配置文件与环境变量的默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			DSN:  "./data/app.db",
		},
		LLM: LLMConfig{
			APIURL:    "https://openrouter.ai/api/v1",
			Model:     "google/gemini-2.5-pro",
			MaxTokens: 8192,
			RateLimit: 2,
			Burst:     4,
		},
		Data: DataConfig{
			Dir: "./data",
		},
		Pipeline: PipelineConfig{
			MaxFixAttempts:    3,
			MaxRevisionRounds: 2,
			RevisionPolicy:    RevisionBestEffort,
			UnitRetries:       1,
			UnitConcurrency:   1,
			CallTimeout:       2 * time.Minute,
			Assessor:          "llm",
		},
		Jobs: JobsConfig{
			Workers:         2,
			QueueSize:       120,
			RecordRetention: 30 * 24 * time.Hour,
		},
	}
}

// Path 配置文件路径，由 CONFIG_PATH 指定，默认 config.yaml
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}

func loadConfig() *Config {
	config := Default()

	data, err := os.ReadFile(Path())
	if err == nil {
		yaml.Unmarshal(data, config)
	}

	applyEnv(config)
	return config
}

// applyEnv 环境变量优先级高于配置文件
func applyEnv(config *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.LLM.APIURL = baseURL
	}
	if model := os.Getenv("OPENAI_MODEL_NAME"); model != "" {
		config.LLM.Model = model
	}

	// 数据库环境变量
	if dbType := os.Getenv("DB_TYPE"); dbType != "" {
		config.Database.Type = dbType
	}
	if dbDSN := os.Getenv("DB_DSN"); dbDSN != "" {
		config.Database.DSN = dbDSN
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		config.Data.Dir = dataDir
		if os.Getenv("DB_DSN") == "" && config.Database.Type == "sqlite" {
			config.Database.DSN = filepath.Join(dataDir, "app.db")
		}
	}

	// 流水线参数
	if v, ok := envInt("MAX_FIX_ATTEMPTS"); ok {
		config.Pipeline.MaxFixAttempts = v
	}
	if v, ok := envInt("MAX_REVISION_ROUNDS"); ok {
		config.Pipeline.MaxRevisionRounds = v
	}
	if policy := os.Getenv("REVISION_POLICY"); policy != "" {
		config.Pipeline.RevisionPolicy = RevisionPolicy(policy)
	}
	if v, ok := envInt("JOB_WORKERS"); ok {
		config.Jobs.Workers = v
	}
}

func envInt(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Validate 校验配置取值是否合法
func (c *Config) Validate() error {
	if c.Pipeline.MaxFixAttempts < 0 {
		return fmt.Errorf("pipeline.max_fix_attempts must be >= 0, got %d", c.Pipeline.MaxFixAttempts)
	}
	if c.Pipeline.MaxRevisionRounds < 0 {
		return fmt.Errorf("pipeline.max_revision_rounds must be >= 0, got %d", c.Pipeline.MaxRevisionRounds)
	}
	if c.Pipeline.UnitRetries < 0 {
		return fmt.Errorf("pipeline.unit_retries must be >= 0, got %d", c.Pipeline.UnitRetries)
	}
	if c.Pipeline.UnitConcurrency < 1 {
		return fmt.Errorf("pipeline.unit_concurrency must be >= 1, got %d", c.Pipeline.UnitConcurrency)
	}
	switch c.Pipeline.RevisionPolicy {
	case RevisionBestEffort, RevisionStrict:
	default:
		return fmt.Errorf("pipeline.revision_policy must be %q or %q, got %q",
			RevisionBestEffort, RevisionStrict, c.Pipeline.RevisionPolicy)
	}
	switch c.Pipeline.Assessor {
	case "", "llm", "heuristic":
	default:
		return fmt.Errorf("pipeline.assessor must be \"llm\" or \"heuristic\", got %q", c.Pipeline.Assessor)
	}
	if c.Jobs.Workers < 1 {
		return fmt.Errorf("jobs.workers must be >= 1, got %d", c.Jobs.Workers)
	}
	return nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func UpdateConfig(newCfg *Config) {
	cfg = newCfg
}
