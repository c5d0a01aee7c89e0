package config

// Config is the top-level YAML structure.
type Config struct {
	Version string     `yaml:"version"`
	Outbox  OutboxConf `yaml:"outbox"`
	Cache   CacheConf  `yaml:"cache"`
}

// OutboxConf holds the tunables of the outbox polling processor.
type OutboxConf struct {
	PollIntervalMs int `yaml:"poll_interval_ms"`
	BatchSize      int `yaml:"batch_size"`
	MaxRetries     int `yaml:"max_retries"`
}

// CacheConf holds query-cache defaults applied at the API edge.
type CacheConf struct {
	DefaultTTLMs int `yaml:"default_ttl_ms"`
}
