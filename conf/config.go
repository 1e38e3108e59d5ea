package conf

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// 配置加载（数据库、redis、kafka、推送通道、引擎参数）

type Db struct {
	DbName   string `yaml:"dbname"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	FileName   string `yaml:"file-name"`
	TimeFormat string `yaml:"time-format"`
	MaxSize    int    `yaml:"max-size"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAge     int    `yaml:"max-age"`
	Compress   bool   `yaml:"compress"`
	LocalTime  bool   `yaml:"local-time"`
	Console    bool   `yaml:"console"`
}

// RedisConfig is used to configure redis
type RedisConfig struct {
	Addr         string `yaml:"address"`
	Password     string `yaml:"password"`
	Db           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool-size"`
	MinIdleConns int    `yaml:"min-idle-conns"`
	IdleTimeout  int    `yaml:"idle-timeout"`
}

type JwtConfig struct {
	Secret                  string `yaml:"secret"`
	JwtTtl                  int64  `yaml:"ttl"`              // token 有效期（秒）
	JwtBlacklistGracePeriod int64  `yaml:"blacklistperiod" ` // 黑名单宽限时间（秒）
}

type KafkaConfig struct {
	Broker string `yaml:"broker"`
}

type EmailConfig struct {
	Host     string `yaml:"smtp_host"`
	Port     int    `yaml:"smtp_port"`
	Username string `yaml:"smtp_user"`
	Password string `yaml:"smtp_password"`
	Sender   string `yaml:"smtp_sender"`
}

// SmsConfig 短信网关（HTTP透传，供应商侧完成落地发送）
type SmsConfig struct {
	GatewayURL string `yaml:"gateway_url"`
	ApiKey     string `yaml:"api_key"`
	Sender     string `yaml:"sender"`
}

type Apns struct {
	Topic          string `yaml:"topic"`
	KeyID          string `yaml:"key_id"`
	TeamID         string `yaml:"team_id"`
	KeyPath        string `yaml:"key_path"` // p8私钥文件路径
	PayloadMaximum int    `yaml:"payload_maximum"`
	IsProd         bool   `yaml:"is_prod"`
}

type AppleConfig struct {
	Apns Apns `yaml:"apns"`
}

// MarketConfig 行情快照服务
type MarketConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	// RSI计算所用的回看K线数量，快照服务未返回足够K线时RSI按缺省值处理
	RsiPeriod int `yaml:"rsi_period"`
}

// EngineConfig 规则调度引擎参数
type EngineConfig struct {
	Workers        int           `yaml:"workers"`         // 并行调度worker数
	PollInterval   time.Duration `yaml:"poll_interval"`   // 轮询到期规则的间隔
	BatchSize      int           `yaml:"batch_size"`      // 每轮fetchReady的上限
	Lease          time.Duration `yaml:"lease"`           // claim租约时长
	QueueSize      int           `yaml:"queue_size"`      // 投递任务队列长度
	SweepInterval  time.Duration `yaml:"sweep_interval"`  // 过期规则清理间隔
	WebhookTimeout time.Duration `yaml:"webhook_timeout"` // webhook单次请求超时
	StoreBackoffMax time.Duration `yaml:"store_backoff_max"` // 存储故障时的最大退避
}

type Config struct {
	AppName      string `yaml:"app_name"`
	Listen       string `yaml:"listen"`
	Mode         string `yaml:"mode"`
	Language     string `yaml:"language"`
	MaxPingCount int    `yaml:"max-ping-count"`

	Db     `yaml:"database"`
	Log    LogConfig    `yaml:"log"`
	Jwt    JwtConfig    `yaml:"jwt"`
	Redis  RedisConfig  `yaml:"redis"`
	Kafka  KafkaConfig  `yaml:"kafka"`
	Email  EmailConfig  `yaml:"email"`
	Sms    SmsConfig    `yaml:"sms"`
	Apple  AppleConfig  `yaml:"apple"`
	Market MarketConfig `yaml:"market"`
	Engine EngineConfig `yaml:"engine"`
}

var AppConfig Config

func LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("Read config file error %w", err)
	}
	if err := yaml.Unmarshal(data, &AppConfig); err != nil {
		return fmt.Errorf("Unmarshal config yaml error: %w", err)
	}
	AppConfig.Engine.FillDefaults()
	return nil
}

// FillDefaults 引擎参数缺省值，保证零配置也能跑起来
func (c *EngineConfig) FillDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Lease <= 0 {
		c.Lease = 2 * time.Minute
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 10 * time.Minute
	}
	if c.WebhookTimeout <= 0 {
		c.WebhookTimeout = 10 * time.Second
	}
	if c.StoreBackoffMax <= 0 {
		c.StoreBackoffMax = time.Minute
	}
}
