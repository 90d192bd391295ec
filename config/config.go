package config

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/xiaoxuxiansheng/gotxrm"
	"github.com/xiaoxuxiansheng/gotxrm/log"
	"github.com/xiaoxuxiansheng/gotxrm/meta"
	"github.com/xiaoxuxiansheng/gotxrm/rm"
	"github.com/xiaoxuxiansheng/gotxrm/undo"
	"github.com/xiaoxuxiansheng/gotxrm/xa"
)

// 支持 "10s"、"1m30s" 形式的时长配置
type Duration struct {
	time.Duration
}

func NewDuration(duration time.Duration) Duration {
	return Duration{Duration: duration}
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return errors.WithStack(err)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	Log     LogConfig     `toml:"log"`
	Manager ManagerConfig `toml:"manager"`
	Undo    UndoConfig    `toml:"undo"`
	Meta    MetaConfig    `toml:"meta"`
	XA      XAConfig      `toml:"xa"`
}

type LogConfig struct {
	Level      string `toml:"level"`
	FileName   string `toml:"filename"`
	MaxAge     int    `toml:"max-age"`
	MaxSize    int    `toml:"max-size"`
	MaxBackups int    `toml:"max-backups"`
	Compress   bool   `toml:"compress"`
}

type ManagerConfig struct {
	AsyncCommitBufferLimit int      `toml:"async-commit-buffer-limit"`
	UndoLogDeleteBatchSize int      `toml:"undo-log-delete-batch-size"`
	Timeout                Duration `toml:"timeout"`
	MonitorTick            Duration `toml:"monitor-tick"`
}

type UndoConfig struct {
	// 未配置时保持开启
	DataValidation *bool  `toml:"data-validation"`
	MaxInSize      int    `toml:"max-in-size"`
	LogTable       string `toml:"log-table"`
}

type MetaConfig struct {
	Schema    string   `toml:"schema"`
	MaxTables int64    `toml:"max-tables"`
	TTL       Duration `toml:"ttl"`
}

type XAConfig struct {
	BranchExecutionTimeout          Duration `toml:"branch-execution-timeout"`
	DefaultGlobalTransactionTimeout Duration `toml:"default-global-transaction-timeout"`
	TwoPhaseHoldTimeout             Duration `toml:"two-phase-hold-timeout"`
	MonitorTick                     Duration `toml:"monitor-tick"`
	ShouldBeHeld                    *bool    `toml:"should-be-held"`
	ClientID                        string   `toml:"client-id"`
}

// 从 toml 文件加载配置，出现未定义的配置项时报错
func Load(path string) (*Config, error) {
	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err = checkUndecoded(meta); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Decode(data string) (*Config, error) {
	var cfg Config
	meta, err := toml.Decode(data, &cfg)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err = checkUndecoded(meta); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func checkUndecoded(meta toml.MetaData) error {
	undecoded := meta.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	keys := make([]string, 0, len(undecoded))
	for _, key := range undecoded {
		keys = append(keys, key.String())
	}
	return errors.Errorf("config contains undefined item: %s", strings.Join(keys, ", "))
}

func (c *Config) LogOptions() []log.Option {
	var opts []log.Option
	if c.Log.Level != "" {
		opts = append(opts, log.WithLogLevel(c.Log.Level))
	}
	if c.Log.FileName != "" {
		opts = append(opts, log.WithFileName(c.Log.FileName))
	}
	if c.Log.MaxAge > 0 || c.Log.MaxSize > 0 || c.Log.MaxBackups > 0 {
		opts = append(opts, log.WithRotation(c.Log.MaxAge, c.Log.MaxSize, c.Log.MaxBackups, c.Log.Compress))
	}
	return opts
}

func (c *Config) ManagerOptions() []gotxrm.Option {
	var opts []gotxrm.Option
	if c.Manager.AsyncCommitBufferLimit > 0 {
		opts = append(opts, gotxrm.WithAsyncCommitBufferLimit(c.Manager.AsyncCommitBufferLimit))
	}
	if c.Manager.UndoLogDeleteBatchSize > 0 {
		opts = append(opts, gotxrm.WithUndoLogDeleteBatchSize(c.Manager.UndoLogDeleteBatchSize))
	}
	if c.Manager.Timeout.Duration > 0 {
		opts = append(opts, gotxrm.WithTimeout(c.Manager.Timeout.Duration))
	}
	if c.Manager.MonitorTick.Duration > 0 {
		opts = append(opts, gotxrm.WithMonitorTick(c.Manager.MonitorTick.Duration))
	}
	return opts
}

func (c *Config) UndoOptions() []undo.Option {
	var opts []undo.Option
	if c.Undo.DataValidation != nil {
		opts = append(opts, undo.WithDataValidation(*c.Undo.DataValidation))
	}
	if c.Undo.MaxInSize > 0 {
		opts = append(opts, undo.WithMaxInSize(c.Undo.MaxInSize))
	}
	if c.Undo.LogTable != "" {
		opts = append(opts, undo.WithLogTable(c.Undo.LogTable))
	}
	return opts
}

func (c *Config) MetaOptions(dbType rm.DBType) []meta.Option {
	opts := []meta.Option{meta.WithDBType(dbType)}
	if c.Meta.Schema != "" {
		opts = append(opts, meta.WithSchema(c.Meta.Schema))
	}
	if c.Meta.MaxTables > 0 {
		opts = append(opts, meta.WithMaxTables(c.Meta.MaxTables))
	}
	if c.Meta.TTL.Duration > 0 {
		opts = append(opts, meta.WithTTL(c.Meta.TTL.Duration))
	}
	return opts
}

func (c *Config) XAOptions() []xa.Option {
	var opts []xa.Option
	if c.XA.BranchExecutionTimeout.Duration > 0 {
		opts = append(opts, xa.WithBranchExecutionTimeout(c.XA.BranchExecutionTimeout.Duration))
	}
	if c.XA.DefaultGlobalTransactionTimeout.Duration > 0 {
		opts = append(opts, xa.WithDefaultGlobalTransactionTimeout(c.XA.DefaultGlobalTransactionTimeout.Duration))
	}
	if c.XA.TwoPhaseHoldTimeout.Duration > 0 {
		opts = append(opts, xa.WithTwoPhaseHoldTimeout(c.XA.TwoPhaseHoldTimeout.Duration))
	}
	if c.XA.MonitorTick.Duration > 0 {
		opts = append(opts, xa.WithMonitorTick(c.XA.MonitorTick.Duration))
	}
	if c.XA.ShouldBeHeld != nil {
		opts = append(opts, xa.WithShouldBeHeld(*c.XA.ShouldBeHeld))
	}
	if c.XA.ClientID != "" {
		opts = append(opts, xa.WithClientID(c.XA.ClientID))
	}
	return opts
}
