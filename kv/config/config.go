package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/ngaut/log"
	"github.com/pingcap/errors"
)

// Isolation levels understood by the durable store.
const (
	IsolationReadUncommitted = "read-uncommitted"
	IsolationReadCommitted   = "read-committed"
	IsolationSerializable    = "serializable"
)

const (
	CompressionNone = "none"
	CompressionLZ4  = "lz4"
)

// lockTimeoutProportion is the share of the transaction timeout used as lock timeout when
// the lock timeout is not set explicitly.
const lockTimeoutProportion = 0.1

const minLockTimeout = time.Millisecond

type Config struct {
	LogLevel   string `toml:"log-level"`
	StatusAddr string `toml:"status-addr"`

	DBPath string `toml:"db-path"` // Directory to store the data in. Created if missing.

	// Number of object ids reserved per durable counter update.
	AllocationBlockSize int64 `toml:"allocation-block-size"`
	// Engine block cache size.
	CacheSize ByteSize `toml:"cache-size"`

	// A checkpoint runs every CheckpointInterval, or earlier once CheckpointSize bytes were
	// committed since the previous one.
	CheckpointInterval Duration `toml:"checkpoint-interval"`
	CheckpointSize     ByteSize `toml:"checkpoint-size"`

	// Sync the engine log on every commit.
	FlushToDisk bool `toml:"flush-to-disk"`
	// Remove obsolete engine log files at checkpoints.
	RemoveLogs bool `toml:"remove-logs"`

	TxnTimeout Duration `toml:"txn-timeout"`
	// Zero means derive from TxnTimeout.
	LockTimeout Duration `toml:"lock-timeout"`

	Isolation string `toml:"isolation"`

	// Object values at least CompressionThreshold long are stored compressed.
	Compression          string   `toml:"compression"`
	CompressionThreshold ByteSize `toml:"compression-threshold"`
}

// ByteSize is a size in bytes that can be written as "64MB" in config files.
type ByteSize int64

func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := units.RAMInBytes(string(text))
	if err != nil {
		return errors.Trace(err)
	}
	*b = ByteSize(v)
	return nil
}

func (b ByteSize) String() string {
	return units.BytesSize(float64(b))
}

// Duration is a time.Duration that can be written as "1s" in config files.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return errors.Trace(err)
}

func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db-path must be set")
	}
	if c.AllocationBlockSize <= 0 {
		return fmt.Errorf("allocation-block-size must be greater than 0, got %d", c.AllocationBlockSize)
	}
	if c.CacheSize < 0 || c.CheckpointSize < 0 || c.CompressionThreshold < 0 {
		return fmt.Errorf("cache-size, checkpoint-size and compression-threshold must not be negative")
	}
	if c.TxnTimeout.Duration <= 0 {
		return fmt.Errorf("txn-timeout must be greater than 0")
	}
	if c.LockTimeout.Duration < 0 || c.CheckpointInterval.Duration < 0 {
		return fmt.Errorf("lock-timeout and checkpoint-interval must not be negative")
	}
	switch c.Isolation {
	case IsolationReadUncommitted, IsolationReadCommitted, IsolationSerializable:
	default:
		return fmt.Errorf("unknown isolation level %q", c.Isolation)
	}
	switch c.Compression {
	case CompressionNone, CompressionLZ4:
	default:
		return fmt.Errorf("unknown compression %q", c.Compression)
	}
	if c.LockTimeout.Duration > c.TxnTimeout.Duration {
		log.Warnf("lock-timeout %v exceeds txn-timeout %v, lock waits will be cut short by the txn timeout",
			c.LockTimeout.Duration, c.TxnTimeout.Duration)
	}
	return nil
}

// EffectiveLockTimeout returns the configured lock timeout, or a fixed proportion of the
// transaction timeout when none was set.
func (c *Config) EffectiveLockTimeout() time.Duration {
	if c.LockTimeout.Duration > 0 {
		return c.LockTimeout.Duration
	}
	d := time.Duration(float64(c.TxnTimeout.Duration) * lockTimeoutProportion)
	if d < minLockTimeout {
		d = minLockTimeout
	}
	return d
}

// ShouldCompress reports whether an object value of n bytes is stored compressed.
func (c *Config) ShouldCompress(n int) bool {
	return c.Compression == CompressionLZ4 && int64(n) >= int64(c.CompressionThreshold)
}

// LoadFile overlays the toml file at path on top of the default config.
func LoadFile(path string) (*Config, error) {
	conf := NewDefaultConfig()
	if _, err := toml.DecodeFile(path, conf); err != nil {
		return nil, errors.Trace(err)
	}
	return conf, nil
}

const (
	KB int64 = 1024
	MB int64 = 1024 * 1024
)

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		LogLevel:             getLogLevel(),
		StatusAddr:           "127.0.0.1:20180",
		DBPath:               "/tmp/tinyobj",
		AllocationBlockSize:  100,
		CacheSize:            ByteSize(64 * MB),
		CheckpointInterval:   NewDuration(60 * time.Second),
		CheckpointSize:       ByteSize(100 * MB),
		FlushToDisk:          true,
		RemoveLogs:           false,
		TxnTimeout:           NewDuration(time.Second),
		Isolation:            IsolationSerializable,
		Compression:          CompressionLZ4,
		CompressionThreshold: ByteSize(KB),
	}
}

func NewTestConfig() *Config {
	return &Config{
		LogLevel:             getLogLevel(),
		StatusAddr:           "127.0.0.1:0",
		DBPath:               "/tmp/tinyobj-test",
		AllocationBlockSize:  10,
		CacheSize:            ByteSize(8 * MB),
		CheckpointInterval:   NewDuration(100 * time.Millisecond),
		CheckpointSize:       ByteSize(1 * MB),
		FlushToDisk:          false,
		TxnTimeout:           NewDuration(5 * time.Second),
		LockTimeout:          NewDuration(200 * time.Millisecond),
		Isolation:            IsolationSerializable,
		Compression:          CompressionLZ4,
		CompressionThreshold: ByteSize(KB),
	}
}
