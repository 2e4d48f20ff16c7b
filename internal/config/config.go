package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Store   StoreConfig   `yaml:"store" json:"store"`
	Run     RunConfig     `yaml:"run" json:"run"`
	Sandbox SandboxConfig `yaml:"sandbox" json:"sandbox"`
	Log     LogConfig     `yaml:"log" json:"log"`
	Server  ServerConfig  `yaml:"server" json:"server"`
}

// StoreConfig は接続先ストアの設定
type StoreConfig struct {
	Topology          string   `yaml:"topology" json:"topology"`
	Addresses         []string `yaml:"addresses" json:"addresses"`
	SentinelAddresses []string `yaml:"sentinel_addresses" json:"sentinel_addresses"`
	MasterName        string   `yaml:"master_name" json:"master_name"`
	Password          string   `yaml:"password" json:"password"`
	SentinelPassword  string   `yaml:"sentinel_password" json:"sentinel_password"`
	ConnectTimeoutMs  int      `yaml:"connect_timeout_ms" json:"connect_timeout_ms"`
	ReadFromReplicas  bool     `yaml:"read_from_replicas" json:"read_from_replicas"`
}

// RunConfig は負荷試験の実行設定
type RunConfig struct {
	ParallelClients int    `yaml:"parallel_clients" json:"parallel_clients"`
	MaxKeys         int    `yaml:"max_keys" json:"max_keys"`
	WorkerTimeout   string `yaml:"worker_timeout" json:"worker_timeout"`
	OutageMode      string `yaml:"outage_mode" json:"outage_mode"`
	SuspendDuration string `yaml:"suspend_duration" json:"suspend_duration"`
}

// SandboxConfig はプロセス内ノードの設定
type SandboxConfig struct {
	Nodes         int    `yaml:"nodes" json:"nodes"`
	RecoveryDelay string `yaml:"recovery_delay" json:"recovery_delay"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// ServerConfig はHTTPサーバー設定
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// Validate はファイル設定の形式を検証する
// 接続記述子としての不変条件は Descriptor.Validate が担う
func (f *FileConfig) Validate() error {
	if _, err := ParseTopology(f.Store.Topology); err != nil {
		return err
	}
	if _, err := ParseOutageMode(f.Run.OutageMode); err != nil {
		return err
	}
	if f.Store.ConnectTimeoutMs < 0 {
		return fmt.Errorf("store.connect_timeout_ms must be non-negative")
	}
	if f.Run.ParallelClients < 0 {
		return fmt.Errorf("run.parallel_clients must be non-negative")
	}
	if f.Run.MaxKeys < 0 {
		return fmt.Errorf("run.max_keys must be non-negative")
	}
	if f.Sandbox.Nodes < 0 {
		return fmt.Errorf("sandbox.nodes must be non-negative")
	}
	for name, v := range map[string]string{
		"run.worker_timeout":     f.Run.WorkerTimeout,
		"run.suspend_duration":   f.Run.SuspendDuration,
		"sandbox.recovery_delay": f.Sandbox.RecoveryDelay,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

// ToDescriptor は FileConfig を接続記述子に変換する
// 未設定の項目にはデフォルト値を使う
func (f *FileConfig) ToDescriptor() (Descriptor, error) {
	d := DefaultDescriptor()

	topo, err := ParseTopology(f.Store.Topology)
	if err != nil {
		return d, err
	}
	d.Topology = topo

	if d.Addresses, err = ParseAddresses(f.Store.Addresses...); err != nil {
		return d, err
	}
	if d.SentinelAddresses, err = ParseAddresses(f.Store.SentinelAddresses...); err != nil {
		return d, err
	}
	if f.Store.MasterName != "" {
		d.MasterName = f.Store.MasterName
	}
	d.Password = f.Store.Password
	d.SentinelPassword = f.Store.SentinelPassword
	if f.Store.ConnectTimeoutMs > 0 {
		d.ConnectTimeoutMs = f.Store.ConnectTimeoutMs
	}
	d.ReadFromReplicas = f.Store.ReadFromReplicas

	if f.Run.ParallelClients > 0 {
		d.ParallelClientCount = f.Run.ParallelClients
	}
	if d.OutageMode, err = ParseOutageMode(f.Run.OutageMode); err != nil {
		return d, err
	}
	if f.Run.WorkerTimeout != "" {
		if d.WorkerTimeout, err = time.ParseDuration(f.Run.WorkerTimeout); err != nil {
			return d, fmt.Errorf("invalid worker timeout: %w", err)
		}
	}
	if f.Run.SuspendDuration != "" {
		if d.SuspendDuration, err = time.ParseDuration(f.Run.SuspendDuration); err != nil {
			return d, fmt.Errorf("invalid suspend duration: %w", err)
		}
	}

	return d, nil
}

// RecoveryDelay はサンドボックスの復旧待ち時間を返す（未設定は0）
func (f *FileConfig) RecoveryDelay() (time.Duration, error) {
	if f.Sandbox.RecoveryDelay == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(f.Sandbox.RecoveryDelay)
	if err != nil {
		return 0, fmt.Errorf("invalid recovery delay: %w", err)
	}
	return d, nil
}
