package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ErrInvalid は接続記述子が不変条件を満たさないことを示す
var ErrInvalid = errors.New("store is not configured OK")

// Topology は接続先ストアの構成種別
type Topology string

const (
	TopologyStandalone Topology = "standalone"
	TopologySentinel   Topology = "sentinel"
	TopologyCluster    Topology = "cluster"
)

// ParseTopology は文字列から構成種別を解析する（空は standalone）
func ParseTopology(s string) (Topology, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standalone", "single":
		return TopologyStandalone, nil
	case "sentinel":
		return TopologySentinel, nil
	case "cluster":
		return TopologyCluster, nil
	default:
		return "", fmt.Errorf("unknown topology: %s", s)
	}
}

// OutageMode はプライマリ停止の方法
type OutageMode string

const (
	// OutageKill は SHUTDOWN NOSAVE でプライマリを落とす
	OutageKill OutageMode = "kill"
	// OutageSuspend は CLIENT PAUSE で一時的に応答を止める
	OutageSuspend OutageMode = "suspend"
	// OutageFailover は SENTINEL FAILOVER を要求する
	OutageFailover OutageMode = "failover"
)

// ParseOutageMode は文字列から停止方法を解析する（空は kill）
func ParseOutageMode(s string) (OutageMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "kill", "shutdown":
		return OutageKill, nil
	case "suspend", "pause":
		return OutageSuspend, nil
	case "failover":
		return OutageFailover, nil
	default:
		return "", fmt.Errorf("unknown outage mode: %s", s)
	}
}

// NodeAddress はノードのホストとポート
type NodeAddress struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

func (a NodeAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// ParseAddress は "host:port" 形式を解析する
func ParseAddress(s string) (NodeAddress, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return NodeAddress{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return NodeAddress{}, fmt.Errorf("invalid port in %q: %w", s, err)
	}
	return NodeAddress{Host: host, Port: port}, nil
}

// ParseAddresses はカンマ区切りまたは複数のアドレスを解析する
func ParseAddresses(values ...string) ([]NodeAddress, error) {
	var out []NodeAddress
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			addr, err := ParseAddress(part)
			if err != nil {
				return nil, err
			}
			out = append(out, addr)
		}
	}
	return out, nil
}

// デフォルト値
const (
	DefaultConnectTimeoutMs = 5000
	MinConnectTimeoutMs     = 1000
	DefaultMasterName       = "mymaster"
	DefaultWorkerTimeout    = 10 * time.Minute
	DefaultSuspendDuration  = 5 * time.Second
)

// Descriptor はストアへの接続記述子
// Validate を通過した後は変更せずに扱う
type Descriptor struct {
	Topology            Topology
	Addresses           []NodeAddress
	SentinelAddresses   []NodeAddress
	MasterName          string
	Password            string
	SentinelPassword    string
	ConnectTimeoutMs    int
	ParallelClientCount int
	ReadFromReplicas    bool
	OutageMode          OutageMode
	SuspendDuration     time.Duration
	WorkerTimeout       time.Duration
}

// DefaultDescriptor はデフォルトの記述子を返す（アドレスと認証情報は未設定）
func DefaultDescriptor() Descriptor {
	return Descriptor{
		Topology:            TopologyStandalone,
		MasterName:          DefaultMasterName,
		ConnectTimeoutMs:    DefaultConnectTimeoutMs,
		ParallelClientCount: 1,
		OutageMode:          OutageKill,
		SuspendDuration:     DefaultSuspendDuration,
		WorkerTimeout:       DefaultWorkerTimeout,
	}
}

// Validate は最初に破られた不変条件を ErrInvalid でラップして返す
func (d Descriptor) Validate() error {
	if len(d.Addresses) == 0 {
		return fmt.Errorf("%w: no store addresses", ErrInvalid)
	}
	if err := validateAddresses("store", d.Addresses); err != nil {
		return err
	}
	if d.Password == "" {
		return fmt.Errorf("%w: password is empty", ErrInvalid)
	}
	if d.ParallelClientCount < 1 {
		return fmt.Errorf("%w: parallel client count %d < 1", ErrInvalid, d.ParallelClientCount)
	}
	if d.ConnectTimeoutMs < MinConnectTimeoutMs {
		return fmt.Errorf("%w: connect timeout %dms < %dms", ErrInvalid, d.ConnectTimeoutMs, MinConnectTimeoutMs)
	}

	switch d.Topology {
	case TopologyStandalone, TopologyCluster:
	case TopologySentinel:
		if len(d.SentinelAddresses) == 0 {
			return fmt.Errorf("%w: sentinel topology without sentinel addresses", ErrInvalid)
		}
		if err := validateAddresses("sentinel", d.SentinelAddresses); err != nil {
			return err
		}
		if d.MasterName == "" {
			return fmt.Errorf("%w: sentinel topology without master name", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown topology %q", ErrInvalid, d.Topology)
	}

	switch d.OutageMode {
	case OutageKill, OutageSuspend, OutageFailover:
	default:
		return fmt.Errorf("%w: unknown outage mode %q", ErrInvalid, d.OutageMode)
	}

	return nil
}

func validateAddresses(kind string, addrs []NodeAddress) error {
	for i, a := range addrs {
		if a.Host == "" {
			return fmt.Errorf("%w: %s address #%d has empty host", ErrInvalid, kind, i+1)
		}
		if a.Port <= 0 {
			return fmt.Errorf("%w: %s address %s has non-positive port", ErrInvalid, kind, a)
		}
	}
	return nil
}

// IsValid は Validate の真偽値版
func (d Descriptor) IsValid() bool {
	return d.Validate() == nil
}

// ConnectTimeout は接続タイムアウトを Duration で返す
func (d Descriptor) ConnectTimeout() time.Duration {
	return time.Duration(d.ConnectTimeoutMs) * time.Millisecond
}

// AddressStrings はデータプレーンのアドレスを "host:port" で返す
func (d Descriptor) AddressStrings() []string {
	return addrStrings(d.Addresses)
}

// SentinelAddressStrings はセンチネルのアドレスを "host:port" で返す
func (d Descriptor) SentinelAddressStrings() []string {
	return addrStrings(d.SentinelAddresses)
}

func addrStrings(addrs []NodeAddress) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

// Clone はスライスを共有しないコピーを返す
func (d Descriptor) Clone() Descriptor {
	c := d
	c.Addresses = append([]NodeAddress(nil), d.Addresses...)
	c.SentinelAddresses = append([]NodeAddress(nil), d.SentinelAddresses...)
	return c
}
