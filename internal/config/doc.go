// Package config は接続記述子と設定ファイルの読み込みを提供する
//
// YAML と JSON の設定ファイルを拡張子で判別して読み込み、
// ToDescriptor で実行時の Descriptor に変換する。
//
//	store:
//	  topology: sentinel
//	  addresses: ["10.0.0.1:6379"]
//	  sentinel_addresses: ["10.0.0.1:26379", "10.0.0.2:26379"]
//	  master_name: mymaster
//	  password: secret
//	run:
//	  parallel_clients: 8
//	  outage_mode: kill
//
// Descriptor.Validate を通らない記述子ではストアに一切接続しない。
package config
