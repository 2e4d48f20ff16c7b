package scenario

import (
	"sort"
)

// Kind はシナリオの種類
type Kind string

const (
	KindSingle           Kind = "single"
	KindSingleFailover   Kind = "single-failover"
	KindParallel         Kind = "parallel"
	KindParallelFailover Kind = "parallel-failover"
)

// Preset は実行方法の組み合わせ
type Preset struct {
	Kind          Kind   `json:"kind"`
	Description   string `json:"description"`
	Parallel      bool   `json:"parallel"`
	InjectFailure bool   `json:"injectFailure"`
}

var presets = map[Kind]Preset{
	KindSingle: {
		Kind:        KindSingle,
		Description: "One client runs the four phases",
	},
	KindSingleFailover: {
		Kind:          KindSingleFailover,
		Description:   "One client while the primary is stepped down once",
		InjectFailure: true,
	},
	KindParallel: {
		Kind:        KindParallel,
		Description: "Parallel client count clients, each with its own connection",
		Parallel:    true,
	},
	KindParallelFailover: {
		Kind:          KindParallelFailover,
		Description:   "Parallel clients while the primary is stepped down once",
		Parallel:      true,
		InjectFailure: true,
	},
}

// GetPreset は名前からプリセットを取得する
func GetPreset(name string) (Preset, bool) {
	p, ok := presets[Kind(name)]
	return p, ok
}

// ListPresets は利用可能なプリセット名を返す
func ListPresets() []string {
	names := make([]string, 0, len(presets))
	for k := range presets {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return names
}

// Presets は全プリセットを名前順で返す
func Presets() []Preset {
	out := make([]Preset, 0, len(presets))
	for _, name := range ListPresets() {
		out = append(out, presets[Kind(name)])
	}
	return out
}
