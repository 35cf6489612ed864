package main

import (
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// workloadConfig describes a synthetic workload to drive against the
// perfoscope facade: how many simulated ranks and threads to run, what
// profile shape to measure, and how many runs to record. Unlike the core
// library's config.Config, this harness is explicitly allowed to read
// its environment — it is not part of the measured program.
type workloadConfig struct {
	Profile          string   `koanf:"profile"`
	Categories       []string `koanf:"categories"`
	Events           []string `koanf:"events"`
	DBPath           string   `koanf:"db_path"`
	Ranks            int      `koanf:"ranks"`
	Threads          int      `koanf:"threads"`
	Iterations       int      `koanf:"iterations"`
	HardwareCounters bool     `koanf:"hardware_counters"`
}

var defaultWorkloadConfig = workloadConfig{
	Profile:          "bench-loop",
	Categories:       []string{"forward", "backward"},
	Events:           []string{"PAPI_TOT_CYC", "PAPI_TOT_INS"},
	DBPath:           "bench.db",
	Ranks:            2,
	Threads:          2,
	Iterations:       5,
	HardwareCounters: false,
}

// defaultLoader seeds k with defaultWorkloadConfig via the structs
// provider, the same pattern the core library's teacher used for its own
// compiled-in defaults.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(defaultWorkloadConfig, "koanf"), nil)
}

// envLoader overlays PERFOSCOPE_BENCH_-prefixed environment variables,
// lower-cased and split on commas for slice fields.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "PERFOSCOPE_BENCH_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "PERFOSCOPE_BENCH_"))
			if strings.Contains(value, ",") {
				parts := strings.Split(value, ",")
				for i := range parts {
					parts[i] = strings.TrimSpace(parts[i])
				}
				return key, parts
			}
			return key, strings.TrimSpace(value)
		},
	}), nil)
}

func loadWorkloadConfig() (workloadConfig, error) {
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		return workloadConfig{}, err
	}
	if err := envLoader(k); err != nil {
		return workloadConfig{}, err
	}

	var cfg workloadConfig
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	})
	return cfg, err
}
