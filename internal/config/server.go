package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. ROBOKERNEL_BRIDGE_CALL_TIMEOUT.
const EnvPrefix = "ROBOKERNEL"

type ServerConfig struct {
	AppPaths   []string         `mapstructure:"app_paths"`
	LogLevel   string           `mapstructure:"log_level"`
	RobotModel string           `mapstructure:"robot_model"`
	App        string           `mapstructure:"app"`
	Wasm       WasmConfig       `mapstructure:"wasm"`
	Bridge     BridgeConfig     `mapstructure:"bridge"`
	Simulation SimulationConfig `mapstructure:"simulation"`
}

// WasmConfig holds Wasm runtime configuration.
type WasmConfig struct {
	// Memory limit per module (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages"`
	// Enable debug logging.
	Debug bool `mapstructure:"debug"`
	// Compilation cache directory.
	CacheDir string `mapstructure:"cache_dir"`
	// Maximum concurrent instances.
	MaxInstances int `mapstructure:"max_instances"`
	// Upper bound for one run of an app's entry point.
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`
}

// BridgeConfig holds the guest contract and host-call transport settings.
type BridgeConfig struct {
	// Import module the guest links host calls against.
	HostModule string `mapstructure:"host_module"`
	// Guest export used to allocate result buffers.
	Allocator string `mapstructure:"allocator"`
	// Guest export that runs the app.
	EntryPoint string `mapstructure:"entry_point"`
	// How long a host call waits for the simulation to answer.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	// Bytes available for one encoded result, length prefix included.
	ResponseCapacity int `mapstructure:"response_capacity"`
}

// SimulationConfig holds simulation loop settings.
type SimulationConfig struct {
	// Seconds advanced per step.
	Timestep float64 `mapstructure:"timestep"`
}

// StepInterval is the wall-clock interval between simulation steps.
func (c SimulationConfig) StepInterval() time.Duration {
	return time.Duration(c.Timestep * float64(time.Second))
}

// RegisterFlags defines the command-line overrides on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.StringSlice("app-path", nil, "Directory containing robot apps (repeatable)")
	fs.String("robot-model", "", "Path to a robot model YAML file")
	fs.String("app", "", "Robot app to run (default: first app for the robot)")
	fs.Duration("call-timeout", 0, "Host call timeout")
}

var flagKeys = map[string]string{
	"log-level":    "log_level",
	"app-path":     "app_paths",
	"robot-model":  "robot_model",
	"app":          "app",
	"call-timeout": "bridge.call_timeout",
}

func LoadServerConfig(configPath string, flags *pflag.FlagSet) (*ServerConfig, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("app_paths", []string{"./apps"})
	v.SetDefault("log_level", "info")
	v.SetDefault("robot_model", "")
	v.SetDefault("app", "")

	// Wasm defaults
	v.SetDefault("wasm.memory_pages", 256) // 16MB
	v.SetDefault("wasm.debug", false)
	v.SetDefault("wasm.cache_dir", "./build/wasm-cache")
	v.SetDefault("wasm.max_instances", 100)
	v.SetDefault("wasm.execution_timeout", 30*time.Second)

	// Bridge defaults
	v.SetDefault("bridge.host_module", "env")
	v.SetDefault("bridge.allocator", "wasm_new_bytes")
	v.SetDefault("bridge.entry_point", "main")
	v.SetDefault("bridge.call_timeout", 5*time.Second)
	v.SetDefault("bridge.response_capacity", 4096)

	v.SetDefault("simulation.timestep", 0.002)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
			}
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the bridge cannot run with.
func (c *ServerConfig) Validate() error {
	switch {
	case c.Bridge.CallTimeout <= 0:
		return fmt.Errorf("bridge.call_timeout must be positive, got %s", c.Bridge.CallTimeout)
	case c.Bridge.ResponseCapacity < 16:
		return fmt.Errorf("bridge.response_capacity must be at least 16 bytes, got %d", c.Bridge.ResponseCapacity)
	case c.Bridge.HostModule == "":
		return fmt.Errorf("bridge.host_module is required")
	case c.Simulation.Timestep <= 0:
		return fmt.Errorf("simulation.timestep must be positive, got %g", c.Simulation.Timestep)
	}
	return nil
}
