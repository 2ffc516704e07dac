package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "simcore.cfg.json"

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// StorageConfig selects the trace and snapshot backend.
type StorageConfig struct {
	Type   string       `json:"type" mapstructure:"type"`
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`
	SQLite SQLiteConfig `json:"sqlite" mapstructure:"sqlite"`
}

// DBConfig holds Postgres connection settings.
type DBConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	Endpoint     string
	Insecure     bool
	BatchTimeout time.Duration
}

// InfluxConfig holds InfluxDB settings.
type InfluxConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Protocol string
	Token    string
	Org      string
	Bucket   string
}

// URL returns the server address.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// SimConfig tunes the world loop.
type SimConfig struct {
	TickHz           int
	CatchupMaxTicks  int
	CommandCapacity  int
	PerShipLimit     int
	Seed             uint64
	RequireConsent   bool
	ConsentWindow    float64
	SnapshotInterval time.Duration
	NoiseThreshold   float64
}

// EngineConfig selects the engine for one tier.
type EngineConfig struct {
	Kind  string
	Model string
	Host  string
}

// AIConfig tunes the decision orchestrator.
type AIConfig struct {
	Enabled           bool
	Side              string
	FleetCadence      float64
	ShipCadence       float64
	AlertCadence      float64
	FleetTimeout      time.Duration
	ShipTimeout       time.Duration
	SchedulerInterval time.Duration
	FleetEngine       EngineConfig
	ShipEngine        EngineConfig
}

// TelemetryConfig configures the station telemetry push.
type TelemetryConfig struct {
	WebsocketURL string
	Secret       string
	Interval     time.Duration
}

// ArchiveConfig points at the session archive that receives exports.
type ArchiveConfig struct {
	ServerURL string
	APIKey    string
	Upload    bool
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./simlogs")

	viper.SetDefault("sim.tickHz", 20)
	viper.SetDefault("sim.catchupMaxTicks", 3)
	viper.SetDefault("sim.commandCapacity", 1024)
	viper.SetDefault("sim.perShipLimit", 32)
	viper.SetDefault("sim.seed", 1)
	viper.SetDefault("sim.requireConsent", true)
	viper.SetDefault("sim.consentWindowS", 60)
	viper.SetDefault("sim.snapshotIntervalS", 2)
	viper.SetDefault("sim.noiseThresholdDb", 125)

	viper.SetDefault("ai.enabled", true)
	viper.SetDefault("ai.side", "RED")
	viper.SetDefault("ai.fleetCadenceS", 30)
	viper.SetDefault("ai.shipCadenceS", 20)
	viper.SetDefault("ai.shipAlertCadenceS", 10)
	viper.SetDefault("ai.fleetTimeoutS", 8)
	viper.SetDefault("ai.shipTimeoutS", 4)
	viper.SetDefault("ai.schedulerIntervalMs", 100)
	viper.SetDefault("ai.fleetEngine.kind", "stub")
	viper.SetDefault("ai.fleetEngine.model", "")
	viper.SetDefault("ai.fleetEngine.host", "http://localhost:11434")
	viper.SetDefault("ai.shipEngine.kind", "stub")
	viper.SetDefault("ai.shipEngine.model", "")
	viper.SetDefault("ai.shipEngine.host", "http://localhost:11434")

	viper.SetDefault("mission.path", "")
	viper.SetDefault("mission.catalogPath", "")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./sessions")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.path", "./sessions")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "simcore")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "simcore")
	viper.SetDefault("influx.bucket", "simcore-perf")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "simcore")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
	viper.SetDefault("otel.batchTimeout", "5s")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("telemetry.websocketUrl", "")
	viper.SetDefault("telemetry.secret", "")
	viper.SetDefault("telemetry.intervalMs", 200)

	viper.SetDefault("api.serverUrl", "http://localhost:5000")
	viper.SetDefault("api.apiKey", "")
	viper.SetDefault("api.upload", false)
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")
	viper.SetEnvPrefix("SIMCORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// LoadDefaults installs the defaults without reading a file.
func LoadDefaults() {
	setDefaults()
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

func seconds(key string) time.Duration {
	return time.Duration(viper.GetFloat64(key) * float64(time.Second))
}

// GetStorageConfig returns the storage backend settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
	}
}

// GetDBConfig returns the Postgres connection settings.
func GetDBConfig() DBConfig {
	return DBConfig{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
	}
}

// GetInfluxConfig returns the InfluxDB settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Protocol: viper.GetString("influx.protocol"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetSimConfig returns the world loop settings.
func GetSimConfig() SimConfig {
	return SimConfig{
		TickHz:           viper.GetInt("sim.tickHz"),
		CatchupMaxTicks:  viper.GetInt("sim.catchupMaxTicks"),
		CommandCapacity:  viper.GetInt("sim.commandCapacity"),
		PerShipLimit:     viper.GetInt("sim.perShipLimit"),
		Seed:             viper.GetUint64("sim.seed"),
		RequireConsent:   viper.GetBool("sim.requireConsent"),
		ConsentWindow:    viper.GetFloat64("sim.consentWindowS"),
		SnapshotInterval: seconds("sim.snapshotIntervalS"),
		NoiseThreshold:   viper.GetFloat64("sim.noiseThresholdDb"),
	}
}

// GetAIConfig returns the orchestrator settings.
func GetAIConfig() AIConfig {
	engine := func(prefix string) EngineConfig {
		return EngineConfig{
			Kind:  viper.GetString(prefix + ".kind"),
			Model: viper.GetString(prefix + ".model"),
			Host:  viper.GetString(prefix + ".host"),
		}
	}
	return AIConfig{
		Enabled:           viper.GetBool("ai.enabled"),
		Side:              strings.ToUpper(viper.GetString("ai.side")),
		FleetCadence:      viper.GetFloat64("ai.fleetCadenceS"),
		ShipCadence:       viper.GetFloat64("ai.shipCadenceS"),
		AlertCadence:      viper.GetFloat64("ai.shipAlertCadenceS"),
		FleetTimeout:      seconds("ai.fleetTimeoutS"),
		ShipTimeout:       seconds("ai.shipTimeoutS"),
		SchedulerInterval: time.Duration(viper.GetInt("ai.schedulerIntervalMs")) * time.Millisecond,
		FleetEngine:       engine("ai.fleetEngine"),
		ShipEngine:        engine("ai.shipEngine"),
	}
}

// GetTelemetryConfig returns the telemetry push settings.
func GetTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		WebsocketURL: viper.GetString("telemetry.websocketUrl"),
		Secret:       viper.GetString("telemetry.secret"),
		Interval:     time.Duration(viper.GetInt("telemetry.intervalMs")) * time.Millisecond,
	}
}

// GetArchiveConfig returns the session archive settings.
func GetArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		ServerURL: viper.GetString("api.serverUrl"),
		APIKey:    viper.GetString("api.apiKey"),
		Upload:    viper.GetBool("api.upload"),
	}
}
