package config

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker           string
	MQTTClientIDTracker  string
	MQTTClientIDWeb      string
	MQTTClientIDConsole  string
	MQTTClientIDProducer string

	// Topics
	TopicSamples string // raw samples in (JSON sensors.Sample)
	TopicState   string // published pipeline state (retained)
	TopicControl string // control actions

	// Sample source: "mock", "mqtt", "serial" or "hmc5983"
	Source         string
	SerialPort     string
	SerialBaudRate int
	HMCI2CBus      string
	HMCI2CAddr     uint16
	HMCODRHz       int // 3, 7, 15, 30 or 75
	HMCAvgSamples  int // 1, 2, 4 or 8
	HMCGainCode    int // 0..7
	// HMCMount is the board orientation quaternion (w, x, y, z) that maps
	// the sensor frame to the reference frame.
	HMCMount       [4]float64

	// Calibration
	SampleRateHz            float64
	CalibrationWindowMS     int
	CalibrationMinSamples   int
	CalibrationBufferFactor float64
	CalibrationFile         string // optional JSON persistence of the last calibration

	// Detection
	MagnetThresholdUT      float64
	HysteresisSamples      int    // 0 = off
	EarthFieldCancellation string // "reference" or "none"

	// Classifier
	ClassifierModel     string // YAML model path; empty = built-in axis model
	ClassifierQueue     int
	ClassifierTimeoutMS int

	// Recording
	RecordDir string

	// Web Server
	WebServerPort int

	// Embedded broker
	BrokerListen string

	// Logging and metrics
	LogFile              string
	LogMaxSizeMB         int
	LogMaxBackups        int
	LogMaxAgeDays        int
	LogCompress          bool
	MetricsLogIntervalMS int

	// Timing
	PollIntervalMS     int // calibration window poll
	ConsoleLogInterval int // milliseconds
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: unexported so other packages cannot modify it directly.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: RWMutex protects concurrent access. Write lock for initialization,
//     read lock for Get().
//
// External code must use InitGlobal() to set and Get() to read.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns a Config with every optional key at its default value.
func Default() *Config {
	return &Config{
		MQTTClientIDTracker:  "magnet-tracker",
		MQTTClientIDWeb:      "magnet-web",
		MQTTClientIDConsole:  "magnet-console",
		MQTTClientIDProducer: "magnet-producer",

		TopicSamples: "magnet/samples",
		TopicState:   "magnet/state",
		TopicControl: "magnet/control",

		Source:         "mock",
		SerialBaudRate: 115200,
		HMCI2CAddr:     0x1E,
		HMCODRHz:       75,
		HMCAvgSamples:  1,
		HMCGainCode:    1,
		HMCMount:       [4]float64{1, 0, 0, 0},

		SampleRateHz:            100,
		CalibrationWindowMS:     30000,
		CalibrationMinSamples:   100,
		CalibrationBufferFactor: 2,

		MagnetThresholdUT:      100,
		EarthFieldCancellation: "reference",

		ClassifierQueue:     1,
		ClassifierTimeoutMS: 500,

		RecordDir:     "recordings",
		WebServerPort: 8080,
		BrokerListen:  ":1883",

		LogMaxSizeMB:  10,
		LogMaxBackups: 3,
		LogMaxAgeDays: 28,

		PollIntervalMS:     250,
		ConsoleLogInterval: 1000,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Validate required fields
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseInt(key, value string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be %d-%d, got %d", key, lo, hi, v)
	}
	return v, nil
}

func parsePositiveFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, v)
	}
	return v, nil
}

// parseQuat reads "w,x,y,z" with a usable (finite, non-zero) norm.
func parseQuat(key, value string) ([4]float64, error) {
	var q [4]float64
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return q, fmt.Errorf("invalid %s %q: want w,x,y,z", key, value)
	}
	var norm float64
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return q, fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		q[i] = f
		norm += f * f
	}
	if math.IsNaN(norm) || math.IsInf(norm, 0) || norm < 1e-12 {
		return q, fmt.Errorf("invalid %s %q: not a rotation", key, value)
	}
	return q, nil
}

func oneOf(key, value string, allowed ...int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	for _, a := range allowed {
		if v == a {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%s must be one of %v, got %d", key, allowed, v)
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_TRACKER":
		c.MQTTClientIDTracker = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value

	// Topics
	case "TOPIC_SAMPLES":
		c.TopicSamples = value
	case "TOPIC_STATE":
		c.TopicState = value
	case "TOPIC_CONTROL":
		c.TopicControl = value

	// Sample source
	case "SOURCE":
		switch value {
		case "mock", "mqtt", "serial", "hmc5983":
			c.Source = value
		default:
			return fmt.Errorf("SOURCE must be mock, mqtt, serial or hmc5983, got %q", value)
		}
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		c.SerialBaudRate, err = parseInt(key, value, 1, 4000000)
	case "HMC_I2C_BUS":
		c.HMCI2CBus = value
	case "HMC_I2C_ADDR":
		addr, perr := strconv.ParseUint(value, 0, 16)
		if perr != nil {
			return fmt.Errorf("invalid HMC_I2C_ADDR %q: %w", value, perr)
		}
		c.HMCI2CAddr = uint16(addr)
	case "HMC_ODR_HZ":
		c.HMCODRHz, err = oneOf(key, value, 3, 7, 15, 30, 75)
	case "HMC_AVG_SAMPLES":
		c.HMCAvgSamples, err = oneOf(key, value, 1, 2, 4, 8)
	case "HMC_GAIN_CODE":
		c.HMCGainCode, err = parseInt(key, value, 0, 7)
	case "HMC_MOUNT_QUAT":
		c.HMCMount, err = parseQuat(key, value)

	// Calibration
	case "SAMPLE_RATE_HZ":
		c.SampleRateHz, err = parsePositiveFloat(key, value)
	case "CALIBRATION_WINDOW_MS":
		c.CalibrationWindowMS, err = parseInt(key, value, 1000, 600000)
	case "CALIBRATION_MIN_SAMPLES":
		c.CalibrationMinSamples, err = parseInt(key, value, 1, 1000000)
	case "CALIBRATION_BUFFER_FACTOR":
		c.CalibrationBufferFactor, err = parsePositiveFloat(key, value)
		if err == nil && c.CalibrationBufferFactor < 1 {
			err = fmt.Errorf("CALIBRATION_BUFFER_FACTOR must be >= 1, got %v", c.CalibrationBufferFactor)
		}
	case "CALIBRATION_FILE":
		c.CalibrationFile = value

	// Detection
	case "MAGNET_THRESHOLD_UT":
		c.MagnetThresholdUT, err = parsePositiveFloat(key, value)
	case "HYSTERESIS_SAMPLES":
		c.HysteresisSamples, err = parseInt(key, value, 0, 1000)
	case "EARTH_FIELD_CANCELLATION":
		if value != "reference" && value != "none" {
			return fmt.Errorf("EARTH_FIELD_CANCELLATION must be reference or none, got %q", value)
		}
		c.EarthFieldCancellation = value

	// Classifier
	case "CLASSIFIER_MODEL":
		c.ClassifierModel = value
	case "CLASSIFIER_QUEUE":
		c.ClassifierQueue, err = parseInt(key, value, 1, 1024)
	case "CLASSIFIER_TIMEOUT_MS":
		c.ClassifierTimeoutMS, err = parseInt(key, value, 0, 60000)

	// Recording
	case "RECORD_DIR":
		c.RecordDir = value

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value, 1, 65535)

	// Embedded broker
	case "BROKER_LISTEN":
		c.BrokerListen = value

	// Logging and metrics
	case "LOG_FILE":
		c.LogFile = value
	case "LOG_MAX_SIZE_MB":
		c.LogMaxSizeMB, err = parseInt(key, value, 1, 10000)
	case "LOG_MAX_BACKUPS":
		c.LogMaxBackups, err = parseInt(key, value, 0, 1000)
	case "LOG_MAX_AGE_DAYS":
		c.LogMaxAgeDays, err = parseInt(key, value, 0, 3650)
	case "LOG_COMPRESS":
		c.LogCompress, err = strconv.ParseBool(value)
		if err != nil {
			err = fmt.Errorf("invalid LOG_COMPRESS %q: %w", value, err)
		}
	case "METRICS_LOG_INTERVAL_MS":
		c.MetricsLogIntervalMS, err = parseInt(key, value, 0, 86400000)

	// Timing
	case "POLL_INTERVAL_MS":
		c.PollIntervalMS, err = parseInt(key, value, 10, 10000)
	case "CONSOLE_LOG_INTERVAL":
		c.ConsoleLogInterval, err = parseInt(key, value, 10, 3600000)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.Source == "serial" && c.SerialPort == "" {
		return fmt.Errorf("SERIAL_PORT is required when SOURCE=serial")
	}
	return nil
}

// CalibrationWindow returns the calibration window as a duration.
func (c *Config) CalibrationWindow() time.Duration {
	return time.Duration(c.CalibrationWindowMS) * time.Millisecond
}

// ClassifierTimeout returns the per-call classifier timeout; 0 means none.
func (c *Config) ClassifierTimeout() time.Duration {
	return time.Duration(c.ClassifierTimeoutMS) * time.Millisecond
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
