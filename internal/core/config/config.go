package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type AcquireCfg struct {
	Command       string
	Args          []string
	Timeout       time.Duration
	MaxConcurrent int
}

type CacheCfg struct {
	LRUSize   int
	RedisAddr string
	TTL       time.Duration
	OpTimeout time.Duration
}

type EventsCfg struct {
	Enabled  bool
	Brokers  []string
	Topic    string
	Queue    int
	GroupID  string
	AuditLog string
}

// HTTPCfg bounds ordinary requests. Map creation clears both deadlines and
// relies on the acquisition timeout instead.
type HTTPCfg struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string
}

type Config struct {
	Addr          string
	HTTP          HTTPCfg
	LogLevel      string
	LogConsole    bool
	LogSampleN    int
	DataDir       string
	StagingMaxAge time.Duration
	H3Res         int
	PopularityHL  time.Duration
	Acquire       AcquireCfg
	Cache         CacheCfg
	Events        EventsCfg
	Metrics       MetricsCfg
}

func FromEnv() Config {
	res := getint("H3_RES", 8)
	if res < 0 || res > 15 {
		res = 8
	}

	maxConc := getint("GENERATE_MAX_CONCURRENT", 4)
	if maxConc < 1 {
		maxConc = 1
	}

	return Config{
		Addr:          getenv("ADDR", ":8800"),
		HTTP: HTTPCfg{
			ReadTimeout:  getduration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getduration("HTTP_WRITE_TIMEOUT", 30*time.Second),
		},
		LogLevel:      getenv("LOG_LEVEL", "info"),
		LogConsole:    getbool("LOG_CONSOLE", false),
		LogSampleN:    getint("LOG_SAMPLE_N", 0),
		DataDir:       getenv("DATA_DIR", "./data/maps"),
		StagingMaxAge: getduration("STAGING_MAX_AGE", time.Hour),
		H3Res:         res,
		PopularityHL:  getduration("POPULARITY_HALF_LIFE", time.Hour),
		Acquire: AcquireCfg{
			Command:       getenv("ACQUIRE_CMD", "bizmap-acquire"),
			Args:          strings.Fields(os.Getenv("ACQUIRE_ARGS")),
			Timeout:       getduration("ACQUIRE_TIMEOUT", 2*time.Minute),
			MaxConcurrent: maxConc,
		},
		Cache: CacheCfg{
			LRUSize:   getint("DATASET_CACHE_SIZE", 64),
			RedisAddr: strings.TrimSpace(os.Getenv("REDIS_ADDR")),
			TTL:       getduration("DATASET_CACHE_TTL", 10*time.Minute),
			OpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		},
		Events: EventsCfg{
			Enabled:  getbool("EVENTS_ENABLED", false),
			Brokers:  SplitCSV(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:    getenv("KAFKA_TOPIC", "map-events"),
			Queue:    getint("EVENTS_QUEUE", 1024),
			GroupID:  getenv("KAFKA_GROUP_ID", "bizmap-audit"),
			AuditLog: getenv("AUDIT_LOG", "./data/map-events.jsonl"),
		},
		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", false),
			Addr:    getenv("METRICS_ADDR", ":9090"),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
	}
}

func SplitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}
