// Package config reads the server and client settings from the environment,
// optionally backed by a .env file.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/nakulsingh04/kanban-board-project/domain"
	"github.com/nakulsingh04/kanban-board-project/storage"
)

// Config is everything the binary reads from its environment.
type Config struct {
	Debug     bool
	LogFormat string

	ListenAddr string
	BoardID    string
	Storage    storage.Options

	// RedisConnection enables the read cache, the broadcast bus and
	// idempotency keys. It is either a redis:// URL or "host:port,password=..,ssl=true".
	RedisConnection  string
	CacheTTL         time.Duration
	DeduperTTL       time.Duration
	BroadcastChannel string

	// EventsQueue enables the Azure Storage queue exporter.
	EventsQueue   string
	ExportWorkers int
	ExportBuffer  int
	ExportHandoff time.Duration

	Limits          domain.Limits
	CompactOnDelete bool
	DevEndpoints    bool
	SendBuffer      int

	Auth0Domain   string
	Auth0Audience string
	// LocalAuthSecret switches bearer verification to HS256.
	LocalAuthSecret string
	RequireAuth     bool
	JWKSCacheTTL    time.Duration

	CORSOrigins     []string
	RateLimitMax    int
	RateLimitWindow time.Duration
	BodyLimit       string

	// Client side.
	ServerURL   string
	Token       string
	MoveTimeout time.Duration
}

// Load reads the configuration. Variables already set in the environment
// win over the ones in files; a missing .env is not an error.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	fromFiles := map[string]string{}
	for _, f := range files {
		vals, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("read %s: %w", f, err)
		}
		for k, v := range vals {
			if _, ok := fromFiles[k]; !ok {
				fromFiles[k] = v
			}
		}
	}
	e := &env{lookup: func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fromFiles[key]
		return v, ok
	}}

	cfg := Config{
		Debug:      e.flag("DEBUG", false),
		LogFormat:  e.str("LOG_FORMAT", "text"),
		ListenAddr: ":" + e.str("PORT", e.str("FUNCTIONS_CUSTOMHANDLER_PORT", "8080")),
		BoardID:    e.str("BOARD_ID", "default"),
		Storage: storage.Options{
			Kind:             e.str("STORAGE_BACKEND", storage.KindTables),
			ConnectionString: e.str("STORAGE_CONNECTION_STRING", ""),
			TasksTable:       e.str("TASKS_TABLE", "Tasks"),
			SQLitePath:       e.str("SQLITE_PATH", "taskboard.db"),
			MongoURI:         e.str("MONGO_URI", "mongodb://localhost:27017"),
			MongoDatabase:    e.str("MONGO_DATABASE", "taskboard"),
			MongoCollection:  e.str("MONGO_COLLECTION", "tasks"),
		},
		RedisConnection:  e.str("REDIS_CONNECTION_STRING", ""),
		CacheTTL:         e.duration("CACHE_TTL", 30*time.Second),
		DeduperTTL:       e.duration("DEDUPER_TTL", 24*time.Hour),
		BroadcastChannel: e.str("BROADCAST_CHANNEL", "taskboard:events"),
		EventsQueue:      e.str("EVENTS_QUEUE", ""),
		ExportWorkers:    e.integer("EXPORT_WORKERS", 4),
		ExportBuffer:     e.integer("EXPORT_BUFFER", 1024),
		ExportHandoff:    e.duration("EXPORT_HANDOFF", 50*time.Millisecond),
		Limits: domain.Limits{
			MaxTitleLength:       e.integer("MAX_TITLE_LENGTH", domain.DefaultLimits.MaxTitleLength),
			MaxDescriptionLength: e.integer("MAX_DESCRIPTION_LENGTH", domain.DefaultLimits.MaxDescriptionLength),
			MaxTags:              e.integer("MAX_TAGS", domain.DefaultLimits.MaxTags),
			MaxTagLength:         e.integer("MAX_TAG_LENGTH", domain.DefaultLimits.MaxTagLength),
		},
		CompactOnDelete: e.flag("COMPACT_ON_DELETE", false),
		DevEndpoints:    e.flag("DEV_ENDPOINTS", false),
		SendBuffer:      e.integer("HUB_SEND_BUFFER", 64),
		Auth0Domain:     e.str("AUTH0_DOMAIN", ""),
		Auth0Audience:   e.str("AUTH0_AUDIENCE", ""),
		LocalAuthSecret: e.str("LOCAL_AUTH_SECRET", ""),
		RequireAuth:     e.flag("REQUIRE_AUTH", false),
		JWKSCacheTTL:    e.duration("JWKS_CACHE_TTL", 15*time.Minute),
		CORSOrigins:     e.list("CORS_ORIGINS", []string{"*"}),
		RateLimitMax:    e.integer("RATE_LIMIT_MAX", 100),
		RateLimitWindow: e.duration("RATE_LIMIT_WINDOW", 15*time.Minute),
		BodyLimit:       e.str("BODY_LIMIT", "10M"),
		ServerURL:       e.str("TASKBOARD_URL", "http://localhost:8080"),
		Token:           e.str("TASKBOARD_TOKEN", ""),
		MoveTimeout:     e.duration("MOVE_TIMEOUT", 10*time.Second),
	}
	if !domain.ValidBoardID(cfg.BoardID) {
		e.fail("BOARD_ID", fmt.Errorf("invalid board id %q", cfg.BoardID))
	}
	l := cfg.Limits
	if l.MaxTitleLength <= 0 || l.MaxDescriptionLength < 0 || l.MaxTags < 0 || l.MaxTagLength <= 0 {
		e.fail("MAX_*", errors.New("limits must not be negative and lengths must be positive"))
	}
	if cfg.RequireAuth && cfg.LocalAuthSecret == "" && (cfg.Auth0Domain == "" || cfg.Auth0Audience == "") {
		e.fail("REQUIRE_AUTH", errors.New("needs LOCAL_AUTH_SECRET or AUTH0_DOMAIN and AUTH0_AUDIENCE"))
	}
	if err := errors.Join(e.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AuthEnabled reports whether bearer tokens are verified.
func (c Config) AuthEnabled() bool {
	return c.LocalAuthSecret != "" || (c.Auth0Domain != "" && c.Auth0Audience != "")
}

// ConfigureLogging applies DEBUG and LOG_FORMAT to logger.
func (c Config) ConfigureLogging(logger *log.Logger) {
	if c.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if strings.EqualFold(c.LogFormat, "json") {
		logger.SetFormatter(&log.JSONFormatter{})
	}
}

// RedisOptions parses RedisConnection, accepting a URL or the Azure style
// "host:port,password=secret,ssl=True" form.
func (c Config) RedisOptions() (*redis.Options, error) {
	if c.RedisConnection == "" {
		return nil, errors.New("redis connection string not set")
	}
	if opts, err := redis.ParseURL(c.RedisConnection); err == nil {
		return opts, nil
	}
	parts := strings.Split(c.RedisConnection, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	if opts.Addr == "" {
		return nil, fmt.Errorf("invalid redis connection string")
	}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}

type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) fail(key string, err error) {
	e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", key, err))
}

func (e *env) str(key, def string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *env) integer(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	if n < 0 {
		e.fail(key, errors.New("must not be negative"))
		return def
	}
	return n
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	if d <= 0 {
		e.fail(key, errors.New("must be greater than zero"))
		return def
	}
	return d
}

func (e *env) flag(key string, def bool) bool {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

func (e *env) list(key string, def []string) []string {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
