// Package config reads the grader's service configuration from the
// environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/joho/godotenv"

	"github.com/programme-lv/grader/api"
	"github.com/programme-lv/grader/internal/xdg"
)

const (
	AppName = "grader"
	Prefix  = "GRADER_"

	// MemoryDB selects the in-memory run store instead of SQLite.
	MemoryDB = ":memory:"
)

// Variable names.
const (
	EnvWorkRoot         = Prefix + "WORK_ROOT"
	EnvLauncher         = Prefix + "LAUNCHER"
	EnvWorkers          = Prefix + "WORKERS"
	EnvQueueSize        = Prefix + "QUEUE_SIZE"
	EnvDBPath           = Prefix + "DB_PATH"
	EnvNATSURL          = Prefix + "NATS_URL"
	EnvNATSSubject      = Prefix + "NATS_SUBJECT"
	EnvSQSQueueURL      = Prefix + "SQS_QUEUE_URL"
	EnvSQSResultURL     = Prefix + "SQS_RESULT_QUEUE_URL"
	EnvAWSRegion        = Prefix + "AWS_REGION"
	EnvLMSURL           = Prefix + "LMS_URL"
	EnvLMSToken         = Prefix + "LMS_TOKEN"
	EnvFileCache        = Prefix + "FILE_CACHE"
	EnvCPUSeconds       = Prefix + "CPU_SECONDS"
	EnvWallSeconds      = Prefix + "WALL_SECONDS"
	EnvBuildCPUSeconds  = Prefix + "BUILD_CPU_SECONDS"
	EnvBuildWallSeconds = Prefix + "BUILD_WALL_SECONDS"
	EnvFilters          = Prefix + "FILTERS"
	EnvLogLevel         = Prefix + "LOG_LEVEL"
)

var names = []string{
	EnvWorkRoot, EnvLauncher, EnvWorkers, EnvQueueSize, EnvDBPath,
	EnvNATSURL, EnvNATSSubject, EnvSQSQueueURL, EnvSQSResultURL, EnvAWSRegion,
	EnvLMSURL, EnvLMSToken, EnvFileCache,
	EnvCPUSeconds, EnvWallSeconds, EnvBuildCPUSeconds, EnvBuildWallSeconds,
	EnvFilters, EnvLogLevel,
}

// credentials consumed by the AWS SDK on behalf of the service.
var credentials = []string{
	"AWS_ACCESS_KEY_ID",
	"AWS_SECRET_ACCESS_KEY",
	"AWS_SESSION_TOKEN",
	"AWS_PROFILE",
	"AWS_SHARED_CREDENTIALS_FILE",
	"AWS_CONFIG_FILE",
	"AWS_WEB_IDENTITY_TOKEN_FILE",
	"AWS_CONTAINER_CREDENTIALS_FULL_URI",
	"AWS_CONTAINER_AUTHORIZATION_TOKEN",
}

// Config is the service configuration.
type Config struct {
	WorkRoot  string
	Launcher  string
	Workers   int
	QueueSize int
	DBPath    string
	FileCache string
	Filters   string
	LogLevel  string

	NATSURL     string
	NATSSubject string

	SQSQueueURL string
	// SQSResultURL receives the final state of every run.
	SQSResultURL string
	AWSRegion    string

	LMSURL   string
	LMSToken string

	TestLimits  api.Limits
	BuildLimits api.Limits
}

// Default returns the configuration used when no variables are set.
func Default(dirs *xdg.Dirs) *Config {
	return &Config{
		WorkRoot:    filepath.Join(os.TempDir(), AppName),
		Launcher:    "grader-sandbox",
		Workers:     runtime.NumCPU(),
		QueueSize:   64,
		DBPath:      filepath.Join(dirs.AppStateDir(AppName), "runs.db"),
		FileCache:   filepath.Join(dirs.AppCacheDir(AppName), "files"),
		LogLevel:    "info",
		NATSSubject: "grader.runs",
		AWSRegion:   "eu-central-1",
		TestLimits:  api.Limits{CPUSeconds: 10, WallSeconds: 20},
		BuildLimits: api.Limits{CPUSeconds: 60, WallSeconds: 120},
	}
}

// Load reads the given .env files (".env" when none are named) into the
// process environment, then builds the configuration from it. Missing
// .env files are not an error; variables already set are not overridden.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		err := godotenv.Load(f)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds the configuration from getenv over the defaults.
func FromEnv(getenv func(string) string) (*Config, error) {
	c := Default(xdg.FromEnv(getenv))
	p := parser{getenv: getenv}

	p.str(EnvWorkRoot, &c.WorkRoot)
	p.str(EnvLauncher, &c.Launcher)
	p.integer(EnvWorkers, &c.Workers)
	p.integer(EnvQueueSize, &c.QueueSize)
	p.str(EnvDBPath, &c.DBPath)
	p.str(EnvFileCache, &c.FileCache)
	p.str(EnvFilters, &c.Filters)
	p.str(EnvLogLevel, &c.LogLevel)
	p.str(EnvNATSURL, &c.NATSURL)
	p.str(EnvNATSSubject, &c.NATSSubject)
	p.str(EnvSQSQueueURL, &c.SQSQueueURL)
	p.str(EnvSQSResultURL, &c.SQSResultURL)
	p.str(EnvAWSRegion, &c.AWSRegion)
	p.str(EnvLMSURL, &c.LMSURL)
	p.str(EnvLMSToken, &c.LMSToken)
	p.seconds(EnvCPUSeconds, &c.TestLimits.CPUSeconds)
	p.seconds(EnvWallSeconds, &c.TestLimits.WallSeconds)
	p.seconds(EnvBuildCPUSeconds, &c.BuildLimits.CPUSeconds)
	p.seconds(EnvBuildWallSeconds, &c.BuildLimits.WallSeconds)

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("%s must be at least 1, got %d", EnvWorkers, c.Workers))
	}
	if c.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative, got %d", EnvQueueSize, c.QueueSize))
	}
	if c.WorkRoot == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty", EnvWorkRoot))
	}
	if c.LMSURL != "" && c.LMSToken == "" {
		errs = append(errs, fmt.Errorf("%s is required when %s is set", EnvLMSToken, EnvLMSURL))
	}
	return errors.Join(errs...)
}

// ReservedVars returns the variable names that must never reach
// sandboxed commands: every known GRADER_ name and the cloud credentials
// the service uses.
func ReservedVars() mapset.Set[string] {
	s := mapset.NewSet(names...)
	s.Append(credentials...)
	return s
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) str(name string, dst *string) {
	if v := strings.TrimSpace(p.getenv(name)); v != "" {
		*dst = v
	}
}

func (p *parser) integer(name string, dst *int) {
	v := strings.TrimSpace(p.getenv(name))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: %w", name, v, err))
		return
	}
	*dst = n
}

func (p *parser) seconds(name string, dst *float64) {
	v := strings.TrimSpace(p.getenv(name))
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: want positive seconds", name, v))
		return
	}
	*dst = f
}
