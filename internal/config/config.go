package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"videograb/internal/dirs"
	"videograb/internal/fetch"
	"videograb/internal/resolver"
	"videograb/internal/util"
)

// EnvPrefix namespaces environment overrides: VIDEOGRAB_API_KEY sets api.key.
const EnvPrefix = "VIDEOGRAB"

// Config is the resolved runtime configuration.
type Config struct {
	Server     Server
	Storage    Storage
	Janitor    Janitor
	Fetch      Fetch
	YTDLP      YTDLP
	API        API
	Scrape     Scrape
	RateLimit  RateLimit
	Log        Log
	Strategies map[util.Platform][]string

	Verbose bool
	Jobs    int
}

type Server struct {
	Addr              string
	PublicBaseURL     string // used to build absolute download links; empty = request host
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	ShutdownTimeout   time.Duration
}

type Storage struct {
	Dir string
}

type Janitor struct {
	Interval time.Duration
	MaxAge   time.Duration
}

type Fetch struct {
	Timeout         time.Duration // metadata requests
	DownloadTimeout time.Duration // stream transfers and yt-dlp runs
	ChunkSize       int
	UserAgent       string
}

type YTDLP struct {
	Binary  string
	Cookies string
}

type API struct {
	BaseURL    string
	Host       string
	Key        string
	MaxStreams int
}

// Enabled reports whether the paid API strategy can be registered.
func (a API) Enabled() bool { return strings.TrimSpace(a.Key) != "" }

type Scrape struct {
	TikTokOEmbed string
}

type RateLimit struct {
	RPS   float64 // 0 disables
	Burst int
}

type Log struct {
	Level  string
	Format string
}

// SetDefaults registers every key with its default so env overrides resolve
// through AutomaticEnv.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.public_base_url", "")
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Minute)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("storage.dir", filepath.Join(os.TempDir(), "videograb_downloads"))

	v.SetDefault("janitor.interval", 10*time.Minute)
	v.SetDefault("janitor.max_age", time.Hour)

	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.download_timeout", fetch.DefaultTimeout)
	v.SetDefault("fetch.chunk_size", fetch.DefaultChunkSize)
	v.SetDefault("fetch.user_agent", fetch.DefaultUserAgent)

	v.SetDefault("ytdlp.binary", "")
	v.SetDefault("ytdlp.cookies", "")

	v.SetDefault("api.base_url", "https://social-download-all-in-one.p.rapidapi.com/v1/social/autolink")
	v.SetDefault("api.host", "")
	v.SetDefault("api.key", "")
	v.SetDefault("api.max_streams", 5)

	v.SetDefault("scrape.tiktok_oembed", "https://www.tiktok.com/oembed")

	v.SetDefault("ratelimit.rps", 2.0)
	v.SetDefault("ratelimit.burst", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	for p, names := range resolver.DefaultChains() {
		v.SetDefault("strategies."+string(p), names)
	}

	v.SetDefault("verbose", false)
	v.SetDefault("jobs", 2)
}

// LoadDotEnv loads .env and .env.local from the working directory. Missing
// files are ignored; variables already set in the environment win.
func LoadDotEnv() error {
	for _, f := range []string{".env.local", ".env"} {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Init wires the global Viper instance with dotenv files, config paths, env,
// defaults and flag bindings. A missing config file is not an error.
func Init(root *cobra.Command) error {
	if err := LoadDotEnv(); err != nil {
		return err
	}

	v := viper.GetViper()
	SetDefaults(v)

	if cfgFile, _ := root.PersistentFlags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if cfgDir, err := dirs.ConfigDir(); err == nil {
			v.AddConfigPath(cfgDir)
		}
		v.AddConfigPath(".")
		v.SetConfigName("config") // config.{yaml|yml|json|toml}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	pf := root.PersistentFlags()
	for key, flag := range map[string]string{
		"storage.dir":  "storage-dir",
		"ytdlp.binary": "dl-binary",
		"verbose":      "verbose",
		"log.level":    "log-level",
		"log.format":   "log-format",
		"jobs":         "jobs",
	} {
		if f := pf.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind --%s: %w", flag, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// Load reads the global Viper instance.
func Load() (Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom builds and validates a Config from v.
func LoadFrom(v *viper.Viper) (Config, error) {
	c := Config{
		Server: Server{
			Addr:              v.GetString("server.addr"),
			PublicBaseURL:     strings.TrimRight(v.GetString("server.public_base_url"), "/"),
			ReadHeaderTimeout: v.GetDuration("server.read_header_timeout"),
			WriteTimeout:      v.GetDuration("server.write_timeout"),
			ShutdownTimeout:   v.GetDuration("server.shutdown_timeout"),
		},
		Storage: Storage{Dir: v.GetString("storage.dir")},
		Janitor: Janitor{
			Interval: v.GetDuration("janitor.interval"),
			MaxAge:   v.GetDuration("janitor.max_age"),
		},
		Fetch: Fetch{
			Timeout:         v.GetDuration("fetch.timeout"),
			DownloadTimeout: v.GetDuration("fetch.download_timeout"),
			ChunkSize:       v.GetInt("fetch.chunk_size"),
			UserAgent:       v.GetString("fetch.user_agent"),
		},
		YTDLP: YTDLP{
			Binary:  v.GetString("ytdlp.binary"),
			Cookies: v.GetString("ytdlp.cookies"),
		},
		API: API{
			BaseURL:    v.GetString("api.base_url"),
			Host:       v.GetString("api.host"),
			Key:        v.GetString("api.key"),
			MaxStreams: v.GetInt("api.max_streams"),
		},
		Scrape:    Scrape{TikTokOEmbed: v.GetString("scrape.tiktok_oembed")},
		RateLimit: RateLimit{RPS: v.GetFloat64("ratelimit.rps"), Burst: v.GetInt("ratelimit.burst")},
		Log:       Log{Level: v.GetString("log.level"), Format: v.GetString("log.format")},
		Verbose:   v.GetBool("verbose"),
		Jobs:      v.GetInt("jobs"),
	}

	c.Strategies = make(map[util.Platform][]string, len(util.Platforms()))
	for _, p := range util.Platforms() {
		c.Strategies[p] = splitList(v.GetStringSlice("strategies." + string(p)))
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// splitList accepts both YAML lists and "a,b" / "a b" env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, s := range strings.FieldsFunc(item, func(r rune) bool { return r == ',' || r == ' ' }) {
			out = append(out, strings.ToLower(strings.TrimSpace(s)))
		}
	}
	return out
}

// Validate checks ranges and strategy names.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr must not be empty"))
	}
	if c.Server.PublicBaseURL != "" {
		if _, ok := util.ParseLooseURL(c.Server.PublicBaseURL); !ok {
			errs = append(errs, fmt.Errorf("server.public_base_url %q is not an http(s) URL", c.Server.PublicBaseURL))
		}
	}
	if c.Storage.Dir == "" {
		errs = append(errs, errors.New("storage.dir must not be empty"))
	}
	if c.Janitor.Interval <= 0 || c.Janitor.MaxAge <= 0 {
		errs = append(errs, errors.New("janitor.interval and janitor.max_age must be positive"))
	}
	if c.Fetch.Timeout <= 0 || c.Fetch.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("fetch.timeout and fetch.download_timeout must be positive"))
	}
	if c.Fetch.ChunkSize <= 0 {
		errs = append(errs, errors.New("fetch.chunk_size must be positive"))
	}
	if c.API.MaxStreams <= 0 {
		errs = append(errs, errors.New("api.max_streams must be positive"))
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("ratelimit values must not be negative"))
	}
	if c.Jobs <= 0 {
		errs = append(errs, errors.New("jobs must be positive"))
	}

	known := map[string]bool{
		resolver.NameLibrary: true, resolver.NameSubprocess: true,
		resolver.NameScrape: true, resolver.NameAPI: true,
	}
	for p, names := range c.Strategies {
		if len(names) == 0 || len(names) > resolver.MaxChainLen {
			errs = append(errs, fmt.Errorf("strategies.%s: want 1 to %d strategies, got %d", p, resolver.MaxChainLen, len(names)))
		}
		for _, n := range names {
			if !known[n] {
				errs = append(errs, fmt.Errorf("strategies.%s: unknown strategy %q", p, n))
			}
			if n == resolver.NameLibrary && p != util.PlatformYouTube {
				errs = append(errs, fmt.Errorf("strategies.%s: the library strategy only handles youtube", p))
			}
		}
	}
	return errors.Join(errs...)
}
