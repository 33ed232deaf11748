package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	SiteMgstage = "mgstage"
	SiteNanairo = "nanairo"
)

type MainConfig struct {
	Site string `mapstructure:"site"`

	// catalog site identity
	Uid           string `mapstructure:"uid"`
	DeviceId      string `mapstructure:"device_id"`
	ShopId        string `mapstructure:"shop_id"`
	Quality       string `mapstructure:"quality"`
	PlayerVersion string `mapstructure:"player_version"`
	SiteTag       string `mapstructure:"site_tag"`
	SiteUsername  string `mapstructure:"mgs_username"`
	SitePassword  string `mapstructure:"mgs_password"`

	// player site session
	Cookie   string `mapstructure:"cookie"`
	Language string `mapstructure:"language"`

	Proxy           string `mapstructure:"proxy"`
	DownloadThreads int    `mapstructure:"download_threads"`
	ApiRateLimit    int    `mapstructure:"api_rate_limit"`
	MaxToolProcs    int    `mapstructure:"max_tool_procs"`
	StripEmoji      bool   `mapstructure:"strip_emoji"`

	OutputDir    string `mapstructure:"output_dir"`
	DecryptedDir string `mapstructure:"decrypted_dir"`
	TempDir      string `mapstructure:"temp_dir"`

	DecryptToolPath string   `mapstructure:"jav_it_path"`
	SegmentToolPath string   `mapstructure:"n_m3u8dl_path"`
	SegmentToolArgs []string `mapstructure:"n_m3u8dl_args"`

	StartId *int     `mapstructure:"start_id"`
	EndId   *int     `mapstructure:"end_id"`
	Ids     []string `mapstructure:"ids"`

	RedisHost   string `mapstructure:"redis_host"`
	LogFile     string `mapstructure:"log_file"`
	LogFileSize int    `mapstructure:"log_file_size"`
	LogLevel    string `mapstructure:"log_level"`
	LogAgent    bool   `mapstructure:"log_agent"`

	// AnchorDir is where relative tool paths are resolved from. It is not read from the file.
	AnchorDir   string                 `mapstructure:"-"`
	ExtraConfig map[string]interface{}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site", SiteMgstage)
	v.SetDefault("shop_id", "prestigebb")
	v.SetDefault("quality", "high")
	v.SetDefault("player_version", "1.2.3")
	v.SetDefault("site_tag", "mgs")
	v.SetDefault("language", "ja")
	v.SetDefault("download_threads", 1)
	v.SetDefault("api_rate_limit", 2)
	v.SetDefault("max_tool_procs", 2)
	v.SetDefault("output_dir", "downloaded")
	v.SetDefault("decrypted_dir", "decrypted")
	v.SetDefault("temp_dir", "temp")
	v.SetDefault("jav_it_path", "./jav-it.exe")
	v.SetDefault("n_m3u8dl_path", "./N_m3u8DL-RE.exe")
	v.SetDefault("log_file", "vodfetch.log")
	v.SetDefault("log_file_size", 50)
	v.SetDefault("log_level", "info")
}

// Loader owns the viper instance backing one config file.
type Loader struct {
	v       *viper.Viper
	path    string
	changed int32
}

// flag name -> config key
var flagBindings = map[string]string{
	"proxy":   "proxy",
	"threads": "download_threads",
	"output":  "output_dir",
	"cookie":  "cookie",
	"site":    "site",
}

func NewLoader(path string, flags *pflag.FlagSet) (*Loader, error) {
	l := &Loader{v: viper.New(), path: path}
	setDefaults(l.v)
	l.v.SetConfigType("json")
	l.v.SetConfigFile(path)
	if flags != nil {
		for name, key := range flagBindings {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := l.v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if _, err := os.Stat(path); err != nil {
		logrus.Warnf("Config file %s not found, using defaults and flags", path)
		return l, nil
	}
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config file error: %w", err)
	}
	l.v.OnConfigChange(func(in fsnotify.Event) {
		atomic.StoreInt32(&l.changed, 1)
		logrus.Warnf("Config file %s changed (%s), new values take effect on next run", in.Name, in.Op)
	})
	l.v.WatchConfig()
	return l, nil
}

// Changed reports whether the file was modified since it was loaded.
func (l *Loader) Changed() bool {
	return atomic.LoadInt32(&l.changed) == 1
}

// extraConfigHook collects keys with no matching struct field into ExtraConfig.
func extraConfigHook(inType reflect.Type, outType reflect.Type, input interface{}) (interface{}, error) {
	if inType.Kind() != reflect.Map || outType.Kind() != reflect.Struct {
		return input, nil
	}
	inputMap, ok := input.(map[string]interface{})
	if !ok {
		return input, nil
	}
	if _, ok := outType.FieldByName("ExtraConfig"); !ok {
		return input, nil
	}
	fieldsMap := make(map[string]struct{}, outType.NumField())
	for i := 0; i < outType.NumField(); i++ {
		field := outType.Field(i)
		name := strings.Split(field.Tag.Get("mapstructure"), ",")[0]
		if name == "" {
			name = field.Name
		}
		fieldsMap[strings.ToLower(name)] = struct{}{}
	}
	extraConfig := make(map[string]interface{}, 5)
	for key, val := range inputMap {
		if _, ok := fieldsMap[strings.ToLower(key)]; !ok {
			extraConfig[key] = val
		}
	}
	inputMap["ExtraConfig"] = extraConfig
	return inputMap, nil
}

// Load decodes the current settings and validates them.
func (l *Loader) Load() (*MainConfig, error) {
	conf := &MainConfig{}
	err := l.v.Unmarshal(conf, func(c *mapstructure.DecoderConfig) {
		c.DecodeHook = mapstructure.ComposeDecodeHookFunc(extraConfigHook, c.DecodeHook)
	})
	if err != nil {
		return nil, fmt.Errorf("struct config error: %w", err)
	}
	conf.Site = strings.ToLower(strings.TrimSpace(conf.Site))
	conf.AnchorDir = executableDir()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		wd, _ := os.Getwd()
		return wd
	}
	return filepath.Dir(exe)
}

// Validate fails fast on settings no job could run without.
func (c *MainConfig) Validate() error {
	switch c.Site {
	case SiteMgstage:
		if c.Uid == "" {
			return fmt.Errorf("missing required config field: uid")
		}
		if c.DeviceId == "" {
			return fmt.Errorf("missing required config field: device_id")
		}
	case SiteNanairo:
		if c.Cookie == "" {
			logrus.Warn("No cookie configured - some videos may not be accessible")
		}
	default:
		return fmt.Errorf("unknown site %q (expected %s or %s)", c.Site, SiteMgstage, SiteNanairo)
	}
	if c.DownloadThreads < 1 {
		return fmt.Errorf("invalid download_threads %d: must be at least 1", c.DownloadThreads)
	}
	if c.ApiRateLimit < 0 {
		return fmt.Errorf("invalid api_rate_limit %d", c.ApiRateLimit)
	}
	if c.MaxToolProcs < 1 {
		c.MaxToolProcs = 1
	}
	return nil
}

// ResolveToolPath anchors a relative executable path at AnchorDir.
func (c *MainConfig) ResolveToolPath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	p = strings.TrimPrefix(strings.TrimPrefix(p, "./"), ".\\")
	return filepath.Join(c.AnchorDir, p)
}

// IsNumericSite tells whether identifiers for the site are integers.
func (c *MainConfig) IsNumericSite() bool {
	return c.Site == SiteNanairo
}
