// Package config loads framecast settings from config.yaml and FRAMECAST_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"framecast/internal/camera"
)

// Camera defaults
const (
	DefaultWidth   = 640
	DefaultHeight  = 360
	DefaultFPS     = 30
	DefaultQuality = 50
	DefaultHost    = "0.0.0.0"
	DefaultPort    = 8080
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid configuration")

// CameraConfig is one distribution instance: a device and the HTTP
// endpoint that serves it
type CameraConfig struct {
	Name    string `mapstructure:"name"`
	Device  string `mapstructure:"device"`
	Width   int    `mapstructure:"width"`
	Height  int    `mapstructure:"height"`
	FPS     int    `mapstructure:"fps"`
	Quality int    `mapstructure:"quality"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// Addr returns the listen address
func (c CameraConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Source returns the capture settings
func (c CameraConfig) Source() camera.Config {
	return camera.Config{
		Name:    c.Name,
		Device:  c.Device,
		Width:   c.Width,
		Height:  c.Height,
		FPS:     c.FPS,
		Quality: c.Quality,
	}
}

type Config struct {
	Log struct {
		Debug bool `mapstructure:"debug"`
	} `mapstructure:"log"`
	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`
	GRPC struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"grpc"`
	Database struct {
		Path string `mapstructure:"path"`
		// Retention prunes journal rows older than this; zero keeps everything
		Retention time.Duration `mapstructure:"retention"`
	} `mapstructure:"database"`
	Auth struct {
		Enabled   bool          `mapstructure:"enabled"`
		Username  string        `mapstructure:"username"`
		Password  string        `mapstructure:"password"`
		JWTSecret string        `mapstructure:"jwt_secret"`
		JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
	} `mapstructure:"auth"`

	// Camera configures a single instance from FRAMECAST_CAMERA_* when no
	// cameras list is given
	Camera  CameraConfig   `mapstructure:"camera"`
	Cameras []CameraConfig `mapstructure:"cameras"`
}

// Load reads configuration. An empty path searches for config.yaml in the
// working directory and /etc/framecast; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FRAMECAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Register keys
	for _, key := range []string{
		"log.debug",
		"metrics.addr",
		"grpc.addr",
		"database.path", "database.retention",
		"auth.enabled", "auth.username", "auth.password", "auth.jwt_secret", "auth.jwt_expiry",
		"camera.name", "camera.device", "camera.width", "camera.height",
		"camera.fps", "camera.quality", "camera.host", "camera.port",
	} {
		_ = v.BindEnv(key)
	}

	// Defaults
	v.SetDefault("log.debug", false)
	v.SetDefault("metrics.addr", ":9091")
	v.SetDefault("grpc.addr", "")
	v.SetDefault("database.path", "")
	v.SetDefault("database.retention", 7*24*time.Hour)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.username", "admin")
	v.SetDefault("auth.jwt_expiry", 24*time.Hour)
	v.SetDefault("camera.name", "camera")
	v.SetDefault("camera.device", "/dev/video0")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/framecast")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		log.Println("[Config] config.yaml not found, using environment variables only")
	} else {
		log.Printf("[Config] Loaded %s", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if len(cfg.Cameras) == 0 {
		cfg.Cameras = []CameraConfig{cfg.Camera}
	}
	for i := range cfg.Cameras {
		cfg.Cameras[i].applyDefaults(i)
	}

	return &cfg, nil
}

func (c *CameraConfig) applyDefaults(index int) {
	if c.Name == "" {
		c.Name = fmt.Sprintf("camera%d", index)
	}
	if c.Width == 0 {
		c.Width = DefaultWidth
	}
	if c.Height == 0 {
		c.Height = DefaultHeight
	}
	if c.FPS == 0 {
		c.FPS = DefaultFPS
	}
	if c.Quality == 0 {
		c.Quality = DefaultQuality
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort + index
	}
}

// Validate rejects settings the capture loop or HTTP servers cannot run with
func (c *Config) Validate() error {
	if len(c.Cameras) == 0 {
		return fmt.Errorf("%w: no cameras configured", ErrInvalid)
	}

	names := make(map[string]bool)
	ports := make(map[int]bool)
	for _, cam := range c.Cameras {
		switch {
		case cam.Device == "":
			return fmt.Errorf("%w: camera %q: device is required", ErrInvalid, cam.Name)
		case cam.FPS <= 0:
			return fmt.Errorf("%w: camera %q: fps must be positive, got %d", ErrInvalid, cam.Name, cam.FPS)
		case cam.Quality < 1 || cam.Quality > 100:
			return fmt.Errorf("%w: camera %q: quality must be 1-100, got %d", ErrInvalid, cam.Name, cam.Quality)
		case cam.Width <= 0 || cam.Height <= 0:
			return fmt.Errorf("%w: camera %q: invalid size %dx%d", ErrInvalid, cam.Name, cam.Width, cam.Height)
		case cam.Port <= 0 || cam.Port > 65535:
			return fmt.Errorf("%w: camera %q: invalid port %d", ErrInvalid, cam.Name, cam.Port)
		}

		if names[cam.Name] {
			return fmt.Errorf("%w: duplicate camera name %q", ErrInvalid, cam.Name)
		}
		names[cam.Name] = true

		if ports[cam.Port] {
			return fmt.Errorf("%w: camera %q: port %d already in use", ErrInvalid, cam.Name, cam.Port)
		}
		ports[cam.Port] = true
	}

	if c.Auth.Enabled && c.Auth.Password == "" {
		return fmt.Errorf("%w: auth.password is required when auth is enabled", ErrInvalid)
	}
	return nil
}
