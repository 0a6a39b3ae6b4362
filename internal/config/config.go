// Package config loads client and relay settings from flags, environment,
// .env and an optional config file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"meshcall/native/internal/domain"
)

// EnvPrefix prefixes every environment variable, e.g. MESHCALL_ROOM.
const EnvPrefix = "MESHCALL"

// Client holds the settings for `meshcall join`.
type Client struct {
	SignalURL string
	Room      string
	Name      string

	STUN           []string
	TURN           string
	TURNUser       string
	TURNPass       string
	ForceRelay     bool
	ICEFromServer  bool
	FilterLoopback bool

	Codec     string
	Media     string
	AudioFile string
	VideoFile string

	DisconnectGrace   time.Duration
	RetryTimeout      time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	ReconnectDelayMax time.Duration

	LogLevel  string
	LogFormat string
	Plain     bool
}

// Relay holds the settings for `meshcall relay`.
type Relay struct {
	Addr           string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	Mode           string
	AllowedOrigins []string

	STUN     []string
	TURN     string
	TURNUser string
	TURNPass string

	LogLevel  string
	LogFormat string
}

// NewViper returns a viper instance with defaults, environment binding and,
// when configFile is set, that file loaded. A .env file in the working
// directory is read first; it never overrides variables already set.
func NewViper(configFile string) (*viper.Viper, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("signal_url", "ws://localhost:5000/ws")
	v.SetDefault("stun", []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"})
	v.SetDefault("codec", "json")
	v.SetDefault("media", "silence")
	v.SetDefault("disconnect_grace", 5*time.Second)
	v.SetDefault("retry_timeout", 15*time.Second)
	v.SetDefault("reconnect_attempts", 5)
	v.SetDefault("reconnect_delay", time.Second)
	v.SetDefault("reconnect_delay_max", 5*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	v.SetDefault("addr", ":5000")
	v.SetDefault("redis_db", 0)
	v.SetDefault("mode", "release")
}

// LoadClient reads and validates the client settings.
func LoadClient(v *viper.Viper) (*Client, error) {
	cfg := &Client{
		SignalURL:         v.GetString("signal_url"),
		Room:              strings.TrimSpace(v.GetString("room")),
		Name:              strings.TrimSpace(v.GetString("name")),
		STUN:              v.GetStringSlice("stun"),
		TURN:              v.GetString("turn"),
		TURNUser:          v.GetString("turn_user"),
		TURNPass:          v.GetString("turn_pass"),
		ForceRelay:        v.GetBool("force_relay"),
		ICEFromServer:     v.GetBool("ice_from_server"),
		FilterLoopback:    v.GetBool("filter_loopback"),
		Codec:             v.GetString("codec"),
		Media:             v.GetString("media"),
		AudioFile:         v.GetString("audio_file"),
		VideoFile:         v.GetString("video_file"),
		DisconnectGrace:   v.GetDuration("disconnect_grace"),
		RetryTimeout:      v.GetDuration("retry_timeout"),
		ReconnectAttempts: v.GetInt("reconnect_attempts"),
		ReconnectDelay:    v.GetDuration("reconnect_delay"),
		ReconnectDelayMax: v.GetDuration("reconnect_delay_max"),
		LogLevel:          v.GetString("log_level"),
		LogFormat:         v.GetString("log_format"),
		Plain:             v.GetBool("plain"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Client) validate() error {
	var errs []error
	if c.Room == "" {
		errs = append(errs, errors.New("room is required"))
	}
	if c.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if u, err := url.Parse(c.SignalURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("signal_url %q must be a ws:// or wss:// URL", c.SignalURL))
	}
	if c.Codec != "json" && c.Codec != "msgpack" {
		errs = append(errs, fmt.Errorf("codec %q must be json or msgpack", c.Codec))
	}
	if c.Media != "silence" && c.Media != "file" {
		errs = append(errs, fmt.Errorf("media %q must be silence or file", c.Media))
	}
	if c.Media == "file" && c.AudioFile == "" && c.VideoFile == "" {
		errs = append(errs, errors.New("media file needs audio_file or video_file"))
	}
	if c.ForceRelay && c.TURN == "" && !c.ICEFromServer {
		errs = append(errs, errors.New("force_relay needs a turn server"))
	}
	if c.ReconnectAttempts < 0 {
		errs = append(errs, errors.New("reconnect_attempts must not be negative"))
	}
	if c.DisconnectGrace <= 0 || c.RetryTimeout <= 0 {
		errs = append(errs, errors.New("disconnect_grace and retry_timeout must be positive"))
	}
	return errors.Join(errs...)
}

// ICEServers returns the configured STUN and TURN servers.
func (c *Client) ICEServers() []domain.ICEServer {
	return iceServers(c.STUN, c.TURN, c.TURNUser, c.TURNPass)
}

// LoadRelay reads and validates the relay settings.
func LoadRelay(v *viper.Viper) (*Relay, error) {
	cfg := &Relay{
		Addr:           v.GetString("addr"),
		RedisAddr:      v.GetString("redis_addr"),
		RedisPassword:  v.GetString("redis_password"),
		RedisDB:        v.GetInt("redis_db"),
		Mode:           v.GetString("mode"),
		AllowedOrigins: v.GetStringSlice("allowed_origins"),
		STUN:           v.GetStringSlice("stun"),
		TURN:           v.GetString("turn"),
		TURNUser:       v.GetString("turn_user"),
		TURNPass:       v.GetString("turn_pass"),
		LogLevel:       v.GetString("log_level"),
		LogFormat:      v.GetString("log_format"),
	}
	if cfg.Addr == "" {
		return nil, errors.New("addr is required")
	}
	if cfg.Mode != "debug" && cfg.Mode != "release" {
		return nil, fmt.Errorf("mode %q must be debug or release", cfg.Mode)
	}
	return cfg, nil
}

// ICEServers returns the servers the relay hands to clients.
func (r *Relay) ICEServers() []domain.ICEServer {
	return iceServers(r.STUN, r.TURN, r.TURNUser, r.TURNPass)
}

func iceServers(stun []string, turn, user, pass string) []domain.ICEServer {
	var out []domain.ICEServer
	if len(stun) > 0 {
		out = append(out, domain.ICEServer{URLs: stun})
	}
	if turn != "" {
		out = append(out, domain.ICEServer{URLs: []string{turn}, Username: user, Credential: pass})
	}
	if len(out) == 0 {
		return domain.DefaultICEServers()
	}
	return out
}
