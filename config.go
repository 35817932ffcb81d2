package vitrine

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all settings for a vitrine server.
type Config struct {
	Addr    string // listen address (default ":3000")
	BaseURL string // canonical URL used in mail bodies and logs

	DatabasePath string // SQLite path (default "data/vitrine.db")
	UploadDir    string // promoted upload directory (default "public/uploads")

	MaxFileSize   int64 // per-file upload cap in bytes (default 5 MB)
	MaxExtraFiles int   // extra images per post (default 5)

	AdminUsername string // admin login name
	AdminPassword string // required for the admin login endpoint
	TokenSecret   string // HS256 signing secret for issued tokens
	TokenTTL      time.Duration
	ProviderURL   string // when set, tokens are verified remotely instead

	FormRateMax    int           // form submissions per window per IP
	FormRateWindow time.Duration // default 15 min

	MailHost     string
	MailPort     int
	MailUsername string
	MailPassword string
	MailFrom     string
	MailTo       string
}

// LoadConfig reads vitrine.toml (optional) plus VITRINE_* environment
// overrides and applies defaults.
func LoadConfig() (Config, error) {
	v := viper.New()
	v.SetConfigName("vitrine")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("..")

	v.SetEnvPrefix("vitrine")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.base_url", "http://localhost:3000")
	v.SetDefault("database.path", "data/vitrine.db")
	v.SetDefault("uploads.dir", "public/uploads")
	v.SetDefault("uploads.max_file_size", 5<<20)
	v.SetDefault("uploads.max_extra_files", 5)
	v.SetDefault("auth.token_ttl", "720h")
	v.SetDefault("form.rate_max", 10)
	v.SetDefault("form.rate_window", "15m")
	v.SetDefault("mail.port", 587)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	cfg := Config{
		Addr:           v.GetString("server.addr"),
		BaseURL:        strings.TrimSuffix(v.GetString("server.base_url"), "/"),
		DatabasePath:   v.GetString("database.path"),
		UploadDir:      v.GetString("uploads.dir"),
		MaxFileSize:    v.GetInt64("uploads.max_file_size"),
		MaxExtraFiles:  v.GetInt("uploads.max_extra_files"),
		AdminUsername:  v.GetString("admin.username"),
		AdminPassword:  v.GetString("admin.password"),
		TokenSecret:    v.GetString("auth.token_secret"),
		TokenTTL:       v.GetDuration("auth.token_ttl"),
		ProviderURL:    v.GetString("auth.provider_url"),
		FormRateMax:    v.GetInt("form.rate_max"),
		FormRateWindow: v.GetDuration("form.rate_window"),
		MailHost:       v.GetString("mail.host"),
		MailPort:       v.GetInt("mail.port"),
		MailUsername:   v.GetString("mail.username"),
		MailPassword:   v.GetString("mail.password"),
		MailFrom:       v.GetString("mail.from"),
		MailTo:         v.GetString("mail.to"),
	}
	return cfg, nil
}
