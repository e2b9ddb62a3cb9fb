package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Feed struct {
		URL             string
		IntervalMinutes int
	}
	Download struct {
		DataDir       string
		MoveCommand   string
		PublicBaseURL string
	}
	Aria2 struct {
		BinaryPath            string
		ConfPath              string
		RPCURL                string
		RPCSecret             string
		StartupTimeoutSeconds int
	}
	Notify struct {
		Endpoint string
	}
	Storage struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
	Auth struct {
		JWTSecret         string
		AdminUsername     string
		AdminPasswordHash string
		TokenTTLMinutes   int
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("EPISODED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("database.path", "data/episoded.db")
	v.SetDefault("feed.url", "")
	v.SetDefault("feed.intervalminutes", 3)
	v.SetDefault("download.datadir", "data/downloads")
	v.SetDefault("download.movecommand", "")
	v.SetDefault("download.publicbaseurl", "")
	v.SetDefault("aria2.binarypath", "aria2c")
	v.SetDefault("aria2.confpath", "")
	v.SetDefault("aria2.rpcurl", "")
	v.SetDefault("aria2.rpcsecret", "")
	v.SetDefault("aria2.startuptimeoutseconds", 15)
	v.SetDefault("notify.endpoint", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "episodes")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.adminusername", "admin")
	v.SetDefault("auth.adminpasswordhash", "")
	v.SetDefault("auth.tokenttlminutes", 720)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Feed.IntervalMinutes <= 0 {
		cfg.Feed.IntervalMinutes = 3
	}

	return cfg, nil
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
