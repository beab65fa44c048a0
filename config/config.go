package config

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
)

type Config struct {
	MinIOBucket string        `yaml:"minio_bucket"`
	App         App           `yaml:"app"`
	DB          *sql.DB       `yaml:"db"`
	Queue       *RabbitMQ     `yaml:"rabbitmq"`
	Storage     *minio.Client `yaml:"storage"`
	Server      Server        `yaml:"server"`
	Scheduler   Scheduler     `yaml:"scheduler"`
	Bot         Bot           `yaml:"bot"`
	Recording   Recording     `yaml:"recording"`
	Speaking    Speaking      `yaml:"speaking"`
	Export      Export        `yaml:"export"`
	Browser     Browser       `yaml:"browser"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
	Workers  int    `yaml:"workers"`
}

type Scheduler struct {
	PollInterval       time.Duration `yaml:"poll_interval"`
	JoinBeforeStart    time.Duration `yaml:"join_before_start"`
	ImmediateJoinDelay time.Duration `yaml:"immediate_join_delay"`
	JoinGrace          time.Duration `yaml:"join_grace"`
	EndGrace           time.Duration `yaml:"end_grace"`
	DelayWarning       time.Duration `yaml:"delay_warning"`
}

type Bot struct {
	DisplayName         string        `yaml:"display_name"`
	MaxConcurrent       int           `yaml:"max_concurrent_meetings"`
	MaxJoinAfterStart   time.Duration `yaml:"max_join_after_start"`
	LobbyTimeout        time.Duration `yaml:"lobby_timeout"`
	MonitorInterval     time.Duration `yaml:"monitor_interval"`
	MonitorRecheckDelay time.Duration `yaml:"monitor_recheck_delay"`
	RejoinBackoff       time.Duration `yaml:"rejoin_backoff"`
	ManualMaxDuration   time.Duration `yaml:"manual_max_duration"`
	CleanupTimeout      time.Duration `yaml:"cleanup_timeout"`
	MaxRejoinAttempts   int           `yaml:"max_rejoin_attempts"`
}

type Recording struct {
	Enabled      bool          `yaml:"enabled"`
	Dir          string        `yaml:"dir"`
	TempDir      string        `yaml:"temp_dir"`
	FFmpegPath   string        `yaml:"ffmpeg_path"`
	PactlPath    string        `yaml:"pactl_path"`
	PulseSource  string        `yaml:"pulse_source"`
	MaxDuration  time.Duration `yaml:"max_duration"`
	StopGrace    time.Duration `yaml:"stop_grace"`
	VideoDisplay string        `yaml:"video_display"`
	VideoFrames  int           `yaml:"video_framerate"`
}

type Speaking struct {
	Enabled             bool          `yaml:"enabled"`
	GapThreshold        time.Duration `yaml:"gap_threshold"`
	SpeakingInterval    time.Duration `yaml:"speaking_interval"`
	ParticipantInterval time.Duration `yaml:"participant_interval"`
	CleanupInterval     time.Duration `yaml:"cleanup_interval"`
}

type Export struct {
	LocalDir     string `yaml:"local_dir"`
	Prefix       string `yaml:"prefix"`
	IndexBackend string `yaml:"index_backend"`
	IndexPath    string `yaml:"index_path"`
	UploadTries  uint   `yaml:"upload_tries"`
}

type Browser struct {
	Bin      string `yaml:"bin"`
	Headless bool   `yaml:"headless"`
	Width    int    `yaml:"width"`
	Height   int    `yaml:"height"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
}

func setDefaults() {
	viper.SetDefault("app.environment", "develop")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.workers", 2)

	viper.SetDefault("scheduler.poll_interval", 40*time.Second)
	viper.SetDefault("scheduler.join_before_start", time.Minute)
	viper.SetDefault("scheduler.immediate_join_delay", 5*time.Second)
	viper.SetDefault("scheduler.join_grace", 300*time.Second)
	viper.SetDefault("scheduler.end_grace", 60*time.Second)
	viper.SetDefault("scheduler.delay_warning", 60*time.Second)

	viper.SetDefault("bot.display_name", "Meeting Bot")
	viper.SetDefault("bot.max_concurrent_meetings", 5)
	viper.SetDefault("bot.max_join_after_start", 10*time.Minute)
	viper.SetDefault("bot.lobby_timeout", 600*time.Second)
	viper.SetDefault("bot.monitor_interval", 10*time.Second)
	viper.SetDefault("bot.monitor_recheck_delay", 5*time.Second)
	viper.SetDefault("bot.rejoin_backoff", 10*time.Second)
	viper.SetDefault("bot.manual_max_duration", 4*time.Hour)
	viper.SetDefault("bot.cleanup_timeout", 2*time.Minute)
	viper.SetDefault("bot.max_rejoin_attempts", 3)

	viper.SetDefault("recording.enabled", true)
	viper.SetDefault("recording.dir", "recordings")
	viper.SetDefault("recording.temp_dir", "recordings/temp")
	viper.SetDefault("recording.ffmpeg_path", "ffmpeg")
	viper.SetDefault("recording.pactl_path", "pactl")
	viper.SetDefault("recording.pulse_source", "")
	viper.SetDefault("recording.max_duration", 4*time.Hour)
	viper.SetDefault("recording.stop_grace", 5*time.Second)
	viper.SetDefault("recording.video_display", ":99")
	viper.SetDefault("recording.video_framerate", 15)

	viper.SetDefault("speaking.enabled", true)
	viper.SetDefault("speaking.gap_threshold", 1500*time.Millisecond)
	viper.SetDefault("speaking.speaking_interval", 100*time.Millisecond)
	viper.SetDefault("speaking.participant_interval", 2*time.Second)
	viper.SetDefault("speaking.cleanup_interval", 500*time.Millisecond)

	viper.SetDefault("export.local_dir", "transcripts/json")
	viper.SetDefault("export.prefix", "meetings")
	viper.SetDefault("export.index_backend", "json")
	viper.SetDefault("export.index_path", "data/meeting_database.json")
	viper.SetDefault("export.upload_tries", 3)

	viper.SetDefault("browser.headless", false)
	viper.SetDefault("browser.width", 1280)
	viper.SetDefault("browser.height", 720)

	viper.SetDefault("rabbitmq_kind", "direct")
	viper.SetDefault("rabbitmq_exchange", "meeting_bot_exchange")
}

func Load(path string) (*Config, error) {
	setDefaults()
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("MEETBOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var db *sql.DB
	if dsn := viper.GetString("postgresql_host"); dsn != "" {
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, err
		}
	}

	var rabbitmq *RabbitMQ
	if host := viper.GetString("rabbitmq_host"); host != "" {
		rabbitmq = &RabbitMQ{
			Host:         host,
			Port:         viper.GetInt("rabbitmq_port"),
			User:         viper.GetString("rabbitmq_user"),
			Pass:         viper.GetString("rabbitmq_pass"),
			Kind:         viper.GetString("rabbitmq_kind"),
			ExchangeName: viper.GetString("rabbitmq_exchange"),
		}
	}

	var minioClient *minio.Client
	if endpoint := viper.GetString("minio.url"); endpoint != "" {
		minioClient, err = minio.New(endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(viper.GetString("minio.access_id"), viper.GetString("minio.secret_access_key"), ""),
			Secure: viper.GetBool("minio.secure"),
			Region: viper.GetString("minio.region"),
		})
		if err != nil {
			return nil, err
		}
	}

	return &Config{
		MinIOBucket: viper.GetString("minio.bucket"),
		App: App{
			Environment: viper.GetString("app.environment"),
			Host:        viper.GetString("app.host"),
			Protocol:    viper.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort: viper.GetString("server.port"),
			Workers:  viper.GetInt("server.workers"),
		},
		Scheduler: Scheduler{
			PollInterval:       viper.GetDuration("scheduler.poll_interval"),
			JoinBeforeStart:    viper.GetDuration("scheduler.join_before_start"),
			ImmediateJoinDelay: viper.GetDuration("scheduler.immediate_join_delay"),
			JoinGrace:          viper.GetDuration("scheduler.join_grace"),
			EndGrace:           viper.GetDuration("scheduler.end_grace"),
			DelayWarning:       viper.GetDuration("scheduler.delay_warning"),
		},
		Bot: Bot{
			DisplayName:         viper.GetString("bot.display_name"),
			MaxConcurrent:       viper.GetInt("bot.max_concurrent_meetings"),
			MaxJoinAfterStart:   viper.GetDuration("bot.max_join_after_start"),
			LobbyTimeout:        viper.GetDuration("bot.lobby_timeout"),
			MonitorInterval:     viper.GetDuration("bot.monitor_interval"),
			MonitorRecheckDelay: viper.GetDuration("bot.monitor_recheck_delay"),
			RejoinBackoff:       viper.GetDuration("bot.rejoin_backoff"),
			ManualMaxDuration:   viper.GetDuration("bot.manual_max_duration"),
			CleanupTimeout:      viper.GetDuration("bot.cleanup_timeout"),
			MaxRejoinAttempts:   viper.GetInt("bot.max_rejoin_attempts"),
		},
		Recording: Recording{
			Enabled:      viper.GetBool("recording.enabled"),
			Dir:          viper.GetString("recording.dir"),
			TempDir:      viper.GetString("recording.temp_dir"),
			FFmpegPath:   viper.GetString("recording.ffmpeg_path"),
			PactlPath:    viper.GetString("recording.pactl_path"),
			PulseSource:  viper.GetString("recording.pulse_source"),
			MaxDuration:  viper.GetDuration("recording.max_duration"),
			StopGrace:    viper.GetDuration("recording.stop_grace"),
			VideoDisplay: viper.GetString("recording.video_display"),
			VideoFrames:  viper.GetInt("recording.video_framerate"),
		},
		Speaking: Speaking{
			Enabled:             viper.GetBool("speaking.enabled"),
			GapThreshold:        viper.GetDuration("speaking.gap_threshold"),
			SpeakingInterval:    viper.GetDuration("speaking.speaking_interval"),
			ParticipantInterval: viper.GetDuration("speaking.participant_interval"),
			CleanupInterval:     viper.GetDuration("speaking.cleanup_interval"),
		},
		Export: Export{
			LocalDir:     viper.GetString("export.local_dir"),
			Prefix:       viper.GetString("export.prefix"),
			IndexBackend: viper.GetString("export.index_backend"),
			IndexPath:    viper.GetString("export.index_path"),
			UploadTries:  viper.GetUint("export.upload_tries"),
		},
		Browser: Browser{
			Bin:      viper.GetString("browser.bin"),
			Headless: viper.GetBool("browser.headless"),
			Width:    viper.GetInt("browser.width"),
			Height:   viper.GetInt("browser.height"),
		},
		DB:      db,
		Queue:   rabbitmq,
		Storage: minioClient,
	}, nil
}
