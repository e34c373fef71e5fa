package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/Capitan-Parrot/waste-sorter/internal/actuator"
	"github.com/Capitan-Parrot/waste-sorter/internal/api"
	"github.com/Capitan-Parrot/waste-sorter/internal/capture"
	"github.com/Capitan-Parrot/waste-sorter/internal/commandmap"
	"github.com/Capitan-Parrot/waste-sorter/internal/config"
	"github.com/Capitan-Parrot/waste-sorter/internal/database"
	"github.com/Capitan-Parrot/waste-sorter/internal/kafka"
	"github.com/Capitan-Parrot/waste-sorter/internal/mqtt"
	"github.com/Capitan-Parrot/waste-sorter/internal/runner"
	"github.com/Capitan-Parrot/waste-sorter/internal/s3"
	"github.com/Capitan-Parrot/waste-sorter/internal/services/detection"
	"github.com/Capitan-Parrot/waste-sorter/internal/trigger"
)

func main() {
	app := &cli.App{
		Name:  "sorter",
		Usage: "drive the waste sorting bins from camera detections",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML configuration file", EnvVars: []string{"CONFIG_PATH"}},
			&cli.StringFlag{Name: "port", Usage: "serial port of the bin controller (e.g. /dev/ttyACM0, COM3)"},
			&cli.IntFlag{Name: "baud", Value: actuator.DefaultBaud, Usage: "serial baud rate"},
			&cli.DurationFlag{Name: "cooldown", Value: trigger.DefaultCooldown, Usage: "minimum time between actuations"},
			&cli.DurationFlag{Name: "pause", Value: trigger.DefaultPause, Usage: "quiet period after each command byte"},
			&cli.Float64Flag{Name: "conf-thres", Value: 0.4, Usage: "minimum detection confidence"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
			&cli.BoolFlag{Name: "log-json", Usage: "log in JSON"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	if c.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	}
	if c.Bool("log-json") {
		log.SetFormatter(&log.JSONFormatter{})
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	link := actuator.New(actuator.Options{
		Port:         cfg.Serial.Port,
		Baud:         cfg.Serial.Baud,
		WarmUp:       cfg.Serial.WarmUp,
		WriteTimeout: cfg.Serial.WriteTimeout,
	})
	// it's annoying to reconnect to the board if the port is not closed
	defer func() {
		if err := link.Close(); err != nil {
			log.Warnf("Main: %v", err)
		}
	}()
	if err := link.Connect(ctx); err != nil {
		log.Errorf("Main: actuator on %q unavailable, detection continues without actuation: %v", link.Port(), err)
	}

	coordinator := trigger.New(link, commandmap.Default, cfg.Trigger.Cooldown, cfg.Trigger.Pause)

	var s3Client *s3.Client
	if cfg.Minio.Endpoint != "" {
		s3Client, err = s3.NewMinioClient(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.ResultsBucket, cfg.Minio.Secure)
		if err != nil {
			return err
		}
	}

	source, err := openSource(ctx, cfg, s3Client)
	if err != nil {
		return err
	}
	defer source.Close()

	detector := detection.NewClient(cfg.Detection.Endpoint, cfg.Detection.Timeout)

	r := runner.New(source, detector, coordinator, link, runner.Options{
		SessionID:         cfg.SessionID,
		MinConfidence:     cfg.Detection.MinConfidence,
		MaxRateHz:         cfg.Detection.MaxRateHz,
		Retries:           cfg.Detection.Retries,
		HeartbeatInterval: cfg.Runner.HeartbeatInterval,
		ReconnectInterval: cfg.Runner.ReconnectInterval,
	})
	if s3Client != nil && cfg.Runner.ArchiveResults {
		r.SetArchive(s3Client)
	}

	var journal api.Journal
	if cfg.Postgres.DSN != "" {
		db, err := database.New(cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer db.Close()
		if err := db.Init(); err != nil {
			return fmt.Errorf("init postgres: %w", err)
		}
		r.AddSink(db)
		journal = db
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventTopic, cfg.Kafka.HeartbeatTopic)
		if err != nil {
			return fmt.Errorf("create Kafka producer: %w", err)
		}
		defer producer.Close()
		r.AddSink(producer)
		r.SetHeartbeats(producer)

		if cfg.Kafka.ControlTopic != "" {
			consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.ControlTopic)
			if err != nil {
				return fmt.Errorf("create Kafka consumer: %w", err)
			}
			defer consumer.Close()
			consumer.StartListening(ctx)
			go r.ListenControl(ctx, consumer.Messages())
		}
	}

	if cfg.MQTT.Broker != "" {
		clientID := cfg.MQTT.ClientID
		if clientID == "" {
			clientID = cfg.SessionID
		}
		emitter, err := mqtt.Connect(cfg.MQTT.Broker, clientID, cfg.MQTT.TopicPrefix)
		if err != nil {
			log.Warnf("Main: MQTT disabled: %v", err)
		} else {
			defer emitter.Close()
			r.AddSink(emitter)
		}
	}

	if cfg.API.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.API.Addr,
			Handler:           api.NewHandlers(r, journal).Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Printf("Starting sorter API server on %s", cfg.API.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("API server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	err = r.Run(ctx)
	log.Println("Завершение работы...")
	return err
}

func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("port") {
		cfg.Serial.Port = c.String("port")
	}
	if c.IsSet("baud") {
		cfg.Serial.Baud = c.Int("baud")
	}
	if c.IsSet("cooldown") {
		cfg.Trigger.Cooldown = c.Duration("cooldown")
	}
	if c.IsSet("pause") {
		cfg.Trigger.Pause = c.Duration("pause")
	}
	if c.IsSet("conf-thres") {
		cfg.Detection.MinConfidence = c.Float64("conf-thres")
	}
}

func openSource(ctx context.Context, cfg *config.Config, s3Client *s3.Client) (capture.Source, error) {
	switch cfg.Capture.Kind {
	case config.CaptureBucket:
		bucket, prefix, err := s3.ParseLocation(cfg.Capture.Location)
		if err != nil {
			return nil, err
		}
		skip := 0
		if cfg.Capture.Resume {
			if skip, err = s3Client.CountResults(ctx, cfg.SessionID); err != nil {
				return nil, err
			}
		}
		return capture.NewBucketSource(ctx, s3Client, bucket, prefix, skip)
	case config.CaptureDir:
		return capture.NewDirSource(cfg.Capture.Location)
	default:
		return capture.NewSnapshotSource(cfg.Capture.Location, cfg.Capture.Interval, cfg.Capture.MaxFailures), nil
	}
}
