package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/go-redis/redis/v8"
	amqp "github.com/rabbitmq/amqp091-go"

	"resqfood/config"
	"resqfood/models"
	"resqfood/services"
)

// eventgen публикует синтетические жизненные циклы постов в push-канал (redis или amqp),
// чтобы гонять запущенный клиент без бэкенда.

type Stats struct {
	TotalFrames   int64
	FailedFrames  int64
	Lifecycles    int64
	TotalDuration int64
}

type Config struct {
	ConfigPath string
	Transport  string
	Workers    int
	Duration   int
	Lifecycles int
	FramesSec  int
	OwnerID    string
	NgoID      string
	Seed       uint64
}

var stats Stats

// Publisher отправляет один кадр в канал
type Publisher interface {
	Publish(ctx context.Context, f services.Frame) error
	Close() error
}

type redisPublisher struct {
	client *redis.Client
	prefix string
}

func (p *redisPublisher) Publish(ctx context.Context, f services.Frame) error {
	return p.client.Publish(ctx, p.prefix+f.Event, string(f.Data)).Err()
}

func (p *redisPublisher) Close() error {
	return p.client.Close()
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func (p *amqpPublisher) Publish(ctx context.Context, f services.Frame) error {
	return p.ch.PublishWithContext(ctx, p.exchange, f.Event, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now(),
		Body:         f.Data,
	})
}

func (p *amqpPublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

func newPublisher(ctx context.Context, conf *config.ConfigSchema, transport string) (Publisher, error) {
	switch transport {
	case config.TransportRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     conf.RedisAddr(),
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return &redisPublisher{client: client, prefix: conf.Redis.ChannelPrefix}, nil

	case config.TransportAMQP:
		conn, err := amqp.Dial(conf.RabbitMQ.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to open channel: %w", err)
		}
		exchange := conf.RabbitMQ.Exchange
		if exchange == "" {
			exchange = services.DEFAULT_FOOD_EXCHANGE
		}
		if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to declare exchange: %w", err)
		}
		return &amqpPublisher{conn: conn, ch: ch, exchange: exchange}, nil
	}
	return nil, fmt.Errorf("transport %q cannot be published to", transport)
}

func main() {
	cfg := parseFlags()
	slog.Info("starting event generator", "transport", cfg.Transport, "workers", cfg.Workers, "frames_per_sec", cfg.FramesSec)

	conf, err := config.LoadConfig(cfg.ConfigPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Transport == "" {
		cfg.Transport = conf.Socket.Transport
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub, err := newPublisher(ctx, conf, cfg.Transport)
	if err != nil {
		slog.Error("failed to create publisher", "error", err)
		os.Exit(1)
	}
	defer pub.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	framesPerWorker := cfg.FramesSec / cfg.Workers
	if framesPerWorker == 0 {
		framesPerWorker = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go worker(ctx, i, cfg, pub, framesPerWorker, &wg)
	}

	go printStats(ctx)

	if cfg.Duration > 0 {
		go func() {
			select {
			case <-time.After(time.Duration(cfg.Duration) * time.Second):
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	go func() {
		select {
		case <-sigChan:
			slog.Info("received interrupt signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	wg.Wait()
	printFinalStats()
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.ConfigPath, "config", "etc/app.yaml", "Path to the configuration file")
	flag.StringVar(&cfg.Transport, "transport", "", "redis or amqp (default: socket.transport from config)")
	flag.IntVar(&cfg.Workers, "workers", 4, "Number of concurrent workers")
	flag.IntVar(&cfg.Duration, "duration", 60, "Run duration in seconds (0 for infinite)")
	flag.IntVar(&cfg.Lifecycles, "lifecycles", 0, "Total post lifecycles to publish (0 for infinite)")
	flag.IntVar(&cfg.FramesSec, "rate", 20, "Frames per second target")
	flag.StringVar(&cfg.OwnerID, "owner", "rest1", "Restaurant id on generated posts")
	flag.StringVar(&cfg.NgoID, "ngo", "ngo1", "NGO id that claims generated posts")
	flag.Uint64Var(&cfg.Seed, "seed", 0, "Fake data seed (0 for random)")

	flag.Parse()
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return cfg
}

func worker(ctx context.Context, id int, cfg Config, pub Publisher, framesPerSec int, wg *sync.WaitGroup) {
	defer wg.Done()

	seed := cfg.Seed
	if seed != 0 {
		seed += uint64(id)
	}
	gen := newScenario(gofakeit.New(seed), cfg.OwnerID, cfg.NgoID)

	ticker := time.NewTicker(time.Second / time.Duration(framesPerSec))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopping", "worker", id, "lifecycles", gen.finished)
			return
		case <-ticker.C:
			if cfg.Lifecycles > 0 && atomic.LoadInt64(&stats.Lifecycles) >= int64(cfg.Lifecycles) {
				return
			}

			frames, done := gen.Next()
			for _, f := range frames {
				start := time.Now()
				err := pub.Publish(ctx, f)
				atomic.AddInt64(&stats.TotalFrames, 1)
				atomic.AddInt64(&stats.TotalDuration, time.Since(start).Milliseconds())
				if err != nil {
					atomic.AddInt64(&stats.FailedFrames, 1)
					slog.Warn("publish failed", "worker", id, "event", f.Event, "error", err)
				}
			}
			if done {
				atomic.AddInt64(&stats.Lifecycles, 1)
			}
		}
	}
}

// scenario ведет один пост по легальным переходам статуса:
// new -> (update) -> claimed -> collected, либо -> expired / unavailable / deleted
type scenario struct {
	faker    *gofakeit.Faker
	ownerID  string
	ngoID    string
	post     *models.Post
	finished int
}

func newScenario(faker *gofakeit.Faker, ownerID, ngoID string) *scenario {
	return &scenario{faker: faker, ownerID: ownerID, ngoID: ngoID}
}

// Next возвращает кадры следующего шага и признак завершения жизненного цикла
func (s *scenario) Next() ([]services.Frame, bool) {
	if s.post == nil {
		p := s.newPost()
		s.post = &p
		return []services.Frame{frame(services.WireNewFoodPost, p)}, false
	}

	p := s.post
	roll := s.faker.Number(1, 10)
	switch p.Status {
	case models.StatusAvailable:
		switch {
		case roll <= 5:
			p.Status = models.StatusClaimed
			p.ClaimantID = s.ngoID
			claim := models.ClaimPayload{FoodID: p.ID, NgoID: s.ngoID, NgoName: s.faker.Company(), FoodName: p.Name}
			return []services.Frame{frame(pick(roll, services.WireFoodClaimedNgo, services.WireFoodClaimedOwner), claim)}, false
		case roll <= 7:
			p.Quantity = fmt.Sprintf("%d portions", s.faker.Number(1, 50))
			return []services.Frame{frame(services.WirePostUpdated, *p)}, false
		case roll == 8:
			return s.finish(frame(services.WireFoodUnavailable, models.FoodRef{FoodID: p.ID}))
		case roll == 9:
			return s.finish(frame(services.WirePostDeleted, p.ID))
		default:
			return s.finish(frame(services.WireFoodExpired, models.ExpiredPayload{IDs: []string{p.ID}}))
		}
	case models.StatusClaimed:
		if roll <= 8 {
			name := pick(roll, services.WireFoodCollectedNgo, services.WireFoodCollectedOwner)
			return s.finish(frame(name, models.FoodRef{FoodID: p.ID}))
		}
		return s.finish(frame(services.WireFoodExpired, models.ExpiredPayload{IDs: []string{p.ID}}))
	}
	s.post = nil
	return nil, true
}

// pick чередует парные имена (_ngo/_owner): в общий канал уходит одно сообщение на переход
func pick(roll int, odd, even string) string {
	if roll%2 == 1 {
		return odd
	}
	return even
}

func (s *scenario) finish(frames ...services.Frame) ([]services.Frame, bool) {
	s.post = nil
	s.finished++
	return frames, true
}

func (s *scenario) newPost() models.Post {
	return models.Post{
		ID:          s.faker.UUID(),
		Name:        s.faker.Lunch(),
		Description: s.faker.Dessert(),
		Quantity:    fmt.Sprintf("%d portions", s.faker.Number(1, 50)),
		ExpiryAt:    time.Now().Add(time.Duration(s.faker.Number(1, 48)) * time.Hour).UTC(),
		Status:      models.StatusAvailable,
		Location:    &models.Location{Lng: s.faker.Longitude(), Lat: s.faker.Latitude()},
		OwnerID:     s.ownerID,
	}
}

func frame(event string, payload any) services.Frame {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("eventgen: marshal %s: %v", event, err))
	}
	return services.Frame{Event: event, Data: data}
}

func printStats(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total, failed, lifecycles, avgLatency := snapshotStats()
			slog.Info("stats", "frames", total, "failed", failed, "lifecycles", lifecycles, "avg_latency_ms", avgLatency)
		}
	}
}

func snapshotStats() (total, failed, lifecycles, avgLatency int64) {
	total = atomic.LoadInt64(&stats.TotalFrames)
	failed = atomic.LoadInt64(&stats.FailedFrames)
	lifecycles = atomic.LoadInt64(&stats.Lifecycles)
	if total > 0 {
		avgLatency = atomic.LoadInt64(&stats.TotalDuration) / total
	}
	return
}

func printFinalStats() {
	total, failed, lifecycles, avgLatency := snapshotStats()
	var successRate float64
	if total > 0 {
		successRate = float64(total-failed) / float64(total) * 100
	}
	fmt.Println("========== FINAL STATISTICS ==========")
	fmt.Printf("Frames published:   %d\n", total)
	fmt.Printf("Failed:             %d\n", failed)
	fmt.Printf("Success Rate:       %.2f%%\n", successRate)
	fmt.Printf("Lifecycles:         %d\n", lifecycles)
	fmt.Printf("Average Latency:    %dms\n", avgLatency)
	fmt.Println("======================================")
}
