package cron

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"haggle/config"
	negotiationRepo "haggle/database/repository/negotiation"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const TypeOfferReminder = "offer:reminder"

// OfferReminderPayload pins the session version the reminder was scheduled
// against; if the session moved on since, the nudge is dropped.
type OfferReminderPayload struct {
	SessionID string `json:"sessionId"`
	Version   int64  `json:"version"`
}

// ReminderScheduler enqueues delayed open-offer nudges.
type ReminderScheduler struct {
	client *asynq.Client
	delay  time.Duration
}

// NewReminderScheduler builds a scheduler from the app's Redis settings.
func NewReminderScheduler() *ReminderScheduler {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisReminderDB,
	})
	return &ReminderScheduler{
		client: client,
		delay:  time.Duration(config.AppConfig.ReminderDelayMin) * time.Minute,
	}
}

// Schedule enqueues a reminder to fire after the configured delay.
func (s *ReminderScheduler) Schedule(sessionID string, version int64) error {
	payload, err := json.Marshal(OfferReminderPayload{SessionID: sessionID, Version: version})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TypeOfferReminder, payload)
	_, err = s.client.Enqueue(task, asynq.ProcessIn(s.delay))
	return err
}

// InitOfferReminderWorker runs the async worker in background.
func InitOfferReminderWorker(repo negotiationRepo.Repository, logger *zap.Logger) {
	redisOpts := asynq.RedisClientOpt{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisReminderDB,
	}

	srv := asynq.NewServer(
		redisOpts,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeOfferReminder, handleOfferReminder(repo, logger))

	go func() {
		log.Println("[OfferReminderWorker] starting async worker...")
		const maxAttempts = 5

		for attempts := 1; attempts <= maxAttempts; attempts++ {
			if err := srv.Run(mux); err != nil {
				log.Printf("[OfferReminderWorker] attempt %d/%d failed to start worker: %v", attempts, maxAttempts, err)

				if attempts == maxAttempts {
					log.Fatal("[OfferReminderWorker] max retry attempts reached, exiting")
				}
				time.Sleep(time.Duration(attempts*2) * time.Second)
			} else {
				break
			}
		}
	}()
}

func handleOfferReminder(repo negotiationRepo.Repository, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p OfferReminderPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			logger.Error("invalid offer reminder payload", zap.Error(err))
			return err
		}

		sess, err := repo.Get(ctx, p.SessionID)
		if err != nil {
			// Session gone means nothing to nudge about.
			logger.Warn("offer reminder session lookup failed",
				zap.String("sessionId", p.SessionID), zap.Error(err))
			return nil
		}
		if !sess.Status.Open() || sess.Version != p.Version {
			// The offer was answered in the meantime.
			return nil
		}

		recipient := sess.OtherParty(sess.LastOfferBy())
		logger.Info("open offer awaiting response",
			zap.String("sessionId", sess.ID),
			zap.String("recipient", recipient),
			zap.Float64("currentPrice", sess.CurrentPrice))
		return nil
	}
}
