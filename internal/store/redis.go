package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JesusCabrera84/siscom-trips/internal/config"
	"github.com/JesusCabrera84/siscom-trips/internal/domain"
	"github.com/JesusCabrera84/siscom-trips/internal/processor"
)

// RedisStore mirrors committed device state for dashboards and pushes trip
// lifecycle notifications. It is write-only output: the processor never
// reads it back, Postgres stays the single source of truth.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// MirrorState publishes the device's committed live status. Called only
// after the Postgres transaction has committed.
func (r *RedisStore) MirrorState(ctx context.Context, ev *domain.TelemetryEvent, res processor.Result) error {
	stateData := map[string]interface{}{
		"device_id":  ev.DeviceID,
		"event_time": ev.EventTime.Unix(),
		"updated_at": time.Now().Unix(),
	}
	if res.TripID != nil {
		stateData["trip_id"] = res.TripID.String()
	}
	if ev.Lat != nil {
		stateData["lat"] = *ev.Lat
	}
	if ev.Lng != nil {
		stateData["lng"] = *ev.Lng
	}
	if ev.Speed != nil {
		stateData["speed"] = *ev.Speed
	}

	deviceStateKey := fmt.Sprintf("device:%s:state", ev.DeviceID)
	pubChannel := fmt.Sprintf("device:%s:trips", ev.DeviceID)

	pipe := r.client.Pipeline()

	pipe.HSet(ctx, deviceStateKey, stateData)
	pipe.Expire(ctx, deviceStateKey, 5*time.Minute)
	if ev.Lat != nil && ev.Lng != nil {
		pipe.GeoAdd(ctx, "devices:geo", &redis.GeoLocation{
			Name:      ev.DeviceID,
			Longitude: *ev.Lng,
			Latitude:  *ev.Lat,
		})
	}

	if res.Has(processor.OutcomeTripStarted) || res.Has(processor.OutcomeTripEnded) {
		payload, err := json.Marshal(stateData)
		if err != nil {
			return fmt.Errorf("failed to marshal state: %w", err)
		}
		pipe.Publish(ctx, pubChannel, payload)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}

	return nil
}
