package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"viewing-scheduler-server/services"

	"github.com/go-redis/redis/v8"
)

// ChannelRegistry keeps calendar push channels in redis until they expire.
type ChannelRegistry struct {
	client *redis.Client
}

func NewChannelRegistry(client *redis.Client) *ChannelRegistry {
	return &ChannelRegistry{client: client}
}

func channelKey(channelID string) string {
	return fmt.Sprintf("calendar_channel:%s", channelID)
}

func (r *ChannelRegistry) SaveChannel(ctx context.Context, userID uint, channel services.WatchChannel) error {
	key := channelKey(channel.ID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":     userID,
		"resource_id": channel.ResourceID,
		"token":       channel.Token,
		"address":     channel.Address,
		"calendar_id": channel.CalendarID,
		"expiration":  channel.Expiration.Unix(),
	})
	if !channel.Expiration.IsZero() {
		pipe.ExpireAt(ctx, key, channel.Expiration)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *ChannelRegistry) FindChannel(ctx context.Context, channelID string) (*services.WatchChannel, uint, error) {
	fields, err := r.client.HGetAll(ctx, channelKey(channelID)).Result()
	if err != nil {
		return nil, 0, err
	}
	if len(fields) == 0 {
		return nil, 0, nil
	}

	userID, err := strconv.ParseUint(fields["user_id"], 10, 32)
	if err != nil {
		return nil, 0, fmt.Errorf("channel %s has malformed user id: %w", channelID, err)
	}
	channel := &services.WatchChannel{
		ID:         channelID,
		ResourceID: fields["resource_id"],
		Token:      fields["token"],
		Address:    fields["address"],
		CalendarID: fields["calendar_id"],
	}
	if expiration, err := strconv.ParseInt(fields["expiration"], 10, 64); err == nil && expiration > 0 {
		channel.Expiration = time.Unix(expiration, 0)
	}
	return channel, uint(userID), nil
}
