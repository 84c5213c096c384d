package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/driver-session/internal/models"
)

// RedisSource reads the device position from a Redis GEO set, where the
// on-board GPS daemon keeps one member per driver.
type RedisSource struct {
	client *redis.Client
	key    string
	member string
}

func NewRedisSource(addr, password, key string, driverID int64) *RedisSource {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisSource{client: c, key: key, member: strconv.FormatInt(driverID, 10)}
}

func (r *RedisSource) Upsert(ctx context.Context, c models.Coord) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: c.Lon, Latitude: c.Lat, Name: r.member}).Err(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(r.member), map[string]interface{}{"updated": time.Now().Format(time.RFC3339)}).Err()
}

func (r *RedisSource) Latest(ctx context.Context) (models.Coord, bool) {
	res, err := r.client.GeoPos(ctx, r.key, r.member).Result()
	if err != nil || len(res) == 0 || res[0] == nil {
		return models.Coord{}, false
	}
	return models.Coord{Lat: res[0].Latitude, Lon: res[0].Longitude}, true
}

func (r *RedisSource) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisSource) Close() error { return r.client.Close() }

func metaKey(id string) string { return "driver:meta:" + id }
