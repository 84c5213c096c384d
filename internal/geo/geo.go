package geo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/example/driver-session/internal/models"
)

// Source supplies the latest position sample of this device. Sampling
// itself happens outside the session.
type Source interface {
	Latest(ctx context.Context) (models.Coord, bool)
	Upsert(ctx context.Context, c models.Coord) error
}

// Index keeps the last pushed sample in memory.
type Index struct {
	mu      sync.RWMutex
	latest  models.Coord
	updated time.Time
	maxAge  time.Duration
}

// NewIndex returns an Index whose samples go stale after maxAge. Zero
// means samples never go stale.
func NewIndex(maxAge time.Duration) *Index {
	return &Index{maxAge: maxAge}
}

func (g *Index) Upsert(_ context.Context, c models.Coord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.latest = c
	g.updated = time.Now()
	return nil
}

func (g *Index) Latest(_ context.Context) (models.Coord, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.updated.IsZero() {
		return models.Coord{}, false
	}
	if g.maxAge > 0 && time.Since(g.updated) > g.maxAge {
		return models.Coord{}, false
	}
	return g.latest, true
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
