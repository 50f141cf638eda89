package counter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nsmarket/sponsorhub/internal/pkg/cache"
	"github.com/nsmarket/sponsorhub/internal/pkg/database"
)

const (
	sponsorImpressionsKey = "sponsor:counters:impressions"
	sponsorClicksKey      = "sponsor:counters:clicks"
)

// Tracker exposes the counter operations behind an interface so handlers can
// be tested without Redis.
type Tracker struct{}

func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) AddImpression(publicID string) error {
	return AddImpression(publicID)
}

func (t *Tracker) AddClick(publicID string) error {
	return AddClick(publicID)
}

// AddImpression increments the pending impression counter for a sponsor slot
// in Redis. Counters are eventually consistent; a worker flushes them to the
// database in batches.
func AddImpression(publicID string) error {
	field, err := slotField(publicID)
	if err != nil {
		return err
	}
	return cache.GetClient().HIncrBy(context.Background(), sponsorImpressionsKey, field, 1).Err()
}

// AddClick increments the pending click counter for a sponsor slot in Redis.
func AddClick(publicID string) error {
	field, err := slotField(publicID)
	if err != nil {
		return err
	}
	return cache.GetClient().HIncrBy(context.Background(), sponsorClicksKey, field, 1).Err()
}

func slotField(publicID string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(publicID))
	if err != nil {
		return "", errors.New("invalid sponsor id")
	}
	return id.String(), nil
}

// FlushAll flushes both impressions and clicks to the database
func FlushAll() error {
	if err := flushHashToTable(sponsorImpressionsKey, "sponsor_slots", "impressions"); err != nil {
		return err
	}
	return flushHashToTable(sponsorClicksKey, "sponsor_slots", "clicks")
}

// flushHashToTable drains a Redis hash atomically and applies batched increments
// to the sponsor_slots table. Uses RENAME to a temporary key for atomic drain
// without losing in-flight increments.
func flushHashToTable(redisKey, table, column string) error {
	ctx := context.Background()
	rdb := cache.GetClient()

	// Atomically move the hash to a temp key for draining
	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", redisKey, tmpKey).Err(); err != nil {
		// If key does not exist, nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		if err.Error() == "redis: nil" {
			return nil
		}
		return err
	}

	// Ensure cleanup of tmpKey even if later steps fail
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	type pair struct {
		id  string
		inc int64
	}
	pairs := make([]pair, 0, len(data))
	for k, v := range data {
		if _, perr := uuid.Parse(k); perr != nil {
			continue
		}
		inc, ierr := strconv.ParseInt(v, 10, 64)
		if ierr != nil || inc == 0 {
			continue
		}
		pairs = append(pairs, pair{id: k, inc: inc})
	}
	if len(pairs) == 0 {
		return nil
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })

	// UPDATE sponsor_slots SET <column> = <column> + CASE public_id WHEN ? THEN ? ... END
	// WHERE public_id IN ( ... )
	var builder strings.Builder
	args := make([]interface{}, 0, len(pairs)*3)
	builder.WriteString("UPDATE ")
	builder.WriteString(table)
	builder.WriteString(" SET ")
	builder.WriteString(column)
	builder.WriteString(" = ")
	builder.WriteString(column)
	builder.WriteString(" + CASE public_id ")
	for _, p := range pairs {
		builder.WriteString(" WHEN ? THEN ?")
		args = append(args, p.id, p.inc)
	}
	builder.WriteString(" END WHERE public_id IN (")
	for i, p := range pairs {
		if i > 0 {
			builder.WriteString(",")
		}
		builder.WriteString("?")
		args = append(args, p.id)
	}
	builder.WriteString(")")

	db := database.GetDB()
	if err := db.Exec(builder.String(), args...).Error; err != nil {
		return err
	}
	return nil
}
