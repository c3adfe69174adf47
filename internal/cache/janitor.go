package cache

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultJanitorSpec = "@every 1h"

// Janitor periodically removes expired entries from a store.
type Janitor struct {
	store Store
	cron  *cron.Cron
}

func NewJanitor(store Store, spec string) (*Janitor, error) {
	if spec == "" {
		spec = DefaultJanitorSpec
	}
	j := &Janitor{store: store, cron: cron.New()}
	if _, err := j.cron.AddFunc(spec, j.sweep); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Janitor) Start() { j.cron.Start() }

// Stop waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := j.store.PurgeExpired(ctx)
	if err != nil {
		log.Printf("idea-sonar cache purge failed err=%q", err.Error())
		return
	}
	if n > 0 {
		log.Printf("idea-sonar cache purge removed=%d", n)
	}
}

// StoreOf exposes the backing store of an enabled memoizer so maintenance
// can be scheduled against it.
func StoreOf(m Memoizer) (Store, bool) {
	sm, ok := m.(*storeMemoizer)
	if !ok {
		return nil, false
	}
	return sm.store, true
}
