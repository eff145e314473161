// Package app wires config.Settings into a running archive engine: the
// store driver STORE_URL selects, the cache backend CACHE.BACKEND
// selects, the optional identity enricher and search index, and an
// ingest.Orchestrator with its fixed, explicitly-constructed event
// subscriber list (Design Note "replace dynamic discovery with
// explicit wiring").
package app

import (
	"context"
	"fmt"
	"log"

	"crawshaw.io/iox"
	"github.com/redis/go-redis/v9"

	"listarchive/cache"
	"listarchive/config"
	"listarchive/events"
	"listarchive/identity"
	"listarchive/ingest"
	"listarchive/search"
	"listarchive/store"
	"listarchive/store/pgstore"
	"listarchive/store/sqlitestore"
)

// App bundles the constructed components a cmd/... binary needs.
type App struct {
	Settings    config.Settings
	Store       store.Store
	Cache       *cache.Layer
	Invalidator *cache.Invalidator
	Identity    *identity.Client // nil if not configured
	Search      *search.Index    // nil if not configured
	Delayed     *search.Delayed  // nil if Search is nil
	Orchestrator *ingest.Orchestrator
	Filer       *iox.Filer
	Logf        func(format string, v ...interface{})
}

// Open validates s and constructs every component it names, wiring the
// fixed subscriber list an ingest.Orchestrator dispatches to.
func Open(ctx context.Context, s config.Settings) (*App, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	logf := log.Printf

	a := &App{Settings: s, Filer: iox.NewFiler(0), Logf: logf}

	st, err := openStore(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("app: opening store: %w", err)
	}
	a.Store = st

	backend := cache.Cache(cache.NewMemCache())
	if s.CacheBackend == "redis" {
		client := redis.NewClient(&redis.Options{Addr: s.CacheLocation})
		backend = cache.NewRedisCache(client)
	}
	a.Cache = cache.New(backend)
	a.Invalidator = &cache.Invalidator{Cache: a.Cache}

	var messageSubs []events.MessageSubscriber
	threadSubs := []events.ThreadSubscriber{a.Invalidator}
	messageSubs = append(messageSubs, a.Invalidator)

	if s.IdentityServer != "" {
		a.Identity = identity.New(s.IdentityServer, s.IdentityUser, s.IdentityPass)
		a.Identity.Logf = logf
		messageSubs = append(messageSubs, &identity.Enricher{Client: a.Identity, Store: st, Logf: logf})
	}

	var indexer ingest.Indexer
	if s.SearchIndex != "" {
		idx, err := search.Open(s.SearchIndex)
		if err != nil {
			return nil, fmt.Errorf("app: opening search index: %w", err)
		}
		a.Search = idx
		indexer = searchAdapter{idx}
	}

	bus := events.New(messageSubs, threadSubs)
	a.Orchestrator = ingest.New(st, bus, a.Filer, indexer, logf)
	return a, nil
}

// UseDelayedIndex switches the orchestrator to buffer search-index
// writes in memory instead of committing on every AddToList call, per
// spec.md §4.9's bulk-import guidance. It is a no-op (returning nil)
// when no search index is configured. The returned Delayed must be
// Flushed by the caller once the bulk run completes.
func (a *App) UseDelayedIndex() *search.Delayed {
	if a.Search == nil {
		return nil
	}
	a.Delayed = search.NewDelayed(a.Search)
	a.Orchestrator.Index = searchAdapter{a.Delayed}
	return a.Delayed
}

func openStore(ctx context.Context, s config.Settings) (store.Store, error) {
	switch s.StoreDriver() {
	case "postgres":
		return pgstore.Open(ctx, s.StoreURL)
	default:
		return sqlitestore.Open(s.StorePath(), 8)
	}
}

// searchAdapter adapts a search.Indexer (*search.Index or
// *search.Delayed — their Document mirrors ingest.IndexDocument's
// shape) to ingest.Indexer without ingest importing the search package
// directly.
type searchAdapter struct{ idx search.Indexer }

func (a searchAdapter) Add(d ingest.IndexDocument) error {
	return a.idx.Add(search.Document{
		ListName:    d.ListName,
		MessageID:   d.MessageID,
		Sender:      d.Sender,
		Subject:     d.Subject,
		Content:     d.Content,
		Date:        d.Date,
		Attachments: d.Attachments,
		PrivateList: d.PrivateList,
	})
}

// Close releases every resource App opened.
func (a *App) Close() error {
	var err error
	if a.Search != nil {
		if cerr := a.Search.Close(); err == nil {
			err = cerr
		}
	}
	if a.Store != nil {
		if cerr := a.Store.Close(); err == nil {
			err = cerr
		}
	}
	a.Filer.Shutdown(context.Background())
	return err
}
