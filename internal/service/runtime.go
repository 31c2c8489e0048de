package service

import (
	"time"

	"github.com/teresa-solution/guild-relay-service/internal/feed"
	"github.com/teresa-solution/guild-relay-service/internal/platform"
	"github.com/teresa-solution/guild-relay-service/internal/store"
)

type Deps struct {
	Store     store.ConfigStore
	Transport platform.Transport
	// Source may be nil, which disables the feed engine.
	Source     feed.Source
	Sessions   store.SessionStore
	Ledger     store.DeliveryLedger
	SessionTTL time.Duration
	Engine     EngineConfig
}

// Runtime holds the process-scoped handles. It is built once at startup and
// passed to the servers and the poller.
type Runtime struct {
	Store       store.ConfigStore
	Transport   platform.Transport
	Composer    *Composer
	Provisioner *Provisioner
	Settings    *SettingsWorkflow
	Engine      *FeedEngine
	Commands    *CommandService
}

func NewRuntime(d Deps) *Runtime {
	rt := &Runtime{
		Store:     d.Store,
		Transport: d.Transport,
		Composer:  NewComposer(d.Transport),
	}
	rt.Provisioner = NewProvisioner(d.Store, d.Transport, rt.Composer)
	rt.Settings = NewSettingsWorkflow(d.Store, d.Transport, d.Sessions, d.SessionTTL)
	if d.Source != nil {
		rt.Engine = NewFeedEngine(d.Store, d.Transport, d.Source, d.Ledger, rt.Composer, d.Engine)
	}
	rt.Commands = NewCommandService(rt.Provisioner, rt.Settings, rt.Engine)
	return rt
}
