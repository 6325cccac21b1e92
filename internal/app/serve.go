// internal/app/serve.go

package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/petervdpas/tuneroom/internal/api"
	"github.com/petervdpas/tuneroom/internal/auth"
	"github.com/petervdpas/tuneroom/internal/config"
	"github.com/petervdpas/tuneroom/internal/coordinator"
	"github.com/petervdpas/tuneroom/internal/p2p"
	"github.com/petervdpas/tuneroom/internal/room"
	"github.com/petervdpas/tuneroom/internal/roster"
	"github.com/petervdpas/tuneroom/internal/search"
	"github.com/petervdpas/tuneroom/internal/store"
	"github.com/petervdpas/tuneroom/internal/util"
)

type Options struct {
	CfgPath string
	Cfg     config.Config
}

func (o Options) baseDir() string { return filepath.Dir(o.CfgPath) }

// Serve runs an authority node until ctx ends.
func Serve(ctx context.Context, o Options) error {
	cfg := o.Cfg
	log := logrus.WithField("component", "app")

	logBanner("serve", o.CfgPath, logrus.Fields{
		"HTTP":  cfg.Server.HTTPAddr,
		"Store": cfg.Store.Backend,
		"P2P":   cfg.P2P.Enabled,
	})

	var node *p2p.Node
	origin := "local"
	if cfg.P2P.Enabled {
		n, err := p2p.New(ctx, p2p.Config{
			ListenPort: cfg.P2P.ListenPort,
			KeyFile:    util.ResolvePath(o.baseDir(), cfg.P2P.KeyFile),
			Topic:      cfg.P2P.Topic,
			Bootstrap:  cfg.P2P.Bootstrap,
			MDNS:       true,
		})
		if err != nil {
			return err
		}
		defer n.Close()
		node, origin = n, n.ID()
		for _, a := range n.Addrs() {
			log.WithField("addr", a).Info("p2p listening")
		}
	}

	base, err := OpenStore(ctx, cfg, o.baseDir(), origin)
	if err != nil {
		return err
	}
	defer base.Close()

	var st store.Store = base
	var repl *p2p.Replicator
	if node != nil {
		node.ServeSnapshots(base)
		node.CatchUp(ctx, base)
		repl = p2p.NewReplicator(base, node, nil)
		st = repl
	}

	coord := coordinator.New(st,
		coordinator.WithAuthority(),
		coordinator.WithHistoryLimit(cfg.Sync.HistoryLimit),
	)
	if cfg.Server.SeedHall {
		if _, err := coord.SeedHall(ctx); err != nil {
			log.WithError(err).Warn("seed hall")
		}
	}

	signer, err := serverSigner(cfg.Auth, log)
	if err != nil {
		return err
	}

	srv := api.NewServer(coord, signer,
		api.WithSearcher(NewSearcher(cfg.Search)),
		api.WithSearchLimit(cfg.Search.DefaultLimit),
		api.WithStaleAfter(cfg.Sync.StaleAfter()),
	)
	sweeper := roster.NewSweeper(st, coord, cfg.Sync.StaleAfter(),
		time.Duration(cfg.Server.SweepIntervalSec)*time.Second, nil)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()
	if repl != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repl.Run(ctx); err != nil {
				log.WithError(err).Error("replicator stopped")
			}
		}()
	}

	err = srv.Run(ctx, cfg.Server.HTTPAddr)
	cancel()
	wg.Wait()
	return err
}

// serverSigner falls back to a random per-process secret so a dev server
// starts without setup. Tokens then only work until restart.
func serverSigner(cfg config.Auth, log *logrus.Entry) (*auth.Signer, error) {
	ttl := time.Duration(cfg.TokenTTLHours) * time.Hour
	if cfg.JWTSecret != "" {
		return auth.NewSigner(cfg.JWTSecret, ttl, nil)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	signer, err := auth.NewSigner(hex.EncodeToString(buf), ttl, nil)
	if err != nil {
		return nil, err
	}
	tok, err := signer.Issue(room.Actor{UserID: "admin", DisplayName: "Admin", Admin: true})
	if err != nil {
		return nil, err
	}
	log.Warn("auth.jwt_secret is empty; using a random secret for this run")
	log.WithField("token", tok).Info("dev admin token")
	return signer, nil
}

// NewSearcher chains the configured providers: YouTube when a key is set,
// then Piped.
func NewSearcher(cfg config.Search) *search.Chain {
	client := &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second}
	var providers []search.Provider
	if cfg.YouTubeAPIKey != "" {
		providers = append(providers, search.NewYouTube(cfg.YouTubeAPIKey, cfg.YouTubeURL, client))
	}
	if cfg.PipedURL != "" {
		providers = append(providers, search.NewPiped(cfg.PipedURL, client))
	}
	return search.NewChain(providers...)
}

// SeedHall seeds the global hall in the configured store and returns it.
func SeedHall(ctx context.Context, o Options) (room.State, error) {
	s, err := OpenStore(ctx, o.Cfg, o.baseDir(), "cli")
	if err != nil {
		return room.State{}, err
	}
	defer s.Close()
	return coordinator.New(s, coordinator.WithHistoryLimit(o.Cfg.Sync.HistoryLimit)).SeedHall(ctx)
}

// IssueToken signs a token for actor with the configured secret.
func IssueToken(cfg config.Auth, actor room.Actor) (string, error) {
	signer, err := auth.NewSigner(cfg.JWTSecret, time.Duration(cfg.TokenTTLHours)*time.Hour, nil)
	if err != nil {
		return "", err
	}
	return signer.Issue(actor)
}
