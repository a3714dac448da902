package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/shenikar/field_incident_sync/internal/attachment"
	"github.com/shenikar/field_incident_sync/internal/config"
	"github.com/shenikar/field_incident_sync/internal/connectivity"
	"github.com/shenikar/field_incident_sync/internal/gateway"
	"github.com/shenikar/field_incident_sync/internal/localstore"
	"github.com/shenikar/field_incident_sync/internal/merger"
	"github.com/shenikar/field_incident_sync/internal/session"
	"github.com/shenikar/field_incident_sync/internal/syncengine"
	s3client "github.com/shenikar/field_incident_sync/pkg/s3"
	"github.com/shenikar/field_incident_sync/pkg/sqlite"
)

// app компоненты агента, общие для всех команд
type app struct {
	db      *sql.DB
	store   *localstore.Store
	session *session.Session
	gateway *gateway.Client
	monitor *connectivity.Monitor
	engine  *syncengine.Engine
	feed    *merger.Feed
}

func newApp(ctx context.Context, cfg *config.AgentConfig, log *logrus.Logger) (*app, error) {
	db, err := sqlite.Open(ctx, cfg.LocalDBPath)
	if err != nil {
		return nil, err
	}

	store, err := localstore.New(db, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init local store: %w", err)
	}

	s3, err := s3client.NewClient(ctx, s3client.Options{
		Region:       cfg.S3Region,
		Endpoint:     cfg.S3Endpoint,
		UsePathStyle: cfg.S3UsePathStyle,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	uploader := attachment.NewS3Uploader(s3, attachment.NopCompressor{}, attachment.Options{
		Bucket:        cfg.S3Bucket,
		Region:        cfg.S3Region,
		KeyPrefix:     cfg.S3KeyPrefix,
		PublicBaseURL: cfg.S3PublicBaseURL,
	}, log)

	sess := session.New()
	gw := gateway.NewClient(cfg.RemoteAPIURL, sess, cfg.CallTimeout, log)
	monitor := connectivity.NewMonitor(gw, cfg.ProbeInterval, cfg.ProbeTimeout, log)

	a := &app{
		db:      db,
		store:   store,
		session: sess,
		gateway: gw,
		monitor: monitor,
		engine:  syncengine.NewEngine(store, uploader, gw, monitor, sess, cfg.CallTimeout, log),
		feed:    merger.NewFeed(gw, store, sess, cfg.ReporterName, log),
	}
	// Выгруженный отчёт сразу заменяется в ленте удалённой копией
	a.engine.OnSynced(a.feed.ApplySynced)

	// Сохранённый токен: без связи агент стартует без сессии, вход через /api/local/session/login
	if cfg.AccessToken != "" {
		restoreCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		defer cancel()
		if err := a.restoreSession(restoreCtx, cfg.AccessToken); err != nil {
			log.WithError(err).Warn("Could not restore session from ACCESS_TOKEN")
		}
	}
	return a, nil
}

func (a *app) restoreSession(ctx context.Context, token string) error {
	profile, err := a.gateway.Me(ctx, token)
	if err != nil {
		return err
	}
	return a.session.Init(token, profile)
}

func (a *app) Close() {
	_ = a.db.Close()
}
