package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"MentorLink/global"
	"MentorLink/logger"
	"MentorLink/middleware"
	chatmodel "MentorLink/module/chat/model"
	contactmodel "MentorLink/module/contact/model"
	groupmodel "MentorLink/module/group/model"
	notifymodel "MentorLink/module/notify/model"
	usermodel "MentorLink/module/user/model"
	"MentorLink/service/call"
	"MentorLink/service/delivery"
	"MentorLink/service/gateway"
	"MentorLink/service/gateway/handlers"
	"MentorLink/service/groupcall"
	"MentorLink/service/mgo"
	"MentorLink/service/natsx"
	"MentorLink/service/notify"
	"MentorLink/service/presence"
	"MentorLink/service/room"
	"MentorLink/service/storage"
	storageredis "MentorLink/service/storage/redis"
	"MentorLink/tools/safe"
	"MentorLink/tools/security"
)

func main() {
	cfg := global.Load()
	ctx := context.Background()

	// ===== storage =====
	if err := mgo.Init(ctx, mgo.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database}); err != nil {
		logger.Errorf("[boot] mongo init failed: %v", err)
		os.Exit(1)
	}
	db := mgo.GetDB()

	messageStore := chatmodel.NewMessageStore(db)
	notificationStore := notifymodel.NewNotificationStore(db)
	memberStore := groupmodel.NewMemberStore(db)
	contactStore := contactmodel.NewContactStore(db)
	userStore := usermodel.NewUserStore(db)
	ensureIndexes(ctx, messageStore, notificationStore, memberStore, contactStore)

	var mirror *storage.Mirror
	if err := storageredis.Init(storageredis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}); err != nil {
		// the mirror is a badge cache; signaling works without it
		logger.Warnf("[boot] redis unavailable, presence mirror disabled: %v", err)
	} else {
		mirror = storage.NewMirror(storageredis.GetClient(), cfg.NodeID, 2*cfg.AuthTTL)
	}

	var offlinePub notify.OfflinePublisher
	var natsProd *natsx.NatsxProducer
	if len(cfg.Nats.Servers) > 0 {
		nc, err := natsx.NewNatsxClient(natsx.NatsxConfig{Servers: cfg.Nats.Servers, Name: cfg.Nats.Name})
		if err != nil {
			logger.Warnf("[boot] nats unavailable, offline hand-off disabled: %v", err)
		} else {
			defer func() { _ = nc.Close() }()
			natsProd = natsx.NewNatsxProducer(nc, cfg.DedupTTL)
			defer natsProd.Close()
			offlinePub = notify.NewNatsPublisher(natsProd)
		}
	}

	// ===== gateway =====
	connMgr := gateway.NewConnManager(gateway.ManagerConf{
		UnauthTTL:   cfg.UnauthTTL,
		AuthTTL:     cfg.AuthTTL,
		MaxPerUser:  cfg.MaxSessions,
		EvictOldest: true,
	}, cfg.NodeID)
	srv := gateway.NewServer(cfg.NodeID, connMgr, security.Options{
		Secret: []byte(cfg.JWTSecret),
		Alg:    "HS256",
		TTL:    cfg.AuthTTL,
	})
	srv.SetCheckOrigin(middleware.AllowedOrigin(cfg.AllowedOrigins))

	// ===== signaling services =====
	fan := notify.NewFanout(notify.Conf{DedupTTL: cfg.DedupTTL}, notificationStore, srv, offlinePub)
	defer fan.Close()
	callNotifier := notify.NewCallNotifier(fan, userStore)

	machine := call.NewMachine(call.Conf{
		OfferTimeout: cfg.OfferTimeout,
		EndedTTL:     cfg.EndedTTL,
	}, srv, callNotifier)
	defer machine.Close()

	tracker := groupcall.NewTracker(groupcall.Conf{
		RingTimeout: cfg.OfferTimeout,
		EndedTTL:    cfg.EndedTTL,
	}, srv, memberStore, callNotifier)
	defer tracker.Close()

	coordinator := delivery.NewCoordinator(delivery.Conf{}, messageStore, memberStore, srv, fan)
	announcer := presence.NewAnnouncer(contactStore, srv, mirror)

	// disconnect cleanup: phantom group-call participants and presence
	connMgr.OnUnregister(func(sess *gateway.Session, rooms []room.Key, lastOfUser bool) {
		if sess.UserID == "" {
			return
		}
		userID := sess.UserID
		safe.Go(func() {
			tracker.HandleDisconnect(userID, sess.ID, rooms)
			if lastOfUser {
				announcer.HandleOffline(context.Background(), userID)
			}
		})
	})

	// ===== handlers =====
	srv.Disp().Register(&handlers.AuthHandler{Announcer: announcer})
	srv.Disp().Register(&handlers.PingHandler{Announcer: announcer})
	srv.Disp().Register(&handlers.RoomsHandler{Contacts: contactStore, Members: memberStore})
	srv.Disp().Register(&handlers.ChatHandler{Delivery: coordinator, Notify: fan})
	srv.Disp().Register(&handlers.CallHandler{Machine: machine})
	srv.Disp().Register(&handlers.GroupCallHandler{Tracker: tracker})

	// ===== http =====
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.AccessLog(), middleware.Origin(cfg.AllowedOrigins))
	r.GET("/ws", srv.HandleWS)
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	httpSrv := &http.Server{Addr: cfg.Addr, Handler: r}
	go func() {
		logger.Infof("[boot] node=%s listening on %s", cfg.NodeID, cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("[boot] listen failed: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infof("[boot] shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutCtx)
	srv.Close()
	_ = storageredis.Close()
	_ = mgo.Close(shutCtx)
}

type indexed interface {
	EnsureIndexes(ctx context.Context) error
}

func ensureIndexes(ctx context.Context, stores ...indexed) {
	for _, s := range stores {
		if err := s.EnsureIndexes(ctx); err != nil {
			logger.Warnf("[boot] ensure indexes failed: %v", err)
		}
	}
}
