package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/tda9/FUACS/backend"
	"github.com/tda9/FUACS/config"
	"github.com/tda9/FUACS/database"
	"github.com/tda9/FUACS/handlers"
	"github.com/tda9/FUACS/ingest"
	"github.com/tda9/FUACS/media"
	"github.com/tda9/FUACS/messaging"
	"github.com/tda9/FUACS/models"
	"github.com/tda9/FUACS/realtime"
	"github.com/tda9/FUACS/repository"
	"github.com/tda9/FUACS/services"
	"github.com/tda9/FUACS/workers"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Printf("Info: No .env file found or error loading: %v", err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	pipe, err := config.LoadPipelineConfig(cfg.PipelineConfigPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to load pipeline configuration: %v", err)
	}

	storagePaths := []string{cfg.EvidencePath, cfg.DebugFramesPath, filepath.Dir(cfg.DatabasePath)}
	for _, p := range storagePaths {
		log.Printf("Ensuring storage directory exists: %s", p)
		if err := os.MkdirAll(p, 0755); err != nil {
			log.Fatalf("FATAL: Failed to create storage directory %s: %v", p, err)
		}
	}

	gormDB, err := database.InitGormDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database: %v", err)
	}
	if err := database.AutoMigrateModels(gormDB); err != nil {
		log.Fatalf("FATAL: Failed to migrate database schema: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		log.Fatalf("FATAL: Failed to get underlying sql.DB: %v", err)
	}
	defer sqlDB.Close()

	cameraRepo := repository.NewCameraRepository(gormDB)
	eventRepo := repository.NewEventRepository(gormDB)
	enrollmentRepo := repository.NewEnrollmentRepository(gormDB)
	healthRepo := repository.NewHealthRepository(gormDB)

	mediaSubDirs := map[media.AssetType]string{
		media.AssetTypeEvidence:   filepath.Base(cfg.EvidencePath),
		media.AssetTypeDebugFrame: filepath.Base(cfg.DebugFramesPath),
	}
	mediaStore, err := media.NewLocalStorage(cfg.MediaStoragePath, mediaSubDirs)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize media store: %v", err)
	}

	detector, err := media.NewRetinaFaceDetector(cfg.DetectorModelPath, pipe.Detection.ConfidenceThreshold)
	if err != nil {
		log.Fatalf("FATAL: Failed to load face detector: %v", err)
	}
	embedder, err := media.NewFaceEmbedder(cfg.EmbedderModelPath, "arcface")
	if err != nil {
		log.Fatalf("FATAL: Failed to load face embedder: %v", err)
	}

	backendClient := backend.NewClient(cfg.BackendBaseURL, time.Duration(cfg.BackendTimeoutSeconds)*time.Second)

	// enrollment index: pull at startup, fall back to the local cache so a
	// backend outage does not block recognition after a restart
	enrollmentStore := services.NewEnrollmentStore(enrollmentRepo, backendClient.FetchEnrollmentSnapshot)
	if err := enrollmentStore.Refresh(); err != nil {
		log.Printf("WARNING: %v", err)
		if err := enrollmentStore.LoadFromCache(); err != nil {
			log.Printf("WARNING: %v; starting with an empty enrollment index", err)
		}
	}
	refreshStop := make(chan struct{})
	go enrollmentStore.RunPeriodicRefresh(pipe.Enrollment.RefreshInterval(), refreshStop)

	hub := realtime.NewHub()
	go hub.Run()

	emitter := services.NewEmitter(pipe.Delivery, eventRepo, backendClient, hub)
	finalizer := services.NewFinalizer(pipe.Schedule, backendClient)
	if err := finalizer.RefreshSchedule(); err != nil {
		log.Printf("WARNING: %v", err)
	}

	bus, err := messaging.Connect(cfg.MQTTBrokerURL, cfg.MQTTClientID, messaging.TriggerHandlers{
		OnEnrollmentRefresh: func() {
			if err := enrollmentStore.Refresh(); err != nil {
				log.Printf("WARNING: %v", err)
			}
		},
		OnSlotFinalize: func(slotID string) {
			if err := finalizer.FinalizeNow(slotID); err != nil {
				log.Printf("WARNING: %v", err)
			}
		},
		OnEventReplay: func() { emitter.ReplayOnce() },
	})
	if err != nil {
		log.Printf("WARNING: %v; continuing without the MQTT bus", err)
		bus = messaging.Disabled()
	}
	emitter.Warn = func(event *models.AttendanceEvent, detail string) {
		bus.PublishDeliveryWarning(event.EventUUID, event.IdentityID, event.CameraID, detail)
	}

	emitter.Start()
	finalizer.Start()

	annotator := workers.NewAnnotator(mediaStore, cfg.AnnotatorQueueSize, cfg.NumAnnotatorWorkers)

	laneDeps := workers.LaneDeps{
		Detector:   detector,
		Embedder:   embedder,
		Enrollment: enrollmentStore,
		Emitter:    emitter,
		Finalizer:  finalizer,
		Evidence:   media.NewEvidenceWriter(mediaStore),
		Annotator:  annotator,
		HealthRepo: healthRepo,
		Hub:        hub,
		Bus:        bus,
		Open:       ingest.OpenVideoCapture,
	}
	manager := workers.NewManager(laneDeps, cameraRepo)
	manager.StartAll(pipe)

	// reload is shared by SIGHUP and the explicit endpoint; a config file
	// that fails to parse or validate leaves the running pipeline untouched.
	// The detector, emitter, and finalizer live outside the lanes, so their
	// parameters are applied directly.
	reload := func() error {
		newPipe, err := config.LoadPipelineConfig(cfg.PipelineConfigPath)
		if err != nil {
			return err
		}
		manager.Reload(newPipe)
		detector.SetConfidenceThreshold(newPipe.Detection.ConfidenceThreshold)
		emitter.ApplyConfig(newPipe.Delivery)
		finalizer.ApplyConfig(newPipe.Schedule)
		return nil
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			log.Println("SIGHUP received, reloading pipeline configuration")
			if err := reload(); err != nil {
				log.Printf("WARNING: reload rejected, keeping current pipeline config: %v", err)
			}
		}
	}()

	r := chi.NewRouter()

	corsOptions := cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	corsHandler := cors.New(corsOptions)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(corsHandler.Handler)

	cameraHandler := &handlers.CameraHandler{Manager: manager, HealthRepo: healthRepo}
	eventHandler := &handlers.EventHandler{Repo: eventRepo, Emitter: emitter}
	enrollmentHandler := &handlers.EnrollmentHandler{Store: enrollmentStore}
	slotHandler := &handlers.SlotHandler{Finalizer: finalizer}
	statsHandler := &handlers.StatsHandler{DB: sqlDB, Manager: manager, Enrollment: enrollmentStore}
	configHandler := &handlers.ConfigHandler{Reload: reload}
	debugHandler := &handlers.DebugHandler{DebugFramesPath: cfg.DebugFramesPath, Manager: manager}

	r.Route("/api", func(r chi.Router) {
		r.Route("/cameras", func(r chi.Router) {
			r.Get("/", cameraHandler.ListCameras)
			r.Post("/", cameraHandler.RegisterCamera)
			r.Route("/{camera_id}", func(r chi.Router) {
				r.Get("/", cameraHandler.GetCamera)
				r.Delete("/", cameraHandler.DeregisterCamera)
				r.Post("/restart", cameraHandler.RestartCamera)
			})
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/", eventHandler.ListEvents)
			r.Get("/spool", eventHandler.ListSpool)
			r.Post("/replay", eventHandler.TriggerReplay)
		})

		r.Route("/enrollments", func(r chi.Router) {
			r.Get("/", enrollmentHandler.ListIdentities)
			r.Put("/snapshot", enrollmentHandler.PushSnapshot)
			r.Post("/refresh", enrollmentHandler.TriggerRefresh)
		})

		r.Post("/slots/{slot_id}/finalize", slotHandler.FinalizeSlot)
		r.Get("/stats", statsHandler.GetStats)
		r.Post("/config/reload", configHandler.TriggerReload)

		evidenceSubDir := filepath.Base(cfg.EvidencePath)
		r.Get("/"+evidenceSubDir+"/*", handlers.AssetServer(cfg.MediaStoragePath, evidenceSubDir))
		log.Printf("Registered evidence server at /api/%s/*", evidenceSubDir)
	})

	r.Route("/debug", func(r chi.Router) {
		r.Get("/cameras/{camera_id}/frame", debugHandler.GetDebugFrame)
	})

	r.Get("/ws", hub.ServeWS)

	serverAddr := ":" + cfg.ListenPort
	log.Printf("Server listening on %s", serverAddr)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("FATAL: Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutdown signal received, stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARNING: HTTP server shutdown: %v", err)
	}

	manager.StopAll()
	close(refreshStop)
	finalizer.Stop()
	emitter.Stop()
	annotator.Stop()
	bus.Close()
	detector.Close()
	embedder.Close()
	log.Println("Shutdown complete")
}
