package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"nature-quest-system/handlers"
	"nature-quest-system/middleware"
	"nature-quest-system/models"
	"nature-quest-system/services"
	"nature-quest-system/utils"
	"nature-quest-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 20 * 1024 * 1024, // photo uploads
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	// Load allowed origins from environment variable
	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Session-Token, X-Service-Token, X-Device-ID",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Challenge{},
		&models.VerificationMetrics{},
		&models.ChallengeAttempt{},
		&models.PhotoAnalysis{},
		&models.LocationVerification{},
		&models.FraudDetection{},
		&models.UserProfile{},
		&models.PointsTransaction{},
		&models.Level{},
		&models.Badge{},
		&models.UserBadge{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	// Photo storage: R2 in production, local disk otherwise
	var photoStore services.PhotoStore
	if utils.R2Configured() {
		if err := utils.InitR2(); err != nil {
			log.Fatal("failed to initialize R2 client:", err)
		}
		photoStore = utils.R2PhotoStore{}
		log.Println("✅ Photo storage: Cloudflare R2")
	} else {
		if err := utils.EnsureUploadDir(); err != nil {
			log.Fatal("failed to ensure upload dir:", err)
		}
		photoStore = utils.LocalPhotoStore{Dir: "uploads"}
		log.Println("⚠️  Photo storage: local disk (R2 not configured)")
	}

	// Image-hash store: Redis when available, in-process otherwise
	var hashStore services.ImageHashStore
	if redisClient, err := utils.InitRedis(); err == nil {
		hashStore = services.NewRedisImageHashStore(redisClient)
		log.Println("✅ Duplicate detection backed by Redis")
	} else {
		log.Printf("⚠️  Redis unavailable (%v) — duplicate detection is process-local", err)
		hashStore = services.NewMemoryImageHashStore()
	}

	challengeService := services.NewChallengeService(db)
	progressService := services.NewProgressService(db)
	photoService := services.NewPhotoVerificationService()
	locationService := services.NewLocationVerificationService(services.NewFoursquarePlaceClient())
	fraudService := services.NewFraudDetectionService(db, hashStore)
	verificationService := services.NewVerificationService(db, photoService, locationService, fraudService, photoStore, progressService)

	if err := progressService.SeedProgressionCatalog(); err != nil {
		log.Fatal("failed to seed levels and badges:", err)
	}
	if err := challengeService.SeedChallenges(); err != nil {
		log.Fatal("failed to seed challenges:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	retryWorker := workers.NewVerificationWorker(db, verificationService, photoStore)
	go retryWorker.Run(ctx, 30*time.Second)

	fraudService.StartMaintenanceScheduler()

	// ✅ Setup routes — enforced Gateway auth + consistent /s/ prefix
	handlers.SetupChallengeRoutes(app, challengeService, verificationService)
	handlers.SetupVerificationRoutes(app, verificationService)
	handlers.SetupProgressRoutes(app, progressService)

	app.Static("/uploads", "./uploads")

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Verification retry worker running (every 30s)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
