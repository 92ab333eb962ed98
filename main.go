package main

import (
	"context"
	"time"

	"viewing-scheduler-server/config"
	"viewing-scheduler-server/routes"
	"viewing-scheduler-server/services"
	"viewing-scheduler-server/storage"
	"viewing-scheduler-server/utils"

	"github.com/go-playground/validator/v10"
	"github.com/kataras/golog"
	"github.com/kataras/iris/v12"
	"github.com/robfig/cron/v3"
)

func main() {
	cfg := config.Load()
	golog.SetLevel(cfg.LogLevel)

	// Initialize services
	db := storage.InitializeDB(cfg)
	meetingStore := storage.NewMeetingRepository(db)
	credentials := storage.NewCredentialRepository(db)
	directory := storage.NewDirectory(db)

	var channels services.ChannelStore
	var throttle services.SyncThrottle = services.NewMemoryThrottle(cfg.SyncThrottle)
	if cfg.RedisURL != "" || cfg.ThrottleBackend == "redis" {
		redisClient := storage.InitializeRedis(cfg)
		channels = storage.NewChannelRegistry(redisClient)
		if cfg.ThrottleBackend == "redis" {
			throttle = services.NewRedisThrottle(redisClient, cfg.SyncThrottle)
		}
	}

	oauth := services.NewGoogleOAuth(services.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		StateSecret:  cfg.OAuthStateSecret,
		JWKSURL:      cfg.GoogleJWKSURL,
		Timeout:      cfg.CalendarTimeout,
	})
	provider := services.NewGoogleCalendar(cfg.CalendarTimeout)
	tokens := services.NewTokenManager(credentials, oauth)
	machine := services.NewStateMachine(meetingStore)
	calendarSync := services.NewCalendarSync(provider, tokens, machine, directory)
	checker := services.NewConflictChecker(meetingStore, tokens, provider)
	meetings := services.NewMeetingService(meetingStore, directory, checker, calendarSync, machine, tokens, throttle)
	accounts := services.NewCalendarAccounts(oauth, tokens, provider, channels, cfg.CalendarWebhookURL)
	webhooks := services.NewWebhookService(meetingStore, calendarSync, machine, channels)

	app := iris.New()
	app.Logger().SetLevel(cfg.LogLevel)
	app.Validator = validator.New()

	// CORS configuration
	app.AllowMethods(iris.MethodOptions)
	app.UseRouter(func(ctx iris.Context) {
		ctx.Header("Access-Control-Allow-Origin", ctx.GetHeader("Origin"))
		ctx.Header("Vary", "Origin")
		ctx.Header("Access-Control-Allow-Credentials", "true")
		ctx.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Requested-With")
		ctx.Header("Access-Control-Allow-Methods", "GET,POST,PATCH,PUT,DELETE,OPTIONS")
		if ctx.Method() == iris.MethodOptions {
			ctx.StatusCode(iris.StatusNoContent)
			return
		}
		ctx.Next()
	})

	// Minimal middleware - compression only
	app.Use(iris.Compression)

	accessTokenVerifierMiddleware := utils.NewAccessTokenVerifier(cfg.AccessTokenSecret)

	// Health check endpoint - CRITICAL for Render
	app.Get("/health", func(ctx iris.Context) {
		ctx.JSON(iris.Map{"status": "ok"})
	})

	meetingRoutes := routes.NewMeetingRoutes(meetings, checker)
	meeting := app.Party("/api/meetings", accessTokenVerifierMiddleware, utils.UserIDFromTokenMiddleware)
	{
		meeting.Post("/", meetingRoutes.CreateMeeting)
		meeting.Get("/", meetingRoutes.GetUserMeetings)
		meeting.Get("/available-slots", meetingRoutes.GetAvailableSlots)
		meeting.Post("/expire-pending", utils.AdminOnlyMiddleware, meetingRoutes.ExpirePendingMeetings)
		meeting.Get("/{id:string}", meetingRoutes.GetMeeting)
		meeting.Put("/{id:string}", meetingRoutes.UpdateMeeting)
		meeting.Post("/{id:string}/confirm", meetingRoutes.ConfirmMeeting)
		meeting.Post("/{id:string}/reject", meetingRoutes.RejectMeeting)
		meeting.Post("/{id:string}/cancel", meetingRoutes.CancelMeeting)
		meeting.Post("/{id:string}/complete", meetingRoutes.CompleteMeeting)
		meeting.Post("/{id:string}/no-show", meetingRoutes.MarkNoShow)
	}

	calendarRoutes := routes.NewCalendarRoutes(accounts, checker)
	app.Get("/api/calendar/google/callback", calendarRoutes.GoogleCallback)
	calendar := app.Party("/api/calendar", accessTokenVerifierMiddleware, utils.UserIDFromTokenMiddleware)
	{
		calendar.Get("/status", calendarRoutes.GetCalendarStatus)
		calendar.Get("/busy", calendarRoutes.GetBusyPeriods)
		calendar.Get("/google/auth-url", calendarRoutes.GetGoogleAuthURL)
		calendar.Post("/google/watch", calendarRoutes.WatchGoogleCalendar)
		calendar.Delete("/google", calendarRoutes.DisconnectGoogle)
	}

	webhookRoutes := routes.NewWebhookRoutes(webhooks)
	app.Post("/calendar/webhook/google", webhookRoutes.GoogleCalendarWebhook)

	scheduler := startExpirySweep(cfg.ExpirySchedule, meetings)
	defer scheduler.Stop()

	golog.Infof("🚀 listening on :%s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		golog.Fatalf("💥 server stopped: %v", err)
	}
}

// startExpirySweep periodically expires pending requests whose start time passed.
func startExpirySweep(schedule string, meetings *services.MeetingService) *cron.Cron {
	scheduler := cron.New()
	_, err := scheduler.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := meetings.ExpirePending(ctx); err != nil {
			golog.Errorf("❌ expiry sweep failed: %v", err)
		}
	})
	if err != nil {
		golog.Fatalf("💥 invalid EXPIRY_SCHEDULE %q: %v", schedule, err)
	}
	scheduler.Start()
	golog.Infof("⏰ expiry sweep scheduled %s", schedule)
	return scheduler
}
