package api

import (
	"github.com/Nurihank/smart-parking-api/internal/api/handler"
	"github.com/Nurihank/smart-parking-api/internal/api/middleware"
	"github.com/Nurihank/smart-parking-api/internal/iot"
	"github.com/Nurihank/smart-parking-api/internal/scheduler"
	"github.com/Nurihank/smart-parking-api/internal/service"

	"github.com/gin-gonic/gin"
)

func SetupRouter(
	authService *service.AuthService,
	reservationService *service.ReservationService,
	vehicleService *service.VehicleService,
	expiryScheduler *scheduler.ExpiryScheduler,
	publisher *iot.IoTDataPublisher,
	authMw *middleware.AuthMiddleware,
	wsManager *handler.WebSocketManager,
) *gin.Engine {
	r := gin.Default()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// WebSocket endpoint (không cần auth cho real-time connection)
	wsHandler := handler.NewWebSocketHandler(wsManager)
	r.GET("/ws", wsHandler.HandleWebSocket)

	authHandler := handler.NewAuthHandler(authService)
	userRoutes := r.Group("/api/user")
	{
		userRoutes.POST("/register", authHandler.Register)
		userRoutes.POST("/login", authHandler.Login)
	}

	api := r.Group("/api")
	api.Use(authMw.Authenticate())
	{
		resvHandler := handler.NewReservationHandler(reservationService, expiryScheduler)
		resvRoutes := api.Group("/reservations")
		{
			resvRoutes.POST("", resvHandler.CreateReservation)
			resvRoutes.GET("/active", resvHandler.GetActiveReservations)
			resvRoutes.POST("/check-expired", resvHandler.CheckExpired)
			resvRoutes.PUT("/:id/vehicle-arrived", resvHandler.VehicleArrived)
			resvRoutes.PUT("/:id/vehicle-left", resvHandler.VehicleLeft)
			resvRoutes.PUT("/:id/cancel", resvHandler.CancelReservation)
			resvRoutes.GET("/user/:userId", resvHandler.GetUserReservations)
			resvRoutes.GET("/user/:userId/active", resvHandler.GetUserActiveReservation)
		}

		spotHandler := handler.NewSpotHandler(reservationService)
		api.GET("/parking-spots/status", spotHandler.GetSpotStatuses)

		vehicleHandler := handler.NewVehicleHandler(vehicleService)
		vehicleRoutes := api.Group("/vehicle")
		{
			vehicleRoutes.POST("/saveVehicle", vehicleHandler.SaveVehicle)
			vehicleRoutes.GET("/vehicleTypes", vehicleHandler.GetVehicleTypes)
			vehicleRoutes.GET("/user/:userId", vehicleHandler.GetUserVehicle)
		}

		systemHandler := handler.NewSystemHandler(expiryScheduler, publisher)
		systemRoutes := api.Group("/system")
		systemRoutes.Use(authMw.AuthorizeRole("admin"))
		{
			systemRoutes.GET("/status", systemHandler.GetStatus)
			systemRoutes.POST("/check-reservations", systemHandler.CheckReservations)
			systemRoutes.POST("/mqtt/test", systemHandler.TestMQTT)
		}
	}

	return r
}
