package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Nurihank/smart-parking-api/internal/api"
	"github.com/Nurihank/smart-parking-api/internal/api/handler"
	"github.com/Nurihank/smart-parking-api/internal/api/middleware"
	"github.com/Nurihank/smart-parking-api/internal/config"
	"github.com/Nurihank/smart-parking-api/internal/coordinator"
	"github.com/Nurihank/smart-parking-api/internal/iot"
	"github.com/Nurihank/smart-parking-api/internal/repository/postgresql"
	"github.com/Nurihank/smart-parking-api/internal/scheduler"
	"github.com/Nurihank/smart-parking-api/internal/service"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsgo_config "github.com/aws/aws-sdk-go-v2/config" // Alias để tránh trùng tên
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

func main() {
	// 1. Load Configuration
	cfg := config.Load()
	log.Println("Cấu hình đã được tải.")

	// 2. Setup Database Connection
	db, err := postgresql.NewDB(cfg)
	if err != nil {
		log.Fatalf("Không thể kết nối database: %v", err)
	}
	defer db.Close()
	log.Println("Đã kết nối database thành công!")

	// 3. Khởi tạo AWS SDK Config
	awsSDKCfg, err := awsgo_config.LoadDefaultConfig(context.TODO(), awsgo_config.WithRegion(cfg.AWSRegion))
	if err != nil {
		log.Fatalf("Không thể tải AWS SDK config: %v", err)
	}
	log.Println("Đã tải AWS SDK config thành công cho region:", cfg.AWSRegion)

	// 4. Khởi tạo AWS Clients
	sqsClient := sqs.NewFromConfig(awsSDKCfg)
	iotDataPlaneClient := iotdataplane.NewFromConfig(awsSDKCfg, func(o *iotdataplane.Options) {
		if cfg.IoTMQTTEndpoint != "" {
			endpointWithSchema := cfg.IoTMQTTEndpoint
			if !strings.HasPrefix(endpointWithSchema, "https://") && !strings.HasPrefix(endpointWithSchema, "http://") {
				endpointWithSchema = "https://" + endpointWithSchema
			}
			o.BaseEndpoint = aws.String(endpointWithSchema)
		}
	})
	log.Println("Đã khởi tạo SQS client và IoT Data Plane client.")

	// 5. Initialize Repositories
	userRepo := postgresql.NewPgUserRepository(db)
	spotRepo := postgresql.NewPgParkingSpotRepository(db)
	reservationRepo := postgresql.NewPgReservationRepository(db)
	vehicleRepo := postgresql.NewPgVehicleRepository(db)

	// init websocket manager
	webSocketManager := handler.NewWebSocketManager()
	go webSocketManager.Start()
	log.Println("WebSocket Manager đã được khởi động.")

	// 6. Coordinator: điểm ghi duy nhất cho trạng thái spot và reservation
	coord := coordinator.New(spotRepo, reservationRepo, cfg.ReservationHoldDuration)

	// 7. Initialize Services
	authService := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTExpirationHours)
	reservationService := service.NewReservationService(coord, reservationRepo, spotRepo, webSocketManager)
	vehicleService := service.NewVehicleService(vehicleRepo)

	var publisher *iot.IoTDataPublisher
	if cfg.IoTMQTTEndpoint != "" {
		publisher = iot.NewIoTDataPublisher(iotDataPlaneClient, cfg.MQTTNamespace)
	} else {
		log.Println("CẢNH BÁO: IOT_MQTT_ENDPOINT chưa được cấu hình. Phản hồi confirmation/warning sẽ không được publish.")
	}

	// 8. Initialize Auth Middleware
	authMiddleware := middleware.NewAuthMiddleware(authService)

	// 9. Khởi tạo và Chạy SQS Consumer
	var wg sync.WaitGroup
	consumerCtx, cancelConsumer := context.WithCancel(context.Background())

	if cfg.SQSEventQueueURL == "" {
		log.Println("CẢNH BÁO: SQS_EVENT_QUEUE_URL chưa được cấu hình. SQS Consumer sẽ không chạy.")
	} else {
		var sensorPublisher iot.SpotChannelPublisher
		if publisher != nil {
			sensorPublisher = publisher
		}
		sensorHandler := iot.NewSensorEventHandler(coord, sensorPublisher, webSocketManager, cfg.MQTTNamespace)
		sqsConsumer := iot.NewSQSConsumer(sqsClient, cfg, sensorHandler)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sqsConsumer.Start(consumerCtx)
			log.Println("SQS Consumer đã dừng.")
		}()
	}

	// 10. Expiry scheduler: quét reservation hết hạn theo chu kỳ
	expiryScheduler := scheduler.NewExpiryScheduler(reservationService, cfg.ExpiryCheckInterval)
	expiryScheduler.Start(context.Background())

	// 11. Setup HTTP Router
	router := api.SetupRouter(authService, reservationService, vehicleService,
		expiryScheduler, publisher, authMiddleware, webSocketManager)

	// 12. Start HTTP Server
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		log.Printf("Server đang chạy trên port %s", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Lỗi ListenAndServe(): %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Đang tắt server...")

	cancelConsumer()
	expiryScheduler.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server buộc phải tắt: %v", err)
	}

	if cfg.SQSEventQueueURL != "" {
		log.Println("Đang chờ SQS consumer dừng (tối đa 5 giây)...")
		c := make(chan struct{})
		go func() {
			defer close(c)
			wg.Wait()
		}()
		select {
		case <-c:
			log.Println("SQS consumer đã dừng hoàn toàn.")
		case <-time.After(5 * time.Second):
			log.Println("SQS consumer không dừng trong thời gian chờ.")
		}
	}

	log.Println("Server đã tắt.")
}
