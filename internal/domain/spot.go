package domain

import "time"

type SpotStatus string

const (
	SpotFree     SpotStatus = "free"
	SpotReserved SpotStatus = "reserved"
	SpotOccupied SpotStatus = "occupied"
)

type ParkingSpot struct {
	ID        int        `json:"spot_id"`
	SpotName  string     `json:"spot_name"`
	Status    SpotStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// SpotStatusLogEntry là bản ghi append-only, chỉ dùng cho audit,
// Coordinator không bao giờ đọc lại để ra quyết định.
type SpotStatusLogEntry struct {
	ID       int64      `json:"id"`
	SpotID   int        `json:"spot_id"`
	Status   SpotStatus `json:"status"`
	LoggedAt time.Time  `json:"logged_at"`
}

// SpotStatusNotification được push qua WebSocket cho dashboard mỗi khi spot đổi trạng thái
type SpotStatusNotification struct {
	SpotID    int        `json:"spot_id"`
	Status    SpotStatus `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
}
