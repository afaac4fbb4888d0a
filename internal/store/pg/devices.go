package pg

import (
	"context"
	"database/sql"

	"brokergate.org/internal/access"
	"brokergate.org/internal/ids"
)

var _ access.DeviceRecorder = (*DeviceLog)(nil)

// DeviceLog records the devices a user has signed in from.
type DeviceLog struct {
	db *sql.DB
}

func (s *DeviceLog) Record(ctx context.Context, userID string, device access.DeviceInfo) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_devices (id, user_id, ip, user_agent)
		values ($1, $2, $3, $4)`,
		ids.New(), userID, device.IP, device.UserAgent,
	)
	return err
}
