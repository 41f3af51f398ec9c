package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mtzanidakis/fleetmon/internal/fleet"
)

// SaveRobot upserts the serialized state record for one robot.
func (s *Store) SaveRobot(r *fleet.Robot) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal robot %s: %w", r.DeviceID, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO robot_states (device_id, state, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(device_id) DO UPDATE SET
			state = excluded.state,
			updated_at = CURRENT_TIMESTAMP`,
		r.DeviceID, string(data))
	if err != nil {
		return fmt.Errorf("save robot %s: %w", r.DeviceID, err)
	}
	return nil
}

// GetRobotRaw returns the stored JSON for a device id, or nil when no
// record exists. The query API decodes it itself so it can surface a
// distinct error code for records that no longer round-trip.
func (s *Store) GetRobotRaw(deviceID string) ([]byte, error) {
	var raw string
	err := s.db.QueryRow(`SELECT state FROM robot_states WHERE device_id = ?`, deviceID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get robot %s: %w", deviceID, err)
	}
	return []byte(raw), nil
}

// GetRobot decodes the stored record for a device id. Returns (nil, nil)
// when no record exists.
func (s *Store) GetRobot(deviceID string) (*fleet.Robot, error) {
	raw, err := s.GetRobotRaw(deviceID)
	if err != nil || raw == nil {
		return nil, err
	}

	var r fleet.Robot
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode robot %s: %w", deviceID, err)
	}
	return &r, nil
}

// ListDeviceIDs returns every stored device id in insertion order.
func (s *Store) ListDeviceIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT device_id FROM robot_states ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("list device ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan device id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteStale removes robot rows not updated since the cutoff and reports
// how many were pruned.
func (s *Store) DeleteStale(cutoff time.Time) (int64, error) {
	// updated_at is CURRENT_TIMESTAMP text, so compare against the same
	// canonical UTC form.
	res, err := s.db.Exec(`DELETE FROM robot_states WHERE updated_at < ?`,
		cutoff.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, fmt.Errorf("delete stale robots: %w", err)
	}
	return res.RowsAffected()
}
