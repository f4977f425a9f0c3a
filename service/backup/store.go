package backup

import (
	"time"

	"github.com/signalflowhq/SignalFlow-server/cmd/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists redundant signal payloads, keyed by signal id and fully
// decoupled from delivery rows. Writes are idempotent upserts so the
// fire-and-forget caller can retry blindly.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Upsert(hostID, signalID uint, payload models.TradePayload) error {
	backup := models.SignalBackup{
		HostID:   hostID,
		SignalID: signalID,
		Payload:  payload,
		Status:   models.BackupPending,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "signal_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&backup).Error
}

// MarkDelivered records that fan-out completed for the signal, with how many
// delivery rows it produced.
func (s *Store) MarkDelivered(signalID uint, deliveryCount int) error {
	return s.db.Model(&models.SignalBackup{}).
		Where("signal_id = ?", signalID).
		Updates(map[string]interface{}{
			"status":         models.BackupDelivered,
			"delivery_count": deliveryCount,
		}).Error
}

func (s *Store) PendingForHost(hostID uint) ([]models.SignalBackup, error) {
	var backups []models.SignalBackup
	err := s.db.
		Where("host_id = ? AND status = ?", hostID, models.BackupPending).
		Order("created_at asc").
		Find(&backups).Error
	return backups, err
}

// Orphans returns backups whose signal has no delivery rows at all: the
// fingerprint of a crash between signal persistence and fan-out.
func (s *Store) Orphans(hostID uint) ([]models.SignalBackup, error) {
	var backups []models.SignalBackup
	err := s.db.
		Where("host_id = ?", hostID).
		Where("signal_id NOT IN (?)", s.db.Model(&models.Delivery{}).Select("DISTINCT signal_id")).
		Order("created_at asc").
		Find(&backups).Error
	return backups, err
}

// CleanupOlderThan removes delivered backups past their retention window and
// returns the number of rows removed.
func (s *Store) CleanupOlderThan(age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age)
	result := s.db.
		Where("status = ? AND created_at < ?", models.BackupDelivered, cutoff).
		Delete(&models.SignalBackup{})
	return result.RowsAffected, result.Error
}

// CleanupForHost is the host-scoped variant used by the recovery API.
func (s *Store) CleanupForHost(hostID uint, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age)
	result := s.db.
		Where("host_id = ? AND status = ? AND created_at < ?", hostID, models.BackupDelivered, cutoff).
		Delete(&models.SignalBackup{})
	return result.RowsAffected, result.Error
}
