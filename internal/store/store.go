package store

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mawared-attendance-backend/internal/model"
)

// DateLayout is the calendar-date key format used by every dated table.
const DateLayout = "2006-01-02"

// DefaultNoticeRetentionDays is how long a notice record survives before it
// is discarded on read.
const DefaultNoticeRetentionDays = 3

// ScheduleStore persists daily windows and per-kind progress.
type ScheduleStore interface {
	GetSchedule(ctx context.Context, date string) (*model.DailySchedule, error)
	// CreateSchedule inserts sched unless a row for its date exists and
	// returns whichever row is stored. created is true only for the writer
	// whose insert won.
	CreateSchedule(ctx context.Context, sched model.DailySchedule) (stored *model.DailySchedule, created bool, err error)
	DeleteDay(ctx context.Context, date string) error

	GetProgress(ctx context.Context, date string) (map[model.ActionKind]model.ActionProgress, error)
	MarkHoliday(ctx context.Context, date string) (bool, error)
	MarkMissed(ctx context.Context, date string, kind model.ActionKind, now time.Time, reason string) (bool, error)
	MarkDone(ctx context.Context, date string, kind model.ActionKind, now time.Time) error
	ClaimAction(ctx context.Context, date string, kind model.ActionKind, owner string, now time.Time, lease time.Duration) (bool, error)
	// CompleteAction closes a row still leased by owner and reports whether
	// owner held it.
	CompleteAction(ctx context.Context, date string, kind model.ActionKind, owner string, now time.Time) (bool, error)
	ReleaseAction(ctx context.Context, date string, kind model.ActionKind, owner string, lastErr string) error
}

// NoticeStore is the durable once-per-date notice dedupe.
type NoticeStore interface {
	AlreadySent(ctx context.Context, date string, kind model.NoticeKind) (bool, error)
	MarkSent(ctx context.Context, date string, kind model.NoticeKind, at time.Time) error
	// TryMarkSent atomically records the notice and reports whether this
	// caller was the first to do so for the date.
	TryMarkSent(ctx context.Context, date string, kind model.NoticeKind, at time.Time) (bool, error)
}

// Store defines the interface for all database operations.
type Store interface {
	ScheduleStore
	NoticeStore

	AppendAudit(ctx context.Context, entry model.AuditEntry) error
	ListAudit(ctx context.Context, date string, limit int) ([]model.AuditEntry, error)

	AutoEnabled(ctx context.Context, fallback bool) (bool, error)
	SetAutoEnabled(ctx context.Context, enabled bool) error

	GetEmployeeInfo(ctx context.Context) (*model.EmployeeInfo, error)
	SaveEmployeeInfo(ctx context.Context, info model.EmployeeInfo) error

	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db            *gorm.DB
	retentionDays int
}

// NewGormStore creates a new GORM-backed store. retentionDays <= 0 selects
// DefaultNoticeRetentionDays.
func NewGormStore(db *gorm.DB, retentionDays int) Store {
	if retentionDays <= 0 {
		retentionDays = DefaultNoticeRetentionDays
	}
	return &gormStore{db: db, retentionDays: retentionDays}
}

// DB exposes the underlying handle for the subscription handlers.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) GetSchedule(ctx context.Context, date string) (*model.DailySchedule, error) {
	var sched model.DailySchedule
	err := s.db.WithContext(ctx).Where("date = ?", date).Take(&sched).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule for %s: %w", date, err)
	}
	return &sched, nil
}

func (s *gormStore) CreateSchedule(ctx context.Context, sched model.DailySchedule) (*model.DailySchedule, bool, error) {
	var stored model.DailySchedule
	var created bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "date"}},
			DoNothing: true,
		}).Create(&sched)
		if res.Error != nil {
			return fmt.Errorf("failed to insert schedule for %s: %w", sched.Date, res.Error)
		}
		created = res.RowsAffected == 1

		if err := seedProgress(tx, sched.Date); err != nil {
			return err
		}
		return tx.Where("date = ?", sched.Date).Take(&stored).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &stored, created, nil
}

func (s *gormStore) DeleteDay(ctx context.Context, date string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("date = ?", date).Delete(&model.DailySchedule{}).Error; err != nil {
			return fmt.Errorf("failed to delete schedule for %s: %w", date, err)
		}
		if err := tx.Where("date = ?", date).Delete(&model.ActionProgress{}).Error; err != nil {
			return fmt.Errorf("failed to delete progress for %s: %w", date, err)
		}
		if err := tx.Where("date = ?", date).Delete(&model.NoticeRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete notices for %s: %w", date, err)
		}
		return nil
	})
}

func (s *gormStore) GetProgress(ctx context.Context, date string) (map[model.ActionKind]model.ActionProgress, error) {
	var rows []model.ActionProgress
	if err := s.db.WithContext(ctx).Where("date = ?", date).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load progress for %s: %w", date, err)
	}
	progress := make(map[model.ActionKind]model.ActionProgress, len(model.ActionKinds))
	for _, kind := range model.ActionKinds {
		progress[kind] = model.ActionProgress{Date: date, Kind: kind, Status: model.StatusPending}
	}
	for _, row := range rows {
		progress[row.Kind] = row
	}
	return progress, nil
}

func seedProgress(tx *gorm.DB, date string) error {
	rows := make([]model.ActionProgress, 0, len(model.ActionKinds))
	for _, kind := range model.ActionKinds {
		rows = append(rows, model.ActionProgress{Date: date, Kind: kind, Status: model.StatusPending})
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}, {Name: "kind"}},
		DoNothing: true,
	}).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to seed progress for %s: %w", date, err)
	}
	return nil
}

// MarkHoliday closes every still-open kind for the date. It reports whether
// any row changed.
func (s *gormStore) MarkHoliday(ctx context.Context, date string) (bool, error) {
	var changed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := seedProgress(tx, date); err != nil {
			return err
		}
		res := tx.Model(&model.ActionProgress{}).
			Where("date = ? AND done = ?", date, false).
			Updates(map[string]any{
				"done":    true,
				"blocked": true,
				"status":  model.StatusHoliday,
			})
		changed = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to mark %s as holiday: %w", date, err)
	}
	return changed > 0, nil
}

// MarkMissed closes an open, unleased row. Only the caller that flips the
// row gets true.
func (s *gormStore) MarkMissed(ctx context.Context, date string, kind model.ActionKind, now time.Time, reason string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.ActionProgress{}).
		Where("date = ? AND kind = ? AND done = ? AND lease_until < ?", date, kind, false, now.Unix()).
		Updates(map[string]any{
			"done":       true,
			"blocked":    true,
			"status":     model.StatusMissed,
			"last_error": reason,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark %s %s as missed: %w", date, kind, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkDone records a success that did not go through the lease, such as a
// manual check-in.
func (s *gormStore) MarkDone(ctx context.Context, date string, kind model.ActionKind, now time.Time) error {
	if err := seedProgress(s.db.WithContext(ctx), date); err != nil {
		return err
	}
	doneAt := now.UTC()
	err := s.db.WithContext(ctx).Model(&model.ActionProgress{}).
		Where("date = ? AND kind = ?", date, kind).
		Updates(map[string]any{
			"done":        true,
			"blocked":     false,
			"status":      model.StatusDone,
			"done_at":     &doneAt,
			"last_error":  "",
			"lease_owner": "",
			"lease_until": 0,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark %s %s as done: %w", date, kind, err)
	}
	return nil
}

// ClaimAction is the cross-process compare-and-set: it takes a lease on an
// open row whose previous lease has expired and bumps the attempt counter.
func (s *gormStore) ClaimAction(ctx context.Context, date string, kind model.ActionKind, owner string, now time.Time, lease time.Duration) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.ActionProgress{}).
		Where("date = ? AND kind = ? AND done = ? AND lease_until < ?", date, kind, false, now.Unix()).
		Updates(map[string]any{
			"lease_owner": owner,
			"lease_until": now.Add(lease).Unix(),
			"attempts":    gorm.Expr("attempts + ?", 1),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim %s %s: %w", date, kind, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) CompleteAction(ctx context.Context, date string, kind model.ActionKind, owner string, now time.Time) (bool, error) {
	doneAt := now.UTC()
	res := s.db.WithContext(ctx).Model(&model.ActionProgress{}).
		Where("date = ? AND kind = ? AND done = ? AND lease_owner = ?", date, kind, false, owner).
		Updates(map[string]any{
			"done":        true,
			"blocked":     false,
			"status":      model.StatusDone,
			"done_at":     &doneAt,
			"last_error":  "",
			"lease_owner": "",
			"lease_until": 0,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to complete %s %s: %w", date, kind, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) ReleaseAction(ctx context.Context, date string, kind model.ActionKind, owner string, lastErr string) error {
	lastErr = clip(lastErr, 512)
	err := s.db.WithContext(ctx).Model(&model.ActionProgress{}).
		Where("date = ? AND kind = ? AND lease_owner = ?", date, kind, owner).
		Updates(map[string]any{
			"last_error":  lastErr,
			"lease_owner": "",
			"lease_until": 0,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to release %s %s: %w", date, kind, err)
	}
	return nil
}

// clip cuts s to at most limit bytes without splitting a UTF-8 sequence.
func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	n := limit
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// --- Notice dedupe ---

// purgeNotices discards records older than the retention window relative to
// date. Malformed dates skip the purge.
func (s *gormStore) purgeNotices(ctx context.Context, date string) error {
	day, err := time.Parse(DateLayout, date)
	if err != nil {
		return nil
	}
	cutoff := day.AddDate(0, 0, -s.retentionDays).Format(DateLayout)
	if err := s.db.WithContext(ctx).Where("date < ?", cutoff).Delete(&model.NoticeRecord{}).Error; err != nil {
		return fmt.Errorf("failed to purge notices before %s: %w", cutoff, err)
	}
	return nil
}

func (s *gormStore) AlreadySent(ctx context.Context, date string, kind model.NoticeKind) (bool, error) {
	if err := s.purgeNotices(ctx, date); err != nil {
		return false, err
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.NoticeRecord{}).
		Where("date = ? AND kind = ?", date, kind).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check notice %s for %s: %w", kind, date, err)
	}
	return count > 0, nil
}

func (s *gormStore) MarkSent(ctx context.Context, date string, kind model.NoticeKind, at time.Time) error {
	record := model.NoticeRecord{Date: date, Kind: kind, SentAt: at.UTC()}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}, {Name: "kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"sent_at"}),
	}).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to mark notice %s for %s: %w", kind, date, err)
	}
	return nil
}

func (s *gormStore) TryMarkSent(ctx context.Context, date string, kind model.NoticeKind, at time.Time) (bool, error) {
	if err := s.purgeNotices(ctx, date); err != nil {
		return false, err
	}
	record := model.NoticeRecord{Date: date, Kind: kind, SentAt: at.UTC()}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}, {Name: "kind"}},
		DoNothing: true,
	}).Create(&record)
	if res.Error != nil {
		return false, fmt.Errorf("failed to record notice %s for %s: %w", kind, date, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// --- Audit ---

func (s *gormStore) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	entry.Message = clip(entry.Message, 1024)
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *gormStore) ListAudit(ctx context.Context, date string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []model.AuditEntry
	if err := s.db.WithContext(ctx).
		Where("date = ?", date).
		Order("created_at ASC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list audit for %s: %w", date, err)
	}
	return entries, nil
}

// --- Settings and employee info ---

func (s *gormStore) AutoEnabled(ctx context.Context, fallback bool) (bool, error) {
	var setting model.AutoSetting
	err := s.db.WithContext(ctx).Where("id = ?", model.AutoSettingID).Take(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fallback, nil
	}
	if err != nil {
		return fallback, fmt.Errorf("failed to load auto setting: %w", err)
	}
	return setting.Enabled, nil
}

func (s *gormStore) SetAutoEnabled(ctx context.Context, enabled bool) error {
	setting := model.AutoSetting{ID: model.AutoSettingID, Enabled: enabled, UpdatedAt: time.Now().UTC()}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "updated_at"}),
	}).Create(&setting).Error; err != nil {
		return fmt.Errorf("failed to save auto setting: %w", err)
	}
	return nil
}

func (s *gormStore) GetEmployeeInfo(ctx context.Context) (*model.EmployeeInfo, error) {
	var info model.EmployeeInfo
	err := s.db.WithContext(ctx).Where("id = ?", model.EmployeeInfoID).Take(&info).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load employee info: %w", err)
	}
	return &info, nil
}

func (s *gormStore) SaveEmployeeInfo(ctx context.Context, info model.EmployeeInfo) error {
	info.ID = model.EmployeeInfoID
	if info.UpdatedAt.IsZero() {
		info.UpdatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"employee_id", "employee_number", "location_id",
			"raw_user_info", "raw_first_location", "updated_at",
		}),
	}).Create(&info).Error; err != nil {
		return fmt.Errorf("failed to save employee info: %w", err)
	}
	return nil
}
