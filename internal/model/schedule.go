package model

import "time"

// ActionKind identifies one of the two daily attendance actions.
type ActionKind string

const (
	ActionCheckin  ActionKind = "checkin"
	ActionCheckout ActionKind = "checkout"
)

// ActionKinds lists the kinds in evaluation order.
var ActionKinds = []ActionKind{ActionCheckin, ActionCheckout}

// Label is the human readable name used in notices.
func (k ActionKind) Label() string {
	switch k {
	case ActionCheckin:
		return "تسجيل الدخول"
	case ActionCheckout:
		return "تسجيل الخروج"
	}
	return string(k)
}

// Valid reports whether k is a known kind.
func (k ActionKind) Valid() bool {
	return k == ActionCheckin || k == ActionCheckout
}

// ProgressStatus is the persisted terminal or pending state of an action for a day.
type ProgressStatus string

const (
	StatusPending ProgressStatus = "pending"
	StatusDone    ProgressStatus = "done"
	StatusMissed  ProgressStatus = "missed"
	StatusHoliday ProgressStatus = "holiday"
)

// DailySchedule holds the randomized windows for one calendar date.
// Windows are half-open [start, end) in minutes of the local day.
type DailySchedule struct {
	Date          string    `gorm:"primaryKey;size:10" json:"date"`
	CheckinStart  int       `gorm:"not null" json:"checkinStart"`
	CheckinEnd    int       `gorm:"not null" json:"checkinEnd"`
	CheckoutStart int       `gorm:"not null" json:"checkoutStart"`
	CheckoutEnd   int       `gorm:"not null" json:"checkoutEnd"`
	GeneratedAt   time.Time `gorm:"not null" json:"generatedAt"`
}

// Window returns the [start, end) bounds for kind.
func (s DailySchedule) Window(kind ActionKind) (start, end int) {
	if kind == ActionCheckout {
		return s.CheckoutStart, s.CheckoutEnd
	}
	return s.CheckinStart, s.CheckinEnd
}

// ActionProgress tracks one action kind for one date. Once Done is true no
// further external call is made for that (date, kind).
type ActionProgress struct {
	Date       string         `gorm:"primaryKey;size:10" json:"date"`
	Kind       ActionKind     `gorm:"primaryKey;size:16" json:"kind"`
	Done       bool           `gorm:"not null;default:false" json:"done"`
	Blocked    bool           `gorm:"not null;default:false" json:"blocked"`
	Status     ProgressStatus `gorm:"size:16;not null;default:'pending'" json:"status"`
	Attempts   int            `gorm:"not null;default:0" json:"attempts"`
	LastError  string         `gorm:"size:512" json:"lastError,omitempty"`
	DoneAt     *time.Time     `json:"doneAt,omitempty"`
	LeaseOwner string         `gorm:"size:64" json:"-"`
	LeaseUntil int64          `gorm:"not null;default:0" json:"-"` // unix seconds
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// NoticeKind names a once-per-date user notice.
type NoticeKind string

const (
	NoticeWindowsAnnounced  NoticeKind = "windows-announced"
	NoticeHolidayBlocked    NoticeKind = "holiday-blocked"
	NoticeCheckinMissed     NoticeKind = "checkin-missed"
	NoticeCheckoutMissed    NoticeKind = "checkout-missed"
	NoticeCredentialMissing NoticeKind = "credential-missing"
)

// MissedNotice returns the notice kind emitted when kind's window closes unmet.
func MissedNotice(kind ActionKind) NoticeKind {
	if kind == ActionCheckout {
		return NoticeCheckoutMissed
	}
	return NoticeCheckinMissed
}

// NoticeRecord is the durable dedupe flag for a notice on a date.
type NoticeRecord struct {
	Date   string     `gorm:"primaryKey;size:10"`
	Kind   NoticeKind `gorm:"primaryKey;size:32"`
	SentAt time.Time  `gorm:"not null"`
}
