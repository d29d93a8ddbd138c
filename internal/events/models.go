package events

import (
	"fmt"
	"time"

	"linkhub/internal/models"
)

// Kind is the event discriminator sent by the tracker.
type Kind string

const (
	KindPageView             Kind = "page_view"
	KindScrollDepth          Kind = "scroll_depth"
	KindHeartbeat            Kind = "heartbeat"
	KindBusinessCall         Kind = "business_call"
	KindBusinessEmail        Kind = "business_email"
	KindBusinessWhatsApp     Kind = "business_whatsapp"
	KindBusinessWebsiteClick Kind = "business_website_click"
	KindClick                Kind = "click"
	KindPageExit             Kind = "page_exit"
	KindGPSGranted           Kind = "gps_location_granted"
	KindGPSDenied            Kind = "gps_location_denied"
)

var knownKinds = map[Kind]bool{
	KindPageView:             true,
	KindScrollDepth:          true,
	KindHeartbeat:            true,
	KindBusinessCall:         true,
	KindBusinessEmail:        true,
	KindBusinessWhatsApp:     true,
	KindBusinessWebsiteClick: true,
	KindClick:                true,
	KindPageExit:             true,
	KindGPSGranted:           true,
	KindGPSDenied:            true,
}

// ParseKind validates a kind received over the wire.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !knownKinds[k] {
		return "", &ValidationError{Field: "event", Reason: fmt.Sprintf("unknown event kind %q", s)}
	}
	return k, nil
}

// IsContactAction reports whether the kind is one of the four business contact actions.
func (k Kind) IsContactAction() bool {
	switch k {
	case KindBusinessCall, KindBusinessEmail, KindBusinessWhatsApp, KindBusinessWebsiteClick:
		return true
	}
	return false
}

// IsClickLike reports whether the kind carries a click payload.
func (k Kind) IsClickLike() bool {
	return k == KindClick || k.IsContactAction()
}

// Scroll thresholds, in firing order.
var ScrollThresholds = []int{25, 50, 75, 100}

// IsScrollThreshold reports whether depth is one of ScrollThresholds.
func IsScrollThreshold(depth int) bool {
	for _, t := range ScrollThresholds {
		if t == depth {
			return true
		}
	}
	return false
}

// RawEvent is one accepted tracker event. Rows are appended by ingestion and never updated.
type RawEvent struct {
	ID              uint        `gorm:"primaryKey;autoIncrement" json:"id"`
	Event           Kind        `gorm:"index;size:40;not null" json:"event"`
	SessionID       string      `gorm:"index;size:128;not null" json:"sessionId"`
	UserID          *string     `gorm:"size:128" json:"userId,omitempty"`
	URL             string      `json:"url"`
	Pathname        string      `gorm:"index;not null" json:"pathname"`
	BusinessSlug    string      `gorm:"index:idx_raw_events_business_ts,priority:1;size:128" json:"businessSlug,omitempty"`
	Referrer        *string     `json:"referrer,omitempty"`
	DeviceType      string      `gorm:"size:16" json:"deviceType"`
	Browser         string      `json:"browser"`
	OperatingSystem string      `json:"os"`
	Region          string      `json:"region"`
	Country         string      `json:"country"`
	City            string      `json:"city"`
	Metadata        models.JSON `json:"metadata"`
	ClientTimestamp *time.Time  `json:"clientTimestamp,omitempty"`
	Timestamp       time.Time   `gorm:"index;index:idx_raw_events_business_ts,priority:2;not null" json:"timestamp"`
	CreatedAt       time.Time   `json:"createdAt"`
}

// TableName pins the table name.
func (RawEvent) TableName() string {
	return "raw_events"
}

// Payload decodes the stored metadata for the event's kind.
func (e RawEvent) Payload() (Payload, error) {
	return DecodePayload(e.Event, e.Metadata)
}

// TimeOnPage returns the seconds reported by heartbeat and page_exit events.
func (e RawEvent) TimeOnPage() (float64, bool) {
	if e.Event != KindHeartbeat && e.Event != KindPageExit {
		return 0, false
	}
	p, err := e.Payload()
	if err != nil {
		return 0, false
	}
	switch v := p.(type) {
	case HeartbeatPayload:
		return v.TimeOnPage, true
	case PageExitPayload:
		return v.TimeOnPage, true
	}
	return 0, false
}

// ScrollDepth returns the threshold carried by a scroll_depth event.
func (e RawEvent) ScrollDepth() (int, bool) {
	if e.Event != KindScrollDepth {
		return 0, false
	}
	p, err := e.Payload()
	if err != nil {
		return 0, false
	}
	if v, ok := p.(ScrollDepthPayload); ok {
		return v.Depth, true
	}
	return 0, false
}

// Hour is the UTC receipt hour formatted as "00".."23".
func (e RawEvent) Hour() string {
	return fmt.Sprintf("%02d", e.Timestamp.UTC().Hour())
}
