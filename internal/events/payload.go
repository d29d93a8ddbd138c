package events

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ValidationError describes a rejected tracker request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Payload is the kind-specific metadata of an event.
type Payload interface {
	Kind() Kind
}

type PageViewPayload struct {
	Title string `json:"title,omitempty"`
}

type ScrollDepthPayload struct {
	Depth         int     `json:"depth"`
	ScrollPercent float64 `json:"scrollPercent"`
}

type HeartbeatPayload struct {
	TimeOnPage float64 `json:"timeOnPage"`
	IsActive   bool    `json:"isActive"`
}

// ClickPayload is shared by click and the four contact-action kinds.
type ClickPayload struct {
	kind    Kind
	Href    string `json:"href,omitempty"`
	Text    string `json:"text,omitempty"`
	Element string `json:"element,omitempty"`
}

type PageExitPayload struct {
	TimeOnPage     float64 `json:"timeOnPage"`
	MaxScrollDepth int     `json:"maxScrollDepth"`
}

type GPSGrantedPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

type GPSDeniedPayload struct {
	Reason string `json:"reason,omitempty"`
}

func (PageViewPayload) Kind() Kind    { return KindPageView }
func (ScrollDepthPayload) Kind() Kind { return KindScrollDepth }
func (HeartbeatPayload) Kind() Kind   { return KindHeartbeat }
func (p ClickPayload) Kind() Kind     { return p.kind }
func (PageExitPayload) Kind() Kind    { return KindPageExit }
func (GPSGrantedPayload) Kind() Kind  { return KindGPSGranted }
func (GPSDeniedPayload) Kind() Kind   { return KindGPSDenied }

// NewClickPayload builds a click payload for one of the click-like kinds.
func NewClickPayload(kind Kind, href, text, element string) ClickPayload {
	return ClickPayload{kind: kind, Href: href, Text: text, Element: element}
}

func isEmptyJSON(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func metadataError(reason string) error {
	return &ValidationError{Field: "metadata", Reason: reason}
}

// DecodePayload parses and validates raw metadata for kind.
func DecodePayload(kind Kind, raw []byte) (Payload, error) {
	if !knownKinds[kind] {
		return nil, &ValidationError{Field: "event", Reason: fmt.Sprintf("unknown event kind %q", kind)}
	}
	empty := isEmptyJSON(raw)
	if !empty {
		trimmed := bytes.TrimSpace(raw)
		if trimmed[0] != '{' {
			return nil, metadataError("must be a JSON object")
		}
	}

	switch kind {
	case KindPageView:
		var p PageViewPayload
		if !empty {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, metadataError(err.Error())
			}
		}
		return p, nil

	case KindScrollDepth:
		var in struct {
			Depth         *int     `json:"depth"`
			ScrollPercent *float64 `json:"scrollPercent"`
		}
		if empty {
			return nil, metadataError("depth is required")
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, metadataError(err.Error())
		}
		if in.Depth == nil || !IsScrollThreshold(*in.Depth) {
			return nil, metadataError("depth must be one of 25, 50, 75, 100")
		}
		p := ScrollDepthPayload{Depth: *in.Depth, ScrollPercent: float64(*in.Depth)}
		if in.ScrollPercent != nil {
			if *in.ScrollPercent < 0 || *in.ScrollPercent > 100 {
				return nil, metadataError("scrollPercent must be within 0..100")
			}
			p.ScrollPercent = *in.ScrollPercent
		}
		return p, nil

	case KindHeartbeat:
		var in struct {
			TimeOnPage *float64 `json:"timeOnPage"`
			IsActive   *bool    `json:"isActive"`
		}
		if empty {
			return nil, metadataError("timeOnPage is required")
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, metadataError(err.Error())
		}
		if in.TimeOnPage == nil || *in.TimeOnPage < 0 {
			return nil, metadataError("timeOnPage must be a non-negative number")
		}
		p := HeartbeatPayload{TimeOnPage: *in.TimeOnPage, IsActive: true}
		if in.IsActive != nil {
			p.IsActive = *in.IsActive
		}
		return p, nil

	case KindClick, KindBusinessCall, KindBusinessEmail, KindBusinessWhatsApp, KindBusinessWebsiteClick:
		p := ClickPayload{kind: kind}
		if !empty {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, metadataError(err.Error())
			}
		}
		return p, nil

	case KindPageExit:
		var in struct {
			TimeOnPage     *float64 `json:"timeOnPage"`
			MaxScrollDepth *int     `json:"maxScrollDepth"`
		}
		if empty {
			return nil, metadataError("timeOnPage is required")
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, metadataError(err.Error())
		}
		if in.TimeOnPage == nil || *in.TimeOnPage < 0 {
			return nil, metadataError("timeOnPage must be a non-negative number")
		}
		p := PageExitPayload{TimeOnPage: *in.TimeOnPage}
		if in.MaxScrollDepth != nil {
			if *in.MaxScrollDepth != 0 && !IsScrollThreshold(*in.MaxScrollDepth) {
				return nil, metadataError("maxScrollDepth must be one of 0, 25, 50, 75, 100")
			}
			p.MaxScrollDepth = *in.MaxScrollDepth
		}
		return p, nil

	case KindGPSGranted:
		var in struct {
			Latitude  *float64 `json:"latitude"`
			Longitude *float64 `json:"longitude"`
			Accuracy  *float64 `json:"accuracy"`
		}
		if empty {
			return nil, metadataError("latitude and longitude are required")
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, metadataError(err.Error())
		}
		if in.Latitude == nil || *in.Latitude < -90 || *in.Latitude > 90 {
			return nil, metadataError("latitude must be within -90..90")
		}
		if in.Longitude == nil || *in.Longitude < -180 || *in.Longitude > 180 {
			return nil, metadataError("longitude must be within -180..180")
		}
		p := GPSGrantedPayload{Latitude: *in.Latitude, Longitude: *in.Longitude}
		if in.Accuracy != nil {
			if *in.Accuracy < 0 {
				return nil, metadataError("accuracy must be non-negative")
			}
			p.Accuracy = *in.Accuracy
		}
		return p, nil

	case KindGPSDenied:
		var p GPSDeniedPayload
		if !empty {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, metadataError(err.Error())
			}
		}
		return p, nil
	}

	return nil, &ValidationError{Field: "event", Reason: fmt.Sprintf("unsupported event kind %q", kind)}
}

// EncodePayload renders a payload as the stored metadata document.
func EncodePayload(p Payload) ([]byte, error) {
	return json.Marshal(p)
}
