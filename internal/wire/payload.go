// Package wire defines the JSON shape carried on the alarms bus (spec
// §6), shared by the consumer (decode) and the admin HTTP surface
// (encode, for the reprocess-pending-by-channel endpoint).
package wire

import (
	"time"

	"github.com/alarmdispatch/core/internal/domain/model"
)

// AlarmPayload is `{ alarm_id, imei, status, category, gps_time
// (RFC3339 UTC), latitude, longitude, speed, is_sms, is_email, is_call,
// is_valid }`. Unknown fields are ignored on decode.
type AlarmPayload struct {
	AlarmID   int64     `json:"alarm_id"`
	IMEI      string    `json:"imei"`
	Status    string    `json:"status"`
	Category  string    `json:"category"`
	GPSTime   time.Time `json:"gps_time"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed"`
	IsSMS     bool      `json:"is_sms"`
	IsEmail   bool      `json:"is_email"`
	IsCall    bool      `json:"is_call"`
	IsValid   bool      `json:"is_valid"`

	// PausedRequeues is consumer-internal bookkeeping for the soft cap on
	// total wait-lane requeues while the system is paused (spec §5). It
	// rides in the body, not an AMQP header, because it must survive the
	// wait lane's dead-letter-back-to-main-exchange hop, which only
	// round-trips the message body.
	PausedRequeues int `json:"_paused_requeues,omitempty"`
}

// ToAlarm builds the in-process model from the wire shape.
func (p AlarmPayload) ToAlarm() model.Alarm {
	return model.Alarm{
		ID:        p.AlarmID,
		IMEI:      p.IMEI,
		Status:    p.Status,
		Category:  p.Category,
		GPSTime:   p.GPSTime,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Speed:     p.Speed,
		IsSMS:     p.IsSMS,
		IsEmail:   p.IsEmail,
		IsCall:    p.IsCall,
		IsValid:   p.IsValid,
	}
}

// FromAlarm builds the wire shape from a loaded alarm, used by the admin
// reprocess-pending-by-channel endpoint to republish onto the bus.
func FromAlarm(a model.Alarm) AlarmPayload {
	return AlarmPayload{
		AlarmID:   a.ID,
		IMEI:      a.IMEI,
		Status:    a.Status,
		Category:  a.Category,
		GPSTime:   a.GPSTime,
		Latitude:  a.Latitude,
		Longitude: a.Longitude,
		Speed:     a.Speed,
		IsSMS:     a.IsSMS,
		IsEmail:   a.IsEmail,
		IsCall:    a.IsCall,
		IsValid:   a.IsValid,
	}
}
