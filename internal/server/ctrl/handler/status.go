package handler

import (
	"encoding/json"
	"log/slog"

	"github.com/auricle-dev/auricle/card"
	"github.com/auricle-dev/auricle/ctrltypes"
	"github.com/auricle-dev/auricle/internal/server/ctrl"
)

// Status returns a handler reporting the card's status snapshot.
func Status(c *card.Card) ctrl.HandlerFunc {
	return func(req *ctrl.Request, res *ctrl.Response, logger *slog.Logger) error {
		s := c.Status()
		payload := ctrltypes.StatusResponse{
			Locked:        s.Locked,
			ActualRate:    s.ActualRate,
			PlaybackState: s.PlaybackState,
			CaptureState:  s.CaptureState,
			PlaybackIndex: s.PlaybackIndex,
			CaptureIndex:  s.CaptureIndex,
			PlaybackBytes: s.PlaybackBytes,
			CaptureBytes:  s.CaptureBytes,
			BufferLevel:   s.BufferLevel,
			CaptureLevel:  s.CaptureLevel,
			Underruns:     s.Underruns,
			Overruns:      s.Overruns,
			DMAErrors:     s.DMAErrors,
			ClockUnlocks:  s.ClockUnlocks,
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		res.JSON = string(b)
		return nil
	}
}
