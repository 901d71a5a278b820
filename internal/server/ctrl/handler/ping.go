package handler

import (
	"encoding/json"
	"log/slog"

	"github.com/auricle-dev/auricle/ctrltypes"
	"github.com/auricle-dev/auricle/internal/server/ctrl"
)

const (
	serverName    = "auricle"
	serverVersion = "1.0.0"
)

// Ping returns a handler answering with the server identity.
func Ping() ctrl.HandlerFunc {
	return func(req *ctrl.Request, res *ctrl.Response, logger *slog.Logger) error {
		payload := ctrltypes.PingResponse{Server: serverName, Version: serverVersion}
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		res.JSON = string(b)
		return nil
	}
}
