package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/auricle-dev/auricle/ctrltypes"
	"github.com/auricle-dev/auricle/internal/server/ctrl"
	"github.com/auricle-dev/auricle/regfile"
)

// parseReg accepts decimal or 0x-prefixed hex register values.
func parseReg(s string) (uint32, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	base := 10
	if strings.HasPrefix(s, "0x") {
		s = strings.TrimPrefix(s, "0x")
		base = 16
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// RegRead returns a handler for "reg/{offset}/read".
func RegRead(regs *regfile.RegisterFile) ctrl.HandlerFunc {
	return func(req *ctrl.Request, res *ctrl.Response, logger *slog.Logger) error {
		offset, err := parseReg(req.Params["offset"])
		if err != nil {
			return ctrl.ErrBadRequest(fmt.Sprintf("invalid offset: %v", err))
		}
		value, err := regs.Read32(offset)
		if err != nil {
			return ctrl.ErrNotFound(err.Error())
		}
		b, err := json.Marshal(ctrltypes.RegAccessResponse{Offset: offset, Value: value})
		if err != nil {
			return err
		}
		res.JSON = string(b)
		return nil
	}
}

// RegWrite returns a handler for "reg/{offset}/write"; the payload carries
// the value.
func RegWrite(regs *regfile.RegisterFile) ctrl.HandlerFunc {
	return func(req *ctrl.Request, res *ctrl.Response, logger *slog.Logger) error {
		offset, err := parseReg(req.Params["offset"])
		if err != nil {
			return ctrl.ErrBadRequest(fmt.Sprintf("invalid offset: %v", err))
		}
		value, err := parseReg(req.Payload)
		if err != nil {
			return ctrl.ErrBadRequest(fmt.Sprintf("invalid value: %v", err))
		}
		if err := regs.Write32(offset, value); err != nil {
			return ctrl.ErrConflict(err.Error())
		}
		after, err := regs.Read32(offset)
		if err != nil {
			// Write-only offsets report the written value.
			after = value
		}
		b, err := json.Marshal(ctrltypes.RegAccessResponse{Offset: offset, Value: after})
		if err != nil {
			return err
		}
		res.JSON = string(b)
		return nil
	}
}
