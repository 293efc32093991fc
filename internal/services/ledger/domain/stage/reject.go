package stage

import (
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/kilnline/ledger/internal/platform/errors"
	"github.com/kilnline/ledger/internal/services/ledger/domain/balance"
	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/lifecycle"
	"github.com/kilnline/ledger/internal/services/ledger/domain/quantity"
)

func baseMetadata(core Core) map[string]string {
	return map[string]string{
		"AggregateType": string(core.AggregateType),
		"AggregateID":   core.AggregateID,
	}
}

// NotCreated rejects a command on an aggregate with no history.
func NotCreated(core Core) command.Rejection {
	return command.Rejection{
		Code:     string(apperrors.CodeNotFound),
		Message:  fmt.Sprintf("%s %s not found", core.AggregateType, core.AggregateID),
		Metadata: baseMetadata(core),
	}
}

// InvalidTransition rejects a command the current status does not allow.
func InvalidTransition(core Core, cmd command.Command, detail string) command.Rejection {
	meta := baseMetadata(core)
	meta["Command"] = commandVerb(cmd.Type)
	meta["Status"] = string(core.Status)
	msg := fmt.Sprintf("%s %s cannot %s while %s", core.AggregateType, core.AggregateID, meta["Command"], core.Status)
	if detail != "" {
		msg += ": " + detail
	}
	return command.Rejection{Code: string(apperrors.CodeInvalidTransition), Message: msg, Metadata: meta}
}

// Validation rejects malformed input on a named field.
func Validation(core Core, field, reason string) command.Rejection {
	meta := baseMetadata(core)
	meta["Field"] = field
	meta["Reason"] = reason
	return command.Rejection{
		Code:     string(apperrors.CodeValidation),
		Message:  fmt.Sprintf("%s %s: %s %s", core.AggregateType, core.AggregateID, field, reason),
		Metadata: meta,
	}
}

// FromError maps a ledger or lifecycle error to a coded rejection naming
// the aggregate, the quantity and the reason.
func FromError(core Core, cmd command.Command, unit quantity.Unit, err error) command.Rejection {
	var shortfall *balance.ShortfallError
	var fieldErr *quantity.FieldError
	switch {
	case errors.As(err, &shortfall):
		meta := baseMetadata(core)
		meta["Available"] = shortfall.Available.String()
		meta["Requested"] = shortfall.Requested.String()
		meta["Unit"] = string(unit)
		return command.Rejection{
			Code: string(apperrors.CodeInsufficientAvailable),
			Message: fmt.Sprintf("%s %s: %s requested but only %s available",
				core.AggregateType, core.AggregateID,
				quantity.FormatWithUnit(shortfall.Requested, unit),
				quantity.FormatWithUnit(shortfall.Available, unit)),
			Metadata: meta,
		}
	case errors.Is(err, balance.ErrInsufficientAvailable):
		meta := baseMetadata(core)
		meta["Unit"] = string(unit)
		return command.Rejection{
			Code:     string(apperrors.CodeInsufficientAvailable),
			Message:  fmt.Sprintf("%s %s: %v", core.AggregateType, core.AggregateID, err),
			Metadata: meta,
		}
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return InvalidTransition(core, cmd, "")
	case errors.Is(err, balance.ErrLinkUnknown):
		meta := baseMetadata(core)
		return command.Rejection{
			Code:     string(apperrors.CodeNotFound),
			Message:  fmt.Sprintf("%s %s: %v", core.AggregateType, core.AggregateID, err),
			Metadata: meta,
		}
	case errors.As(err, &fieldErr):
		return Validation(core, fieldErr.Field, fieldErr.Reason)
	default:
		return Validation(core, "payload", err.Error())
	}
}

func commandVerb(typ command.Type) string {
	value := string(typ)
	if idx := strings.IndexByte(value, '.'); idx >= 0 {
		value = value[idx+1:]
	}
	return strings.ReplaceAll(value, "_", " ")
}
