package server

import (
	"errors"
	"net/http"

	"github.com/wfunc/tapserver/room"
)

// 客户端可见的错误码
const (
	CodeNotFound         = "not_found"
	CodeNameConflict     = "name_conflict"
	CodeRoomFull         = "room_full"
	CodeNotHost          = "not_host"
	CodeEmptyRoom        = "empty_room"
	CodeNotAcceptingActs = "not_accepting_acts"
	CodeJoinsClosed      = "joins_closed"
	CodeInvalidDuration  = "invalid_duration"
	CodeRoundInProgress  = "round_in_progress"
	CodeStorage          = "storage"
	CodeBadRequest       = "bad_request"
	CodeRateLimited      = "rate_limited"
	CodeInternal         = "internal"
)

var (
	errBadRequest  = errors.New("malformed request")
	errRateLimited = errors.New("too many acts")
	errUnknownMsg  = errors.New("unknown message type")
)

var codeTable = []struct {
	err    error
	code   string
	status int
}{
	{room.ErrNotFound, CodeNotFound, http.StatusNotFound},
	{room.ErrNameConflict, CodeNameConflict, http.StatusConflict},
	{room.ErrRoomFull, CodeRoomFull, http.StatusConflict},
	{room.ErrNotHost, CodeNotHost, http.StatusForbidden},
	{room.ErrEmptyRoom, CodeEmptyRoom, http.StatusConflict},
	{room.ErrNotAcceptingActs, CodeNotAcceptingActs, http.StatusConflict},
	{room.ErrJoinsClosed, CodeJoinsClosed, http.StatusForbidden},
	{room.ErrInvalidDuration, CodeInvalidDuration, http.StatusBadRequest},
	{room.ErrRoundInProgress, CodeRoundInProgress, http.StatusConflict},
	{room.ErrInvalidName, CodeBadRequest, http.StatusBadRequest},
	{errBadRequest, CodeBadRequest, http.StatusBadRequest},
	{errUnknownMsg, CodeBadRequest, http.StatusBadRequest},
	{errRateLimited, CodeRateLimited, http.StatusTooManyRequests},
}

// errorCode maps an operation error to its wire code and HTTP status.
func errorCode(err error) (string, int) {
	if room.IsStorageError(err) {
		return CodeStorage, http.StatusServiceUnavailable
	}
	for _, c := range codeTable {
		if errors.Is(err, c.err) {
			return c.code, c.status
		}
	}
	return CodeInternal, http.StatusInternalServerError
}
