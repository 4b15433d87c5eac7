package game

import "errors"

// Errors surfaced by the coordinator. ErrAlreadyAdvanced and
// ErrDuplicateContribution are expected outcomes of benign races (a timeout
// firing after an explicit completion, a retried request), not incidents.
var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrForbidden             = errors.New("not the session creator")
	ErrInvalidPhase          = errors.New("invalid phase for action")
	ErrInvalidSettings       = errors.New("invalid session settings")
	ErrSessionNotJoinable    = errors.New("session is not accepting players")
	ErrSessionFull           = errors.New("session is full")
	ErrNotEnoughPlayers      = errors.New("not enough players to start")
	ErrNotYourTurn           = errors.New("not your turn")
	ErrInvalidTopic          = errors.New("topic is not among the candidates")
	ErrAlreadyAdvanced       = errors.New("turn already advanced")
	ErrDuplicateContribution = errors.New("contribution already recorded for this turn")
	ErrNotCompleted          = errors.New("session is not completed")
	ErrCodeTaken             = errors.New("join code already in use")
	ErrCodeExhausted         = errors.New("could not allocate a unique join code")
)
