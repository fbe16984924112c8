package v1

import "errors"

var (
	ErrAnswerCtx    = errors.New("prompt answer missing in context")
	ErrResponseJSON = errors.New("response is required")
	ErrContentType  = errors.New("Content-Type must be application/json")
	ErrNoPrompt     = errors.New("no prompt outstanding")
)
