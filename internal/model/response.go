package model

// BasicResponse is the envelope used by the console-facing APIs. The dispatch
// endpoint does not use it; its response shapes are fixed by the backend
// callers that already consume the hosted function.
type BasicResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

const (
	SuccessCode = "000000"
	ErrorCode   = "999999"
)

// Success wraps data with a success code.
func Success(msg string, data any) BasicResponse {
	return BasicResponse{
		Code: SuccessCode,
		Msg:  msg,
		Data: data,
	}
}

// Error returns a BasicResponse with the default error code.
func Error(msg string) BasicResponse {
	return BasicResponse{
		Code: ErrorCode,
		Msg:  msg,
	}
}
