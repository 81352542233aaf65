package protocol

import "encoding/json"

// JSON-RPC 2.0 message types for the agent session on stdin/stdout.

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"` // string or number; nil for notifications
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request expects no response.
func (r Request) IsNotification() bool {
	return r.ID == nil
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Application error codes.
const (
	CodeStudyInvalid  = -32000
	CodeNoStudy       = -32001
	CodeNotStarted    = -32002
	CodeStudyFinished = -32003
	CodeStoreFailed   = -32004
)

// Supported methods.
const (
	MethodStudyLoad     = "study.load"
	MethodStudyValidate = "study.validate"

	MethodTrialStart         = "trial.start"
	MethodTrialState         = "trial.state"
	MethodTrialAddExample    = "trial.add_example"
	MethodTrialRemoveExample = "trial.remove_example"
	MethodTrialSubmitGuess   = "trial.submit_guess"
	MethodTrialAdvance       = "trial.advance"

	MethodRecordsList = "records.list"
)

// NewResponse creates a successful response.
func NewResponse(id any, result any) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id any, code int, message string, data any) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// StudyLoadParams holds parameters for "study.load". An empty Path loads
// the bundled study.
type StudyLoadParams struct {
	Path   string            `json:"path,omitempty"`
	Params map[string]string `json:"params,omitempty"`
}

// StudyValidateParams holds parameters for "study.validate".
type StudyValidateParams struct {
	Path   string            `json:"path"`
	Params map[string]string `json:"params,omitempty"`
}

// TextParams holds parameters for "trial.add_example" and
// "trial.submit_guess".
type TextParams struct {
	Text string `json:"text"`
}

// IndexParams holds parameters for "trial.remove_example". Index is
// required; a pointer tells a missing index from index 0.
type IndexParams struct {
	Index *int `json:"index"`
}

// NewIndexParams returns IndexParams for index i.
func NewIndexParams(i int) IndexParams {
	return IndexParams{Index: &i}
}

// RecordsListParams holds parameters for "records.list". An empty Session
// lists the current session.
type RecordsListParams struct {
	Session string `json:"session,omitempty"`
}

// StudyInfo is the result of "study.load".
type StudyInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	SessionID   string `json:"session_id"`
	Trials      int    `json:"trials"`
	Elicitation int    `json:"elicitation"`
	Guessing    int    `json:"guessing"`
}

// ValidationInfo is the result of "study.validate".
type ValidationInfo struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors,omitempty"`
}

// FieldError is one validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
