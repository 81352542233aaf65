package protocol

import (
	"encoding/json"
	"testing"
)

func TestHandlerMethodNotFound(t *testing.T) {
	h := NewHandler(nil)
	resp := h.Handle(Request{JSONRPC: "2.0", ID: 1, Method: "nonexistent"})

	if resp.Error == nil {
		t.Fatal("expected error")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("Code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
}

func TestHandlerInvalidVersion(t *testing.T) {
	h := NewHandler(nil)
	resp := h.Handle(Request{JSONRPC: "1.0", ID: 1, Method: MethodTrialState})

	if resp.Error == nil {
		t.Fatal("expected error for invalid version")
	}
	if resp.Error.Code != CodeInvalidRequest {
		t.Errorf("Code = %d, want %d", resp.Error.Code, CodeInvalidRequest)
	}
}

func TestHandlerSuccess(t *testing.T) {
	h := NewHandler(nil)
	h.Register(MethodTrialAddExample, func(params json.RawMessage) (any, *Error) {
		p, err := ParseParams[TextParams](params)
		if err != nil {
			return nil, err
		}
		return map[string]string{"added": p.Text}, nil
	})

	resp := h.Handle(Request{
		JSONRPC: "2.0",
		ID:      1,
		Method:  MethodTrialAddExample,
		Params:  json.RawMessage(`{"text":"cat"}`),
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	result, ok := resp.Result.(map[string]string)
	if !ok {
		t.Fatalf("unexpected result type: %T", resp.Result)
	}
	if result["added"] != "cat" {
		t.Errorf("added = %q", result["added"])
	}
}

func TestHandlerError(t *testing.T) {
	h := NewHandler(nil)
	h.Register(MethodTrialStart, func(params json.RawMessage) (any, *Error) {
		return nil, &Error{Code: CodeNoStudy, Message: "no study loaded"}
	})

	resp := h.Handle(Request{JSONRPC: "2.0", ID: 2, Method: MethodTrialStart})
	if resp.Error == nil {
		t.Fatal("expected error")
	}
	if resp.Error.Code != CodeNoStudy {
		t.Errorf("Code = %d", resp.Error.Code)
	}
	if resp.ID != 2 {
		t.Errorf("ID = %v", resp.ID)
	}
}

func TestHandlerRecoversPanic(t *testing.T) {
	h := NewHandler(nil)
	h.Register("boom", func(params json.RawMessage) (any, *Error) {
		panic("nil map")
	})

	resp := h.Handle(Request{JSONRPC: "2.0", ID: 3, Method: "boom"})
	if resp.Error == nil || resp.Error.Code != CodeInternalError {
		t.Fatalf("expected internal error, got %+v", resp.Error)
	}
	if resp.ID != 3 {
		t.Errorf("ID = %v", resp.ID)
	}
}

func TestHandleRaw(t *testing.T) {
	h := NewHandler(nil)
	h.Register("ping", func(params json.RawMessage) (any, *Error) {
		return "pong", nil
	})

	resp, reply := h.HandleRaw([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	if !reply {
		t.Fatal("expected a reply for a request with an id")
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if resp.Result != "pong" {
		t.Errorf("Result = %v", resp.Result)
	}
}

func TestHandleRawNotification(t *testing.T) {
	called := false
	h := NewHandler(nil)
	h.Register("ping", func(params json.RawMessage) (any, *Error) {
		called = true
		return "pong", nil
	})

	_, reply := h.HandleRaw([]byte(`{"jsonrpc":"2.0","method":"ping"}`))
	if reply {
		t.Error("expected no reply for a notification")
	}
	if !called {
		t.Error("notification was not handled")
	}
}

func TestHandleRawParseError(t *testing.T) {
	h := NewHandler(nil)
	resp, reply := h.HandleRaw([]byte(`{invalid json`))

	if !reply {
		t.Error("parse errors are always answered")
	}
	if resp.Error == nil {
		t.Fatal("expected parse error")
	}
	if resp.Error.Code != CodeParseError {
		t.Errorf("Code = %d", resp.Error.Code)
	}
}

func TestParseParams(t *testing.T) {
	params, err := ParseParams[IndexParams](json.RawMessage(`{"index":2}`))
	if err != nil {
		t.Fatalf("ParseParams: %v", err)
	}
	if params.Index == nil || *params.Index != 2 {
		t.Errorf("Index = %v, want 2", params.Index)
	}

	params, err = ParseParams[IndexParams](json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("ParseParams: %v", err)
	}
	if params.Index != nil {
		t.Errorf("Index = %d, want nil for a missing index", *params.Index)
	}
}

func TestParseParamsNil(t *testing.T) {
	params, err := ParseParams[StudyLoadParams](nil)
	if err != nil {
		t.Fatalf("ParseParams(nil): %v", err)
	}
	if params.Path != "" {
		t.Errorf("expected empty path, got %q", params.Path)
	}
}

func TestParseParamsInvalid(t *testing.T) {
	_, err := ParseParams[TextParams](json.RawMessage(`"not an object"`))
	if err == nil {
		t.Fatal("expected error for invalid params")
	}
	if err.Code != CodeInvalidParams {
		t.Errorf("Code = %d", err.Code)
	}
}

func TestHandlerMethodsSorted(t *testing.T) {
	h := NewHandler(nil)
	h.Register(MethodTrialState, func(params json.RawMessage) (any, *Error) { return nil, nil })
	h.Register(MethodStudyLoad, func(params json.RawMessage) (any, *Error) { return nil, nil })

	methods := h.Methods()
	if len(methods) != 2 {
		t.Fatalf("Methods() len = %d, want 2", len(methods))
	}
	if methods[0] != MethodStudyLoad {
		t.Errorf("Methods()[0] = %q, want %q", methods[0], MethodStudyLoad)
	}
}

func TestErrorResponse(t *testing.T) {
	resp := NewErrorResponse(2, CodeStudyInvalid, "study is invalid", []FieldError{{Field: "meta.name", Message: "required"}})

	if resp.Error == nil {
		t.Fatal("Error should not be nil")
	}
	if resp.Error.Error() != "study is invalid" {
		t.Errorf("Message = %q", resp.Error.Message)
	}
	if resp.JSONRPC != "2.0" {
		t.Error("JSONRPC should be 2.0")
	}
}
