package hostfunc

import "context"

// CallRequest is a guest-to-host call as carried by the stdio protocol.
type CallRequest struct {
	Fn   string         `json:"fn"`
	Args map[string]any `json:"args"`
}

// CallResponse is the JSON document handed back to the guest for every call.
type CallResponse struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Dispatch runs req against reg and folds any error into the response.
func Dispatch(ctx context.Context, reg *Registry, req CallRequest) CallResponse {
	result, err := reg.Call(ctx, req.Fn, req.Args)
	if err != nil {
		return CallResponse{Error: err.Error()}
	}
	return CallResponse{Data: result}
}
