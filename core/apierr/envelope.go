package apierr

// Envelope is the response shape for every operation.
type Envelope struct {
	Code  Code   `json:"code"`
	Err   string `json:"err,omitempty"`
	Data  any    `json:"data,omitempty"`
	Total *int64 `json:"total,omitempty"`
}

// Respond builds an envelope from an operation result. A non-nil err wins
// over data; unexpected failures never leak their cause.
func Respond(data any, err error) Envelope {
	if err != nil {
		return Envelope{Code: CodeOf(err), Err: ClientMessage(err)}
	}
	return Envelope{Code: OK, Data: data}
}

// RespondList builds an envelope carrying a total count.
func RespondList(data any, total int64, err error) Envelope {
	if err != nil {
		return Respond(nil, err)
	}
	return Envelope{Code: OK, Data: data, Total: &total}
}
