package protocol

// Kind identifies the message type of an envelope.
type Kind string

const (
	KindInit            Kind = "init"
	KindStart           Kind = "start"
	KindUpdate          Kind = "update"
	KindDispose         Kind = "dispose"
	KindRender          Kind = "render"
	KindSettingsChanged Kind = "settings_changed"
	KindError           Kind = "error"
	KindHeartbeat       Kind = "heartbeat"
	KindShutdown        Kind = "shutdown"
)

// Valid reports whether k is a known message kind.
func (k Kind) Valid() bool {
	switch k {
	case KindInit, KindStart, KindUpdate, KindDispose, KindRender,
		KindSettingsChanged, KindError, KindHeartbeat, KindShutdown:
		return true
	}
	return false
}

// Envelope is the message unit exchanged between the host and a worker.
// One envelope per request and one per reply; instance_id ties every
// message to a single hosted widget instance. Envelopes are treated as
// immutable once constructed.
type Envelope struct {
	Type       Kind           `json:"type"`
	InstanceID string         `json:"instance_id"`
	Payload    map[string]any `json:"payload"`
}

// NewInit builds the INIT request carrying the widget id and its settings.
func NewInit(instanceID, widgetID string, settings map[string]any) *Envelope {
	if settings == nil {
		settings = map[string]any{}
	}
	return &Envelope{
		Type:       KindInit,
		InstanceID: instanceID,
		Payload: map[string]any{
			"plugin_id": widgetID,
			"settings":  settings,
		},
	}
}

// NewStart builds the START request.
func NewStart(instanceID string) *Envelope {
	return &Envelope{Type: KindStart, InstanceID: instanceID, Payload: map[string]any{}}
}

// NewUpdate builds the UPDATE request carrying the elapsed time in seconds.
func NewUpdate(instanceID string, deltaTime float64) *Envelope {
	return &Envelope{
		Type:       KindUpdate,
		InstanceID: instanceID,
		Payload:    map[string]any{"delta_time": deltaTime},
	}
}

// NewRender builds the RENDER request for the given tile size.
func NewRender(instanceID string, width, height int) *Envelope {
	return &Envelope{
		Type:       KindRender,
		InstanceID: instanceID,
		Payload:    map[string]any{"width": width, "height": height},
	}
}

// NewSettingsChanged builds the SETTINGS_CHANGED request.
func NewSettingsChanged(instanceID string, settings map[string]any) *Envelope {
	if settings == nil {
		settings = map[string]any{}
	}
	return &Envelope{
		Type:       KindSettingsChanged,
		InstanceID: instanceID,
		Payload:    map[string]any{"settings": settings},
	}
}

// NewDispose builds the DISPOSE request.
func NewDispose(instanceID string) *Envelope {
	return &Envelope{Type: KindDispose, InstanceID: instanceID, Payload: map[string]any{}}
}

// NewShutdown builds the SHUTDOWN request.
func NewShutdown(instanceID string) *Envelope {
	return &Envelope{Type: KindShutdown, InstanceID: instanceID, Payload: map[string]any{}}
}

// NewHeartbeat builds the HEARTBEAT request.
func NewHeartbeat(instanceID string) *Envelope {
	return &Envelope{Type: KindHeartbeat, InstanceID: instanceID, Payload: map[string]any{}}
}

// NewAck builds the ok reply for a request of the given kind.
func NewAck(kind Kind, instanceID string) *Envelope {
	return &Envelope{
		Type:       kind,
		InstanceID: instanceID,
		Payload:    map[string]any{"status": "ok"},
	}
}

// NewError builds an ERROR reply. detail may carry a stack trace or other
// diagnostics and is omitted from the payload when empty.
func NewError(instanceID, message, detail string) *Envelope {
	payload := map[string]any{"error": message}
	if detail != "" {
		payload["detail"] = detail
	}
	return &Envelope{Type: KindError, InstanceID: instanceID, Payload: payload}
}

// IsError reports whether the envelope is an ERROR reply.
func (e *Envelope) IsError() bool {
	return e != nil && e.Type == KindError
}

// ErrorText returns the error message of an ERROR reply, or "" for any
// other envelope.
func (e *Envelope) ErrorText() string {
	if !e.IsError() {
		return ""
	}
	s, _ := e.Payload["error"].(string)
	return s
}

// ErrorDetail returns the optional diagnostic detail of an ERROR reply.
func (e *Envelope) ErrorDetail() string {
	if !e.IsError() {
		return ""
	}
	s, _ := e.Payload["detail"].(string)
	return s
}

// String returns a payload value as a string, or "" when absent or of a
// different type.
func (e *Envelope) String(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

// Number returns a payload value as a float64. JSON decoding yields
// float64 for all numbers, but envelopes constructed in-process may hold
// int values, so both forms are accepted.
func (e *Envelope) Number(key string) (float64, bool) {
	switch v := e.Payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Map returns a payload value as a nested map, or nil.
func (e *Envelope) Map(key string) map[string]any {
	m, _ := e.Payload[key].(map[string]any)
	return m
}
