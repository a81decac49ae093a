package logger

// GrantFields builds the structured fields logged when the engine enacts a grant.
func GrantFields(grantUUID, name string, effect string) Fields {
	return Fields{
		"grant_uuid": grantUUID,
		"grant_name": name,
		"effect":     effect,
	}
}

// DecisionFields builds the structured fields logged once an Authorize call completes.
func DecisionFields(action string, authorized, completed bool, grantUUID string) Fields {
	return Fields{
		"action":     action,
		"authorized": authorized,
		"completed":  completed,
		"grant_uuid": grantUUID,
	}
}

// WithCorrelationID adds a request correlation ID to an existing Fields set, when one was
// attached to the call's context.
func (f Fields) WithCorrelationID(correlationID string) Fields {
	if correlationID == "" {
		return f
	}
	out := make(Fields, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	out["correlation_id"] = correlationID
	return out
}

// LatchFields builds the structured fields logged when a FanOut latch trips.
func LatchFields(latchUUID string, set bool) Fields {
	return Fields{
		"latch_uuid": latchUUID,
		"set":        set,
	}
}

// LifecycleFields builds the structured fields logged on engine state transitions.
func LifecycleFields(state string) Fields {
	return Fields{"state": state}
}
