package chat

// BridgeMessageIDs maps a bridge name to the native message ID that bridge
// assigned when it mirrored a hub message. Telegram message IDs are stored
// in decimal string form; Slack uses the message ts; Discord the snowflake.
type BridgeMessageIDs map[string]string

// Merge unions other into ids. An ID already present is never overwritten,
// so merges commute and repeated delivery of the same result is harmless.
func (ids BridgeMessageIDs) Merge(other BridgeMessageIDs) BridgeMessageIDs {
	if ids == nil {
		ids = make(BridgeMessageIDs, len(other))
	}
	for bridge, native := range other {
		if native == "" {
			continue
		}
		if _, exists := ids[bridge]; !exists {
			ids[bridge] = native
		}
	}
	return ids
}

// Clone returns an independent copy.
func (ids BridgeMessageIDs) Clone() BridgeMessageIDs {
	if ids == nil {
		return nil
	}
	out := make(BridgeMessageIDs, len(ids))
	for k, v := range ids {
		out[k] = v
	}
	return out
}
