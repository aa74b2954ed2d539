package logging

// WebhookContext creates a logger scoped to a billing webhook event
func WebhookContext(eventType, eventID string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"event_type": eventType,
		"event_id":   eventID,
	}).WithComponent("webhook")
}

// AdminContext creates a logger scoped to an admin command
func AdminContext(adminEmail, action, targetID string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"admin":     adminEmail,
		"action":    action,
		"target_id": targetID,
	}).WithComponent("admin")
}
