package outbox

const activityLoggedSchema = `{
  "type": "object",
  "title": "ActivityLogged",
  "properties": {
    "activity_id": {"type": "string"},
    "user_id": {"type": "string"},
    "project_name": {"type": "string", "minLength": 1},
    "activity_type": {"type": "string"},
    "activity_description": {"type": "string", "maxLength": 255},
    "source": {"type": "string"},
    "tool": {"type": "string"},
    "machine": {"type": "string"},
    "raw_kind": {"type": "string"},
    "raw_id": {"type": "string"},
    "created_at": {"type": "string", "format": "date-time"}
  },
  "required": ["activity_id", "user_id", "project_name", "activity_type", "activity_description", "source", "tool", "machine", "raw_kind", "created_at"],
  "additionalProperties": false
}`

const activityRejectedSchema = `{
  "type": "object",
  "title": "ActivityRejected",
  "properties": {
    "reject_id": {"type": "integer"},
    "raw_kind": {"type": "string"},
    "raw_id": {"type": "string"},
    "reason": {"type": "string"},
    "detail": {"type": "string"},
    "rejected_at": {"type": "string", "format": "date-time"}
  },
  "required": ["reject_id", "raw_kind", "reason", "rejected_at"],
  "additionalProperties": false
}`
