package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Lesson Engine API",
        "description": "Recurring lesson occurrences, lesson edits and lesson attendance",
        "version": "0.1.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Calendar", "description": "Resolved lesson occurrences"},
        {"name": "Lessons", "description": "One-off lessons"},
        {"name": "Lesson Templates", "description": "Weekly series and their occurrences"},
        {"name": "Lesson Attendance", "description": "Per-occurrence attendance and audits"}
    ],
    "paths": {
        "/calendar/occurrences": {
            "get": {
                "tags": ["Calendar"],
                "summary": "List lesson occurrences in a half-open window",
                "parameters": [
                    {"name": "start", "in": "query", "required": true, "type": "string", "description": "YYYY-MM-DD (local midnight) or RFC3339"},
                    {"name": "end", "in": "query", "required": true, "type": "string", "description": "exclusive; YYYY-MM-DD or RFC3339"},
                    {"name": "class_id", "in": "query", "type": "string"},
                    {"name": "teacher_id", "in": "query", "type": "string"},
                    {"name": "subject_id", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid window", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/calendar/occurrences.ics": {
            "get": {
                "tags": ["Calendar"],
                "summary": "Export lesson occurrences as iCalendar",
                "produces": ["text/calendar"],
                "parameters": [
                    {"name": "start", "in": "query", "required": true, "type": "string"},
                    {"name": "end", "in": "query", "required": true, "type": "string"},
                    {"name": "class_id", "in": "query", "type": "string"},
                    {"name": "teacher_id", "in": "query", "type": "string"},
                    {"name": "subject_id", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "VCALENDAR body"}
                }
            }
        },
        "/lessons": {
            "post": {
                "tags": ["Lessons"],
                "summary": "Create a one-off lesson",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateLessonRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lessons/{id}": {
            "patch": {
                "tags": ["Lessons"],
                "summary": "Edit a one-off lesson",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LessonChangeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Lessons"],
                "summary": "Delete a one-off lesson",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Deleted"}
                }
            }
        },
        "/lesson-templates": {
            "post": {
                "tags": ["Lesson Templates"],
                "summary": "Create a weekly lesson series",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateRecurringLessonRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lesson-templates/{id}": {
            "patch": {
                "tags": ["Lesson Templates"],
                "summary": "Edit the whole series, dropping its exceptions",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LessonChangeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Lesson Templates"],
                "summary": "Delete the series and its exceptions",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lesson-templates/{id}/occurrences/{date}": {
            "patch": {
                "tags": ["Lesson Templates"],
                "summary": "Edit one occurrence",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "date", "in": "path", "required": true, "type": "string", "description": "YYYY-MM-DD"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LessonChangeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Concurrent edit could not be merged", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Lesson Templates"],
                "summary": "Cancel one occurrence",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "date", "in": "path", "required": true, "type": "string", "description": "YYYY-MM-DD"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lesson-attendance": {
            "post": {
                "tags": ["Lesson Attendance"],
                "summary": "Record attendance at an occurrence",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RecordLessonAttendanceRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "No such occurrence", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lesson-attendance/check": {
            "post": {
                "tags": ["Lesson Attendance"],
                "summary": "Check a reference and date without recording",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CheckLessonAttendanceRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/lesson-attendance/audit": {
            "get": {
                "tags": ["Lesson Attendance"],
                "summary": "Dry-run audit of stored attendance",
                "parameters": [
                    {"name": "show_all", "in": "query", "type": "boolean"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "CreateLessonRequest": {
            "type": "object",
            "required": ["name", "subject_id", "class_id", "teacher_id", "date", "start_time", "end_time"],
            "properties": {
                "name": {"type": "string"},
                "subject_id": {"type": "string"},
                "class_id": {"type": "string"},
                "teacher_id": {"type": "string"},
                "date": {"type": "string", "example": "2025-10-15"},
                "start_time": {"type": "string", "example": "09:00"},
                "end_time": {"type": "string", "example": "10:30"}
            }
        },
        "CreateRecurringLessonRequest": {
            "type": "object",
            "required": ["name", "subject_id", "class_id", "teacher_id", "weekdays", "start_date", "start_time", "end_time"],
            "properties": {
                "name": {"type": "string"},
                "subject_id": {"type": "string"},
                "class_id": {"type": "string"},
                "teacher_id": {"type": "string"},
                "weekdays": {"type": "array", "items": {"type": "string", "example": "MO"}},
                "start_date": {"type": "string", "example": "2025-10-01"},
                "until": {"type": "string", "example": "2025-12-20"},
                "start_time": {"type": "string", "example": "09:00"},
                "end_time": {"type": "string", "example": "10:30"}
            }
        },
        "LessonChangeRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "subject_id": {"type": "string"},
                "class_id": {"type": "string"},
                "teacher_id": {"type": "string"},
                "date": {"type": "string", "description": "one-off lessons only"},
                "start_time": {"type": "string"},
                "end_time": {"type": "string"},
                "weekdays": {"type": "array", "items": {"type": "string"}, "description": "series only"},
                "start_date": {"type": "string", "description": "series only"},
                "until": {"type": "string", "description": "series only; empty clears the end"}
            }
        },
        "RecordLessonAttendanceRequest": {
            "type": "object",
            "required": ["student_id", "date", "status"],
            "properties": {
                "student_id": {"type": "string"},
                "lesson_id": {"type": "string"},
                "template_id": {"type": "string"},
                "date": {"type": "string", "example": "2025-10-13"},
                "status": {"type": "string", "enum": ["H", "S", "I", "A"]},
                "notes": {"type": "string"}
            }
        },
        "CheckLessonAttendanceRequest": {
            "type": "object",
            "required": ["date"],
            "properties": {
                "lesson_id": {"type": "string"},
                "template_id": {"type": "string"},
                "date": {"type": "string"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
