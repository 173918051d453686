package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Timetable API",
        "description": "Weekly timetable allocation engine: datasets in, teacher/group/room timetables out.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [
        {"BearerAuth": []}
    ],
    "tags": [
        {"name": "Datasets", "description": "Stored scheduling inputs"},
        {"name": "Timetables", "description": "Solver runs, views and exports"}
    ],
    "paths": {
        "/datasets": {
            "get": {
                "tags": ["Datasets"],
                "summary": "List datasets",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Datasets"],
                "summary": "Upload a dataset",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateDatasetRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Blank or duplicate ids", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/datasets/{id}": {
            "get": {
                "tags": ["Datasets"],
                "summary": "Get dataset record counts",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Datasets"],
                "summary": "Delete a dataset",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Deleted"}
                }
            }
        },
        "/timetables/generate": {
            "post": {
                "tags": ["Timetables"],
                "summary": "Generate a timetable synchronously",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/GenerateTimetableRequest"}}
                ],
                "responses": {
                    "201": {"description": "Completed run", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid payload", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetables/runs": {
            "get": {
                "tags": ["Timetables"],
                "summary": "List timetable runs",
                "parameters": [
                    {"name": "datasetId", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string", "enum": ["QUEUED", "RUNNING", "COMPLETED", "FAILED"]},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Timetables"],
                "summary": "Queue a timetable run",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/GenerateTimetableRequest"}}
                ],
                "responses": {
                    "202": {"description": "Queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetables/runs/{id}": {
            "get": {
                "tags": ["Timetables"],
                "summary": "Get a timetable run",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Timetables"],
                "summary": "Delete a finished timetable run",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Deleted"},
                    "409": {"description": "Run still queued or running", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetables/runs/{id}/views/{view}": {
            "get": {
                "tags": ["Timetables"],
                "summary": "List the teachers, groups or rooms of a run",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "view", "in": "path", "required": true, "type": "string", "enum": ["teacher", "group", "room"]}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetables/runs/{id}/views/{view}/{key}": {
            "get": {
                "tags": ["Timetables"],
                "summary": "Weekly grid of one teacher, group or room",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "view", "in": "path", "required": true, "type": "string", "enum": ["teacher", "group", "room"]},
                    {"name": "key", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown owner", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetables/runs/{id}/exports": {
            "post": {
                "tags": ["Timetables"],
                "summary": "Render a run view to CSV or PDF",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ExportRequest"}}
                ],
                "responses": {
                    "201": {"description": "Signed download URL", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetables/cache": {
            "delete": {
                "tags": ["Timetables"],
                "summary": "Drop every cached solver result",
                "responses": {
                    "204": {"description": "Purged"}
                }
            }
        },
        "/export/{token}": {
            "get": {
                "tags": ["Timetables"],
                "summary": "Download a rendered export",
                "security": [],
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File"},
                    "401": {"description": "Invalid or expired token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Exchange credentials for an access token",
                "security": [],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "Token issued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid username or password", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/register": {
            "post": {
                "tags": ["Auth"],
                "summary": "Create an account (ADMIN)",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RegisterRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Username taken", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["username", "password"],
            "properties": {
                "username": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "RegisterRequest": {
            "type": "object",
            "required": ["username", "password", "role"],
            "properties": {
                "username": {"type": "string"},
                "password": {"type": "string", "minLength": 8},
                "role": {"type": "string", "enum": ["ADMIN", "SCHEDULER", "VIEWER"]}
            }
        },
        "Dataset": {
            "type": "object",
            "properties": {
                "teachers": {"type": "array", "items": {"type": "object"}},
                "groups": {"type": "array", "items": {"type": "object"}},
                "rooms": {"type": "array", "items": {"type": "object"}},
                "subjects": {"type": "array", "items": {"type": "object"}},
                "registrations": {"type": "array", "items": {"type": "object"}},
                "teaching": {"type": "array", "items": {"type": "object"}}
            }
        },
        "CreateDatasetRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "dataset": {"$ref": "#/definitions/Dataset"}
            }
        },
        "SolverOptions": {
            "type": "object",
            "properties": {
                "timeBudgetSeconds": {"type": "integer"},
                "aggressiveAfterSeconds": {"type": "integer"},
                "maxAttempts": {"type": "integer"},
                "workers": {"type": "integer"},
                "seed": {"type": "integer"},
                "strategies": {"type": "array", "items": {"type": "string"}},
                "relax": {"type": "array", "items": {"type": "string"}},
                "substituteScope": {"type": "string", "enum": ["SAME_SUBJECT", "ANY"]},
                "skipCache": {"type": "boolean"}
            }
        },
        "GenerateTimetableRequest": {
            "type": "object",
            "properties": {
                "datasetId": {"type": "string"},
                "datasetName": {"type": "string"},
                "dataset": {"$ref": "#/definitions/Dataset"},
                "options": {"$ref": "#/definitions/SolverOptions"}
            }
        },
        "ExportRequest": {
            "type": "object",
            "required": ["view", "format"],
            "properties": {
                "view": {"type": "string", "enum": ["teacher", "group", "room"]},
                "key": {"type": "string"},
                "format": {"type": "string", "enum": ["csv", "pdf"]}
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
                "meta": {"type": "object"},
                "request_id": {"type": "string", "description": "Set on errors; matches the X-Request-ID header"}
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
