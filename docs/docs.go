// Package docs registers the gateway's OpenAPI document with swag.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/v1/healthz": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Liveness and queue summary",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.healthResponse"}}}
            }
        },
        "/v1/jobs": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "List jobs, newest first",
                "parameters": [
                    {"type": "string", "description": "queued, running, succeeded, failed or cancelled", "name": "status", "in": "query"},
                    {"type": "string", "description": "chat, image or video", "name": "kind", "in": "query"},
                    {"type": "string", "description": "mock or real", "name": "mode", "in": "query"},
                    {"type": "integer", "description": "1-based page", "name": "page", "in": "query"},
                    {"type": "integer", "description": "at most 100", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.listResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.apiError"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Submit a generation job",
                "parameters": [
                    {"description": "kind is chat, image or video; mode defaults to the service mode", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.submitRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/handlers.submitResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.apiError"}},
                    "429": {"description": "Too Many Requests", "schema": {"type": "string"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handlers.apiError"}}
                }
            }
        },
        "/v1/jobs/stats": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Job counts per status",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/jobs.Stats"}}}
            }
        },
        "/v1/jobs/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Fetch one job",
                "parameters": [{"type": "string", "description": "job id", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Job"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.apiError"}}
                }
            },
            "delete": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Cancel a queued or running job",
                "parameters": [{"type": "string", "description": "job id", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Job"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.apiError"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/handlers.apiError"}}
                }
            }
        },
        "/v1/jobs/{id}/events": {
            "get": {
                "description": "Server-Sent Events. The first event is the current snapshot; the stream ends after the terminal status.",
                "produces": ["text/event-stream"],
                "tags": ["events"],
                "summary": "Stream one job's events",
                "parameters": [{"type": "string", "description": "job id", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "string"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.apiError"}}
                }
            }
        },
        "/v1/jobs/{id}/outputs.zip": {
            "get": {
                "produces": ["application/zip"],
                "tags": ["jobs"],
                "summary": "Download a succeeded job's stored files as a zip",
                "parameters": [{"type": "string", "description": "job id", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.apiError"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/handlers.apiError"}}
                }
            }
        },
        "/v1/events": {
            "get": {
                "produces": ["text/event-stream"],
                "tags": ["events"],
                "summary": "Stream events for every job",
                "responses": {"200": {"description": "OK", "schema": {"type": "string"}}}
            }
        },
        "/v1/outputs/{key}": {
            "get": {
                "tags": ["outputs"],
                "summary": "Download one stored output file",
                "parameters": [{"type": "string", "description": "storage key, e.g. images/<job>/<file>", "name": "key", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.apiError"}}
                }
            }
        },
        "/v1/workflows": {
            "get": {
                "produces": ["application/json"],
                "tags": ["workflows"],
                "summary": "List stored workflow templates",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.workflowList"}}}
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["workflows"],
                "summary": "Store a workflow template in ComfyUI API format",
                "parameters": [
                    {"description": "name and node graph", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.saveWorkflowRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handlers.workflowList"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.apiError"}}
                }
            }
        },
        "/v1/workflows/{name}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["workflows"],
                "summary": "Fetch one workflow template",
                "parameters": [{"type": "string", "description": "workflow name", "name": "name", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.apiError"}}
                }
            },
            "delete": {
                "tags": ["workflows"],
                "summary": "Remove a workflow template",
                "parameters": [{"type": "string", "description": "workflow name", "name": "name", "in": "path", "required": true}],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.apiError"}}
                }
            }
        },
        "/v1/backends/comfyui/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["backends"],
                "summary": "Probe the ComfyUI server",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.backendStatus"}}}
            }
        }
    },
    "definitions": {
        "domain.Job": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "kind": {"type": "string", "enum": ["chat", "image", "video"]},
                "mode": {"type": "string", "enum": ["mock", "real"]},
                "status": {"type": "string", "enum": ["queued", "running", "succeeded", "failed", "cancelled"]},
                "progress": {"type": "integer"},
                "progress_message": {"type": "string"},
                "request_payload": {"type": "object"},
                "result": {"$ref": "#/definitions/domain.Result"},
                "error": {"$ref": "#/definitions/domain.ErrorInfo"},
                "created_at": {"type": "string"},
                "started_at": {"type": "string"},
                "completed_at": {"type": "string"}
            }
        },
        "domain.Result": {
            "type": "object",
            "properties": {
                "text": {"type": "string"},
                "files": {"type": "array", "items": {"type": "string"}}
            }
        },
        "domain.ErrorInfo": {
            "type": "object",
            "properties": {
                "kind": {"type": "string", "enum": ["validation", "unavailable", "timeout", "cancelled", "internal"]},
                "message": {"type": "string"}
            }
        },
        "jobs.Stats": {
            "type": "object",
            "properties": {
                "queued": {"type": "integer"},
                "running": {"type": "integer"},
                "succeeded": {"type": "integer"},
                "failed": {"type": "integer"},
                "cancelled": {"type": "integer"},
                "total": {"type": "integer"},
                "pending": {"type": "integer"},
                "active": {"type": "integer"},
                "workers": {"type": "integer"}
            }
        },
        "handlers.apiError": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "handlers.submitRequest": {
            "type": "object",
            "properties": {
                "kind": {"type": "string", "enum": ["chat", "image", "video"]},
                "mode": {"type": "string", "enum": ["mock", "real"]},
                "payload": {"type": "object"}
            }
        },
        "handlers.submitResponse": {
            "type": "object",
            "properties": {
                "job_id": {"type": "string"},
                "status": {"type": "string"}
            }
        },
        "handlers.listResponse": {
            "type": "object",
            "properties": {
                "jobs": {"type": "array", "items": {"$ref": "#/definitions/domain.Job"}},
                "total": {"type": "integer"},
                "page": {"type": "integer"},
                "page_size": {"type": "integer"}
            }
        },
        "handlers.healthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "mode": {"type": "string"},
                "jobs": {"$ref": "#/definitions/jobs.Stats"},
                "events": {
                    "type": "object",
                    "properties": {
                        "subscribers": {"type": "integer"},
                        "published": {"type": "integer"},
                        "dropped": {"type": "integer"}
                    }
                }
            }
        },
        "handlers.workflowList": {
            "type": "object",
            "properties": {
                "workflows": {"type": "array", "items": {"type": "string"}}
            }
        },
        "handlers.saveWorkflowRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "workflow": {"type": "object"}
            }
        },
        "handlers.backendStatus": {
            "type": "object",
            "properties": {
                "available": {"type": "boolean"},
                "base_url": {"type": "string"},
                "system_stats": {"type": "object"},
                "error": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Generation Gateway API",
	Description:      "Queues chat, image and video generation jobs and streams their progress.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
