package admin

import "github.com/swaggo/swag"

// SwaggerInfo is served by /swagger/doc.json. It mirrors the handler
// annotations and must change with them.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Conduit Consumer Service API",
	Description:      "Operator API of the order consumer: pipe topology, saga instances, audit trail and health",
	InfoInstanceName: swag.Name,
	SwaggerTemplate:  swaggerTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

const swaggerTemplate = `{
    "swagger": "2.0",
    "schemes": {{ marshal .Schemes }},
    "info": {
        "title": "{{.Title}}",
        "description": "{{escape .Description}}",
        "version": "{{.Version}}",
        "license": {
            "name": "Apache 2.0",
            "url": "http://www.apache.org/licenses/LICENSE-2.0.html"
        }
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/pipeline": {
            "get": {
                "tags": ["pipeline"],
                "summary": "Describe receive endpoints",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/pipeline/expressions/examples": {
            "get": {
                "tags": ["pipeline"],
                "summary": "Example filter expressions",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/audit": {
            "get": {
                "tags": ["audit"],
                "summary": "Recent audit entries",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/sagas/{saga}/{id}": {
            "get": {
                "tags": ["sagas"],
                "summary": "Get a saga instance",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "description": "Saga name", "name": "saga", "in": "path", "required": true},
                    {"type": "string", "description": "Correlation id (UUID)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/admin.SagaInstance"}},
                    "400": {"description": "Bad Request", "schema": {"type": "object"}},
                    "404": {"description": "Not Found", "schema": {"type": "object"}}
                }
            },
            "delete": {
                "tags": ["sagas"],
                "summary": "Delete a saga instance",
                "parameters": [
                    {"type": "string", "description": "Saga name", "name": "saga", "in": "path", "required": true},
                    {"type": "string", "description": "Correlation id (UUID)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "400": {"description": "Bad Request", "schema": {"type": "object"}},
                    "404": {"description": "Not Found", "schema": {"type": "object"}}
                }
            }
        }
    },
    "definitions": {
        "admin.SagaInstance": {
            "type": "object",
            "properties": {
                "saga": {"type": "string"},
                "correlation_id": {"type": "string"},
                "version": {"type": "integer"},
                "completed": {"type": "boolean"},
                "state": {"type": "object"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        }
    }
}`
