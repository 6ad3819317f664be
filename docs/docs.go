// Package docs registers the generated Swagger specification for the
// filter/fan-out HTTP API. Normally produced by `swag init`; hand
// maintained here to mirror the handler annotations in internal/api.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "API information",
                "responses": {
                    "200": { "description": "OK" }
                }
            }
        },
        "/api/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Server status",
                "responses": {
                    "200": { "description": "OK" }
                }
            }
        },
        "/api/filters": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Filters"],
                "summary": "List filters",
                "responses": {
                    "200": { "description": "OK" }
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Filters"],
                "summary": "Create or replace a filter",
                "responses": {
                    "200": { "description": "OK" }
                }
            }
        },
        "/api/filters/{name}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Filters"],
                "summary": "Get a filter",
                "parameters": [
                    { "type": "string", "name": "name", "in": "path", "required": true }
                ],
                "responses": {
                    "200": { "description": "OK" },
                    "404": { "description": "unknown filter" }
                }
            },
            "delete": {
                "produces": ["application/json"],
                "tags": ["Filters"],
                "summary": "Delete a filter",
                "parameters": [
                    { "type": "string", "name": "name", "in": "path", "required": true }
                ],
                "responses": {
                    "200": { "description": "OK" }
                }
            }
        },
        "/api/timelines": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Timelines"],
                "summary": "Create a timeline filter from a handle's follow graph",
                "responses": {
                    "200": { "description": "OK" }
                }
            }
        },
        "/api/timelines/{handle}": {
            "delete": {
                "produces": ["application/json"],
                "tags": ["Timelines"],
                "summary": "Delete a timeline filter",
                "parameters": [
                    { "type": "string", "name": "handle", "in": "path", "required": true }
                ],
                "responses": {
                    "200": { "description": "OK" }
                }
            }
        },
        "/api/stats": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Fan-out drop statistics",
                "responses": {
                    "200": { "description": "OK" }
                }
            }
        },
        "/ws/{name}": {
            "get": {
                "tags": ["WebSocket"],
                "summary": "Stream filtered events",
                "parameters": [
                    { "type": "string", "name": "name", "in": "path", "required": true }
                ],
                "responses": {
                    "101": { "description": "switching protocols" },
                    "404": { "description": "unknown filter" }
                }
            }
        }
    }
}`

// SwaggerInfo holds the API metadata registered with swaggo/swag.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "skyfeed API",
	Description:      "Filter management and real-time streaming over the AT Protocol firehose.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
