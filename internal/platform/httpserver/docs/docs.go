// Package docs registers the OpenAPI document served under /swagger/.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/v1/elections/{kind}/{election_id}/ballots": {
            "post": {
                "summary": "Start or resume the caller's ballot",
                "parameters": [
                    {"name": "kind", "in": "path", "required": true, "type": "string", "enum": ["ssg", "departmental"]},
                    {"name": "election_id", "in": "path", "required": true, "type": "string"},
                    {"name": "X-User-Id", "in": "header", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Existing open ballot resumed"},
                    "201": {"description": "New ballot opened"},
                    "403": {"description": "Voter not eligible"},
                    "409": {"description": "Voter already submitted"},
                    "422": {"description": "Election not accepting votes"}
                }
            }
        },
        "/v1/elections/{kind}/{election_id}/ballot": {
            "get": {
                "summary": "Current ballot status for the caller",
                "responses": {"200": {"description": "Ballot status"}}
            }
        },
        "/v1/elections/{kind}/{election_id}/tally": {
            "get": {
                "summary": "Per-candidate vote counts",
                "responses": {"200": {"description": "Election tally"}}
            }
        },
        "/v1/elections/{kind}/{election_id}/tally/verify": {
            "get": {
                "summary": "Compare counters against vote records",
                "responses": {"200": {"description": "Verification result"}}
            }
        },
        "/v1/ballots/{ballot_id}/selections/{position_id}": {
            "put": {
                "summary": "Replace the choices for one position",
                "responses": {
                    "200": {"description": "Updated ballot"},
                    "410": {"description": "Ballot expired"},
                    "422": {"description": "Invalid selection"}
                }
            }
        },
        "/v1/ballots/{ballot_id}/selections": {
            "put": {
                "summary": "Replace the choices for several positions",
                "responses": {"200": {"description": "Updated ballot"}}
            }
        },
        "/v1/ballots/{ballot_id}/submit": {
            "post": {
                "summary": "Submit the ballot",
                "responses": {
                    "200": {"description": "Submitted or replayed"},
                    "410": {"description": "Ballot expired"},
                    "503": {"description": "Temporarily unavailable"}
                }
            }
        },
        "/v1/ballots/{ballot_id}/abandon": {
            "post": {
                "summary": "Abandon the open ballot",
                "responses": {"200": {"description": "Abandoned ballot"}}
            }
        },
        "/v1/admin/ballots/reap": {
            "post": {
                "summary": "Expire open ballots past their deadline",
                "responses": {"200": {"description": "Sweep result"}}
            }
        }
    }
}`

var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "evoting ballot API",
	Description:      "Ballot lifecycle for SSG and departmental elections.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
