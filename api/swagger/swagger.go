package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Batch Enrollment API",
        "description": "Mode selection, fee payments, admin approval and test slot booking for course batches",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "Bearer": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"Bearer": []}],
    "tags": [
        {"name": "Enrollment", "description": "Learner enrollment workflow"},
        {"name": "Admin", "description": "Approval review queue"}
    ],
    "paths": {
        "/enrollment/status": {
            "get": {
                "tags": ["Enrollment"],
                "summary": "Get enrollment status",
                "parameters": [
                    {"name": "batchId", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/RecordEnvelope"}},
                    "401": {"description": "Session expired", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollment/select-mode": {
            "post": {
                "tags": ["Enrollment"],
                "summary": "Select PAID or UNPAID track",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SelectModeRequest"}}
                ],
                "responses": {
                    "200": {"description": "Accepted", "schema": {"$ref": "#/definitions/AckEnvelope"}},
                    "400": {"description": "Invalid mode", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Seat already confirmed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Terms not accepted or mode already chosen", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollment/registration-pay": {
            "post": {
                "tags": ["Enrollment"],
                "summary": "Submit registration fee transaction",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RegistrationPaymentRequest"}}
                ],
                "responses": {
                    "200": {"description": "Accepted", "schema": {"$ref": "#/definitions/AckEnvelope"}},
                    "400": {"description": "Missing transaction id or wrong amount", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Duplicate payment", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Mode not selected", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollment/test-slot": {
            "post": {
                "tags": ["Enrollment"],
                "summary": "Book the test slot (UNPAID track)",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/TestSlotRequest"}}
                ],
                "responses": {
                    "200": {"description": "Accepted", "schema": {"$ref": "#/definitions/AckEnvelope"}},
                    "400": {"description": "Slot missing, malformed or in the past", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Not approved or not on the UNPAID track", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollment/course-pay": {
            "post": {
                "tags": ["Enrollment"],
                "summary": "Submit course fee transaction (PAID track)",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CoursePaymentRequest"}}
                ],
                "responses": {
                    "200": {"description": "Seat confirmed", "schema": {"$ref": "#/definitions/AckEnvelope"}},
                    "409": {"description": "Duplicate payment", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Not approved or not on the PAID track", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollment/receipt": {
            "get": {
                "tags": ["Enrollment"],
                "summary": "Receipt of a confirmed seat",
                "parameters": [
                    {"name": "batchId", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Seat not confirmed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/enrollments": {
            "get": {
                "tags": ["Admin"],
                "summary": "List enrollments for review",
                "parameters": [
                    {"name": "batchId", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string", "enum": ["MODE_SELECTED", "WAITING_ADMIN", "ADMIN_APPROVED", "SEAT_CONFIRMED"]},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/enrollments/export": {
            "get": {
                "tags": ["Admin"],
                "summary": "Export the review queue as CSV",
                "produces": ["text/csv"],
                "parameters": [
                    {"name": "batchId", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string", "enum": ["MODE_SELECTED", "WAITING_ADMIN", "ADMIN_APPROVED", "SEAT_CONFIRMED"]}
                ],
                "responses": {
                    "200": {"description": "CSV file", "schema": {"type": "string"}},
                    "400": {"description": "Unknown status", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/enrollments/{batchId}/{userId}/approve": {
            "post": {
                "tags": ["Admin"],
                "summary": "Approve an enrollment",
                "parameters": [
                    {"name": "batchId", "in": "path", "required": true, "type": "string"},
                    {"name": "userId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "schema": {"$ref": "#/definitions/AdminDecisionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/RecordEnvelope"}},
                    "404": {"description": "Enrollment not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Registration fee not paid", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/enrollments/{batchId}/{userId}/revoke": {
            "post": {
                "tags": ["Admin"],
                "summary": "Revoke an enrollment approval",
                "parameters": [
                    {"name": "batchId", "in": "path", "required": true, "type": "string"},
                    {"name": "userId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "schema": {"$ref": "#/definitions/AdminDecisionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/RecordEnvelope"}},
                    "409": {"description": "Seat already confirmed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "SelectModeRequest": {
            "type": "object",
            "required": ["batchId", "mode", "termsAccepted"],
            "properties": {
                "batchId": {"type": "string"},
                "mode": {"type": "string", "enum": ["PAID", "UNPAID"]},
                "termsAccepted": {"type": "boolean"}
            }
        },
        "RegistrationPaymentRequest": {
            "type": "object",
            "required": ["batchId", "transactionId", "mode", "amount"],
            "properties": {
                "batchId": {"type": "string"},
                "transactionId": {"type": "string"},
                "mode": {"type": "string", "enum": ["PAID", "UNPAID"]},
                "amount": {"type": "integer"}
            }
        },
        "TestSlotRequest": {
            "type": "object",
            "required": ["batchId", "date", "time"],
            "properties": {
                "batchId": {"type": "string"},
                "date": {"type": "string", "example": "2026-01-15"},
                "time": {"type": "string", "example": "10:00"}
            }
        },
        "CoursePaymentRequest": {
            "type": "object",
            "required": ["batchId", "transactionId", "amount"],
            "properties": {
                "batchId": {"type": "string"},
                "transactionId": {"type": "string"},
                "amount": {"type": "integer"}
            }
        },
        "AdminDecisionRequest": {
            "type": "object",
            "properties": {
                "note": {"type": "string"}
            }
        },
        "Ack": {
            "type": "object",
            "properties": {
                "accepted": {"type": "boolean"},
                "message": {"type": "string"}
            }
        },
        "PaymentEntry": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "transactionId": {"type": "string"},
                "amount": {"type": "integer"},
                "purpose": {"type": "string", "enum": ["REGISTRATION", "COURSE"]},
                "approvedAtSubmission": {"type": "boolean"},
                "timestamp": {"type": "string", "format": "date-time"}
            }
        },
        "EnrollmentRecord": {
            "type": "object",
            "properties": {
                "userId": {"type": "string"},
                "batchId": {"type": "string"},
                "name": {"type": "string"},
                "email": {"type": "string"},
                "mobile": {"type": "string"},
                "status": {"type": "string", "enum": ["NOT_REGISTERED", "MODE_SELECTED", "WAITING_ADMIN", "ADMIN_APPROVED", "SEAT_CONFIRMED"]},
                "mode": {"type": "string", "enum": ["UNSET", "PAID", "UNPAID"]},
                "adminApproved": {"type": "boolean"},
                "termsAccepted": {"type": "boolean"},
                "testSlot": {
                    "type": "object",
                    "properties": {
                        "date": {"type": "string"},
                        "time": {"type": "string"}
                    }
                },
                "paymentHistory": {"type": "array", "items": {"$ref": "#/definitions/PaymentEntry"}}
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
        },
        "RecordEnvelope": {
            "type": "object",
            "properties": {
                "data": {"$ref": "#/definitions/EnrollmentRecord"},
                "error": {"$ref": "#/definitions/APIError"}
            }
        },
        "AckEnvelope": {
            "type": "object",
            "properties": {
                "data": {"$ref": "#/definitions/Ack"},
                "error": {"$ref": "#/definitions/APIError"}
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
