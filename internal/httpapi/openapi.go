package httpapi

// openAPIDocument is served verbatim at GET /openapi.json. It documents the
// routes registered in RegisterRoutes so API consumers (and the dashboard
// frontend) have a single source of truth for request/response shapes.
var openAPIDocument = []byte(`{
  "openapi": "3.0.3",
  "info": {
    "title": "Regen Compute Credits API",
    "version": "1.0.0"
  },
  "paths": {
    "/api/v1/retirements": {
      "post": {
        "summary": "Execute a retirement against a user's prepaid balance",
        "security": [{"bearerAuth": []}]
      }
    },
    "/api/v1/batches/run": {
      "post": {
        "summary": "Run a monthly reconciliation batch for a credit type",
        "security": [{"bearerAuth": []}]
      }
    },
    "/api/v1/auth/email/start": {
      "post": {"summary": "Start an email verification-code auth session"}
    },
    "/api/v1/auth/email/verify": {
      "post": {"summary": "Verify an email auth session with its code"}
    },
    "/api/v1/auth/oauth/start": {
      "post": {"summary": "Start an OAuth auth session"}
    },
    "/api/v1/auth/oauth/verify": {
      "post": {"summary": "Verify an OAuth auth session"}
    },
    "/api/v1/auth/recovery/start": {
      "post": {"summary": "Issue a single-use recovery token for a verified email"}
    },
    "/api/v1/auth/recovery/redeem": {
      "post": {"summary": "Redeem a recovery token for a new session"}
    },
    "/api/v1/dashboard/months/{month}": {
      "get": {
        "summary": "Fetch the contributor/retirement summary for a month",
        "security": [{"bearerAuth": []}]
      }
    },
    "/api/v1/dashboard/batches": {
      "get": {
        "summary": "Fetch batch execution history filtered by month and credit type",
        "security": [{"bearerAuth": []}]
      }
    },
    "/api/v1/dashboard/certificates/{id}": {
      "get": {
        "summary": "Fetch a retirement certificate view by certificate id",
        "security": [{"bearerAuth": []}]
      }
    },
    "/webhooks/checkout": {
      "post": {"summary": "Receive a checkout-completed event and credit the user's prepaid balance"}
    },
    "/health": {"get": {"summary": "Liveness probe"}},
    "/ready": {"get": {"summary": "Readiness probe"}},
    "/metrics": {"get": {"summary": "Prometheus metrics"}}
  },
  "components": {
    "securitySchemes": {
      "bearerAuth": {
        "type": "http",
        "scheme": "bearer",
        "description": "A user's API key, presented as a bearer token"
      }
    }
  }
}`)
