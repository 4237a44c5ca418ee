/*
Package health provides health check mechanisms for monitoring the
external dependencies a walletcore process relies on: the wallet node's
HTTP API and the Postgres store.

This package implements two types of health checks, HTTP and TCP, used by
the metrics collector to probe those dependencies on an interval and
smooth transient flaps into a stable healthy/unhealthy signal before it
is published through pkg/metrics.

# Architecture

	┌──────────────────────────────────────────────────────────────┐
	│                     Checker Interface                        │
	│  • Check(ctx) Result                                         │
	│  • Type() CheckType                                          │
	└────────┬─────────────────────────────────────────────────────┘
	         │
	    ┌────┴──────┐
	    ▼           ▼
	┌────────┐  ┌──────┐
	│  HTTP  │  │ TCP  │
	│Checker │  │Checker│
	└────────┘  └──────┘
	     │          │
	     ▼          ▼
	  GET /docs   Connect
	 (wallet node) :5432 (postgres)

# Health Check Types

## HTTP Health Checks

HTTP checks perform HTTP requests to verify the wallet node's API is
reachable:

	Check Type: HTTP
	Configuration:
	├── URL: http://node-host:8000/docs
	├── Method: GET, POST, HEAD
	├── Headers: Custom HTTP headers
	├── Expected Status: 200-399 (configurable)
	└── Timeout: 10 seconds

## TCP Health Checks

TCP checks verify that Postgres is listening and accepting connections:

	Check Type: TCP
	Configuration:
	├── Address: postgres-host:5432
	├── Timeout: 5 seconds
	└── Connection test only (no data sent)

# Status Tracking

Status tracks health over time and implements hysteresis so a single
transient failure doesn't immediately flip a dependency to unhealthy:

	type Status struct {
		ConsecutiveFailures  int
		ConsecutiveSuccesses int
		LastCheck            time.Time
		LastResult           Result
		Healthy              bool
		StartedAt            time.Time
	}

	Healthy → 1 failure  → still healthy
	Healthy → Retries failures → unhealthy
	Unhealthy → 1 success → healthy again

# Usage

	checker := health.NewHTTPChecker("http://localhost:8000/docs").
		WithTimeout(5 * time.Second)

	status := health.NewStatus()
	cfg := health.DefaultConfig()

	result := checker.Check(ctx)
	status.Update(result, cfg)
	metrics.RegisterComponent("wallet_node", status.Healthy, result.Message)

# See Also

  - pkg/metrics - Collector runs these checks on an interval and
    publishes results via RegisterComponent/GetHealth/GetReadiness.
  - cmd/walletcored healthcheck - a one-shot CLI probe built on an
    HTTPChecker against the supervisor's own /healthz endpoint.
*/
package health
