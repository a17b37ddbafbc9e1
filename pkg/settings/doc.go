// Package settings binds the process configuration from the environment.
//
// A .env file in the working directory is loaded first when present. Keys
// are grouped by concern: LLM_*, GEMINI_*, ANTHROPIC_*, MONGODB_*,
// CHECKPOINT_*, AQI_*, SANDBOX_*, SERVER_*, LOG_* and SENTRY_*.
package settings
