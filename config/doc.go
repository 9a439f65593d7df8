// Package config loads daemon configuration from an optional YAML file and
// environment variables. Precedence (highest first): environment, YAML file,
// built-in defaults. The four pipeline feature flags (COST_SAFETY, HITL,
// RAG_IN_LOOP, SPEAKER_POLICY) are recognized as bare environment variables
// so operators can toggle one stage without touching the file.
package config
